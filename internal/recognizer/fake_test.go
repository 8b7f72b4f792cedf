package recognizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeRecognizer_SendAndRecv(t *testing.T) {
	f := NewFakeRecognizer()
	require.NoError(t, f.Open(context.Background(), Config{SampleRate: 16000}))

	require.NoError(t, f.Send([]byte{1, 2, 3}))
	assert.Equal(t, [][]byte{{1, 2, 3}}, f.Sent)

	f.PushInterim("안녕")
	events, err := f.Recv()
	require.NoError(t, err)

	evt := <-events
	assert.Equal(t, EventInterim, evt.Kind)
	assert.Equal(t, "안녕", evt.Text)
}

func TestFakeRecognizer_CloseIsIdempotent(t *testing.T) {
	f := NewFakeRecognizer()
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.True(t, f.Closed)
}
