package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPCMQueue_DropsWhenFull(t *testing.T) {
	q := NewPCMQueue(2)

	assert.True(t, q.Push([]byte{1}))
	assert.True(t, q.Push([]byte{2}))
	assert.False(t, q.Push([]byte{3}), "third push must drop under backpressure")

	assert.Equal(t, int64(1), q.Dropped())
	assert.Equal(t, 2, q.Len())
}

func TestPCMQueue_SentinelLandsWhenFull(t *testing.T) {
	q := NewPCMQueue(2)
	q.Push([]byte{1})
	q.Push([]byte{2})

	done := make(chan struct{})
	go func() {
		q.PushSentinel()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PushSentinel must not block on a full queue")
	}

	var last []byte = []byte{0xff}
	for i := 0; i < 2; i++ {
		last = <-q.Chan()
	}
	assert.Nil(t, last, "sentinel must be the last queued item")
}

func TestPCMQueue_DefaultCapacity(t *testing.T) {
	q := NewPCMQueue(0)
	for i := 0; i < 64; i++ {
		assert.True(t, q.Push([]byte{byte(i)}))
	}
	assert.False(t, q.Push([]byte{99}))
}
