package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sttErrors "github.com/realtalk/sttgateway/internal/errors"
)

func TestConn_ReadEnvelope_InvalidJSON(t *testing.T) {
	srv, cleanup := newTestWSServer(t, func(c *Conn) {
		_, err := c.ReadEnvelope()
		require.Error(t, err)

		var wireErr *sttErrors.WireError
		require.ErrorAs(t, err, &wireErr)
		assert.Equal(t, sttErrors.InvalidPayload, wireErr.Code)
	})
	defer cleanup()

	client := dialTestWS(t, srv)
	defer client.Close()

	require.NoError(t, client.WriteMessage(1, []byte("not-json")))
	waitForHandler(t, srv)
}

func TestConn_ReadEnvelope_MissingEvent(t *testing.T) {
	srv, cleanup := newTestWSServer(t, func(c *Conn) {
		_, err := c.ReadEnvelope()
		require.Error(t, err)

		var wireErr *sttErrors.WireError
		require.ErrorAs(t, err, &wireErr)
		assert.Equal(t, sttErrors.InvalidPayload, wireErr.Code)
	})
	defer cleanup()

	client := dialTestWS(t, srv)
	defer client.Close()

	require.NoError(t, client.WriteMessage(1, []byte(`{"data":{}}`)))
	waitForHandler(t, srv)
}

func TestConn_Write_SerializesFrame(t *testing.T) {
	srv, cleanup := newTestWSServer(t, func(c *Conn) {
		require.NoError(t, c.Write("session.ready", map[string]string{"session_id": "abc123"}))
	})
	defer cleanup()

	client := dialTestWS(t, srv)
	defer client.Close()

	_, raw, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"event":"session.ready"`)
	assert.Contains(t, string(raw), "abc123")
	waitForHandler(t, srv)
}
