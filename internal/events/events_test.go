package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realtalk/sttgateway/internal/control"
	"github.com/realtalk/sttgateway/pkg/commons"
)

// wsPair opens a loopback websocket and returns the server side wrapped as
// a control.Conn plus the raw client side for assertions.
func wsPair(t *testing.T) (*control.Conn, *websocket.Conn, func()) {
	t.Helper()

	var serverConn *control.Conn
	ready := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := control.Upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConn = control.NewConn(ws, commons.NewNopLogger())
		close(ready)
		<-r.Context().Done()
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("server side never upgraded")
	}

	return serverConn, client, func() {
		client.Close()
		srv.Close()
	}
}

func readEvent(t *testing.T, client *websocket.Conn) (string, map[string]interface{}) {
	t.Helper()

	_, raw, err := client.ReadMessage()
	require.NoError(t, err)

	var env struct {
		Event string                 `json:"event"`
		Data  map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	return env.Event, env.Data
}

func TestEmitter_Partial_SuppressesDuplicates(t *testing.T) {
	conn, client, cleanup := wsPair(t)
	defer cleanup()

	e := NewEmitter(conn)

	emitted, err := e.Partial("안녕")
	require.NoError(t, err)
	assert.True(t, emitted)

	emitted, err = e.Partial("안녕")
	require.NoError(t, err)
	assert.False(t, emitted, "identical partial must not be re-emitted")

	emitted, err = e.Partial("안녕하세요")
	require.NoError(t, err)
	assert.True(t, emitted)

	event, data := readEvent(t, client)
	assert.Equal(t, "stt.partial", event)
	assert.Equal(t, "안녕", data["text"])

	event, data = readEvent(t, client)
	assert.Equal(t, "stt.partial", event)
	assert.Equal(t, "안녕하세요", data["text"])
}

func TestEmitter_QAPairs_EmptyListIsNotNull(t *testing.T) {
	conn, client, cleanup := wsPair(t)
	defer cleanup()

	e := NewEmitter(conn)
	require.NoError(t, e.QAPairs(nil, true))

	event, data := readEvent(t, client)
	assert.Equal(t, "stt.qa_pairs", event)
	assert.Equal(t, true, data["final"])

	pairs, ok := data["pairs"].([]interface{})
	require.True(t, ok, "pairs must serialize as an array, not null")
	assert.Empty(t, pairs)
}

func TestEmitter_FinalSegments_PayloadShape(t *testing.T) {
	conn, client, cleanup := wsPair(t)
	defer cleanup()

	e := NewEmitter(conn)
	require.NoError(t, e.FinalSegments([]Segment{{Speaker: nil, Text: "안녕하세요.", Start: 0.2, End: 1.1}}))

	event, data := readEvent(t, client)
	assert.Equal(t, "stt.final_segments", event)

	segments := data["segments"].([]interface{})
	require.Len(t, segments, 1)
	seg := segments[0].(map[string]interface{})
	assert.Nil(t, seg["speaker"])
	assert.Equal(t, "안녕하세요.", seg["text"])
	assert.InDelta(t, 0.2, seg["start"].(float64), 1e-9)
	assert.InDelta(t, 1.1, seg["end"].(float64), 1e-9)
}

func TestEmitter_SessionClose_CarriesReason(t *testing.T) {
	conn, client, cleanup := wsPair(t)
	defer cleanup()

	e := NewEmitter(conn)
	require.NoError(t, e.SessionClose("session stopped", true))

	event, data := readEvent(t, client)
	assert.Equal(t, "session.close", event)
	assert.Equal(t, "session stopped", data["reason"])
	assert.Equal(t, true, data["recording_available"])
}
