package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realtalk/sttgateway/internal/audio"
	"github.com/realtalk/sttgateway/internal/control"
	"github.com/realtalk/sttgateway/internal/persistence"
	"github.com/realtalk/sttgateway/internal/recognizer"
	"github.com/realtalk/sttgateway/internal/session"
	"github.com/realtalk/sttgateway/pkg/commons"
)

func testSessionConfig() session.Config {
	return session.Config{
		Audio:            audio.DefaultConfig(),
		Recognizer:       recognizer.Config{SampleRate: 16000},
		QATimeWindowSec:  15,
		QASentenceWindow: 3,
		StopJoinTimeout:  time.Second,
	}
}

func fakeFactory() session.RecognizerFactory {
	return func() recognizer.StreamingRecognizer { return recognizer.NewFakeRecognizer() }
}

func newTestServer(t *testing.T, reg *Registry) (*httptest.Server, func()) {
	t.Helper()

	done := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := control.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			close(done)
			return
		}
		conn := control.NewConn(ws, commons.NewNopLogger())
		defer func() {
			conn.Close()
			close(done)
		}()
		reg.Serve(context.Background(), conn, testSessionConfig(), fakeFactory(), nil)
	})

	srv := httptest.NewServer(mux)
	return srv, func() {
		srv.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}

func dialTestWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readEnvelope(t *testing.T, ws *websocket.Conn) (string, string) {
	t.Helper()
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	return string(raw), string(raw)
}

func TestRegistry_SessionInit_CreatesSessionAndReplies(t *testing.T) {
	reg := New(commons.NewNopLogger())
	srv, cleanup := newTestServer(t, reg)
	defer cleanup()

	ws := dialTestWS(t, srv)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"event": "session.init", "data": map[string]string{}}))

	raw, _ := readEnvelope(t, ws)
	assert.Contains(t, raw, `"event":"session.ready"`)
	assert.Contains(t, raw, "session_id")

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"event": "rtc.stop"}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_Candidate_BeforeSession_IsRejected(t *testing.T) {
	reg := New(commons.NewNopLogger())
	srv, cleanup := newTestServer(t, reg)
	defer cleanup()

	ws := dialTestWS(t, srv)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"event": "rtc.candidate",
		"data":  map[string]interface{}{"candidate": "candidate:1 1 UDP 1 1.1.1.1 1 typ host"},
	}))

	raw, _ := readEnvelope(t, ws)
	assert.Contains(t, raw, `"code":"SESSION_NOT_INITIALIZED"`)
}

func TestRegistry_UnknownEvent(t *testing.T) {
	reg := New(commons.NewNopLogger())
	srv, cleanup := newTestServer(t, reg)
	defer cleanup()

	ws := dialTestWS(t, srv)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"event": "nonsense.event"}))

	raw, _ := readEnvelope(t, ws)
	assert.Contains(t, raw, `"code":"UNKNOWN_EVENT"`)
}

func TestRegistry_StopAll_EvictsEverySession(t *testing.T) {
	reg := New(commons.NewNopLogger())

	for i := 0; i < 3; i++ {
		s, err := reg.create(nopConn(t), testSessionConfig(), fakeFactory(), noopStore{})
		require.NoError(t, err)
		require.NotEmpty(t, s.ID())
	}
	require.Equal(t, 3, reg.Len())

	reg.StopAll("shutdown")
	assert.Equal(t, 0, reg.Len())
}

// noopStore satisfies persistence.Store without touching a real backend;
// registry tests never bind a room_id so Upsert should never be called.
type noopStore struct{}

func (noopStore) Upsert(ctx context.Context, record persistence.TranscriptRecord) error { return nil }

// nopConn builds a *control.Conn over a throwaway in-process websocket pair,
// enough to let a Session be constructed without a live client.
func nopConn(t *testing.T) *control.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := control.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		<-r.Context().Done()
		ws.Close()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	return control.NewConn(ws, commons.NewNopLogger())
}
