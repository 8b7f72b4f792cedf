package control

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newTestWSServer spins up an httptest server that upgrades the single
// connection it receives and runs handler on it. The returned cleanup func
// closes the server and waits (up to a second) for the handler to finish.
func newTestWSServer(t *testing.T, handler func(*Conn)) (*httptest.Server, func()) {
	t.Helper()

	done := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			close(done)
			return
		}
		c := NewConn(ws, nil)
		defer func() {
			c.Close()
			close(done)
		}()
		handler(c)
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
	if err != nil {
		t.Fatalf("failed to dial test websocket: %v", err)
	}
	return conn
}

func waitForHandler(t *testing.T, srv *httptest.Server) {
	t.Helper()
	time.Sleep(50 * time.Millisecond)
}
