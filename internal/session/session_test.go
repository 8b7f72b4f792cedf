package session

import (
	"context"
	"encoding/json"
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
	"github.com/realtalk/sttgateway/pkg/commons"
)

func testConfig() Config {
	return Config{
		Audio:            audio.DefaultConfig(),
		Recognizer:       recognizer.Config{SampleRate: 16000},
		QATimeWindowSec:  15,
		QASentenceWindow: 3,
		StopJoinTimeout:  time.Second,
	}
}

// dialedConn opens a real loopback websocket and wraps the server side as
// a *control.Conn, handing the client side back for assertions.
func dialedConn(t *testing.T) (*control.Conn, *websocket.Conn, func()) {
	t.Helper()

	var serverConn *control.Conn
	ready := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := control.Upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConn = control.NewConn(ws, commons.NewNopLogger())
		close(ready)
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	<-ready

	return serverConn, client, func() {
		client.Close()
		srv.Close()
	}
}

func fakeRecognizerFactory(fake *recognizer.FakeRecognizer) RecognizerFactory {
	return func() recognizer.StreamingRecognizer { return fake }
}

func newTestSession(t *testing.T, fake *recognizer.FakeRecognizer, store persistence.Store) (*Session, *websocket.Conn, func()) {
	t.Helper()

	conn, client, cleanup := dialedConn(t)
	s, err := New("session-under-test", conn, commons.NewNopLogger(), testConfig(), fakeRecognizerFactory(fake), store)
	require.NoError(t, err)
	return s, client, cleanup
}

func TestSession_ID(t *testing.T) {
	fake := recognizer.NewFakeRecognizer()
	s, _, cleanup := newTestSession(t, fake, nil)
	defer cleanup()

	assert.Equal(t, "session-under-test", s.ID())
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_Ready_EmitsSessionReady(t *testing.T) {
	fake := recognizer.NewFakeRecognizer()
	s, client, cleanup := newTestSession(t, fake, nil)
	defer cleanup()

	require.NoError(t, s.Ready())

	_, raw, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"event":"session.ready"`)
	assert.Contains(t, string(raw), "session-under-test")
}

func TestSession_HandleFinal_EmitsSegmentsThenStats(t *testing.T) {
	fake := recognizer.NewFakeRecognizer()
	s, client, cleanup := newTestSession(t, fake, nil)
	defer cleanup()

	s.handleRecognizerEvent(recognizer.Event{
		Kind: recognizer.EventFinal,
		Text: "hello there",
		Words: []recognizer.Word{
			{Word: "hello", Start: 0.1, End: 0.5},
			{Word: "there", Start: 0.6, End: 1.0},
		},
	})

	_, raw1, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(raw1), `"event":"stt.final_segments"`)

	_, raw2, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(raw2), `"event":"stt.stats"`)

	partials, finals := s.Stats()
	assert.Equal(t, int64(0), partials)
	assert.Equal(t, int64(1), finals)
}

func TestSession_InterimDedup_CountsEmittedPartialsOnly(t *testing.T) {
	fake := recognizer.NewFakeRecognizer()
	s, client, cleanup := newTestSession(t, fake, nil)
	defer cleanup()

	s.handleRecognizerEvent(recognizer.Event{Kind: recognizer.EventInterim, Text: "안녕"})
	s.handleRecognizerEvent(recognizer.Event{Kind: recognizer.EventInterim, Text: "안녕"})

	partials, _ := s.Stats()
	assert.Equal(t, int64(1), partials, "suppressed duplicate must not count")

	_, raw, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"event":"stt.partial"`)
}

func TestSession_RecognizerWorkers_DrainQueueAndDispatchEvents(t *testing.T) {
	fake := recognizer.NewFakeRecognizer()
	s, client, cleanup := newTestSession(t, fake, nil)
	defer cleanup()

	s.startRecognizer()

	require.True(t, s.pipeline.Queue().Push([]byte{1, 2}))
	require.True(t, s.pipeline.Queue().Push([]byte{3, 4}))

	fake.PushInterim("안녕")
	fake.PushFinal("안녕하세요.", []recognizer.Word{{Word: "안녕하세요.", Start: 0.2, End: 1.1}})

	var events []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := client.ReadMessage()
			if err != nil {
				return
			}
			var env struct {
				Event string `json:"event"`
			}
			if json.Unmarshal(raw, &env) == nil {
				events = append(events, env.Event)
			}
			if env.Event == "session.close" {
				return
			}
		}
	}()

	// Give the receiver worker a beat to dispatch before teardown.
	require.Eventually(t, func() bool {
		_, finals := s.Stats()
		return finals == 1
	}, time.Second, 10*time.Millisecond)

	s.Stop("test complete")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("never observed session.close")
	}

	assert.Equal(t, [][]byte{{1, 2}, {3, 4}}, fake.Sent, "queued chunks must reach the recognizer")
	assert.Equal(t, []string{"stt.partial", "stt.final_segments", "stt.stats", "stt.qa_pairs", "session.close"}, events)
}

func TestSession_Stop_IsIdempotent(t *testing.T) {
	fake := recognizer.NewFakeRecognizer()
	s, client, cleanup := newTestSession(t, fake, nil)
	defer cleanup()

	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.Stop("test teardown")
	s.Stop("test teardown again")

	assert.Equal(t, StateClosed, s.State())
}

func TestSession_Persist_SkippedWithoutRoomID(t *testing.T) {
	fake := recognizer.NewFakeRecognizer()
	store := &recordingStore{}
	s, client, cleanup := newTestSession(t, fake, store)
	defer cleanup()

	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.handleRecognizerEvent(recognizer.Event{Kind: recognizer.EventFinal, Text: "hi"})
	s.Stop("done")

	assert.Equal(t, 0, store.calls)
}

func TestSession_Persist_RunsWhenRoomIDBound(t *testing.T) {
	fake := recognizer.NewFakeRecognizer()
	store := &recordingStore{}
	s, client, cleanup := newTestSession(t, fake, store)
	defer cleanup()

	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.SetRoomID("room-42")
	s.handleRecognizerEvent(recognizer.Event{Kind: recognizer.EventFinal, Text: "hi"})
	s.Stop("done")

	require.Equal(t, 1, store.calls)
	assert.Equal(t, "room-42", store.last.RoomID)
}

type recordingStore struct {
	calls int
	last  persistence.TranscriptRecord
}

func (r *recordingStore) Upsert(ctx context.Context, record persistence.TranscriptRecord) error {
	r.calls++
	r.last = record
	return nil
}
