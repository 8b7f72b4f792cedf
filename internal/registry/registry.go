// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package registry implements the process-wide session index and the
// per-connection control-channel dispatcher that routes events to a
// session before and during its lifetime.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/realtalk/sttgateway/internal/control"
	sttErrors "github.com/realtalk/sttgateway/internal/errors"
	"github.com/realtalk/sttgateway/internal/persistence"
	"github.com/realtalk/sttgateway/internal/session"
	"github.com/realtalk/sttgateway/pkg/commons"
)

// Registry is the process-wide index of live sessions: a concurrent map,
// protected by a mutex, that does not keep a session alive beyond a Stop
// call.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	logger   commons.Logger
}

// New builds an empty registry.
func New(logger commons.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*session.Session),
		logger:   logger,
	}
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len reports the number of live sessions, for diagnostics and tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Remove atomically evicts a session and stops it. It is safe to call
// when id is absent.
func (r *Registry) Remove(id string, reason string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		s.Stop(reason)
	}
}

// StopAll evicts and stops every live session concurrently via errgroup,
// ignoring individual errors — Session.Stop never returns one, but
// errgroup.Go requires it, so each task always reports nil.
func (r *Registry) StopAll(reason string) {
	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*session.Session)
	r.mu.Unlock()

	var g errgroup.Group
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			s.Stop(reason)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Registry) create(conn *control.Conn, cfg session.Config, factory session.RecognizerFactory, store persistence.Store) (*session.Session, error) {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")

	s, err := session.New(id, conn, r.logger, cfg, factory, store)
	if err != nil {
		return nil, fmt.Errorf("failed to create session %s: %w", id, err)
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	return s, nil
}

type roomIDPayload struct {
	RoomID string `json:"room_id"`
}

func bindRoomID(s *session.Session, data json.RawMessage) {
	if len(data) == 0 {
		return
	}
	var payload roomIDPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == "" {
		return
	}
	s.SetRoomID(payload.RoomID)
}

type offerPayload struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

type candidatePayload struct {
	Candidate     *string `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

// Serve runs the per-connection dispatcher loop: it reads
// control-channel envelopes until the transport closes or the client
// requests teardown, lazily creating the connection's Session on its
// first session.init or rtc.offer, and routing every subsequent event to
// it. Candidates arriving before a session exists yield
// SESSION_NOT_INITIALIZED and are not buffered.
func (r *Registry) Serve(ctx context.Context, conn *control.Conn, cfg session.Config, factory session.RecognizerFactory, store persistence.Store) {
	var sess *session.Session

	defer func() {
		if sess != nil {
			r.Remove(sess.ID(), "transport disconnected")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		env, err := conn.ReadEnvelope()
		if err != nil {
			if wireErr, ok := err.(*sttErrors.WireError); ok {
				conn.WriteError(wireErr.Code, wireErr.Message)
				continue
			}
			return
		}

		switch env.Event {
		case "session.init":
			if sess == nil {
				sess, err = r.create(conn, cfg, factory, store)
				if err != nil {
					conn.WriteError(sttErrors.UpstreamFail, err.Error())
					continue
				}
			}
			bindRoomID(sess, env.Data)
			sess.Ready()

		case "rtc.offer":
			if sess == nil {
				sess, err = r.create(conn, cfg, factory, store)
				if err != nil {
					conn.WriteError(sttErrors.UpstreamFail, err.Error())
					continue
				}
			}
			bindRoomID(sess, env.Data)

			var payload offerPayload
			if err := json.Unmarshal(env.Data, &payload); err != nil {
				conn.WriteError(sttErrors.InvalidOffer, fmt.Sprintf("malformed offer payload: %v", err))
				continue
			}
			if err := sess.HandleOffer(payload.SDP, payload.Type); err != nil {
				writeSessionErr(conn, sttErrors.InvalidOffer, err)
			}

		case "rtc.candidate":
			if sess == nil {
				conn.WriteError(sttErrors.SessionNotInitialized, "no active session for rtc.candidate")
				continue
			}

			var payload candidatePayload
			if err := json.Unmarshal(env.Data, &payload); err != nil {
				conn.WriteError(sttErrors.InvalidCandidate, fmt.Sprintf("malformed candidate payload: %v", err))
				continue
			}
			if err := sess.AddIceCandidate(payload.Candidate, payload.SDPMid, payload.SDPMLineIndex); err != nil {
				writeSessionErr(conn, sttErrors.InvalidCandidate, err)
			}

		case "rtc.start":
			// Acknowledgment only; no session state transition.

		case "rtc.stop", "session.close":
			if sess != nil {
				sess.Stop("session stopped")
			}
			return

		default:
			conn.WriteError(sttErrors.UnknownEvent, fmt.Sprintf("unknown event %q", env.Event))
		}
	}
}

func writeSessionErr(conn *control.Conn, fallback sttErrors.Code, err error) {
	if wireErr, ok := err.(*sttErrors.WireError); ok {
		conn.WriteError(wireErr.Code, wireErr.Message)
		return
	}
	conn.WriteError(fallback, err.Error())
}
