// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package events defines the outbound wire event set and a thin Emitter
// that writes them through a control.Conn, suppressing duplicate partials
// along the way.
package events

import (
	"sync"

	"github.com/realtalk/sttgateway/internal/control"
	sttErrors "github.com/realtalk/sttgateway/internal/errors"
)

// Segment is the wire shape of one diarized segment.
type Segment struct {
	Speaker *int    `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// QAPair is the wire shape of one question/answer pair.
type QAPair struct {
	QText      string  `json:"q_text"`
	QSpeaker   *int    `json:"q_speaker"`
	QTime      float64 `json:"q_time"`
	AText      string  `json:"a_text"`
	ASpeaker   *int    `json:"a_speaker"`
	ATime      float64 `json:"a_time"`
	Confidence float64 `json:"confidence"`
}

// Stats is the wire shape of stt.stats.
type Stats struct {
	Partials int `json:"partials"`
	Finals   int `json:"finals"`
	Bytes    int `json:"bytes"`
	Chunks   int `json:"chunks"`
}

// Emitter serializes outbound events onto a control.Conn. It tracks the
// last emitted partial text so a partial only goes out when it differs
// from the previous one.
type Emitter struct {
	conn *control.Conn

	mu          sync.Mutex
	lastPartial string
}

// NewEmitter wraps a control-channel connection.
func NewEmitter(conn *control.Conn) *Emitter {
	return &Emitter{conn: conn}
}

// SessionReady emits session.ready{session_id}.
func (e *Emitter) SessionReady(sessionID string) error {
	return e.conn.Write("session.ready", map[string]string{"session_id": sessionID})
}

// RTCAnswer emits rtc.answer{sdp, type, reportid}.
func (e *Emitter) RTCAnswer(sdp, sdpType, reportID string) error {
	return e.conn.Write("rtc.answer", map[string]string{
		"sdp":      sdp,
		"type":     sdpType,
		"reportid": reportID,
	})
}

// RTCCandidate emits rtc.candidate{candidate, sdpMid, sdpMLineIndex}. A nil
// candidate signals end-of-candidates: {candidate:null}.
func (e *Emitter) RTCCandidate(candidate *string, sdpMid *string, sdpMLineIndex *uint16) error {
	return e.conn.Write("rtc.candidate", map[string]interface{}{
		"candidate":     candidate,
		"sdpMid":        sdpMid,
		"sdpMLineIndex": sdpMLineIndex,
	})
}

// Partial emits stt.partial{text} unless text equals the last emitted
// partial, in which case it is a silent no-op. The boolean reports whether
// an event actually went out, so callers can keep their partial counter in
// step with what the client saw.
func (e *Emitter) Partial(text string) (bool, error) {
	e.mu.Lock()
	if text == e.lastPartial {
		e.mu.Unlock()
		return false, nil
	}
	e.lastPartial = text
	e.mu.Unlock()

	return true, e.conn.Write("stt.partial", map[string]string{"text": text})
}

// FinalSegments emits stt.final_segments{segments:[...]}.
func (e *Emitter) FinalSegments(segments []Segment) error {
	if segments == nil {
		segments = []Segment{}
	}
	return e.conn.Write("stt.final_segments", map[string]interface{}{"segments": segments})
}

// QAPairs emits stt.qa_pairs{pairs:[...], final:bool}.
func (e *Emitter) QAPairs(pairs []QAPair, final bool) error {
	if pairs == nil {
		pairs = []QAPair{}
	}
	return e.conn.Write("stt.qa_pairs", map[string]interface{}{"pairs": pairs, "final": final})
}

// StatsEvent emits stt.stats{partials, finals, bytes, chunks}.
func (e *Emitter) StatsEvent(s Stats) error {
	return e.conn.Write("stt.stats", s)
}

// Error emits stt.error{code, message}.
func (e *Emitter) Error(code sttErrors.Code, message string) error {
	return e.conn.WriteError(code, message)
}

// SessionClose emits session.close{reason, recording_available}.
func (e *Emitter) SessionClose(reason string, recordingAvailable bool) error {
	return e.conn.Write("session.close", map[string]interface{}{
		"reason":              reason,
		"recording_available": recordingAvailable,
	})
}
