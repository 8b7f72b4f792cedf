// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package persistence writes the per-room transcript record at session
// end: a single Upsert(TranscriptRecord) keyed by room_id. Two
// implementations satisfy the same Store interface: a Redis-backed
// key-value document store (the default) and a Postgres/gorm-backed
// alternate for operators who want SQL queryability.
package persistence

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// TranscriptSegment is one persisted diarized segment, extended with a
// dedup key computed at append time.
type TranscriptSegment struct {
	Speaker    *int    `json:"speaker"`
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	SegmentKey string  `json:"segment_key"`
}

// QAPair is one persisted question/answer match.
type QAPair struct {
	QText      string  `json:"q_text"`
	QSpeaker   *int    `json:"q_speaker"`
	QTime      float64 `json:"q_time"`
	AText      string  `json:"a_text"`
	ASpeaker   *int    `json:"a_speaker"`
	ATime      float64 `json:"a_time"`
	Confidence float64 `json:"confidence"`
}

// TranscriptRecord is the per-room persisted document. Primary key is
// RoomID.
type TranscriptRecord struct {
	RoomID     string              `json:"room_id"`
	QA         []QAPair            `json:"qa"`
	Transcript []TranscriptSegment `json:"transcript"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// SegmentKey computes a TranscriptSegment's dedup key:
// SHA1("{speaker}|{start:.3f}|{end:.3f}|{text}").
func SegmentKey(speaker *int, start, end float64, text string) string {
	sp := "nil"
	if speaker != nil {
		sp = strconv.Itoa(*speaker)
	}
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%.3f|%.3f|%s", sp, start, end, text)))
	return hex.EncodeToString(sum[:])
}

// Store is the key-value document store contract for TranscriptRecord,
// keyed by room_id. Upsert sets qa/transcript/updated_at
// unconditionally and only sets created_at when no prior record exists
// for room_id.
type Store interface {
	Upsert(ctx context.Context, record TranscriptRecord) error
}
