// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package recognizer defines the StreamingRecognizer capability interface
// and its concrete implementations: Google Cloud Speech, Deepgram, and an
// in-memory fake for tests.
package recognizer

import "context"

// Config carries the fields the recognizer adapter needs to open an
// upstream stream.
type Config struct {
	SampleRate               int
	Language                 string
	Model                    string
	UseEnhanced              bool
	EnablePunctuation        bool
	EnableWordTimeOffsets    bool
	EnableSpeakerDiarization bool
	MaxSpeakers              int
}

// Word is one word timing reported by the upstream recognizer.
type Word struct {
	Word       string
	Start      float64
	End        float64
	SpeakerTag *int
}

// EventKind discriminates the recognizer event sum type.
type EventKind int

const (
	EventInterim EventKind = iota
	EventFinal
	EventError
)

// Event is the sum type emitted by Recv(): Interim{text} |
// Final{transcript, words, result_end_time} | Error{code, message}.
type Event struct {
	Kind          EventKind
	Text          string
	Words         []Word
	ResultEndTime float64
	ErrorCode     string
	ErrorMessage  string
}

// StreamingRecognizer is the abstract upstream contract. Send accepts PCM
// chunks until CloseSend; Recv produces an ordered event stream whose
// channel closes when the upstream finishes.
type StreamingRecognizer interface {
	Open(ctx context.Context, cfg Config) error
	Send(chunk []byte) error
	CloseSend() error
	Recv() (<-chan Event, error)
	Close() error
}
