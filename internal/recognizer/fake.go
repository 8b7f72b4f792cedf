// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package recognizer

import (
	"context"
	"sync"
)

// FakeRecognizer is an in-memory StreamingRecognizer for tests. Test code
// pushes events onto Events before or during the session and records
// every chunk handed to Send. CloseSend closes the event stream the way a
// real upstream does when its send side drains.
type FakeRecognizer struct {
	Events  chan Event
	Sent    [][]byte
	Closed  bool
	OpenErr error
	SendErr error

	closeOnce sync.Once
}

// NewFakeRecognizer builds a fake with a buffered event channel.
func NewFakeRecognizer() *FakeRecognizer {
	return &FakeRecognizer{Events: make(chan Event, 64)}
}

func (f *FakeRecognizer) Open(ctx context.Context, cfg Config) error {
	return f.OpenErr
}

func (f *FakeRecognizer) Send(chunk []byte) error {
	if f.SendErr != nil {
		return f.SendErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	f.Sent = append(f.Sent, cp)
	return nil
}

func (f *FakeRecognizer) CloseSend() error {
	f.closeEvents()
	return nil
}

func (f *FakeRecognizer) Recv() (<-chan Event, error) {
	return f.Events, nil
}

func (f *FakeRecognizer) Close() error {
	f.closeEvents()
	return nil
}

func (f *FakeRecognizer) closeEvents() {
	f.closeOnce.Do(func() {
		f.Closed = true
		close(f.Events)
	})
}

// PushFinal is a test helper that enqueues a Final event.
func (f *FakeRecognizer) PushFinal(transcript string, words []Word) {
	f.Events <- Event{Kind: EventFinal, Text: transcript, Words: words}
}

// PushInterim is a test helper that enqueues an Interim event.
func (f *FakeRecognizer) PushInterim(text string) {
	f.Events <- Event{Kind: EventInterim, Text: text}
}
