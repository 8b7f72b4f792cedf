// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package recognizer

import (
	"context"
	"fmt"
	"sync"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listen "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	sttErrors "github.com/realtalk/sttgateway/internal/errors"
)

// DeepgramOption holds the API key and knows how to build a
// LiveTranscriptionOptions set from a recognizer Config.
type DeepgramOption struct {
	apiKey string
}

// NewDeepgramOption builds a DeepgramOption from an API key.
func NewDeepgramOption(apiKey string) (*DeepgramOption, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("illegal deepgram config: missing api key")
	}
	return &DeepgramOption{apiKey: apiKey}, nil
}

// LiveOptions builds Deepgram's live-transcription option set for cfg.
// The generic "default" model maps to nova-2.
func (o *DeepgramOption) LiveOptions(cfg Config) *interfaces.LiveTranscriptionOptions {
	model := cfg.Model
	if model == "" || model == "default" {
		model = "nova-2"
	}
	return &interfaces.LiveTranscriptionOptions{
		Model:          model,
		Language:       cfg.Language,
		Encoding:       "linear16",
		SampleRate:     cfg.SampleRate,
		Channels:       1,
		Punctuate:      cfg.EnablePunctuation,
		InterimResults: true,
		Diarize:        cfg.EnableSpeakerDiarization,
		SmartFormat:    true,
	}
}

// DeepgramRecognizer is an alternate StreamingRecognizer implementation
// backed by Deepgram's live websocket API.
type DeepgramRecognizer struct {
	opt    *DeepgramOption
	client *listen.WSCallback
	events chan Event

	closeOnce sync.Once
}

// NewDeepgramRecognizer constructs an unopened recognizer bound to opt.
func NewDeepgramRecognizer(opt *DeepgramOption) *DeepgramRecognizer {
	return &DeepgramRecognizer{opt: opt}
}

func (d *DeepgramRecognizer) Open(ctx context.Context, cfg Config) error {
	d.events = make(chan Event, 16)

	callback := &deepgramCallback{events: d.events}
	clientOptions := &interfaces.ClientOptions{}

	client, err := listen.NewWSUsingCallback(ctx, d.opt.apiKey, clientOptions, d.opt.LiveOptions(cfg), callback)
	if err != nil {
		return sttErrors.New(sttErrors.UpstreamFail, "failed to create deepgram client: %v", err)
	}
	if ok := client.Connect(); !ok {
		return sttErrors.New(sttErrors.UpstreamFail, "failed to connect to deepgram")
	}
	d.client = client

	return nil
}

func (d *DeepgramRecognizer) Send(chunk []byte) error {
	if _, err := d.client.Write(chunk); err != nil {
		return fmt.Errorf("failed to send audio chunk to deepgram: %w", err)
	}
	return nil
}

// CloseSend stops the live connection; Stop blocks until the SDK's
// callback dispatch has quiesced, so closing the event channel afterwards
// cannot race a late Message.
func (d *DeepgramRecognizer) CloseSend() error {
	d.client.Stop()
	d.closeEvents()
	return nil
}

func (d *DeepgramRecognizer) Recv() (<-chan Event, error) {
	return d.events, nil
}

func (d *DeepgramRecognizer) Close() error {
	d.closeEvents()
	return nil
}

func (d *DeepgramRecognizer) closeEvents() {
	d.closeOnce.Do(func() { close(d.events) })
}

// deepgramCallback adapts the SDK's callback interface to our Event
// channel, keeping the translation logic separate from connection
// management.
type deepgramCallback struct {
	events chan Event
}

func (c *deepgramCallback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]

	if !mr.IsFinal {
		c.events <- Event{Kind: EventInterim, Text: alt.Transcript}
		return nil
	}

	words := make([]Word, 0, len(alt.Words))
	for _, w := range alt.Words {
		word := Word{Word: w.Word, Start: w.Start, End: w.End}
		if w.Speaker != nil {
			tag := *w.Speaker
			word.SpeakerTag = &tag
		}
		words = append(words, word)
	}

	c.events <- Event{Kind: EventFinal, Text: alt.Transcript, Words: words}
	return nil
}

func (c *deepgramCallback) Error(er *msginterfaces.ErrorResponse) error {
	c.events <- Event{Kind: EventError, ErrorCode: string(sttErrors.UpstreamFail), ErrorMessage: er.Description}
	return nil
}

func (c *deepgramCallback) Open(_ *msginterfaces.OpenResponse) error         { return nil }
func (c *deepgramCallback) Close(_ *msginterfaces.CloseResponse) error       { return nil }
func (c *deepgramCallback) Metadata(_ *msginterfaces.MetadataResponse) error { return nil }
func (c *deepgramCallback) SpeechStarted(_ *msginterfaces.SpeechStartedResponse) error {
	return nil
}
func (c *deepgramCallback) UtteranceEnd(_ *msginterfaces.UtteranceEndResponse) error {
	return nil
}
func (c *deepgramCallback) UnhandledEvent(_ []byte) error { return nil }
