// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package recognizer

import (
	"context"
	"fmt"
	"io"

	speech "cloud.google.com/go/speech/apiv1"
	"google.golang.org/api/option"
	speechpb "google.golang.org/genproto/googleapis/cloud/speech/v1"

	sttErrors "github.com/realtalk/sttgateway/internal/errors"
	"github.com/realtalk/sttgateway/pkg/commons"
)

// GoogleOption holds the client options and credential material for the
// Google Cloud Speech client and knows how to build a streaming config.
type GoogleOption struct {
	logger          commons.Logger
	credentialsJSON []byte
}

// NewGoogleOption builds a GoogleOption. credentialsJSON may be nil, in
// which case the client falls back to ambient default credentials.
func NewGoogleOption(logger commons.Logger, credentialsJSON []byte) *GoogleOption {
	return &GoogleOption{logger: logger, credentialsJSON: credentialsJSON}
}

// StreamingConfig builds the StreamingRecognitionConfig for cfg: LINEAR16
// encoding, interim results on, diarization only when requested.
func (o *GoogleOption) StreamingConfig(cfg Config) *speechpb.StreamingRecognitionConfig {
	diarizationCfg := (*speechpb.SpeakerDiarizationConfig)(nil)
	if cfg.EnableSpeakerDiarization {
		diarizationCfg = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MaxSpeakerCount:          int32(cfg.MaxSpeakers),
		}
	}

	return &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(cfg.SampleRate),
			LanguageCode:               cfg.Language,
			Model:                      cfg.Model,
			UseEnhanced:                cfg.UseEnhanced,
			EnableAutomaticPunctuation: cfg.EnablePunctuation,
			EnableWordTimeOffsets:      cfg.EnableWordTimeOffsets,
			DiarizationConfig:          diarizationCfg,
		},
		InterimResults: true,
	}
}

// GoogleRecognizer is the default StreamingRecognizer implementation: one
// long-lived Speech_StreamingRecognizeClient, a config message first, then
// raw audio content messages, with a dedicated goroutine pumping Recv().
type GoogleRecognizer struct {
	opt    *GoogleOption
	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
	events chan Event
}

// NewGoogleRecognizer constructs an unopened recognizer bound to opt.
func NewGoogleRecognizer(opt *GoogleOption) *GoogleRecognizer {
	return &GoogleRecognizer{opt: opt}
}

func (g *GoogleRecognizer) Open(ctx context.Context, cfg Config) error {
	var opts []option.ClientOption
	if len(g.opt.credentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(g.opt.credentialsJSON))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return sttErrors.New(sttErrors.GoogleAuthMissing, "failed to create google speech client: %v", err)
	}
	g.client = client

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		return sttErrors.New(sttErrors.UpstreamFail, "failed to open streaming session: %v", err)
	}
	g.stream = stream

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: g.opt.StreamingConfig(cfg),
		},
	}); err != nil {
		return sttErrors.New(sttErrors.UpstreamFail, "failed to send streaming config: %v", err)
	}

	g.events = make(chan Event, 16)
	go g.pump()

	return nil
}

func (g *GoogleRecognizer) Send(chunk []byte) error {
	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: chunk,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio chunk: %w", err)
	}
	return nil
}

func (g *GoogleRecognizer) CloseSend() error {
	return g.stream.CloseSend()
}

func (g *GoogleRecognizer) Recv() (<-chan Event, error) {
	return g.events, nil
}

func (g *GoogleRecognizer) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// pump drains the upstream response stream and translates each response
// into a RecognizerEvent, closing the events channel when the stream ends.
func (g *GoogleRecognizer) pump() {
	defer close(g.events)

	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			g.events <- Event{Kind: EventError, ErrorCode: string(sttErrors.UpstreamFail), ErrorMessage: err.Error()}
			return
		}
		if resp.Error != nil {
			g.events <- Event{Kind: EventError, ErrorCode: string(sttErrors.UpstreamFail), ErrorMessage: resp.Error.Message}
			continue
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			alt := result.Alternatives[0]

			if !result.IsFinal {
				g.events <- Event{Kind: EventInterim, Text: alt.Transcript}
				continue
			}

			words := make([]Word, 0, len(alt.Words))
			for _, w := range alt.Words {
				word := Word{
					Word:  w.Word,
					Start: durationSeconds(w.StartTime.GetSeconds(), w.StartTime.GetNanos()),
					End:   durationSeconds(w.EndTime.GetSeconds(), w.EndTime.GetNanos()),
				}
				if w.SpeakerTag != 0 {
					tag := int(w.SpeakerTag)
					word.SpeakerTag = &tag
				}
				words = append(words, word)
			}

			g.events <- Event{
				Kind:          EventFinal,
				Text:          alt.Transcript,
				Words:         words,
				ResultEndTime: durationSeconds(result.ResultEndTime.GetSeconds(), result.ResultEndTime.GetNanos()),
			}
		}
	}
}

func durationSeconds(seconds int64, nanos int32) float64 {
	return float64(seconds) + float64(nanos)/1e9
}
