// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audio

import (
	"sync/atomic"

	"github.com/realtalk/sttgateway/pkg/commons"
)

// Pipeline wires decode -> resample -> optional denoise -> chunk/enqueue
// -> tee-to-capture for one session's inbound audio track. It never
// panics on the audio callback; any internal failure degrades to
// pass-through or a dropped chunk.
type Pipeline struct {
	cfg      Config
	logger   commons.Logger
	decoder  *OpusDecoder
	resamp   *Resampler
	denoiser *Denoiser
	queue    *PCMQueue

	capture  *WAVWriter
	analysis *WAVWriter

	bytesIn int64
	chunks  int64
}

// NewPipeline builds a pipeline for one session, opening its capture
// writer(s) under sessionID. Writer-open failures are logged and leave
// the audio path intact.
func NewPipeline(cfg Config, sessionID string, logger commons.Logger) (*Pipeline, error) {
	decoder, err := NewOpusDecoder()
	if err != nil {
		return nil, err
	}

	resamp, err := NewResampler(OpusSampleRate, OpusChannels, cfg.OutputSampleRate)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:     cfg,
		logger:  logger,
		decoder: decoder,
		resamp:  resamp,
		queue:   NewPCMQueue(cfg.QueueCapacity),
	}

	if cfg.DenoiseEnabled {
		p.denoiser = NewDenoiser(cfg.DenoiseBinary, cfg.OutputSampleRate, logger)
	}

	if cfg.StorageDir != "" {
		capture, err := NewWAVWriter(cfg.StorageDir+"/"+sessionID+".wav", cfg.OutputSampleRate)
		if err != nil {
			logger.Warnf("failed to open capture writer for session %s: %v", sessionID, err)
		} else {
			p.capture = capture
		}
	}

	if cfg.AnalysisDir != "" && cfg.AnalysisDir != cfg.StorageDir {
		analysis, err := NewWAVWriter(cfg.AnalysisDir+"/"+sessionID+".wav", cfg.OutputSampleRate)
		if err != nil {
			logger.Warnf("failed to open analysis writer for session %s: %v", sessionID, err)
		} else {
			p.analysis = analysis
		}
	}

	return p, nil
}

// Queue exposes the bounded PCM queue the recognizer worker drains.
func (p *Pipeline) Queue() *PCMQueue {
	return p.queue
}

// HandleOpusPacket decodes, resamples, optionally denoises, and enqueues
// one inbound Opus packet. It never panics: any stage failure is logged
// and the frame is dropped, leaving the pipeline ready for the next one.
func (p *Pipeline) HandleOpusPacket(packet []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("audio pipeline: recovered from panic: %v", r)
		}
	}()

	pcm, err := p.decoder.Decode(packet)
	if err != nil {
		p.logger.Warnf("audio pipeline: decode failed, dropping frame: %v", err)
		return
	}

	resampled, err := p.resamp.Process(pcm)
	if err != nil {
		p.logger.Warnf("audio pipeline: resample failed, dropping frame: %v", err)
		return
	}

	if p.denoiser != nil {
		resampled = p.denoiser.Process(resampled)
	}

	atomic.AddInt64(&p.bytesIn, int64(len(resampled)))
	atomic.AddInt64(&p.chunks, 1)

	if !p.queue.Push(resampled) {
		p.logger.Debugf("audio pipeline: PCM queue full, dropped chunk (total dropped=%d)", p.queue.Dropped())
	}

	p.tee(resampled)
}

func (p *Pipeline) tee(pcm []byte) {
	if p.capture != nil {
		if err := p.capture.Write(pcm); err != nil {
			p.logger.Warnf("audio pipeline: capture write failed: %v", err)
		}
	}
	if p.analysis != nil {
		if err := p.analysis.Write(pcm); err != nil {
			p.logger.Warnf("audio pipeline: analysis write failed: %v", err)
		}
	}
}

// CaptureEnabled reports whether this session's audio was written to a
// capture WAV file, for the session.close "recording_available" hint.
func (p *Pipeline) CaptureEnabled() bool {
	return p.capture != nil
}

// Stats reports the running totals the Session folds into stt.stats. Safe
// to call off the audio thread.
func (p *Pipeline) Stats() (bytesIn, chunks, dropped int64) {
	return atomic.LoadInt64(&p.bytesIn), atomic.LoadInt64(&p.chunks), p.queue.Dropped()
}

// Close flushes and closes capture writers and terminates the denoiser
// subprocess if running.
func (p *Pipeline) Close() {
	if p.denoiser != nil {
		p.denoiser.Close()
	}
	if p.capture != nil {
		if err := p.capture.Close(); err != nil {
			p.logger.Warnf("audio pipeline: failed to close capture writer: %v", err)
		}
	}
	if p.analysis != nil {
		if err := p.analysis.Close(); err != nil {
			p.logger.Warnf("audio pipeline: failed to close analysis writer: %v", err)
		}
	}
}
