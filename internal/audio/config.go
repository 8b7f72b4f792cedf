// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package audio implements the audio ingestion and conditioning pipeline:
// Opus decode, resample, optional denoise, fixed-rate PCM chunking, and
// dual WAV capture.
package audio

// Config carries the pipeline's tunable parameters.
type Config struct {
	// InputSampleRate is the RTC-side hint (default 48000).
	InputSampleRate int
	// OutputSampleRate is the STT-facing rate (default 16000).
	OutputSampleRate int
	// QueueCapacity bounds the PCM chunk queue (64 when unset).
	QueueCapacity int
	// DenoiseEnabled toggles the spectral denoiser subprocess.
	DenoiseEnabled bool
	// DenoiseBinary is the executable used for denoising (ffmpeg-compatible).
	DenoiseBinary string
	// StorageDir is where the primary capture WAV is written.
	StorageDir string
	// AnalysisDir, if non-empty and different from StorageDir, receives a
	// best-effort duplicate capture.
	AnalysisDir string
}

// DefaultConfig returns the standard 48kHz-in/16kHz-out pipeline setup.
func DefaultConfig() Config {
	return Config{
		InputSampleRate:  48000,
		OutputSampleRate: 16000,
		QueueCapacity:    64,
		DenoiseEnabled:   false,
		DenoiseBinary:    "ffmpeg",
	}
}

const (
	bytesPerSample = 2 // LINEAR16 → 2 bytes per sample
	bitsPerSample  = 16
	pcmFormatTag   = 1
	channels       = 1 // mono, post-resample
)
