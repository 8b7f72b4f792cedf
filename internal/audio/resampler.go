// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audio

import (
	"fmt"

	resampler "github.com/tphakala/go-audio-resampler"
)

// Resampler converts little-endian S16 PCM at one sample rate/channel
// layout to mono S16LE at the target STT rate, wrapping
// github.com/tphakala/go-audio-resampler.
type Resampler struct {
	inRate, outRate int
	inChannels      int
	r               *resampler.Resampler
}

// NewResampler builds a resampler from inRate/inChannels to outRate mono.
func NewResampler(inRate, inChannels, outRate int) (*Resampler, error) {
	r, err := resampler.New(inRate, outRate, inChannels, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler (%d->%d, ch=%d): %w", inRate, outRate, inChannels, err)
	}
	return &Resampler{inRate: inRate, outRate: outRate, inChannels: inChannels, r: r}, nil
}

// Process resamples one chunk of interleaved S16LE PCM, downmixing to
// mono along the way. The resampler's internal state carries fractional
// sample positions across calls so the output stream is gap-free, with no
// duplicated or dropped samples at chunk boundaries.
func (r *Resampler) Process(pcm []byte) ([]byte, error) {
	out, err := r.r.Resample(pcm)
	if err != nil {
		return nil, fmt.Errorf("resample failed: %w", err)
	}
	return out, nil
}
