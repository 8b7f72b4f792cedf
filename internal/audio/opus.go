// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audio

import (
	"encoding/binary"
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// OpusSampleRate and OpusChannels describe the inbound WebRTC track
// format: browsers ship 48kHz stereo Opus regardless of the microphone's
// native rate.
const (
	OpusSampleRate  = 48000
	OpusChannels    = 2
	opusMaxFrameLen = 5760 // 120ms at 48kHz, libopus's documented max frame size
)

// OpusDecoder decodes Opus RTP payloads into interleaved S16LE PCM,
// wrapping gopkg.in/hraban/opus.v2. The scratch buffer is reused across
// calls; Decode copies out of it before returning.
type OpusDecoder struct {
	dec *opus.Decoder
	pcm []int16
}

// NewOpusDecoder builds a decoder for the standard WebRTC Opus format.
func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(OpusSampleRate, OpusChannels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec: dec,
		pcm: make([]int16, opusMaxFrameLen*OpusChannels),
	}, nil
}

// Decode decodes one Opus packet into interleaved S16LE bytes.
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}

	out := make([]byte, n*OpusChannels*2)
	for i := 0; i < n*OpusChannels; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(d.pcm[i]))
	}
	return out, nil
}
