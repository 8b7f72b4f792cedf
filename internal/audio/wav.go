// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// WAVWriter streams mono 16-bit LE PCM to a file as it arrives, writing a
// placeholder RIFF/WAVE header up front and patching the size fields on
// Close. A session's capture can run far longer than is comfortable to
// buffer, so the writer never holds more than one chunk in memory.
type WAVWriter struct {
	file       *os.File
	sampleRate int
	written    int
}

// NewWAVWriter opens (creating if needed) path and writes the 44-byte
// header placeholder. Failures to open are returned to the caller, who
// should log and continue with the audio path intact.
func NewWAVWriter(path string, sampleRate int) (*WAVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create wav file %s: %w", path, err)
	}

	w := &WAVWriter{file: f, sampleRate: sampleRate}
	if err := w.writeHeader(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write wav header for %s: %w", path, err)
	}
	return w, nil
}

func (w *WAVWriter) writeHeader(dataLen int) error {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	bps := w.sampleRate * channels * bytesPerSample

	if _, err := w.file.Write([]byte("RIFF")); err != nil {
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, uint32(36+dataLen)); err != nil {
		return err
	}
	if _, err := w.file.Write([]byte("WAVE")); err != nil {
		return err
	}

	if _, err := w.file.Write([]byte("fmt ")); err != nil {
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, uint16(pcmFormatTag)); err != nil {
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, uint16(channels)); err != nil {
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, uint32(w.sampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, uint32(bps)); err != nil {
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, uint16(bytesPerSample)); err != nil {
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, uint16(bitsPerSample)); err != nil {
		return err
	}

	if _, err := w.file.Write([]byte("data")); err != nil {
		return err
	}
	return binary.Write(w.file, binary.LittleEndian, uint32(dataLen))
}

// Write appends pcm to the capture, seeking back to append past any prior
// header patch.
func (w *WAVWriter) Write(pcm []byte) error {
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek wav file: %w", err)
	}
	n, err := w.file.Write(pcm)
	if err != nil {
		return fmt.Errorf("failed to write wav data: %w", err)
	}
	w.written += n
	return nil
}

// Close patches the header with the final data length and closes the
// file.
func (w *WAVWriter) Close() error {
	if err := w.writeHeader(w.written); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to patch wav header: %w", err)
	}
	return w.file.Close()
}
