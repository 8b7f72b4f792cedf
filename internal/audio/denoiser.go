// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audio

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/realtalk/sttgateway/pkg/commons"
)

const (
	// exitGracePeriod bounds how long teardown waits for the subprocess to
	// exit after its stdin closes before killing it.
	exitGracePeriod = 200 * time.Millisecond

	// popTimeout is how long Process waits for a full output chunk before
	// falling back to the raw input. The filter chain has inherent latency,
	// so the first few chunks always pass through raw.
	popTimeout = 20 * time.Millisecond
)

// Denoiser pipes PCM through a single long-running ffmpeg subprocess
// applying a fixed filter chain: high-pass at 100Hz, spectral-subtraction
// noise floor around -25dB, speech normalization. A dedicated goroutine
// drains stdout into a buffer; Process feeds stdin and pops a full output
// chunk if one is ready within popTimeout, otherwise it returns the input
// unchanged — the audio path never blocks on the subprocess. If launch
// fails or the pipe breaks once, one respawn is attempted, then denoising
// is disabled for the remainder of the session.
type Denoiser struct {
	binary     string
	sampleRate int
	logger     commons.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	buffer    []byte
	available bool
	respawned bool
}

// NewDenoiser builds a Denoiser for the given sample rate. The subprocess
// is not spawned until the first Process call.
func NewDenoiser(binary string, sampleRate int, logger commons.Logger) *Denoiser {
	return &Denoiser{binary: binary, sampleRate: sampleRate, logger: logger, available: true}
}

// Process denoises chunk, spawning the subprocess on first use. Output
// lags input by the filter chain's latency, so chunks pass through raw
// until denoised bytes catch up; on any pipe failure it degrades to
// pass-through, respawning once before permanently disabling itself.
func (d *Denoiser) Process(chunk []byte) []byte {
	if len(chunk) == 0 {
		return chunk
	}

	d.mu.Lock()
	if !d.available {
		d.mu.Unlock()
		return chunk
	}
	if d.cmd == nil {
		if err := d.spawnLocked(); err != nil {
			d.logger.Warnf("denoiser: failed to launch subprocess: %v", err)
			d.available = false
			d.mu.Unlock()
			return chunk
		}
	}
	d.mu.Unlock()

	// Anything already drained belongs to earlier input; take it before
	// feeding so the output stream stays in step.
	ready := d.takeBuffered(len(chunk), 0)

	if !d.feed(chunk) {
		return chunk
	}

	if ready != nil {
		return ready
	}
	if out := d.takeBuffered(len(chunk), popTimeout); out != nil {
		return out
	}
	return chunk
}

// feed writes chunk to the subprocess's stdin, applying the
// respawn-once-then-disable policy on a broken pipe.
func (d *Denoiser) feed(chunk []byte) bool {
	d.mu.Lock()
	stdin := d.stdin
	d.mu.Unlock()
	if stdin == nil {
		return false
	}

	if _, err := stdin.Write(chunk); err == nil {
		return true
	} else if !d.respawnOnce(err) {
		return false
	}

	d.mu.Lock()
	stdin = d.stdin
	d.mu.Unlock()
	if stdin == nil {
		return false
	}
	if _, err := stdin.Write(chunk); err != nil {
		d.logger.Warnf("denoiser: pipe broke again after respawn, disabling for session: %v", err)
		d.mu.Lock()
		d.available = false
		d.mu.Unlock()
		return false
	}
	return true
}

func (d *Denoiser) respawnOnce(cause error) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.teardownLocked()

	if d.respawned {
		d.logger.Warnf("denoiser: pipe broke after respawn, disabling for session: %v", cause)
		d.available = false
		return false
	}

	d.logger.Warnf("denoiser: pipe broke, respawning once: %v", cause)
	d.respawned = true
	if err := d.spawnLocked(); err != nil {
		d.logger.Warnf("denoiser: respawn failed, disabling for session: %v", err)
		d.available = false
		return false
	}
	return true
}

// takeBuffered pops exactly n denoised bytes if the drain goroutine has
// collected that many, polling until timeout; it returns nil otherwise
// and leaves any partial output buffered for the next call.
func (d *Denoiser) takeBuffered(n int, timeout time.Duration) []byte {
	deadline := time.Now().Add(timeout)
	for {
		d.mu.Lock()
		if len(d.buffer) >= n {
			out := make([]byte, n)
			copy(out, d.buffer)
			d.buffer = d.buffer[n:]
			d.mu.Unlock()
			return out
		}
		d.mu.Unlock()

		if timeout == 0 || !time.Now().Before(deadline) {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (d *Denoiser) spawnLocked() error {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le", "-ac", "1", "-ar", fmt.Sprintf("%d", d.sampleRate), "-i", "pipe:0",
		"-af", "afftdn=nf=-25,highpass=f=100,speechnorm=e=6:l=1",
		"-f", "s16le", "-ac", "1", "-ar", fmt.Sprintf("%d", d.sampleRate), "pipe:1",
	}
	cmd := exec.Command(d.binary, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", d.binary, err)
	}

	d.cmd = cmd
	d.stdin = stdin
	go d.drainStdout(stdout)
	go d.drainStderr(stderr)
	return nil
}

// drainStdout pulls denoised PCM off the subprocess as fast as it is
// produced, so ffmpeg's output pipe never fills and stalls the filter
// chain. Exits when the pipe closes.
func (d *Denoiser) drainStdout(stdout io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			d.mu.Lock()
			d.buffer = append(d.buffer, buf[:n]...)
			d.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (d *Denoiser) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		d.logger.Debugf("denoiser: %s", scanner.Text())
	}
}

// teardownLocked closes the subprocess's stdin and waits up to 200ms for
// it to exit before killing it outright, so session teardown stays
// bounded even when ffmpeg wedges. The drain goroutines exit on their own
// once the pipes close.
func (d *Denoiser) teardownLocked() {
	if d.cmd == nil {
		return
	}
	d.stdin.Close()

	waited := make(chan struct{})
	cmd := d.cmd
	go func() {
		cmd.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(exitGracePeriod):
		cmd.Process.Kill()
		<-waited
	}

	d.cmd = nil
	d.stdin = nil
	d.buffer = nil
}

// Close terminates the subprocess if running.
func (d *Denoiser) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardownLocked()
}
