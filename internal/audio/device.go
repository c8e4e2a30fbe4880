package audio

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// CaptureDevice drives an external PCM capture command (arecord-style).
// The command must write signed 16-bit little-endian mono samples to
// stdout until killed.
type CaptureDevice struct {
	command    string
	args       []string
	sampleRate int

	mu     sync.Mutex
	active bool
}

// DefaultCaptureArgs builds arecord arguments for raw s16le mono capture.
func DefaultCaptureArgs(sampleRate int) []string {
	return []string{"-q", "-f", "S16_LE", "-c", "1", "-r", fmt.Sprintf("%d", sampleRate), "-t", "raw"}
}

// NewCaptureDevice creates a device around the given command. An empty
// command defaults to arecord.
func NewCaptureDevice(command string, args []string, sampleRate int) *CaptureDevice {
	if command == "" {
		command = "arecord"
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if args == nil {
		args = DefaultCaptureArgs(sampleRate)
	}
	return &CaptureDevice{command: command, args: args, sampleRate: sampleRate}
}

// Available reports whether the capture command exists on PATH.
func (d *CaptureDevice) Available() bool {
	_, err := exec.LookPath(d.command)
	return err == nil
}

// Acquire starts the capture process. The microphone is exclusive: a second
// Acquire while a stream is open is rejected. A process that fails to start
// releases everything before returning.
func (d *CaptureDevice) Acquire(ctx context.Context) (Stream, error) {
	d.mu.Lock()
	if d.active {
		d.mu.Unlock()
		return nil, ErrAlreadyRecording
	}
	d.active = true
	d.mu.Unlock()

	cmd := exec.CommandContext(ctx, d.command, d.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		d.releaseSlot()
		return nil, fmt.Errorf("opening capture pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdout.Close()
		d.releaseSlot()
		return nil, fmt.Errorf("starting capture command: %w", err)
	}

	return &processStream{dev: d, cmd: cmd, out: stdout}, nil
}

func (d *CaptureDevice) releaseSlot() {
	d.mu.Lock()
	d.active = false
	d.mu.Unlock()
}

// processStream reads PCM from the capture process and kills it on Close.
type processStream struct {
	dev  *CaptureDevice
	cmd  *exec.Cmd
	out  io.ReadCloser
	once sync.Once
}

func (s *processStream) Read(p []byte) (int, error) {
	return s.out.Read(p)
}

func (s *processStream) Close() error {
	var err error
	s.once.Do(func() {
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		err = s.out.Close()
		s.cmd.Wait()
		s.dev.releaseSlot()
	})
	return err
}
