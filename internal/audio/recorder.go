// Package audio turns a user gesture into a base64-encoded voice clip plus
// a locally playable reference, with live elapsed-time and amplitude
// feedback. Recording is modeled as an explicit state machine so that
// illegal states (a sampling loop running while idle, a leaked stream) are
// unrepresentable.
package audio

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"
)

// Failure taxonomy. All are recoverable: the recorder returns to Idle and
// the user may retry.
var (
	ErrCapabilityUnavailable = errors.New("audio capture is not available on this host")
	ErrPermissionDenied      = errors.New("no microphone access")
	ErrEmptyRecording        = errors.New("recording contains no audio")
	ErrEncodingFailed        = errors.New("could not encode recording")
	ErrAlreadyRecording      = errors.New("a recording is already active")
	ErrNotRecording          = errors.New("no active recording")
	ErrStartAborted          = errors.New("recording start aborted")
)

// State of the recorder.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateRecording
	StateEncoding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateRecording:
		return "recording"
	case StateEncoding:
		return "encoding"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Device abstracts exclusive microphone acquisition. Acquire may suspend on
// a permission prompt; it must honor ctx cancellation and must not leak a
// partially acquired stream on failure.
type Device interface {
	Available() bool
	Acquire(ctx context.Context) (Stream, error)
}

// Stream delivers raw PCM audio (signed 16-bit little-endian, mono).
// Close releases the underlying capture resource and unblocks Read.
type Stream interface {
	Read(p []byte) (int, error)
	Close() error
}

// Clip is a finished recording: the transport-safe payload plus a local
// playback handle (a WAV file on disk).
type Clip struct {
	Base64   string
	Ref      string
	Duration time.Duration
	Size     int
}

// Recorder owns at most one active recording at a time — the microphone is
// a global resource, not a per-persona one. Every resource started by
// Start (stream, reader loop, elapsed ticker) is released on every exit
// path of Stop and Abort.
type Recorder struct {
	dev        Device
	capable    bool
	sampleRate int

	mu      sync.Mutex
	state   State
	stream  Stream
	chunks  [][]byte
	level   float64
	elapsed int

	readerDone chan struct{}
	tickerStop chan struct{}
}

// NewRecorder probes device capability once at construction; the check has
// no side effects and is never repeated.
func NewRecorder(dev Device, sampleRate int) *Recorder {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Recorder{
		dev:        dev,
		capable:    dev != nil && dev.Available(),
		sampleRate: sampleRate,
	}
}

// Capable reports the capability probed at construction time.
func (r *Recorder) Capable() bool { return r.capable }

// State returns the current recorder state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Elapsed returns whole seconds since recording started.
func (r *Recorder) Elapsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed
}

// Level returns the most recent amplitude sample, normalized to [0,1].
func (r *Recorder) Level() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// Start acquires the microphone and begins buffering audio. It fails with
// ErrCapabilityUnavailable when the host has no capture support,
// ErrAlreadyRecording when a recording is active, ErrPermissionDenied when
// the device cannot be acquired, and ErrStartAborted when Abort lands while
// the permission prompt is open. On failure the recorder is back in Idle
// with nothing leaked.
func (r *Recorder) Start(ctx context.Context) error {
	if !r.capable {
		return ErrCapabilityUnavailable
	}

	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.state = StateRequesting
	r.mu.Unlock()

	// The permission prompt may suspend indefinitely; ctx keeps it
	// cancelable.
	stream, err := r.dev.Acquire(ctx)
	if err != nil {
		r.mu.Lock()
		r.state = StateIdle
		r.mu.Unlock()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	r.mu.Lock()
	if r.state != StateRequesting {
		// Abort ran while the prompt was open; the late-arriving stream
		// must not resurrect the recording or leak.
		r.mu.Unlock()
		stream.Close()
		return ErrStartAborted
	}
	r.state = StateRecording
	r.stream = stream
	r.chunks = nil
	r.level = 0
	r.elapsed = 0
	r.readerDone = make(chan struct{})
	r.tickerStop = make(chan struct{})
	r.mu.Unlock()

	go r.readLoop(stream, r.readerDone)
	go r.tickLoop(r.tickerStop)
	return nil
}

// Stop finalizes the recording: releases the stream, stops the amplitude
// loop and the timer, and encodes the buffered chunks. A capture with zero
// bytes yields ErrEmptyRecording and no clip. Resources are released on
// every exit path, including encoding failure.
func (r *Recorder) Stop() (Clip, error) {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return Clip{}, ErrNotRecording
	}
	r.state = StateEncoding
	stream := r.stream
	r.stream = nil
	readerDone := r.readerDone
	tickerStop := r.tickerStop
	r.mu.Unlock()

	r.release(stream, readerDone, tickerStop)

	r.mu.Lock()
	chunks := r.chunks
	r.chunks = nil
	elapsed := r.elapsed
	r.state = StateIdle
	r.level = 0
	r.mu.Unlock()

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total == 0 {
		return Clip{}, ErrEmptyRecording
	}

	pcm := make([]byte, 0, total)
	for _, c := range chunks {
		pcm = append(pcm, c...)
	}

	ref, err := writeWAV(pcm, r.sampleRate)
	if err != nil {
		return Clip{}, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}

	return Clip{
		Base64:   base64.StdEncoding.EncodeToString(pcm),
		Ref:      ref,
		Duration: time.Duration(elapsed) * time.Second,
		Size:     total,
	}, nil
}

// Abort releases everything and discards buffered audio. Safe to call in
// any state; used for user aborts and component teardown.
func (r *Recorder) Abort() {
	r.mu.Lock()
	if r.state != StateRecording {
		r.state = StateIdle
		r.mu.Unlock()
		return
	}
	stream := r.stream
	r.stream = nil
	readerDone := r.readerDone
	tickerStop := r.tickerStop
	r.state = StateIdle
	r.chunks = nil
	r.level = 0
	r.mu.Unlock()

	r.release(stream, readerDone, tickerStop)
}

// release closes the stream, waits for the reader loop to drain, and stops
// the elapsed ticker — exactly once each.
func (r *Recorder) release(stream Stream, readerDone, tickerStop chan struct{}) {
	if stream != nil {
		stream.Close()
	}
	if readerDone != nil {
		<-readerDone
	}
	if tickerStop != nil {
		close(tickerStop)
	}
}

func (r *Recorder) readLoop(stream Stream, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			// Amplitude is recomputed on every delivered chunk; the UI
			// reads the latest sample on its own refresh tick.
			lvl := rmsLevel(chunk)

			r.mu.Lock()
			if r.state == StateRecording || r.state == StateEncoding {
				r.chunks = append(r.chunks, chunk)
				r.level = lvl
			}
			r.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (r *Recorder) tickLoop(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.state == StateRecording {
				r.elapsed++
			}
			r.mu.Unlock()
		}
	}
}

// rmsLevel computes the root-mean-square amplitude of a PCM s16le chunk,
// normalized and clamped to [0,1].
func rmsLevel(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		f := float64(s)
		sum += f * f
	}
	level := math.Sqrt(sum/float64(samples)) / 32768
	return math.Min(level, 1)
}

// writeWAV stores the clip as a playable mono 16-bit WAV file and returns
// its path.
func writeWAV(pcm []byte, sampleRate int) (string, error) {
	f, err := os.CreateTemp("", "shopmate-clip-*.wav")
	if err != nil {
		return "", err
	}
	defer f.Close()

	header := wavHeader(len(pcm), sampleRate)
	if _, err := f.Write(header); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	if _, err := f.Write(pcm); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func wavHeader(dataLen, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	h := make([]byte, 44)
	copy(h[0:4], "RIFF")
	putUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	putUint32(h[16:20], 16)
	putUint16(h[20:22], 1) // PCM
	putUint16(h[22:24], channels)
	putUint32(h[24:28], uint32(sampleRate))
	putUint32(h[28:32], uint32(byteRate))
	putUint16(h[32:34], uint16(blockAlign))
	putUint16(h[34:36], bitsPerSample)
	copy(h[36:40], "data")
	putUint32(h[40:44], uint32(dataLen))
	return h
}

func putUint16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
