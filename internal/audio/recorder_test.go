package audio

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"math"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

// --- mock device ---

type mockStream struct {
	data       chan []byte
	closed     chan struct{}
	closeCount atomic.Int32
}

func newMockStream() *mockStream {
	return &mockStream{
		data:   make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (m *mockStream) Read(p []byte) (int, error) {
	// Buffered chunks drain before close is honored, so no pushed audio
	// is lost to a stop racing the reader.
	select {
	case chunk, ok := <-m.data:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, chunk), nil
	default:
	}
	select {
	case chunk, ok := <-m.data:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, chunk), nil
	case <-m.closed:
		return 0, io.EOF
	}
}

func (m *mockStream) Close() error {
	if m.closeCount.Add(1) == 1 {
		close(m.closed)
	}
	return nil
}

func (m *mockStream) push(chunk []byte) {
	m.data <- chunk
}

type mockDevice struct {
	available  bool
	acquireErr error
	stream     *mockStream
	acquires   atomic.Int32
	gate       chan struct{} // when set, Acquire blocks until it closes
}

func (d *mockDevice) Available() bool { return d.available }

func (d *mockDevice) Acquire(ctx context.Context) (Stream, error) {
	d.acquires.Add(1)
	if d.gate != nil {
		<-d.gate
	}
	if d.acquireErr != nil {
		return nil, d.acquireErr
	}
	return d.stream, nil
}

func pcmChunk(amplitude int16, samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		buf[i*2] = byte(uint16(amplitude))
		buf[i*2+1] = byte(uint16(amplitude) >> 8)
	}
	return buf
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// --- tests ---

func TestCapabilityUnavailable(t *testing.T) {
	r := NewRecorder(&mockDevice{available: false}, 16000)

	if r.Capable() {
		t.Error("recorder should report no capability")
	}
	if err := r.Start(context.Background()); !errors.Is(err, ErrCapabilityUnavailable) {
		t.Errorf("Start = %v, want ErrCapabilityUnavailable", err)
	}
	if r.State() != StateIdle {
		t.Errorf("state = %v, want idle", r.State())
	}
}

func TestPermissionDenied(t *testing.T) {
	dev := &mockDevice{available: true, acquireErr: errors.New("device busy")}
	r := NewRecorder(dev, 16000)

	err := r.Start(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Start = %v, want ErrPermissionDenied", err)
	}
	if r.State() != StateIdle {
		t.Errorf("state = %v, want idle after denial", r.State())
	}
	// A retry must be possible.
	dev.acquireErr = nil
	dev.stream = newMockStream()
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("retry after denial failed: %v", err)
	}
	r.Abort()
}

func TestStartStop_ProducesClip(t *testing.T) {
	stream := newMockStream()
	r := NewRecorder(&mockDevice{available: true, stream: stream}, 16000)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if r.State() != StateRecording {
		t.Fatalf("state = %v, want recording", r.State())
	}

	chunk := pcmChunk(1000, 256)
	stream.push(chunk)
	stream.push(chunk)
	waitFor(t, time.Second, func() bool { return r.Level() > 0 })

	clip, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	defer os.Remove(clip.Ref)

	if clip.Size != 2*len(chunk) {
		t.Errorf("clip size = %d, want %d", clip.Size, 2*len(chunk))
	}
	decoded, err := base64.StdEncoding.DecodeString(clip.Base64)
	if err != nil {
		t.Fatalf("clip payload is not valid base64: %v", err)
	}
	if len(decoded) != clip.Size {
		t.Errorf("decoded payload is %d bytes, want %d", len(decoded), clip.Size)
	}
	if _, err := os.Stat(clip.Ref); err != nil {
		t.Errorf("playback ref is not dereferenceable: %v", err)
	}
	if r.State() != StateIdle {
		t.Errorf("state = %v, want idle after stop", r.State())
	}
	if stream.closeCount.Load() == 0 {
		t.Error("stream was not released on stop")
	}
}

func TestStop_EmptyRecording(t *testing.T) {
	stream := newMockStream()
	r := NewRecorder(&mockDevice{available: true, stream: stream}, 16000)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	clip, err := r.Stop()
	if !errors.Is(err, ErrEmptyRecording) {
		t.Errorf("Stop = %v, want ErrEmptyRecording", err)
	}
	if clip.Base64 != "" || clip.Ref != "" {
		t.Error("empty recording must not produce a clip")
	}
	if r.State() != StateIdle {
		t.Errorf("state = %v, want idle", r.State())
	}
	if stream.closeCount.Load() == 0 {
		t.Error("stream must be released even for an empty capture")
	}
}

func TestStop_WithoutStart(t *testing.T) {
	r := NewRecorder(&mockDevice{available: true}, 16000)
	if _, err := r.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Stop = %v, want ErrNotRecording", err)
	}
}

func TestSecondStartRejected(t *testing.T) {
	stream := newMockStream()
	r := NewRecorder(&mockDevice{available: true, stream: stream}, 16000)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := r.Start(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("second Start = %v, want ErrAlreadyRecording", err)
	}
	r.Abort()
}

func TestAbort_ReleasesResources(t *testing.T) {
	stream := newMockStream()
	r := NewRecorder(&mockDevice{available: true, stream: stream}, 16000)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stream.push(pcmChunk(500, 128))

	// Teardown while recording: stream must be stopped exactly once.
	r.Abort()

	if got := stream.closeCount.Load(); got != 1 {
		t.Errorf("stream Close called %d times, want exactly 1", got)
	}
	if r.State() != StateIdle {
		t.Errorf("state = %v, want idle after abort", r.State())
	}
	if r.Level() != 0 {
		t.Error("level must reset after abort")
	}

	// Aborted audio is discarded: a fresh start+stop sees no stale chunks.
	if _, err := r.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Stop after abort = %v, want ErrNotRecording", err)
	}
}

func TestAbortDuringRequesting_CancelsStart(t *testing.T) {
	stream := newMockStream()
	dev := &mockDevice{available: true, stream: stream, gate: make(chan struct{})}
	r := NewRecorder(dev, 16000)

	startErr := make(chan error, 1)
	go func() { startErr <- r.Start(context.Background()) }()

	// Abort while the permission prompt is still open, then let the
	// acquire complete. The late stream must not resurrect the recording.
	waitFor(t, time.Second, func() bool { return r.State() == StateRequesting })
	r.Abort()
	close(dev.gate)

	if err := <-startErr; !errors.Is(err, ErrStartAborted) {
		t.Errorf("Start = %v, want ErrStartAborted", err)
	}
	if r.State() != StateIdle {
		t.Errorf("state = %v, want idle after aborted start", r.State())
	}
	if stream.closeCount.Load() == 0 {
		t.Error("stream acquired after abort must be released")
	}

	// The recorder stays usable.
	dev.gate = nil
	dev.stream = newMockStream()
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("restart after aborted start failed: %v", err)
	}
	r.Abort()
}

func TestAbort_Idempotent(t *testing.T) {
	r := NewRecorder(&mockDevice{available: true, stream: newMockStream()}, 16000)
	r.Abort()
	r.Abort() // no-op in idle, must not panic
}

func TestLevel_NormalizedAndClamped(t *testing.T) {
	// Full-scale square wave: RMS = 32767/32768, just under 1.
	lvl := rmsLevel(pcmChunk(32767, 64))
	if lvl <= 0.99 || lvl > 1 {
		t.Errorf("full-scale level = %g, want ~1 within [0,1]", lvl)
	}

	// Silence.
	if lvl := rmsLevel(pcmChunk(0, 64)); lvl != 0 {
		t.Errorf("silence level = %g, want 0", lvl)
	}

	// Half amplitude.
	lvl = rmsLevel(pcmChunk(16384, 64))
	if math.Abs(lvl-0.5) > 0.01 {
		t.Errorf("half-scale level = %g, want ~0.5", lvl)
	}

	if rmsLevel(nil) != 0 {
		t.Error("empty chunk level must be 0")
	}
}

func TestWAVHeader(t *testing.T) {
	h := wavHeader(1000, 16000)
	if string(h[0:4]) != "RIFF" || string(h[8:12]) != "WAVE" {
		t.Error("malformed WAV header magic")
	}
	dataLen := uint32(h[40]) | uint32(h[41])<<8 | uint32(h[42])<<16 | uint32(h[43])<<24
	if dataLen != 1000 {
		t.Errorf("data length = %d, want 1000", dataLen)
	}
}
