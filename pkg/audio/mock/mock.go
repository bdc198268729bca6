// Package mock provides in-memory implementations of the [audio.Microphone],
// [audio.CaptureStream], [audio.Speaker], and [audio.Output] interfaces for
// use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewCaptureStream(8)
//	mic := &mock.Microphone{Stream: stream}
//	out := &mock.Output{}
//	spk := &mock.Speaker{Output: out}
//	stream.Push(audio.Frame{Samples: make([]float32, 4096), SampleRate: 16000, Channels: 1})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/callcoach/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone    = (*Microphone)(nil)
	_ audio.CaptureStream = (*CaptureStream)(nil)
	_ audio.Speaker       = (*Speaker)(nil)
	_ audio.Output        = (*Output)(nil)
	_ audio.Voice         = (*Voice)(nil)
)

// ─── CaptureStream ────────────────────────────────────────────────────────────

// CaptureStream is a mock [audio.CaptureStream] fed by [CaptureStream.Push].
type CaptureStream struct {
	mu     sync.Mutex
	frames chan audio.Frame
	closed bool

	// CloseError is returned by [CaptureStream.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewCaptureStream creates a stream whose frame channel has the given buffer.
func NewCaptureStream(buffer int) *CaptureStream {
	return &CaptureStream{frames: make(chan audio.Frame, buffer)}
}

// Frames implements [audio.CaptureStream].
func (s *CaptureStream) Frames() <-chan audio.Frame { return s.frames }

// Push delivers a frame as if the device had captured it. Returns false once
// the stream is closed. Blocks when the buffer is full.
func (s *CaptureStream) Push(f audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.frames <- f
	return true
}

// Close implements [audio.CaptureStream]. Closes the frame channel on the
// first call and returns CloseError.
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return s.CloseError
}

// Closed reports whether Close has been called.
func (s *CaptureStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Microphone.Open] invocation.
type OpenCall struct {
	Config audio.CaptureConfig
}

// Microphone is a mock [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// Stream is returned by Open. A fresh buffered stream is created when nil.
	Stream *CaptureStream

	// OpenError is returned by Open instead of a stream.
	OpenError error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(_ context.Context, cfg audio.CaptureConfig) (audio.CaptureStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls = append(m.OpenCalls, OpenCall{Config: cfg})
	if m.OpenError != nil {
		return nil, m.OpenError
	}
	if m.Stream == nil {
		m.Stream = NewCaptureStream(16)
	}
	return m.Stream, nil
}

// ─── Output ───────────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [Output.Play] invocation.
type PlayCall struct {
	Frame audio.Frame
	At    time.Duration
	Voice *Voice
}

// Output is a mock [audio.Output] with a manually driven clock.
type Output struct {
	mu     sync.Mutex
	now    time.Duration
	closed bool

	// PlayError is returned by Play.
	PlayError error

	// PlayCalls records all successful Play invocations.
	PlayCalls []PlayCall

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// SetNow moves the device clock.
func (o *Output) SetNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = d
}

// Now implements [audio.Output].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Play implements [audio.Output]. Records the call and returns a [Voice] the
// test can end with [Voice.End].
func (o *Output) Play(frame audio.Frame, at time.Duration) (audio.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.PlayError != nil {
		return nil, o.PlayError
	}
	v := NewVoice()
	o.PlayCalls = append(o.PlayCalls, PlayCall{Frame: frame, At: at, Voice: v})
	return v, nil
}

// Plays returns a copy of the recorded Play calls.
func (o *Output) Plays() []PlayCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]PlayCall, len(o.PlayCalls))
	copy(out, o.PlayCalls)
	return out
}

// Close implements [audio.Output].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	o.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// ─── Voice ────────────────────────────────────────────────────────────────────

// Voice is a mock [audio.Voice]. It ends when the test calls End or the
// consumer calls Stop.
type Voice struct {
	once    sync.Once
	done    chan struct{}
	mu      sync.Mutex
	stopped bool
}

// NewVoice returns a voice that has not ended.
func NewVoice() *Voice {
	return &Voice{done: make(chan struct{})}
}

// End simulates the voice reaching its last sample.
func (v *Voice) End() { v.once.Do(func() { close(v.done) }) }

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	v.stopped = true
	v.mu.Unlock()
	v.End()
}

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

// Done implements [audio.Voice].
func (v *Voice) Done() <-chan struct{} { return v.done }

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker is a mock [audio.Speaker].
type Speaker struct {
	mu sync.Mutex

	// Output is returned by Open. A fresh [Output] is created when nil.
	Output *Output

	// OpenError is returned by Open instead of an output.
	OpenError error

	// OpenRates records the sample rate of each Open invocation.
	OpenRates []int
}

// Open implements [audio.Speaker].
func (s *Speaker) Open(_ context.Context, sampleRate int) (audio.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenRates = append(s.OpenRates, sampleRate)
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	if s.Output == nil {
		s.Output = &Output{}
	}
	return s.Output, nil
}
