// Package playback schedules assistant audio fragments back-to-back on an
// [audio.Output] so that consecutive fragments play without gaps, and
// silences everything at once when the assistant is interrupted.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/callcoach/pkg/audio"
)

// ErrClosed is returned by [Scheduler.Enqueue] after [Scheduler.Close].
var ErrClosed = errors.New("playback: scheduler closed")

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithSampleRate sets the rate incoming chunks are decoded at. Defaults to
// [audio.PlaybackSampleRate].
func WithSampleRate(rate int) Option {
	return func(s *Scheduler) {
		if rate > 0 {
			s.rate = rate
		}
	}
}

// Scheduler plays decoded fragments in arrival order. Each fragment starts at
// max(next, now) on the output clock and advances next by its length. The
// cursor counts samples so that back-to-back fragments neither overlap nor
// leave a gap.
//
// All exported methods are safe for concurrent use.
type Scheduler struct {
	out  audio.Output
	rate int

	mu     sync.Mutex
	next   int64 // samples
	seq    uint64
	voices map[uint64]audio.Voice
	closed bool
}

// New creates a Scheduler writing to out. The scheduler does not own out;
// closing the device is the caller's job.
func New(out audio.Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:    out,
		rate:   audio.PlaybackSampleRate,
		voices: make(map[uint64]audio.Voice),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue decodes chunk and schedules it right after the previously
// enqueued fragment, or immediately if the output has already passed that
// point. Returns the scheduled start time on the output clock.
func (s *Scheduler) Enqueue(chunk audio.EncodedChunk) (time.Duration, error) {
	frame, err := audio.Decode(chunk, s.rate, 1)
	if err != nil {
		return 0, fmt.Errorf("playback: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	start := max(s.next, audio.SampleIndex(s.out.Now(), s.rate))
	at := audio.SampleOffset(start, s.rate)
	v, err := s.out.Play(frame, at)
	if err != nil {
		return 0, fmt.Errorf("playback: play: %w", err)
	}
	s.next = start + int64(len(frame.Samples))

	s.seq++
	id := s.seq
	s.voices[id] = v
	go s.release(id, v)
	return at, nil
}

// release forgets a voice once it has finished on its own.
func (s *Scheduler) release(id uint64, v audio.Voice) {
	<-v.Done()
	s.mu.Lock()
	delete(s.voices, id)
	s.mu.Unlock()
}

// Interrupt stops every tracked fragment, forgets them, and resets the
// cursor so the next fragment starts at the output's current time. Returns
// the number of fragments that were stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	voices := s.voices
	s.voices = make(map[uint64]audio.Voice)
	s.next = 0
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	return len(voices)
}

// Pending returns the number of fragments scheduled or playing.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.voices)
}

// Close interrupts playback and rejects further fragments. Safe to call more
// than once.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Interrupt()
	return nil
}
