package mixer

import (
	"container/heap"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/callcoach/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Output = (*Timeline)(nil)
	_ audio.Voice  = (*voice)(nil)
)

// ErrClosed is returned by [Timeline.Play] after [Timeline.Close].
var ErrClosed = errors.New("mixer: timeline closed")

// Timeline is an [audio.Output] driven by an external sample clock. Every
// call to [Timeline.Render] fills a buffer with the sum of the voices that
// overlap it and advances the clock by the buffer length.
//
// All exported methods are safe for concurrent use.
type Timeline struct {
	rate int

	mu      sync.Mutex
	pos     int64 // samples rendered so far
	seq     uint64
	pending voiceHeap // not yet started, ordered by start
	active  []*voice
	closed  bool
}

// New creates a Timeline rendering mono audio at sampleRate.
func New(sampleRate int) *Timeline {
	if sampleRate <= 0 {
		sampleRate = audio.PlaybackSampleRate
	}
	return &Timeline{rate: sampleRate}
}

// SampleRate returns the rate the timeline renders at.
func (t *Timeline) SampleRate() int { return t.rate }

// Now returns the amount of audio rendered so far.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return audio.SampleOffset(t.pos, t.rate)
}

// Play schedules frame to start at the given clock time. Frames at a
// different rate or channel count are converted first. A start time that has
// already been rendered is moved to the current clock.
func (t *Timeline) Play(frame audio.Frame, at time.Duration) (audio.Voice, error) {
	samples := audio.Normalize(frame, t.rate).Samples

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	start := audio.SampleIndex(at, t.rate)
	if start < t.pos {
		start = t.pos
	}
	t.seq++
	v := &voice{
		samples: samples,
		start:   start,
		seq:     t.seq,
		done:    make(chan struct{}),
	}
	if len(samples) == 0 {
		v.finish()
		return v, nil
	}
	heap.Push(&t.pending, v)
	return v, nil
}

// Render mixes every voice overlapping the next len(out) samples into out,
// clipping the sum to [-1, 1], and advances the clock. Voices that reach
// their last sample are finished and forgotten.
func (t *Timeline) Render(out []float32) {
	clear(out)

	t.mu.Lock()
	defer t.mu.Unlock()

	end := t.pos + int64(len(out))
	for t.pending.Len() > 0 && t.pending[0].start < end {
		v := heap.Pop(&t.pending).(*voice)
		if !v.stopped.Load() {
			t.active = append(t.active, v)
		}
	}

	kept := t.active[:0]
	for _, v := range t.active {
		if v.stopped.Load() {
			continue
		}
		from := max(v.start-t.pos, 0)
		for i := from; i < int64(len(out)); i++ {
			k := t.pos + i - v.start
			if k >= int64(len(v.samples)) {
				break
			}
			out[i] += v.samples[k]
		}
		if end-v.start >= int64(len(v.samples)) {
			v.finish()
			continue
		}
		kept = append(kept, v)
	}
	clear(t.active[len(kept):])
	t.active = kept
	t.pos = end

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}
}

// Voices returns the number of scheduled or playing voices.
func (t *Timeline) Voices() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, v := range t.pending {
		if !v.stopped.Load() {
			n++
		}
	}
	for _, v := range t.active {
		if !v.stopped.Load() {
			n++
		}
	}
	return n
}

// Close stops every voice and rejects further scheduling. Safe to call more
// than once.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, v := range t.pending {
		v.Stop()
	}
	for _, v := range t.active {
		v.Stop()
	}
	t.pending = nil
	t.active = nil
	return nil
}

// voice is one scheduled buffer on a [Timeline].
type voice struct {
	samples []float32
	start   int64
	seq     uint64

	stopped atomic.Bool
	once    sync.Once
	done    chan struct{}
}

func (v *voice) finish() {
	v.once.Do(func() { close(v.done) })
}

// Stop silences the voice. The timeline drops it on the next render.
func (v *voice) Stop() {
	v.stopped.Store(true)
	v.finish()
}

// Done is closed when the voice finished or was stopped.
func (v *voice) Done() <-chan struct{} { return v.done }
