// Package audio defines the audio frame types, the PCM16 wire codec, and the
// device abstractions used to capture microphone input and play back
// assistant replies.
package audio

import (
	"context"
	"errors"
	"time"
)

const (
	// CaptureSampleRate is the rate microphone frames are captured and sent at.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of assistant audio returned by the live service.
	PlaybackSampleRate = 24000

	// DefaultFrameSize is the number of samples per captured frame.
	DefaultFrameSize = 4096
)

// ErrPermissionDenied is returned by [Microphone.Open] when the operating
// system refuses access to the capture device.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// Frame is a block of normalised floating-point samples in [-1, 1].
// Frames flowing out of a [CaptureStream] are mono at [CaptureSampleRate];
// frames handed to an [Output] are mono at the output's rate.
type Frame struct {
	// Samples holds the amplitudes, interleaved when Channels > 1.
	Samples []float32

	// SampleRate in Hz.
	SampleRate int

	// Channels is 1 for mono.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	perChannel := len(f.Samples) / f.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(f.SampleRate)
}

// SampleOffset returns the clock time at which sample n of a stream at rate
// begins, rounded up to the nanosecond so that [SampleIndex] maps it back to
// n exactly.
func SampleOffset(n int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	r := int64(rate)
	return time.Duration((n*int64(time.Second) + r - 1) / r)
}

// SampleIndex returns the sample of a stream at rate that plays at d, rounded
// to the nearest sample.
func SampleIndex(d time.Duration, rate int) int64 {
	if rate <= 0 {
		return 0
	}
	return (int64(d)*int64(rate) + int64(time.Second)/2) / int64(time.Second)
}

// EncodedChunk is the wire form of a [Frame]: base64 little-endian PCM16
// tagged with a MIME descriptor such as "audio/pcm;rate=16000".
type EncodedChunk struct {
	Data     string
	MIMEType string
}

// CaptureConfig describes how a microphone stream should be opened.
type CaptureConfig struct {
	// SampleRate of the delivered frames. Zero means [CaptureSampleRate].
	SampleRate int

	// FrameSize is the number of samples per delivered frame. Zero means
	// [DefaultFrameSize].
	FrameSize int

	// Device selects a capture device by name. Empty selects the default.
	Device string
}

// CaptureStream is an open microphone. Frames are delivered in capture order
// until Close is called, after which the channel is closed.
type CaptureStream interface {
	Frames() <-chan Frame

	// Close stops the capture device and releases it. Safe to call more
	// than once.
	Close() error
}

// Microphone acquires capture streams.
type Microphone interface {
	// Open requests access to the capture device. Returns an error wrapping
	// [ErrPermissionDenied] when access is refused.
	Open(ctx context.Context, cfg CaptureConfig) (CaptureStream, error)
}

// Voice is one scheduled playback source.
type Voice interface {
	// Stop silences the voice immediately. Safe to call after it ended.
	Stop()

	// Done is closed when the voice finished playing or was stopped.
	Done() <-chan struct{}
}

// Output is an open playback device with its own sample clock.
type Output interface {
	// Now returns the device clock: the amount of audio rendered so far.
	Now() time.Duration

	// Play schedules frame to start at the given device time. A start time
	// in the past begins immediately.
	Play(frame Frame, at time.Duration) (Voice, error)

	// Close stops the device. Safe to call more than once.
	Close() error
}

// Speaker opens playback devices.
type Speaker interface {
	Open(ctx context.Context, sampleRate int) (Output, error)
}
