// Package device implements [audio.Microphone] and [audio.Speaker] on top of
// miniaudio through github.com/gen2brain/malgo.
//
// Capture delivers mono float frames at the requested rate; miniaudio does the
// format and rate conversion. Playback renders a [mixer.Timeline] from the
// device callback, so the timeline's sample clock is the device clock.
package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/callcoach/pkg/audio"
	"github.com/MrWong99/callcoach/pkg/audio/mixer"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone    = (*Context)(nil)
	_ audio.Speaker       = speaker{}
	_ audio.CaptureStream = (*captureStream)(nil)
	_ audio.Output        = (*output)(nil)
)

// frameBuffer is the capacity of the captured frame channel. At 16 kHz and
// 4096-sample frames this is roughly four seconds of audio.
const frameBuffer = 16

// Info describes an audio endpoint.
type Info struct {
	Name string
}

// Context owns the miniaudio context shared by all devices opened from it.
type Context struct {
	ctx *malgo.AllocatedContext

	mu     sync.Mutex
	closed bool
}

// NewContext initialises miniaudio with the platform's default backends.
func NewContext() (*Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("device: init context: %w", err)
	}
	return &Context{ctx: ctx}, nil
}

// Close releases the miniaudio context. Devices opened from it must be closed
// first. Safe to call more than once.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.ctx.Uninit(); err != nil {
		c.ctx.Free()
		return fmt.Errorf("device: uninit context: %w", err)
	}
	c.ctx.Free()
	return nil
}

// CaptureDevices lists the available microphones.
func (c *Context) CaptureDevices() ([]Info, error) {
	return c.list(malgo.Capture)
}

// PlaybackDevices lists the available speakers.
func (c *Context) PlaybackDevices() ([]Info, error) {
	return c.list(malgo.Playback)
}

func (c *Context) list(kind malgo.DeviceType) ([]Info, error) {
	devices, err := c.ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("device: enumerate: %w", err)
	}
	out := make([]Info, 0, len(devices))
	for _, d := range devices {
		out = append(out, Info{Name: d.Name()})
	}
	return out, nil
}

// lookup returns the id pointer of the named device, or nil for the default.
func (c *Context) lookup(kind malgo.DeviceType, name string) (*malgo.DeviceID, error) {
	if name == "" {
		return nil, nil
	}
	devices, err := c.ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("device: enumerate: %w", err)
	}
	for _, d := range devices {
		if d.Name() == name {
			id := d.ID
			return &id, nil
		}
	}
	return nil, fmt.Errorf("device: no device named %q", name)
}

// ── Capture ──────────────────────────────────────────────────────────────────

// Open implements [audio.Microphone].
func (c *Context) Open(_ context.Context, cfg audio.CaptureConfig) (audio.CaptureStream, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = audio.CaptureSampleRate
	}
	if cfg.FrameSize == 0 {
		cfg.FrameSize = audio.DefaultFrameSize
	}

	dc := malgo.DefaultDeviceConfig(malgo.Capture)
	dc.Capture.Format = malgo.FormatF32
	dc.Capture.Channels = 1
	dc.SampleRate = uint32(cfg.SampleRate)

	id, err := c.lookup(malgo.Capture, cfg.Device)
	if err != nil {
		return nil, err
	}
	if id != nil {
		dc.Capture.DeviceID = id.Pointer()
	}

	s := &captureStream{
		frames: make(chan audio.Frame, frameBuffer),
		size:   cfg.FrameSize,
		rate:   cfg.SampleRate,
		buf:    make([]float32, 0, cfg.FrameSize),
	}
	dev, err := malgo.InitDevice(c.ctx.Context, dc, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) { s.onData(in) },
	})
	if err != nil {
		return nil, classify(err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, classify(err)
	}
	s.dev = dev
	return s, nil
}

// classify maps backend access failures to [audio.ErrPermissionDenied].
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("device: %w: %v", audio.ErrPermissionDenied, err)
	}
	return fmt.Errorf("device: open capture: %w", err)
}

type captureStream struct {
	dev    *malgo.Device
	frames chan audio.Frame
	size   int
	rate   int

	mu      sync.Mutex
	buf     []float32
	emitted int64 // samples delivered so far
	closed  bool
	dropped int
}

// onData runs on the miniaudio thread. It slices the callback buffer into
// fixed-size frames and never blocks: a full channel drops the frame.
func (s *captureStream) onData(in []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for i := 0; i+4 <= len(in); i += 4 {
		s.buf = append(s.buf, math.Float32frombits(binary.LittleEndian.Uint32(in[i:])))
		if len(s.buf) < s.size {
			continue
		}
		f := audio.Frame{
			Samples:    s.buf,
			SampleRate: s.rate,
			Channels:   1,
			Timestamp:  time.Duration(s.emitted) * time.Second / time.Duration(s.rate),
		}
		s.emitted += int64(len(s.buf))
		s.buf = make([]float32, 0, s.size)
		select {
		case s.frames <- f:
		default:
			s.dropped++
			if s.dropped == 1 || s.dropped%100 == 0 {
				slog.Warn("device: capture consumer too slow, dropping frames", "dropped", s.dropped)
			}
		}
	}
}

func (s *captureStream) Frames() <-chan audio.Frame { return s.frames }

func (s *captureStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// Uninit waits for the callback to return, so the channel can be closed
	// safely afterwards.
	err := s.dev.Stop()
	s.dev.Uninit()
	close(s.frames)
	if err != nil {
		return fmt.Errorf("device: stop capture: %w", err)
	}
	return nil
}

// ── Playback ─────────────────────────────────────────────────────────────────

// Speaker returns an [audio.Speaker] bound to the named playback device.
// Empty selects the system default.
func (c *Context) Speaker(name string) audio.Speaker {
	return speaker{c: c, name: name}
}

type speaker struct {
	c    *Context
	name string
}

func (s speaker) Open(ctx context.Context, sampleRate int) (audio.Output, error) {
	return s.c.openOutput(ctx, sampleRate, s.name)
}

func (c *Context) openOutput(_ context.Context, sampleRate int, name string) (audio.Output, error) {
	if sampleRate == 0 {
		sampleRate = audio.PlaybackSampleRate
	}
	dc := malgo.DefaultDeviceConfig(malgo.Playback)
	dc.Playback.Format = malgo.FormatF32
	dc.Playback.Channels = 1
	dc.SampleRate = uint32(sampleRate)

	id, err := c.lookup(malgo.Playback, name)
	if err != nil {
		return nil, err
	}
	if id != nil {
		dc.Playback.DeviceID = id.Pointer()
	}

	o := &output{Timeline: mixer.New(sampleRate)}
	dev, err := malgo.InitDevice(c.ctx.Context, dc, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frames uint32) { o.render(out, frames) },
	})
	if err != nil {
		return nil, fmt.Errorf("device: open playback: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("device: start playback: %w", err)
	}
	o.dev = dev
	return o, nil
}

// output is a playback device driving a [mixer.Timeline].
type output struct {
	*mixer.Timeline
	dev *malgo.Device

	scratch []float32
	once    sync.Once
}

func (o *output) render(out []byte, frames uint32) {
	if cap(o.scratch) < int(frames) {
		o.scratch = make([]float32, frames)
	}
	buf := o.scratch[:frames]
	o.Timeline.Render(buf)
	for i, s := range buf {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
}

// Close stops the device and every scheduled voice.
func (o *output) Close() error {
	var err error
	o.once.Do(func() {
		stopErr := o.dev.Stop()
		o.dev.Uninit()
		err = errors.Join(stopErr, o.Timeline.Close())
	})
	return err
}
