// Package session implements the live session lifecycle: acquiring the
// microphone and speaker, opening the live bridge, forwarding captured audio,
// routing service events to the transcript and the playback scheduler, and
// tearing everything down again.
//
// A [Controller] owns at most one session at a time and moves through
// Idle → Starting → Active → Stopping → Idle. [Controller.Stop] is the only
// cancellation primitive; it is safe from any state and never fails.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/callcoach/internal/failure"
	"github.com/MrWong99/callcoach/internal/observe"
	"github.com/MrWong99/callcoach/internal/transcript"
	"github.com/MrWong99/callcoach/pkg/audio"
	"github.com/MrWong99/callcoach/pkg/audio/playback"
	"github.com/MrWong99/callcoach/pkg/provider/live"
)

// State is the lifecycle position of a [Controller].
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Mode selects what the remote model does with the user's speech.
type Mode string

const (
	// ModeTranscription only transcribes. Reply audio is discarded and no
	// speaker is opened.
	ModeTranscription Mode = "transcription"

	// ModeRoleplay has the model answer aloud as a sales prospect.
	ModeRoleplay Mode = "roleplay"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModeTranscription || m == ModeRoleplay }

// Config is the per-controller session setup.
type Config struct {
	// Mode decides whether reply audio is played.
	Mode Mode

	// Live is the setup sent to the service when a session opens.
	Live live.Config

	// Capture configures the microphone.
	Capture audio.CaptureConfig

	// PlaybackRate is the sample rate of reply audio. Default 24 kHz.
	PlaybackRate int

	// PendingBudget bounds the frames queued while the connection is being
	// established. Negative keeps the bridge default.
	PendingBudget int

	// SendTimeout bounds each frame write. Zero keeps the bridge default.
	SendTimeout time.Duration
}

// Deps are the collaborators injected into a [Controller].
type Deps struct {
	Microphone audio.Microphone

	// Speaker is required in [ModeRoleplay] and unused otherwise.
	Speaker audio.Speaker

	Transport  live.Transport
	Transcript *transcript.Aggregator

	// Metrics is optional.
	Metrics *observe.Metrics
}

// Option configures a [Controller].
type Option func(*Controller)

// WithStateObserver registers a callback invoked after every state change.
// It runs synchronously and must not call back into the controller.
func WithStateObserver(fn func(State)) Option {
	return func(c *Controller) { c.onState = fn }
}

// WithErrorObserver registers a callback receiving the user-facing message
// of every session failure.
func WithErrorObserver(fn func(msg string)) Option {
	return func(c *Controller) { c.onError = fn }
}

// WithConnectedObserver registers a callback invoked when the service
// acknowledges the session.
func WithConnectedObserver(fn func()) Option {
	return func(c *Controller) { c.onConnected = fn }
}

// WithStartGate registers a function consulted before every start. A non-nil
// error rejects the start and is returned by [Controller.Start] unchanged.
// Otherwise done is called once the controller has left the idle state, so a
// gate can keep other controllers from starting in between.
func WithStartGate(gate func(*Controller) (done func(), err error)) Option {
	return func(c *Controller) { c.gate = gate }
}

// Controller runs live sessions one at a time. All methods are safe for
// concurrent use.
type Controller struct {
	cfg  Config
	deps Deps

	onState     func(State)
	onError     func(string)
	onConnected func()
	gate        func(*Controller) (func(), error)

	mu        sync.Mutex
	state     State
	sess      *resources
	lastErr   error
	connected bool
}

// resources is everything a running session owns. Fields are filled in as
// they are acquired and released in a fixed order by [Controller.Stop].
type resources struct {
	id        string
	startedAt time.Time
	log       *slog.Logger

	bridge  *live.Bridge
	cancel  context.CancelFunc // stops the capture pump
	pump    chan struct{}      // closed when the pump exits
	stream  audio.CaptureStream
	output  audio.Output
	sched   *playback.Scheduler
	counted bool // ActiveSessions was incremented
}

// New creates an idle Controller.
func New(cfg Config, deps Deps, opts ...Option) (*Controller, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeTranscription
	}
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("session: unknown mode %q", cfg.Mode)
	}
	if deps.Microphone == nil || deps.Transport == nil || deps.Transcript == nil {
		return nil, errors.New("session: microphone, transport and transcript are required")
	}
	if cfg.Mode == ModeRoleplay && deps.Speaker == nil {
		return nil, errors.New("session: roleplay mode needs a speaker")
	}
	if cfg.PlaybackRate <= 0 {
		cfg.PlaybackRate = audio.PlaybackSampleRate
	}
	if cfg.Capture.SampleRate <= 0 {
		cfg.Capture.SampleRate = audio.CaptureSampleRate
	}
	if cfg.Capture.FrameSize <= 0 {
		cfg.Capture.FrameSize = audio.DefaultFrameSize
	}

	c := &Controller{cfg: cfg, deps: deps}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Mode returns the configured mode.
func (c *Controller) Mode() Mode { return c.cfg.Mode }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error that ended or prevented the most recent
// session, or nil.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Start acquires the devices, opens the bridge and begins forwarding audio.
// It is a no-op unless the controller is idle. A failure releases whatever
// was acquired, returns the controller to idle, and is returned as a
// classified [failure.Error].
//
// Start returns once the session is active; the connection handshake
// completes in the background while early audio is queued.
//
// A new session never continues a turn left open by the previous one. In
// [ModeRoleplay] the transcript starts empty.
func (c *Controller) Start(ctx context.Context) error {
	done := func() {}
	if c.gate != nil {
		d, err := c.gate(c)
		if err != nil {
			return err
		}
		done = d
	}

	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		done()
		slog.Debug("session: start ignored", "state", state)
		return nil
	}
	r := &resources{id: uuid.NewString(), startedAt: time.Now()}
	r.log = observe.Logger(ctx).With("session_id", r.id, "mode", string(c.cfg.Mode))
	c.sess = r
	c.lastErr = nil
	c.connected = false
	c.setStateLocked(StateStarting)
	c.mu.Unlock()
	done()

	if c.cfg.Mode == ModeRoleplay {
		c.deps.Transcript.Reset()
	} else {
		c.deps.Transcript.TurnComplete()
	}

	if err := c.acquire(ctx, r); err != nil {
		if errors.Is(err, errSuperseded) {
			return nil
		}
		err = failure.Within(failure.OpRecord, err)
		c.record(ctx, "error")
		r.log.Warn("session: start failed", "err", err)
		c.fail(r, err)
		return err
	}

	c.mu.Lock()
	if c.sess != r {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateActive)
	if c.deps.Metrics != nil {
		c.deps.Metrics.ActiveSessions.Add(ctx, 1)
		r.counted = true
	}
	c.mu.Unlock()

	c.record(ctx, "ok")
	r.log.Info("session started")
	return nil
}

// errSuperseded means Stop ran while Start was still acquiring resources.
var errSuperseded = errors.New("session: stopped during start")

// attach stores a freshly acquired resource unless the session was stopped
// meanwhile, in which case release is called and errSuperseded returned.
func (c *Controller) attach(r *resources, set func(), release func()) error {
	c.mu.Lock()
	if c.sess != r {
		c.mu.Unlock()
		release()
		return errSuperseded
	}
	set()
	c.mu.Unlock()
	return nil
}

func (c *Controller) acquire(ctx context.Context, r *resources) error {
	stream, err := c.deps.Microphone.Open(ctx, c.cfg.Capture)
	if err != nil {
		if errors.Is(err, audio.ErrPermissionDenied) {
			return failure.Wrap(failure.KindPermission, failure.OpRecord, err)
		}
		return fmt.Errorf("open microphone: %w", err)
	}
	if err := c.attach(r, func() { r.stream = stream }, func() { closeQuietly(r.log, "microphone", stream.Close) }); err != nil {
		return err
	}

	if c.cfg.Mode == ModeRoleplay {
		out, err := c.deps.Speaker.Open(ctx, c.cfg.PlaybackRate)
		if err != nil {
			return fmt.Errorf("open speaker: %w", err)
		}
		sched := playback.New(out, playback.WithSampleRate(c.cfg.PlaybackRate))
		if err := c.attach(r,
			func() { r.output, r.sched = out, sched },
			func() {
				closeQuietly(r.log, "playback", sched.Close)
				closeQuietly(r.log, "speaker", out.Close)
			},
		); err != nil {
			return err
		}
	}

	var opts []live.BridgeOption
	if c.cfg.PendingBudget >= 0 {
		opts = append(opts, live.WithPendingBudget(c.cfg.PendingBudget))
	}
	if c.cfg.SendTimeout > 0 {
		opts = append(opts, live.WithSendTimeout(c.cfg.SendTimeout))
	}
	if m := c.deps.Metrics; m != nil {
		opts = append(opts, live.WithFrameObserver(func(o live.FrameOutcome) {
			m.RecordAudioFrame(context.Background(), string(o))
		}))
	}
	bridge := live.NewBridge(c.deps.Transport, opts...)
	if err := c.attach(r, func() { r.bridge = bridge }, func() {}); err != nil {
		return err
	}
	// The dial outlives Start's ctx; Stop cancels it through bridge.Close.
	if err := bridge.Open(context.WithoutCancel(ctx), c.cfg.Live, func(ev live.Event) { c.dispatch(r, ev) }); err != nil {
		return fmt.Errorf("open bridge: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	pump := make(chan struct{})
	if err := c.attach(r, func() { r.cancel, r.pump = cancel, pump }, cancel); err != nil {
		return err
	}
	go c.forward(pumpCtx, r, stream, bridge, pump)
	return nil
}

// forward is the capture pump: it normalises each captured frame and hands
// it to the bridge in capture order.
func (c *Controller) forward(ctx context.Context, r *resources, stream audio.CaptureStream, bridge *live.Bridge, done chan struct{}) {
	defer close(done)
	frames := stream.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			err := bridge.SendAudio(audio.Normalize(f, audio.CaptureSampleRate))
			switch {
			case err == nil:
			case errors.Is(err, live.ErrClosed):
				return
			default:
				r.log.Warn("session: forwarding audio failed", "err", err)
			}
		}
	}
}

// Dispatch routes one service event to the current session. Events arriving
// while no session is active are dropped.
func (c *Controller) Dispatch(ev live.Event) {
	c.mu.Lock()
	r := c.sess
	c.mu.Unlock()
	if r != nil {
		c.dispatch(r, ev)
	}
}

func (c *Controller) dispatch(r *resources, ev live.Event) {
	c.mu.Lock()
	current := c.sess == r
	c.mu.Unlock()
	if !current {
		return
	}

	ctx := context.Background()
	switch ev.Kind {
	case live.EventOpen:
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		r.log.Info("session connected")
		if c.onConnected != nil {
			c.onConnected()
		}

	case live.EventInputTranscript:
		c.deps.Transcript.Partial(transcript.User, ev.Text)

	case live.EventOutputTranscript:
		c.deps.Transcript.Partial(transcript.Assistant, ev.Text)

	case live.EventTurnComplete:
		finalized := c.deps.Transcript.TurnComplete()
		if m := c.deps.Metrics; m != nil {
			for _, e := range finalized {
				m.RecordTurn(ctx, string(e.Speaker))
			}
		}

	case live.EventAudio:
		if r.sched == nil {
			return
		}
		if _, err := r.sched.Enqueue(ev.Audio); err != nil {
			r.log.Warn("session: dropping reply audio", "err", err)
			return
		}
		if m := c.deps.Metrics; m != nil {
			m.RecordPlayback(ctx, "scheduled", 1)
		}

	case live.EventInterrupted:
		if r.sched == nil {
			return
		}
		n := r.sched.Interrupt()
		if m := c.deps.Metrics; m != nil && n > 0 {
			m.RecordPlayback(ctx, "interrupted", n)
		}

	case live.EventError:
		err := failure.Wrap(failure.KindConnection, failure.OpRecord, ev.Err)
		r.log.Error("session: service error", "err", ev.Err)
		c.fail(r, err)

	case live.EventClose:
		r.log.Info("session closed by service")
		c.stop(r)
	}
}

// fail records err, reports it, and tears r down.
func (c *Controller) fail(r *resources, err error) {
	c.mu.Lock()
	if c.sess == r || c.sess == nil {
		c.lastErr = err
	}
	c.mu.Unlock()
	if c.onError != nil {
		c.onError(failure.Message(err))
	}
	c.stop(r)
}

// Stop ends the current session, if any. Safe to call from any state, more
// than once, and concurrently.
func (c *Controller) Stop() {
	c.mu.Lock()
	r := c.sess
	c.mu.Unlock()
	if r != nil {
		c.stop(r)
	}
}

func (c *Controller) stop(r *resources) {
	c.mu.Lock()
	if c.sess != r {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.setStateLocked(StateStopping)
	c.mu.Unlock()

	c.release(r)

	c.mu.Lock()
	c.connected = false
	c.setStateLocked(StateIdle)
	c.mu.Unlock()
	r.log.Info("session stopped", "duration", time.Since(r.startedAt).Round(time.Millisecond))
}

// release frees r in order: bridge, capture pump, microphone, speaker,
// playback. Every step tolerates a resource that was never acquired.
func (c *Controller) release(r *resources) {
	if r.bridge != nil {
		closeQuietly(r.log, "bridge", r.bridge.Close)
	}
	if r.cancel != nil {
		r.cancel()
		<-r.pump
	}
	if r.stream != nil {
		closeQuietly(r.log, "microphone", r.stream.Close)
		go audio.Drain(r.stream.Frames())
	}
	if r.sched != nil {
		r.sched.Interrupt()
	}
	if r.output != nil {
		closeQuietly(r.log, "speaker", r.output.Close)
	}
	if r.sched != nil {
		closeQuietly(r.log, "playback", r.sched.Close)
	}
	if r.counted {
		c.deps.Metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

func closeQuietly(log *slog.Logger, what string, fn func() error) {
	if err := fn(); err != nil {
		log.Warn("session: release failed", "resource", what, "err", err)
	}
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *Controller) record(ctx context.Context, status string) {
	if m := c.deps.Metrics; m != nil {
		m.RecordSessionStart(ctx, string(c.cfg.Mode), status)
	}
}

// Snapshot is a point-in-time view of the controller for status surfaces.
type Snapshot struct {
	State     string             `json:"state"`
	Mode      Mode               `json:"mode"`
	SessionID string             `json:"session_id,omitempty"`
	StartedAt *time.Time         `json:"started_at,omitempty"`
	Connected bool               `json:"connected"`
	LastError string             `json:"last_error,omitempty"`
	Pending   int                `json:"pending_frames"`
	Entries   []transcript.Entry `json:"entries"`
}

// Snapshot returns the current status and transcript.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		State:     c.state.String(),
		Mode:      c.cfg.Mode,
		Connected: c.connected,
	}
	if c.lastErr != nil {
		s.LastError = failure.Message(c.lastErr)
	}
	var bridge *live.Bridge
	if r := c.sess; r != nil {
		s.SessionID = r.id
		started := r.startedAt
		s.StartedAt = &started
		bridge = r.bridge
	}
	c.mu.Unlock()

	if bridge != nil {
		s.Pending = bridge.Pending()
	}
	s.Entries = c.deps.Transcript.Entries()
	return s
}
