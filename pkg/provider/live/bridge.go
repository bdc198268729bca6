package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/callcoach/pkg/audio"
)

// ErrClosed is returned by [Bridge.SendAudio] once the bridge is closed.
var ErrClosed = errors.New("live: bridge closed")

// ErrAlreadyOpened is returned by a second call to [Bridge.Open].
var ErrAlreadyOpened = errors.New("live: bridge already opened")

const (
	// DefaultPendingBudget is the number of frames held while connecting.
	// At 4096 samples per 16 kHz frame this is about eight seconds of speech.
	DefaultPendingBudget = 32

	defaultSendTimeout = 5 * time.Second
)

// State is the lifecycle position of a [Bridge].
type State int

const (
	StateIdle State = iota
	StatePending
	StateOpen
	StateClosed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FrameOutcome is what happened to a frame handed to [Bridge.SendAudio].
type FrameOutcome string

const (
	FrameSent    FrameOutcome = "sent"
	FrameQueued  FrameOutcome = "queued"
	FrameDropped FrameOutcome = "dropped"
)

// BridgeOption configures a [Bridge].
type BridgeOption func(*Bridge)

// WithPendingBudget bounds the frames held while the connection is being
// established. When full, the oldest queued frame is dropped. Zero drops every
// frame sent before the connection opens.
func WithPendingBudget(n int) BridgeOption {
	return func(b *Bridge) {
		if n >= 0 {
			b.budget = n
		}
	}
}

// WithSendTimeout bounds a single audio write.
func WithSendTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.sendTimeout = d
		}
	}
}

// WithFrameObserver registers a callback told the outcome of every frame.
func WithFrameObserver(fn func(FrameOutcome)) BridgeOption {
	return func(b *Bridge) { b.observe = fn }
}

// Bridge owns at most one connection for the lifetime of a session. It is
// single-use: after Close, create a new Bridge.
//
// Events reach the sink from a single goroutine in transport order. Every
// opened bridge delivers exactly one [EventClose], always last. The bridge
// never reconnects.
type Bridge struct {
	transport   Transport
	budget      int
	sendTimeout time.Duration
	observe     func(FrameOutcome)

	sendMu sync.Mutex // serialises SendAudio with the pending flush

	mu      sync.Mutex
	state   State
	conn    Conn
	pending []audio.EncodedChunk
	dropped int
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBridge creates an idle Bridge dialling through t.
func NewBridge(t Transport, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		transport:   t,
		budget:      DefaultPendingBudget,
		sendTimeout: defaultSendTimeout,
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Open starts connecting in the background and returns at once. The bridge
// is pending until the handshake completes; audio sent meanwhile is queued.
// ctx bounds the dial only. sink receives every event of the session.
func (b *Bridge) Open(ctx context.Context, cfg Config, sink func(Event)) error {
	if sink == nil {
		sink = func(Event) {}
	}
	b.mu.Lock()
	if b.state != StateIdle {
		b.mu.Unlock()
		return ErrAlreadyOpened
	}
	b.state = StatePending
	dialCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.mu.Unlock()

	go b.run(dialCtx, cfg, sink)
	return nil
}

func (b *Bridge) run(ctx context.Context, cfg Config, sink func(Event)) {
	defer close(b.done)
	defer sink(Event{Kind: EventClose})

	conn, err := b.transport.Dial(ctx, cfg)

	b.sendMu.Lock()
	b.mu.Lock()
	closedEarly := b.state == StateClosed
	switch {
	case err != nil:
		b.state = StateClosed
		b.pending = nil
		b.mu.Unlock()
		b.sendMu.Unlock()
		b.cancel()
		if !closedEarly {
			sink(Event{Kind: EventError, Err: fmt.Errorf("live: dial: %w", err)})
		}
		return
	case closedEarly:
		b.mu.Unlock()
		b.sendMu.Unlock()
		b.cancel()
		if cerr := conn.Close(); cerr != nil {
			slog.Debug("live: close after early cancel", "err", cerr)
		}
		return
	}
	b.state = StateOpen
	b.conn = conn
	queued := b.pending
	b.pending = nil
	b.mu.Unlock()

	var flushErr error
	for _, c := range queued {
		if flushErr = b.send(conn, c); flushErr != nil {
			break
		}
	}
	b.sendMu.Unlock()
	b.cancel()

	if flushErr != nil {
		slog.Warn("live: flushing queued audio failed", "err", flushErr, "queued", len(queued))
	}
	sink(Event{Kind: EventOpen})

	for ev := range conn.Events() {
		if ev.Kind == EventError {
			b.markClosed()
			if cerr := conn.Close(); cerr != nil {
				slog.Debug("live: close after error", "err", cerr)
			}
		}
		sink(ev)
	}
	b.markClosed()
}

func (b *Bridge) markClosed() {
	b.mu.Lock()
	b.state = StateClosed
	b.mu.Unlock()
}

func (b *Bridge) send(conn Conn, chunk audio.EncodedChunk) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.sendTimeout)
	defer cancel()
	err := conn.Send(ctx, chunk)
	if err == nil {
		b.report(FrameSent)
	}
	return err
}

func (b *Bridge) report(o FrameOutcome) {
	if b.observe != nil {
		b.observe(o)
	}
}

// SendAudio encodes frame and forwards it. While pending, the chunk is queued
// behind earlier frames; frames are never reordered. Returns [ErrClosed] after
// the bridge closed.
func (b *Bridge) SendAudio(frame audio.Frame) error {
	chunk := audio.Encode(frame)

	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	b.mu.Lock()
	switch b.state {
	case StatePending:
		if b.budget == 0 {
			b.dropped++
			b.mu.Unlock()
			b.report(FrameDropped)
			return nil
		}
		dropped := false
		if len(b.pending) >= b.budget {
			b.pending = b.pending[1:]
			b.dropped++
			dropped = true
		}
		b.pending = append(b.pending, chunk)
		b.mu.Unlock()
		if dropped {
			b.report(FrameDropped)
		}
		b.report(FrameQueued)
		return nil
	case StateOpen:
		conn := b.conn
		b.mu.Unlock()
		if err := b.send(conn, chunk); err != nil {
			return fmt.Errorf("live: send audio: %w", err)
		}
		return nil
	default:
		b.mu.Unlock()
		return ErrClosed
	}
}

// Close ends the session. While pending, the connection is abandoned and
// closed as soon as the dial returns. Safe to call from any state and more
// than once.
func (b *Bridge) Close() error {
	b.mu.Lock()
	prev := b.state
	b.state = StateClosed
	conn := b.conn
	cancel := b.cancel
	b.pending = nil
	b.mu.Unlock()

	switch prev {
	case StatePending:
		cancel()
	case StateOpen:
		if err := conn.Close(); err != nil {
			return fmt.Errorf("live: close: %w", err)
		}
	case StateIdle:
		close(b.done)
	}
	return nil
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Pending returns the number of queued frames.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Dropped returns the number of frames discarded while pending.
func (b *Bridge) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Done is closed once the last event has been delivered, or immediately
// when a never-opened bridge is closed.
func (b *Bridge) Done() <-chan struct{} { return b.done }
