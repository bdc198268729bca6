// Package mock provides test doubles for the live package interfaces.
//
// Use Transport to verify Dial calls and hand out a scripted Conn. Use Conn
// to push service events with [Conn.Emit] and inspect the audio the bridge
// forwarded.
//
// Example:
//
//	conn := mock.NewConn(16)
//	tr := &mock.Transport{Conn: conn}
//	b := live.NewBridge(tr)
//	_ = b.Open(ctx, cfg, sink)
//	conn.Emit(live.Event{Kind: live.EventInputTranscript, Text: "bonjour"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callcoach/pkg/audio"
	"github.com/MrWong99/callcoach/pkg/provider/live"
)

// DialCall records a single invocation of Transport.Dial.
type DialCall struct {
	// Cfg is the Config passed to Dial.
	Cfg live.Config
}

// Transport is a mock implementation of live.Transport.
type Transport struct {
	mu sync.Mutex

	// Conn is returned by Dial. A fresh Conn is created when nil.
	Conn *Conn

	// DialErr, if non-nil, is returned as the error from Dial.
	DialErr error

	// Gate, if non-nil, holds Dial until it is closed or the dial context is
	// cancelled. A cancelled dial returns the context error unless
	// CompleteOnCancel is set, in which case it returns Conn anyway.
	Gate chan struct{}

	// CompleteOnCancel makes a gated dial succeed even if it was cancelled.
	CompleteOnCancel bool

	// DialCalls records every call to Dial in order.
	DialCalls []DialCall
}

// Dial records the call and returns Conn, DialErr.
func (t *Transport) Dial(ctx context.Context, cfg live.Config) (live.Conn, error) {
	t.mu.Lock()
	t.DialCalls = append(t.DialCalls, DialCall{Cfg: cfg})
	gate := t.Gate
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			if !t.CompleteOnCancel {
				return nil, ctx.Err()
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.DialErr != nil {
		return nil, t.DialErr
	}
	if t.Conn == nil {
		t.Conn = NewConn(16)
	}
	return t.Conn, nil
}

// Dials returns the number of Dial calls so far.
func (t *Transport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.DialCalls)
}

var _ live.Transport = (*Transport)(nil)

// Conn is a mock implementation of live.Conn.
type Conn struct {
	mu     sync.Mutex
	events chan live.Event
	closed bool

	// SendErr, if non-nil, is returned by every Send call.
	SendErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// Sent records every chunk passed to Send in order.
	Sent []audio.EncodedChunk

	// CallCountClose is the number of times Close was called.
	CallCountClose int
}

// NewConn returns a Conn whose event channel has the given buffer.
func NewConn(buffer int) *Conn {
	return &Conn{events: make(chan live.Event, buffer)}
}

// Send records the chunk and returns SendErr.
func (c *Conn) Send(_ context.Context, chunk audio.EncodedChunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.Sent = append(c.Sent, chunk)
	return nil
}

// Events returns the event channel.
func (c *Conn) Events() <-chan live.Event { return c.events }

// Emit delivers ev as if the service had sent it. Returns false once the
// connection is closed.
func (c *Conn) Emit(ev live.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events <- ev
	return true
}

// Close closes the event channel on the first call and returns CloseErr.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return c.CloseErr
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SentChunks returns a copy of the forwarded chunks.
func (c *Conn) SentChunks() []audio.EncodedChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.EncodedChunk, len(c.Sent))
	copy(out, c.Sent)
	return out
}

var _ live.Conn = (*Conn)(nil)
