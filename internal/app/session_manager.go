package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/callcoach/internal/session"
)

// ErrSessionActive is returned when a session is requested while one of the
// other mode is running.
var ErrSessionActive = errors.New("app: a session is already active")

// ErrNoSession is returned by [SessionManager.Snapshot] before any session
// was opened.
var ErrNoSession = errors.New("app: no session")

// SessionManager owns the session controllers of the application. It keeps
// one controller per mode, built on first use, and lets at most one of them
// run at a time, whether it is started through the manager or directly on
// the controller. All exported methods are safe for concurrent use.
type SessionManager struct {
	build func(session.Mode, ...session.Option) (*session.Controller, error)

	// starting is held from the exclusivity check until the admitted
	// controller has left the idle state.
	starting sync.Mutex

	mu      sync.Mutex
	ctrls   map[session.Mode]*session.Controller
	current *session.Controller
}

// NewSessionManager returns a SessionManager that creates controllers with
// build. build must pass the given options on to [session.New].
func NewSessionManager(build func(session.Mode, ...session.Option) (*session.Controller, error)) *SessionManager {
	return &SessionManager{
		build: build,
		ctrls: make(map[session.Mode]*session.Controller),
	}
}

// Controller returns the controller for mode, building it on first use. It
// fails with [ErrSessionActive] while a controller of another mode runs.
func (sm *SessionManager) Controller(mode session.Mode) (*session.Controller, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("app: unknown mode %q", mode)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := sm.busyLocked(mode); err != nil {
		return nil, err
	}
	c, ok := sm.ctrls[mode]
	if !ok {
		var err error
		c, err = sm.build(mode, session.WithStartGate(sm.admit))
		if err != nil {
			return nil, err
		}
		sm.ctrls[mode] = c
		slog.Debug("session controller created", "mode", mode)
	}
	sm.current = c
	return c, nil
}

// busyLocked reports ErrSessionActive when a controller of another mode is
// not idle.
func (sm *SessionManager) busyLocked(mode session.Mode) error {
	for m, c := range sm.ctrls {
		if m != mode && c.State() != session.StateIdle {
			return fmt.Errorf("%w (mode=%s)", ErrSessionActive, m)
		}
	}
	return nil
}

// admit is the start gate of every managed controller.
func (sm *SessionManager) admit(c *session.Controller) (func(), error) {
	sm.starting.Lock()
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if err := sm.busyLocked(c.Mode()); err != nil {
		sm.starting.Unlock()
		return nil, err
	}
	sm.current = c
	return sm.starting.Unlock, nil
}

// Start starts a session in mode.
func (sm *SessionManager) Start(ctx context.Context, mode session.Mode) (*session.Controller, error) {
	c, err := sm.Controller(mode)
	if err != nil {
		return nil, err
	}
	return c, c.Start(ctx)
}

// Stop stops every session that is not idle.
func (sm *SessionManager) Stop() {
	for _, c := range sm.all() {
		if c.State() != session.StateIdle {
			c.Stop()
		}
	}
}

func (sm *SessionManager) all() []*session.Controller {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ctrls := make([]*session.Controller, 0, len(sm.ctrls))
	for _, c := range sm.ctrls {
		ctrls = append(ctrls, c)
	}
	return ctrls
}

// Snapshot returns the state of the most recently used controller.
func (sm *SessionManager) Snapshot() (session.Snapshot, error) {
	sm.mu.Lock()
	c := sm.current
	sm.mu.Unlock()
	if c == nil {
		return session.Snapshot{}, ErrNoSession
	}
	return c.Snapshot(), nil
}

// Close stops every controller.
func (sm *SessionManager) Close() error {
	for _, c := range sm.all() {
		c.Stop()
	}
	return nil
}
