package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/callcoach/internal/app"
	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/internal/transcript"
	audiomock "github.com/MrWong99/callcoach/pkg/audio/mock"
	livemock "github.com/MrWong99/callcoach/pkg/provider/live/mock"
)

type builder struct {
	mu     sync.Mutex
	builds map[session.Mode]int
	err    error
}

func (b *builder) build(mode session.Mode, opts ...session.Option) (*session.Controller, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	if b.builds == nil {
		b.builds = make(map[session.Mode]int)
	}
	b.builds[mode]++
	return session.New(session.Config{Mode: mode, PendingBudget: -1}, session.Deps{
		Microphone: &audiomock.Microphone{},
		Speaker:    &audiomock.Speaker{},
		Transport:  &livemock.Transport{},
		Transcript: transcript.New(),
	}, opts...)
}

func TestSessionManager_StartStop(t *testing.T) {
	t.Parallel()

	b := &builder{}
	sm := app.NewSessionManager(b.build)
	t.Cleanup(func() { _ = sm.Close() })

	if _, err := sm.Snapshot(); !errors.Is(err, app.ErrNoSession) {
		t.Fatalf("Snapshot before start: err = %v, want ErrNoSession", err)
	}

	ctrl, err := sm.Start(context.Background(), session.ModeTranscription)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ctrl.State() != session.StateActive {
		t.Errorf("state = %v, want active", ctrl.State())
	}
	snap, err := sm.Snapshot()
	if err != nil || snap.Mode != session.ModeTranscription || snap.SessionID == "" {
		t.Errorf("Snapshot = %+v, %v", snap, err)
	}

	sm.Stop()
	if ctrl.State() != session.StateIdle {
		t.Errorf("state after Stop = %v, want idle", ctrl.State())
	}
}

func TestSessionManager_ReusesControllerPerMode(t *testing.T) {
	t.Parallel()

	b := &builder{}
	sm := app.NewSessionManager(b.build)

	first, err := sm.Controller(session.ModeRoleplay)
	if err != nil {
		t.Fatal(err)
	}
	again, err := sm.Controller(session.ModeRoleplay)
	if err != nil {
		t.Fatal(err)
	}
	if first != again {
		t.Error("controller rebuilt for the same mode")
	}
	if _, err := sm.Controller(session.ModeTranscription); err != nil {
		t.Fatal(err)
	}
	if b.builds[session.ModeRoleplay] != 1 || b.builds[session.ModeTranscription] != 1 {
		t.Errorf("builds = %v", b.builds)
	}
}

func TestSessionManager_OneActiveMode(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager((&builder{}).build)
	t.Cleanup(func() { _ = sm.Close() })

	if _, err := sm.Start(context.Background(), session.ModeTranscription); err != nil {
		t.Fatal(err)
	}
	if _, err := sm.Start(context.Background(), session.ModeRoleplay); !errors.Is(err, app.ErrSessionActive) {
		t.Fatalf("second mode: err = %v, want ErrSessionActive", err)
	}

	sm.Stop()
	if _, err := sm.Start(context.Background(), session.ModeRoleplay); err != nil {
		t.Fatalf("after stop: %v", err)
	}
	snap, _ := sm.Snapshot()
	if snap.Mode != session.ModeRoleplay {
		t.Errorf("mode = %q, want roleplay", snap.Mode)
	}
}

func TestSessionManager_DirectStartHonoursExclusivity(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager((&builder{}).build)
	t.Cleanup(func() { _ = sm.Close() })

	tc, err := sm.Controller(session.ModeTranscription)
	if err != nil {
		t.Fatal(err)
	}
	rc, err := sm.Start(context.Background(), session.ModeRoleplay)
	if err != nil {
		t.Fatal(err)
	}
	if err := tc.Start(context.Background()); !errors.Is(err, app.ErrSessionActive) {
		t.Fatalf("direct start: err = %v, want ErrSessionActive", err)
	}
	if tc.State() != session.StateIdle || rc.State() != session.StateActive {
		t.Fatalf("transcription=%v roleplay=%v", tc.State(), rc.State())
	}

	sm.Stop()
	if err := tc.Start(context.Background()); err != nil {
		t.Fatalf("start after stop: %v", err)
	}
	sm.Stop()
	if tc.State() != session.StateIdle || rc.State() != session.StateIdle {
		t.Errorf("after Stop: transcription=%v roleplay=%v", tc.State(), rc.State())
	}
}

func TestSessionManager_ConcurrentStartsAdmitOne(t *testing.T) {
	t.Parallel()

	for range 50 {
		sm := app.NewSessionManager((&builder{}).build)
		tc, _ := sm.Controller(session.ModeTranscription)
		rc, _ := sm.Controller(session.ModeRoleplay)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, c := range []*session.Controller{tc, rc} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = c.Start(context.Background())
			}()
		}
		wg.Wait()

		rejected := 0
		for _, err := range errs {
			if errors.Is(err, app.ErrSessionActive) {
				rejected++
			} else if err != nil {
				t.Fatalf("Start: %v", err)
			}
		}
		running := 0
		for _, c := range []*session.Controller{tc, rc} {
			if c.State() != session.StateIdle {
				running++
			}
		}
		if rejected != 1 || running != 1 {
			t.Fatalf("rejected=%d running=%d, want exactly one of each", rejected, running)
		}
		_ = sm.Close()
	}
}

func TestSessionManager_Errors(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager((&builder{}).build)
	if _, err := sm.Controller("karaoke"); err == nil {
		t.Error("unknown mode accepted")
	}

	boom := errors.New("no transport")
	sm = app.NewSessionManager((&builder{err: boom}).build)
	if _, err := sm.Start(context.Background(), session.ModeTranscription); !errors.Is(err, boom) {
		t.Errorf("err = %v, want build error", err)
	}
	if _, err := sm.Snapshot(); !errors.Is(err, app.ErrNoSession) {
		t.Errorf("failed build left a current session: %v", err)
	}
}

func TestSessionManager_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager((&builder{}).build)
	t.Cleanup(func() { _ = sm.Close() })

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = sm.Controller(session.ModeTranscription)
			_, _ = sm.Snapshot()
		}()
	}
	wg.Wait()
}
