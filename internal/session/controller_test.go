package session_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/callcoach/internal/failure"
	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/internal/transcript"
	"github.com/MrWong99/callcoach/pkg/audio"
	audiomock "github.com/MrWong99/callcoach/pkg/audio/mock"
	"github.com/MrWong99/callcoach/pkg/provider/live"
	livemock "github.com/MrWong99/callcoach/pkg/provider/live/mock"
)

type fixture struct {
	ctrl      *session.Controller
	mic       *audiomock.Microphone
	stream    *audiomock.CaptureStream
	speaker   *audiomock.Speaker
	output    *audiomock.Output
	transport *livemock.Transport
	conn      *livemock.Conn
	agg       *transcript.Aggregator

	mu     sync.Mutex
	states []session.State
	errs   []string
}

func newFixture(t *testing.T, mode session.Mode) *fixture {
	t.Helper()
	f := &fixture{
		stream: audiomock.NewCaptureStream(16),
		output: &audiomock.Output{},
		conn:   livemock.NewConn(16),
		agg:    transcript.New(),
	}
	f.mic = &audiomock.Microphone{Stream: f.stream}
	f.speaker = &audiomock.Speaker{Output: f.output}
	f.transport = &livemock.Transport{Conn: f.conn}

	deps := session.Deps{
		Microphone: f.mic,
		Transport:  f.transport,
		Transcript: f.agg,
	}
	if mode == session.ModeRoleplay {
		deps.Speaker = f.speaker
	}
	ctrl, err := session.New(session.Config{Mode: mode, PendingBudget: -1}, deps,
		session.WithStateObserver(func(s session.State) {
			f.mu.Lock()
			f.states = append(f.states, s)
			f.mu.Unlock()
		}),
		session.WithErrorObserver(func(msg string) {
			f.mu.Lock()
			f.errs = append(f.errs, msg)
			f.mu.Unlock()
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.ctrl = ctrl
	t.Cleanup(ctrl.Stop)
	return f
}

func (f *fixture) errors() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.errs...)
}

func (f *fixture) stateLog() []session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.State(nil), f.states...)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func pcmFrame(rate int, v float32) audio.Frame {
	samples := make([]float32, 160)
	for i := range samples {
		samples[i] = v
	}
	return audio.Frame{Samples: samples, SampleRate: rate, Channels: 1}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	deps := session.Deps{
		Microphone: &audiomock.Microphone{},
		Transport:  &livemock.Transport{},
		Transcript: transcript.New(),
	}
	if _, err := session.New(session.Config{Mode: "karaoke"}, deps); err == nil {
		t.Error("unknown mode accepted")
	}
	if _, err := session.New(session.Config{Mode: session.ModeRoleplay}, deps); err == nil {
		t.Error("roleplay without speaker accepted")
	}
	if _, err := session.New(session.Config{}, session.Deps{}); err == nil {
		t.Error("missing deps accepted")
	}
	c, err := session.New(session.Config{}, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Mode() != session.ModeTranscription {
		t.Errorf("default mode = %q", c.Mode())
	}
}

func TestStart_ForwardsFramesInOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, session.ModeTranscription)

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.ctrl.State() != session.StateActive {
		t.Fatalf("state = %v, want active", f.ctrl.State())
	}

	want := []audio.Frame{
		pcmFrame(audio.CaptureSampleRate, 0.1),
		pcmFrame(audio.CaptureSampleRate, 0.2),
		pcmFrame(audio.CaptureSampleRate, 0.3),
	}
	for _, fr := range want {
		f.stream.Push(fr)
	}
	eventually(t, "three chunks sent", func() bool { return len(f.conn.SentChunks()) == 3 })

	for i, got := range f.conn.SentChunks() {
		if exp := audio.Encode(want[i]); got.Data != exp.Data {
			t.Errorf("chunk %d out of order", i)
		}
		if got.MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("chunk %d MIME = %q", i, got.MIMEType)
		}
	}
	if len(f.speaker.OpenRates) != 0 {
		t.Error("transcription mode opened a speaker")
	}
}

func TestStart_WhileActiveIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, session.ModeTranscription)

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if n := len(f.mic.OpenCalls); n != 1 {
		t.Errorf("microphone opened %d times, want 1", n)
	}
}

func TestStop_Idempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, session.ModeRoleplay)

	f.ctrl.Stop() // never started

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	eventually(t, "connected", func() bool { return f.ctrl.Snapshot().Connected })

	f.ctrl.Stop()
	f.ctrl.Stop()

	if f.ctrl.State() != session.StateIdle {
		t.Fatalf("state = %v, want idle", f.ctrl.State())
	}
	if !f.conn.Closed() {
		t.Error("connection left open")
	}
	if !f.stream.Closed() {
		t.Error("microphone left open")
	}
	if f.output.CallCountClose != 1 {
		t.Errorf("speaker closed %d times, want 1", f.output.CallCountClose)
	}
	if f.ctrl.LastError() != nil {
		t.Errorf("LastError = %v after a clean stop", f.ctrl.LastError())
	}

	want := []session.State{session.StateStarting, session.StateActive, session.StateStopping, session.StateIdle}
	got := f.stateLog()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("states = %v, want %v", got, want)
	}
}

func TestStart_AgainAfterStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, session.ModeTranscription)

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	eventually(t, "connected", func() bool { return f.ctrl.Snapshot().Connected })
	first := f.ctrl.Snapshot().SessionID
	f.ctrl.Stop()

	f.mic.Stream = audiomock.NewCaptureStream(4)
	f.transport.Conn = livemock.NewConn(4)
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if id := f.ctrl.Snapshot().SessionID; id == "" || id == first {
		t.Errorf("session id %q not renewed", id)
	}
}

func TestStart_ClosesTurnLeftOpen(t *testing.T) {
	t.Parallel()
	f := newFixture(t, session.ModeTranscription)

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.conn.Emit(live.Event{Kind: live.EventInputTranscript, Text: "Bon"})
	eventually(t, "partial", func() bool { return f.agg.Len() == 1 })
	f.ctrl.Stop()

	f.mic.Stream = audiomock.NewCaptureStream(4)
	f.transport.Conn = livemock.NewConn(4)
	conn := f.transport.Conn
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	conn.Emit(live.Event{Kind: live.EventInputTranscript, Text: "Au revoir"})
	eventually(t, "second turn", func() bool { return f.agg.Len() == 2 })

	entries := f.agg.Entries()
	if entries[0].Text != "Bon" || !entries[0].Final {
		t.Errorf("first entry = %+v, want final \"Bon\"", entries[0])
	}
	if entries[1].Text != "Au revoir" || entries[1].Final {
		t.Errorf("second entry = %+v, want live \"Au revoir\"", entries[1])
	}
}

func TestStart_RoleplayClearsTranscript(t *testing.T) {
	t.Parallel()
	f := newFixture(t, session.ModeRoleplay)

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.conn.Emit(live.Event{Kind: live.EventOutputTranscript, Text: "Allô ?"})
	eventually(t, "partial", func() bool { return f.agg.Len() == 1 })
	f.ctrl.Stop()

	f.mic.Stream = audiomock.NewCaptureStream(4)
	f.transport.Conn = livemock.NewConn(4)
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if n := f.agg.Len(); n != 0 {
		t.Errorf("entries after restart = %d, want 0", n)
	}
}

func TestStart_GateRejects(t *testing.T) {
	t.Parallel()

	busy := errors.New("busy")
	mic := &audiomock.Microphone{}
	c, err := session.New(session.Config{PendingBudget: -1}, session.Deps{
		Microphone: mic,
		Transport:  &livemock.Transport{},
		Transcript: transcript.New(),
	}, session.WithStartGate(func(*session.Controller) (func(), error) {
		return nil, busy
	}))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, busy) {
		t.Fatalf("Start err = %v, want gate error", err)
	}
	if c.State() != session.StateIdle || len(mic.OpenCalls) != 0 {
		t.Errorf("state = %v, mic opens = %d", c.State(), len(mic.OpenCalls))
	}
}

func TestStart_PermissionDenied(t *testing.T) {
	t.Parallel()
	f := newFixture(t, session.ModeTranscription)
	f.mic.OpenError = fmt.Errorf("device: %w", audio.ErrPermissionDenied)

	err := f.ctrl.Start(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if failure.KindOf(err) != failure.KindPermission {
		t.Errorf("kind = %v, want permission", failure.KindOf(err))
	}
	if got := failure.Message(err); got != failure.MsgPermission {
		t.Errorf("message = %q", got)
	}
	if f.ctrl.State() != session.StateIdle {
		t.Errorf("state = %v, want idle", f.ctrl.State())
	}
	if f.transport.Dials() != 0 {
		t.Error("dialled although the microphone failed")
	}
	if errs := f.errors(); len(errs) != 1 || errs[0] != failure.MsgPermission {
		t.Errorf("reported errors = %v", errs)
	}
}

func TestStart_SpeakerFailureReleasesMicrophone(t *testing.T) {
	t.Parallel()
	f := newFixture(t, session.ModeRoleplay)
	f.speaker.OpenError = errors.New("no output device")

	err := f.ctrl.Start(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	want := "Erreur lors du démarrage de l'enregistrement : open speaker: no output device"
	if got := failure.Message(err); got != want {
		t.Errorf("message = %q, want %q", got, want)
	}
	if !f.stream.Closed() {
		t.Error("microphone not released")
	}
	if f.ctrl.State() != session.StateIdle {
		t.Errorf("state = %v", f.ctrl.State())
	}
}

func TestStop_WhileConnecting(t *testing.T) {
	t.Parallel()
	f := newFixture(t, session.ModeTranscription)
	f.transport.Gate = make(chan struct{})

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.stream.Push(pcmFrame(audio.CaptureSampleRate, 0.5))
	eventually(t, "frame queued", func() bool { return f.ctrl.Snapshot().Pending == 1 })

	f.ctrl.Stop()

	if f.ctrl.State() != session.StateIdle {
		t.Fatalf("state = %v", f.ctrl.State())
	}
	if !f.stream.Closed() {
		t.Error("microphone left open")
	}
	if len(f.conn.SentChunks()) != 0 {
		t.Error("queued audio was sent after stop")
	}
}

func TestEvents_TranscriptTurns(t *testing.T) {
	t.Parallel()
	f := newFixture(t, session.ModeTranscription)

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.conn.Emit(live.Event{Kind: live.EventInputTranscript, Text: "Bon"})
	f.conn.Emit(live.Event{Kind: live.EventInputTranscript, Text: "jour"})
	f.conn.Emit(live.Event{Kind: live.EventTurnComplete})

	eventually(t, "turn finalized", func() bool { return len(f.agg.Finalized()) == 1 })
	e := f.agg.Finalized()[0]
	if e.Text != "Bonjour" || e.Speaker != transcript.User {
		t.Errorf("entry = %+v", e)
	}
}

func TestEvents_TranscriptionIgnoresReplyAudio(t *testing.T) {
	t.Parallel()
	f := newFixture(t, session.ModeTranscription)

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.conn.Emit(live.Event{Kind: live.EventAudio, Audio: audio.Encode(pcmFrame(24000, 0.1))})
	f.conn.Emit(live.Event{Kind: live.EventInterrupted})
	f.conn.Emit(live.Event{Kind: live.EventOutputTranscript, Text: "ok"})

	eventually(t, "output transcript", func() bool { return f.agg.Len() == 1 })
	if len(f.output.Plays()) != 0 {
		t.Error("reply audio played in transcription mode")
	}
}

func TestEvents_RoleplayPlaysAndInterrupts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, session.ModeRoleplay)

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(f.speaker.OpenRates) != 1 || f.speaker.OpenRates[0] != audio.PlaybackSampleRate {
		t.Fatalf("speaker rates = %v", f.speaker.OpenRates)
	}

	chunk := audio.Encode(pcmFrame(audio.PlaybackSampleRate, 0.25))
	f.conn.Emit(live.Event{Kind: live.EventAudio, Audio: chunk})
	f.conn.Emit(live.Event{Kind: live.EventAudio, Audio: chunk})
	eventually(t, "two fragments scheduled", func() bool { return len(f.output.Plays()) == 2 })

	plays := f.output.Plays()
	if want := audio.SampleOffset(int64(len(plays[0].Frame.Samples)), audio.PlaybackSampleRate); plays[1].At != want {
		t.Errorf("second fragment at %v, want %v", plays[1].At, want)
	}

	f.conn.Emit(live.Event{Kind: live.EventInterrupted})
	eventually(t, "voices stopped", func() bool {
		return plays[0].Voice.Stopped() && plays[1].Voice.Stopped()
	})
}

func TestEvents_ErrorStopsSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, session.ModeRoleplay)

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.conn.Emit(live.Event{Kind: live.EventError, Err: errors.New("websocket: close 1011")})

	eventually(t, "idle", func() bool { return f.ctrl.State() == session.StateIdle })
	if !f.stream.Closed() || !f.output.Closed() || !f.conn.Closed() {
		t.Error("resources not released after a service error")
	}
	err := f.ctrl.LastError()
	if failure.KindOf(err) != failure.KindConnection {
		t.Errorf("kind = %v, want connection", failure.KindOf(err))
	}
	errs := f.errors()
	if len(errs) != 1 || !strings.Contains(errs[0], "websocket: close 1011") {
		t.Errorf("reported errors = %v", errs)
	}
	if s := f.ctrl.Snapshot(); s.LastError == "" || s.State != "idle" {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestEvents_DialFailureStopsSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, session.ModeTranscription)
	f.transport.DialErr = errors.New("connection refused")

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	eventually(t, "idle", func() bool { return f.ctrl.State() == session.StateIdle })
	if !f.stream.Closed() {
		t.Error("microphone left open")
	}
	if len(f.errors()) != 1 {
		t.Errorf("reported errors = %v", f.errors())
	}
}

func TestEvents_ServiceCloseStopsSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, session.ModeTranscription)

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	eventually(t, "connected", func() bool { return f.ctrl.Snapshot().Connected })
	_ = f.conn.Close()

	eventually(t, "idle", func() bool { return f.ctrl.State() == session.StateIdle })
	if f.ctrl.LastError() != nil {
		t.Errorf("LastError = %v after a remote close", f.ctrl.LastError())
	}
}

func TestDispatch_IgnoredWhenIdle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, session.ModeTranscription)

	f.ctrl.Dispatch(live.Event{Kind: live.EventInputTranscript, Text: "fantôme"})
	if f.agg.Len() != 0 {
		t.Error("event applied without a session")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[session.State]string{
		session.StateIdle:     "idle",
		session.StateStarting: "starting",
		session.StateActive:   "active",
		session.StateStopping: "stopping",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q", int(s), s.String())
		}
	}
}
