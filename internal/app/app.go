// Package app wires the callcoach subsystems into a running application.
//
// New builds the generators, the record store and the live transport from
// the config registry; RunLive shows a live session in the terminal UI next
// to the optional status server; Serve runs the status server alone; and
// Shutdown releases everything in order.
//
// For testing, inject doubles via functional options (WithGenerator,
// WithStore, WithTransport, ...). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callcoach/internal/coach"
	"github.com/MrWong99/callcoach/internal/config"
	"github.com/MrWong99/callcoach/internal/export"
	"github.com/MrWong99/callcoach/internal/failure"
	"github.com/MrWong99/callcoach/internal/health"
	"github.com/MrWong99/callcoach/internal/observe"
	"github.com/MrWong99/callcoach/internal/records"
	"github.com/MrWong99/callcoach/internal/resilience"
	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/internal/transcript"
	"github.com/MrWong99/callcoach/internal/transcript/phonetic"
	"github.com/MrWong99/callcoach/internal/tui"
	"github.com/MrWong99/callcoach/pkg/audio"
	"github.com/MrWong99/callcoach/pkg/audio/device"
	"github.com/MrWong99/callcoach/pkg/provider/generate"
	"github.com/MrWong99/callcoach/pkg/provider/live"
)

// shutdownGrace bounds the status server drain.
const shutdownGrace = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	reg     *config.Registry
	metrics *observe.Metrics
	level   *slog.LevelVar

	gen       generate.Generator
	store     records.Store
	transport live.Transport
	mic       audio.Microphone
	speaker   audio.Speaker
	clipboard export.Clipboard
	watcher   *config.Watcher
	ui        func(context.Context, tui.Deps) error

	coach     *coach.Service
	recorder  *records.Recorder
	sessions  *SessionManager
	corrector atomic.Pointer[phonetic.Corrector]

	// liveErr is returned when a session is requested without a transport.
	liveErr error

	devicesOnce sync.Once
	devicesErr  error

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithGenerator injects the single-shot generator instead of building the
// configured failover chain.
func WithGenerator(g generate.Generator) Option {
	return func(a *App) { a.gen = g }
}

// WithStore injects a record store instead of opening the configured backend.
func WithStore(s records.Store) Option {
	return func(a *App) { a.store = s }
}

// WithTransport injects the live transport.
func WithTransport(t live.Transport) Option {
	return func(a *App) { a.transport = t }
}

// WithMicrophone injects the capture device instead of opening the system one.
func WithMicrophone(m audio.Microphone) Option {
	return func(a *App) { a.mic = m }
}

// WithSpeaker injects the playback device.
func WithSpeaker(s audio.Speaker) Option {
	return func(a *App) { a.speaker = s }
}

// WithClipboard replaces the system clipboard.
func WithClipboard(c export.Clipboard) Option {
	return func(a *App) { a.clipboard = c }
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets configuration reloads change the log level.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithWatcher applies reloads from w while RunLive or Serve runs.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithUI replaces the terminal UI used by RunLive.
func WithUI(ui func(context.Context, tui.Deps) error) Option {
	return func(a *App) { a.ui = ui }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg using the factories in reg. Missing
// credentials do not fail New: the affected feature reports itself as not
// configured when it is used.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		reg:       reg,
		clipboard: export.SystemClipboard{},
		ui:        tui.Run,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Generators ────────────────────────────────────────────────────
	a.initGenerators(ctx)
	a.coach = coach.NewService(a.gen,
		coach.WithTimeout(cfg.Generate.Timeout),
		coach.WithMetrics(a.metrics),
		coach.WithProviderName(a.generatorName()),
		coach.WithLanguage(cfg.Generate.Language),
		coach.WithTemperature(cfg.Generate.Temperature),
	)

	// ── 2. Record store ──────────────────────────────────────────────────
	a.initStore(ctx)
	a.recorder = records.NewRecorder(a.store, records.WithMetrics(a.metrics))

	// ── 3. Live transport ────────────────────────────────────────────────
	if err := a.initTransport(); err != nil {
		return nil, fmt.Errorf("app: init live transport: %w", err)
	}

	// ── 4. Transcript correction + sessions ──────────────────────────────
	a.corrector.Store(phonetic.NewCorrector(cfg.Glossary))
	a.sessions = NewSessionManager(a.newController)
	a.closers = append([]func() error{a.sessions.Close}, a.closers...)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initGenerators builds the failover chain from the configured providers in
// order. Providers that cannot be created are logged and left out.
func (a *App) initGenerators(ctx context.Context) {
	if a.gen != nil {
		return
	}
	var chain *resilience.GeneratorFallback
	for _, entry := range a.cfg.Generate.Providers {
		g, err := a.reg.CreateGenerator(ctx, entry)
		if err != nil {
			slog.Warn("generator unavailable", "name", entry.Name, "err", err)
			continue
		}
		if chain == nil {
			chain = resilience.NewGeneratorFallback(g, entry.Name, resilience.FallbackConfig{})
		} else {
			chain.AddFallback(entry.Name, g)
		}
		slog.Info("generator created", "name", entry.Name, "model", entry.Model)
	}
	if chain != nil {
		a.gen = chain
	}
}

func (a *App) generatorName() string {
	if fb, ok := a.gen.(*resilience.GeneratorFallback); ok {
		if names := fb.Names(); len(names) == 1 {
			return names[0]
		}
		return "fallback"
	}
	if a.gen == nil {
		return "none"
	}
	return config.DefaultGenerator
}

// initStore opens the configured backend. A backend that fails to open is
// replaced by one that reports the failure on every call.
func (a *App) initStore(ctx context.Context) {
	if a.store != nil || a.cfg.Records.Backend == config.BackendNone {
		return
	}
	s, err := a.reg.CreateStore(ctx, a.cfg.Records)
	if err != nil {
		slog.Warn("record store unavailable", "backend", a.cfg.Records.Backend, "err", err)
		a.store = unavailableStore{err: err}
		return
	}
	slog.Info("record store opened", "backend", a.cfg.Records.Backend)
	a.store = s
	a.closers = append(a.closers, s.Close)
}

func (a *App) initTransport() error {
	if a.transport != nil {
		return nil
	}
	t, err := a.reg.CreateLive(a.cfg.Live)
	switch {
	case errors.Is(err, config.ErrProviderNotRegistered):
		return err
	case err != nil:
		slog.Warn("live transport unavailable", "provider", a.cfg.Live.Provider, "err", err)
		a.liveErr = err
		return nil
	}
	a.transport = t
	return nil
}

// devices opens the system audio context on first use.
func (a *App) devices() error {
	a.devicesOnce.Do(func() {
		if a.mic != nil && a.speaker != nil {
			return
		}
		dc, err := device.NewContext()
		if err != nil {
			a.devicesErr = fmt.Errorf("app: open audio devices: %w", err)
			return
		}
		a.closers = append(a.closers, dc.Close)
		if a.mic == nil {
			a.mic = dc
		}
		if a.speaker == nil {
			a.speaker = dc.Speaker(a.cfg.Audio.OutputDevice)
		}
	})
	return a.devicesErr
}

// newController builds the controller of mode. Used by the [SessionManager].
func (a *App) newController(mode session.Mode, opts ...session.Option) (*session.Controller, error) {
	if a.transport == nil {
		if a.liveErr != nil {
			return nil, a.liveErr
		}
		return nil, failure.Configuration(failure.MsgGeminiNotReady)
	}
	if err := a.devices(); err != nil {
		return nil, err
	}
	agg := transcript.New(transcript.WithCorrector(a.correct))
	return session.New(a.SessionConfig(mode), session.Deps{
		Microphone: a.mic,
		Speaker:    a.speaker,
		Transport:  a.transport,
		Transcript: agg,
		Metrics:    a.metrics,
	}, opts...)
}

func (a *App) correct(text string) string {
	c := a.corrector.Load()
	if c == nil {
		return text
	}
	out, fixes := c.Correct(text)
	for _, f := range fixes {
		slog.Debug("transcript corrected", "from", f.Original, "to", f.Corrected, "confidence", f.Confidence)
	}
	return out
}

// SessionConfig returns the controller setup for mode. Transcription asks
// for input transcription only; the service still requires an audio response
// modality. Role-play adds the voice and the output transcription.
func (a *App) SessionConfig(mode session.Mode) session.Config {
	lc := a.cfg.Live
	cfg := session.Config{
		Mode: mode,
		Live: live.Config{
			Model:              lc.Model,
			ResponseModalities: []live.Modality{live.ModalityAudio},
			InputTranscription: true,
		},
		Capture: audio.CaptureConfig{
			SampleRate: a.cfg.Audio.CaptureRate,
			FrameSize:  a.cfg.Audio.FrameSize,
			Device:     a.cfg.Audio.InputDevice,
		},
		PlaybackRate:  a.cfg.Audio.PlaybackRate,
		PendingBudget: lc.PendingBudget,
		SendTimeout:   lc.SendTimeout,
	}
	switch mode {
	case session.ModeRoleplay:
		cfg.Live.SystemInstruction = orDefault(lc.RoleplayInstruction, coach.RoleplayInstruction)
		cfg.Live.Voice = orDefault(lc.Voice, coach.RoleplayVoice)
		cfg.Live.OutputTranscription = true
	default:
		cfg.Live.SystemInstruction = orDefault(lc.TranscriptionInstruction, coach.TranscriptionInstruction)
	}
	return cfg
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Coach returns the transcription and report service.
func (a *App) Coach() *coach.Service { return a.coach }

// Recorder returns the record service.
func (a *App) Recorder() *records.Recorder { return a.recorder }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Clipboard returns the clipboard used for copies.
func (a *App) Clipboard() export.Clipboard { return a.clipboard }

// Table returns the configured default table.
func (a *App) Table() records.Table {
	t, err := records.ParseTable(a.cfg.Records.DefaultTable)
	if err != nil {
		return records.DefaultTable
	}
	return t
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// RunLive shows a session of mode in the terminal UI until the user quits or
// ctx is done. The status server and the config watcher run alongside.
func (a *App) RunLive(ctx context.Context, mode session.Mode) error {
	ctrl, err := a.sessions.Controller(mode)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	deps := tui.Deps{
		Session:   ctrl,
		Analyzer:  a.coach,
		Saver:     a.recorder,
		Clipboard: a.clipboard,
		Table:     a.Table(),
		ExportDir: a.cfg.Export.Dir,
	}
	g.Go(func() error {
		defer cancel()
		return a.ui(gctx, deps)
	})
	a.background(gctx, g)

	err = g.Wait()
	ctrl.Stop()
	return err
}

// Serve runs the status server and the config watcher until ctx is done.
// Sessions are driven over HTTP.
func (a *App) Serve(ctx context.Context) error {
	if a.cfg.Server.ListenAddr == "" {
		return errors.New("app: server.listen_addr is required to serve")
	}
	g, gctx := errgroup.WithContext(ctx)
	a.background(gctx, g)
	slog.Info("status server ready", "addr", a.cfg.Server.ListenAddr)
	return g.Wait()
}

func (a *App) background(ctx context.Context, g *errgroup.Group) {
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		g.Go(func() error { return a.serveHTTP(ctx, addr) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}
}

func (a *App) serveHTTP(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: status server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: status server shutdown: %w", err)
	}
	<-errCh
	return nil
}

// ApplyConfig reacts to a reloaded configuration. The log level and the
// glossary change at once; other tracked changes need a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.GlossaryChanged {
		a.corrector.Store(phonetic.NewCorrector(new.Glossary))
		slog.Info("glossary reloaded", "terms", len(new.Glossary))
	}
	if d.LiveChanged || d.GenerateTuningChanged || d.ExportDirChanged {
		slog.Info("configuration changed; restart to apply",
			"live", d.LiveChanged,
			"generate", d.GenerateTuningChanged,
			"export_dir", d.ExportDirChanged,
		)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops any session and closes the store and devices. It respects
// the context deadline: if ctx expires, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Debug("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// SlogLevel maps a configured level to its slog value.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Readiness returns the readiness checks of the status server.
func (a *App) Readiness() []health.Checker {
	var store health.Pinger
	if a.recorder.Ready() {
		store = a.recorder
	}
	return []health.Checker{
		health.PingChecker("records", store),
		{Name: "live", Check: func(context.Context) error {
			if a.transport == nil {
				if a.liveErr != nil {
					return a.liveErr
				}
				return health.ErrSkipped
			}
			return nil
		}},
		{Name: "generate", Check: func(context.Context) error {
			if !a.coach.Ready() {
				return health.ErrSkipped
			}
			return nil
		}},
	}
}

// unavailableStore stands in for a backend that could not be opened.
type unavailableStore struct{ err error }

var _ records.Store = unavailableStore{}

func (s unavailableStore) Save(context.Context, records.Table, records.Draft) (records.Record, error) {
	return records.Record{}, s.err
}

func (s unavailableStore) List(context.Context, records.Table) ([]records.Record, error) {
	return nil, s.err
}

func (s unavailableStore) Delete(context.Context, records.Table, string) error { return s.err }

func (s unavailableStore) Ping(context.Context) error { return s.err }

func (s unavailableStore) Close() error { return nil }
