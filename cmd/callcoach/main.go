// Command callcoach transcribes sales calls live, plays a customer in
// role-play sessions, and turns transcripts into coaching reports.
//
// Usage:
//
//	callcoach [-config file] [command] [arguments]
//
// Commands:
//
//	live                      live transcription in the terminal UI (default)
//	roleplay                  role-play with a simulated customer
//	transcribe [-export] FILE transcribe a recording
//	analyze [-export] [-pdf] FILE|-
//	                          write a coaching report for a transcript
//	save -name N [-table T] [-analysis FILE] FILE|-
//	                          store a transcript in a record table
//	list [-table T]           list stored records
//	delete [-table T] ID      delete a stored record
//	serve                     run the status server and drive sessions over HTTP
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/MrWong99/callcoach/internal/app"
	"github.com/MrWong99/callcoach/internal/config"
	"github.com/MrWong99/callcoach/internal/export"
	"github.com/MrWong99/callcoach/internal/failure"
	"github.com/MrWong99/callcoach/internal/observe"
	"github.com/MrWong99/callcoach/internal/records"
	"github.com/MrWong99/callcoach/internal/session"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("callcoach", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := fs.String("env", ".env", "path to a dotenv file loaded before the configuration")
	fs.Usage = usage(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cmd, rest := "live", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "callcoach: %v\n", err)
		return 1
	}

	var application *app.App
	watcher, err := config.NewWatcher(*configPath, func(prev, next *config.Config) {
		if application != nil {
			application.ApplyConfig(prev, next)
		}
	})
	var cfg *config.Config
	switch {
	case err == nil:
		cfg = watcher.Current()
	case errors.Is(err, os.ErrNotExist):
		watcher = nil
		cfg, err = config.Default()
		if err != nil {
			fmt.Fprintf(os.Stderr, "callcoach: %v\n", err)
			return 1
		}
	default:
		fmt.Fprintf(os.Stderr, "callcoach: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	interactive := cmd == "live" || cmd == "roleplay"
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	logOut, closeLog, err := logOutput(cfg.Server.LogFile, interactive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "callcoach: %v\n", err)
		return 1
	}
	defer closeLog()
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level})))

	slog.Info("callcoach starting",
		"command", cmd,
		"config", *configPath,
		"version", version,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context + telemetry ────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "callcoach",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	opts := []app.Option{app.WithLevelVar(level)}
	if watcher != nil {
		opts = append(opts, app.WithWatcher(watcher))
	}
	application, err = app.New(ctx, cfg, reg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		fmt.Fprintf(os.Stderr, "callcoach: %v\n", err)
		return 1
	}

	code := dispatch(ctx, application, cfg, cmd, rest)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = max(code, 1)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

func dispatch(ctx context.Context, a *app.App, cfg *config.Config, cmd string, args []string) int {
	var err error
	switch cmd {
	case "live":
		err = a.RunLive(ctx, session.ModeTranscription)
	case "roleplay":
		err = a.RunLive(ctx, session.ModeRoleplay)
	case "transcribe":
		err = cmdTranscribe(ctx, a, cfg, args)
	case "analyze":
		err = cmdAnalyze(ctx, a, cfg, args)
	case "save":
		err = cmdSave(ctx, a, args)
	case "list":
		err = cmdList(ctx, a, args)
	case "delete":
		err = cmdDelete(ctx, a, args)
	case "serve":
		printStartupSummary(cfg)
		err = a.Serve(ctx)
	default:
		fmt.Fprintf(os.Stderr, "callcoach: unknown command %q\n", cmd)
		return 2
	}

	var usageErr usageError
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	case errors.As(err, &usageErr):
		fmt.Fprintf(os.Stderr, "callcoach %s: %v\n", cmd, err)
		return 2
	default:
		slog.Error("command failed", "command", cmd, "err", err)
		fmt.Fprintln(os.Stderr, failure.Message(err))
		return 1
	}
}

// ── Commands ──────────────────────────────────────────────────────────────────

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func cmdTranscribe(ctx context.Context, a *app.App, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("transcribe", flag.ContinueOnError)
	doExport := fs.Bool("export", false, "also write the transcript to the export directory")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	if fs.NArg() != 1 {
		return usageError{"expected one recording"}
	}
	if !a.Coach().Ready() {
		return failure.Configuration(failure.MsgGeminiNotReady)
	}

	text, err := a.Coach().TranscribeFile(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Println(text)
	if !*doExport {
		return nil
	}
	doc, err := export.TranscriptDocument(text, time.Now())
	if err != nil {
		return err
	}
	return writeExport(cfg.Export.Dir, doc)
}

func cmdAnalyze(ctx context.Context, a *app.App, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	doExport := fs.Bool("export", false, "also write the report to the export directory")
	doPDF := fs.Bool("pdf", false, "also render the report as a PDF in the export directory")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	if fs.NArg() != 1 {
		return usageError{"expected one transcript file, or - for stdin"}
	}
	text, err := readInput(fs.Arg(0))
	if err != nil {
		return err
	}
	if !a.Coach().Ready() {
		return failure.Configuration(failure.MsgGeminiNotReady)
	}

	rep, err := a.Coach().Analyze(ctx, text)
	if err != nil {
		return err
	}
	fmt.Println(rep.Markdown)
	if *doExport {
		doc, err := export.AnalysisDocument(rep.Transcript, rep.Markdown, rep.CreatedAt)
		if err != nil {
			return err
		}
		if err := writeExport(cfg.Export.Dir, doc); err != nil {
			return err
		}
	}
	if *doPDF {
		doc, err := export.ReportPDF(rep.Markdown, rep.CreatedAt)
		if err != nil {
			return err
		}
		return writeExport(cfg.Export.Dir, doc)
	}
	return nil
}

func cmdSave(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("save", flag.ContinueOnError)
	table := fs.String("table", string(a.Table()), "record table: "+tableNames())
	name := fs.String("name", "", "name of the record")
	analysisPath := fs.String("analysis", "", "coaching report stored alongside the transcript")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	if fs.NArg() != 1 {
		return usageError{"expected one transcript file, or - for stdin"}
	}
	t, err := records.ParseTable(*table)
	if err != nil {
		return usageError{err.Error()}
	}
	text, err := readInput(fs.Arg(0))
	if err != nil {
		return err
	}

	var rec records.Record
	if *analysisPath != "" {
		analysis, rerr := readInput(*analysisPath)
		if rerr != nil {
			return rerr
		}
		rec, err = a.Recorder().SaveSession(ctx, t, *name, text, analysis)
	} else {
		rec, err = a.Recorder().SaveTranscript(ctx, t, *name, text)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\t%s\n", rec.ID, t.DisplayName(), rec.Title)
	return nil
}

func cmdList(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	table := fs.String("table", string(a.Table()), "record table: "+tableNames())
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	t, err := records.ParseTable(*table)
	if err != nil {
		return usageError{err.Error()}
	}
	recs, err := a.Recorder().List(ctx, t)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNOM\tTITRE\tCRÉÉ LE")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Title, r.CreatedAt.Local().Format("02/01/2006 15:04"))
	}
	return tw.Flush()
}

func cmdDelete(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	table := fs.String("table", string(a.Table()), "record table: "+tableNames())
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	if fs.NArg() != 1 {
		return usageError{"expected one record id"}
	}
	t, err := records.ParseTable(*table)
	if err != nil {
		return usageError{err.Error()}
	}
	if err := a.Recorder().Delete(ctx, t, fs.Arg(0)); err != nil {
		return err
	}
	fmt.Printf("supprimé : %s\n", fs.Arg(0))
	return nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// readInput reads path, or stdin when path is "-".
func readInput(path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("callcoach: read %s: %w", path, err)
	}
	return string(b), nil
}

func writeExport(dir string, doc export.Document) error {
	path, err := export.Write(dir, doc)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "exporté vers %s\n", path)
	return nil
}

func tableNames() string {
	var names []string
	for _, t := range records.Tables() {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}

// logOutput picks the log destination. The terminal UI owns the screen, so
// interactive commands without a log file log to a file in the temp dir.
func logOutput(path string, interactive bool) (io.Writer, func(), error) {
	if path == "" && !interactive {
		return os.Stderr, func() {}, nil
	}
	if path == "" {
		path = filepath.Join(os.TempDir(), "callcoach.log")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		fmt.Fprintf(fs.Output(), "Usage: callcoach [flags] [live|roleplay|transcribe|analyze|save|list|delete|serve] [args]\n\nFlags:\n")
		fs.PrintDefaults()
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        callcoach, startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Live", cfg.Live.Provider+" / "+cfg.Live.Model)
	for i, p := range cfg.Generate.Providers {
		kind := "Generator"
		if i > 0 {
			kind = "Fallback"
		}
		value := p.Name
		if p.Model != "" {
			value += " / " + p.Model
		}
		printRow(kind, value)
	}
	backend := string(cfg.Records.Backend)
	if backend == "" {
		backend = "(not configured)"
	}
	printRow("Records", backend)
	printRow("Glossary", fmt.Sprintf("%d terms", len(cfg.Glossary)))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
