// Package tui is the terminal front end of a live session: it shows the
// session status and the transcript as it grows, and binds keys to start and
// stop the session, analyze the transcript, save it, copy it and export it.
//
// The model polls [Session.Snapshot] on a short tick, so the controller never
// needs to know about the UI.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/callcoach/internal/coach"
	"github.com/MrWong99/callcoach/internal/export"
	"github.com/MrWong99/callcoach/internal/failure"
	"github.com/MrWong99/callcoach/internal/records"
	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/internal/transcript"
)

const refreshInterval = 150 * time.Millisecond

// Session is the part of the session controller the UI drives.
type Session interface {
	Start(ctx context.Context) error
	Stop()
	Snapshot() session.Snapshot
}

// Analyzer produces a coaching report.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (coach.Report, error)
}

// Saver stores transcripts and sessions.
type Saver interface {
	SaveTranscript(ctx context.Context, t records.Table, name, transcript string) (records.Record, error)
	SaveSession(ctx context.Context, t records.Table, name, transcript, analysis string) (records.Record, error)
}

// Deps are the collaborators of the UI. Analyzer, Saver and Clipboard may be
// nil; the matching keys then report that the feature is unavailable.
type Deps struct {
	Session   Session
	Analyzer  Analyzer
	Saver     Saver
	Clipboard export.Clipboard

	// Table receives saved records.
	Table records.Table

	// ExportDir receives exported files.
	ExportDir string

	// Now stamps exports. Defaults to time.Now.
	Now func() time.Time
}

type tickMsg struct{}

type snapshotMsg session.Snapshot

type startedMsg struct{ err error }

type analyzedMsg struct {
	report coach.Report
	err    error
}

type savedMsg struct {
	rec records.Record
	err error
}

// noticeMsg reports the outcome of a quick action.
type noticeMsg struct {
	text string
	err  error
}

// Model is the bubbletea model of the live view.
type Model struct {
	ctx  context.Context
	deps Deps

	snap     session.Snapshot
	analysis string
	busy     string

	notice    string
	noticeErr bool

	naming bool
	name   []rune

	width, height int
}

// New returns a Model bound to deps. ctx bounds every call the UI makes.
func New(ctx context.Context, deps Deps) Model {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Table == "" {
		deps.Table = records.DefaultTable
	}
	m := Model{ctx: ctx, deps: deps}
	if deps.Session != nil {
		m.snap = deps.Session.Snapshot()
	}
	return m
}

// Run shows the UI until the user quits or ctx is done. The session is
// stopped on exit.
func Run(ctx context.Context, deps Deps) error {
	p := tea.NewProgram(New(ctx, deps), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	deps.Session.Stop()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height

	case tickMsg:
		snap := m.deps.Session.Snapshot()
		return m, tea.Batch(func() tea.Msg { return snapshotMsg(snap) }, tick())

	case snapshotMsg:
		m.snap = session.Snapshot(msg)

	case startedMsg:
		if msg.err != nil {
			m.setNotice("", msg.err)
		}
		m.snap = m.deps.Session.Snapshot()

	case analyzedMsg:
		m.busy = ""
		if msg.err != nil {
			m.setNotice("", msg.err)
			break
		}
		m.analysis = msg.report.Markdown
		m.setNotice("Analyse terminée.", nil)

	case savedMsg:
		m.busy = ""
		if msg.err != nil {
			m.setNotice("", msg.err)
			break
		}
		m.setNotice("Sauvegardé : "+msg.rec.Title, nil)

	case noticeMsg:
		m.setNotice(msg.text, msg.err)

	case tea.KeyMsg:
		if m.naming {
			return m.updateName(msg)
		}
		return m.updateKey(msg)
	}
	return m, nil
}

func (m *Model) setNotice(text string, err error) {
	m.noticeErr = err != nil
	if err != nil {
		text = failure.Message(err)
	}
	m.notice = text
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.deps.Session.Stop()
		return m, tea.Quit

	case " ", "r":
		return m, m.toggle()

	case "a":
		if m.busy != "" {
			return m, nil
		}
		if m.deps.Analyzer == nil {
			m.setNotice("", failure.Configuration(failure.MsgGeminiNotReady))
			return m, nil
		}
		text := m.transcriptText(analysisSeparator)
		if strings.TrimSpace(text) == "" {
			m.setNotice("", failure.ErrNoTranscript)
			return m, nil
		}
		m.busy = "Analyse en cours…"
		ctx, an := m.ctx, m.deps.Analyzer
		return m, func() tea.Msg {
			rep, err := an.Analyze(ctx, text)
			return analyzedMsg{report: rep, err: err}
		}

	case "s":
		if m.busy != "" {
			return m, nil
		}
		if m.deps.Saver == nil {
			m.setNotice("", failure.Configuration(failure.MsgStoreNotReady))
			return m, nil
		}
		m.naming, m.name = true, nil
		m.notice = ""

	case "c":
		return m, m.copy()

	case "e":
		return m, m.exportFile()

	case "p":
		return m, m.exportPDF()
	}
	return m, nil
}

func (m Model) updateName(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.deps.Session.Stop()
		return m, tea.Quit
	case tea.KeyEsc:
		m.naming, m.name = false, nil
	case tea.KeyEnter:
		m.naming = false
		return m, m.save(string(m.name))
	case tea.KeyBackspace:
		if n := len(m.name); n > 0 {
			m.name = m.name[:n-1]
		}
	case tea.KeySpace:
		m.name = append(m.name, ' ')
	case tea.KeyRunes:
		m.name = append(m.name, msg.Runes...)
	}
	return m, nil
}

func (m Model) toggle() tea.Cmd {
	s, ctx := m.deps.Session, m.ctx
	if m.snap.State == session.StateIdle.String() {
		return func() tea.Msg { return startedMsg{err: s.Start(ctx)} }
	}
	return func() tea.Msg {
		s.Stop()
		return startedMsg{}
	}
}

func (m *Model) save(name string) tea.Cmd {
	text, analysis := m.Transcript(), m.analysis
	sv, ctx, table := m.deps.Saver, m.ctx, m.deps.Table
	m.busy = "Sauvegarde…"
	return func() tea.Msg {
		var (
			rec records.Record
			err error
		)
		if analysis != "" {
			rec, err = sv.SaveSession(ctx, table, name, text, analysis)
		} else {
			rec, err = sv.SaveTranscript(ctx, table, name, text)
		}
		return savedMsg{rec: rec, err: err}
	}
}

// document renders the analysis export when a report exists and the
// transcript export otherwise.
func (m Model) document() (export.Document, error) {
	now := m.deps.Now()
	if m.analysis != "" {
		return export.AnalysisDocument(m.Transcript(), m.analysis, now)
	}
	return export.TranscriptDocument(m.Transcript(), now)
}

func (m Model) copy() tea.Cmd {
	doc, err := m.document()
	cb := m.deps.Clipboard
	return func() tea.Msg {
		if err != nil {
			return noticeMsg{err: err}
		}
		if cb == nil {
			return noticeMsg{err: failure.Within(failure.OpCopy, export.ErrNoClipboard)}
		}
		if err := export.Copy(cb, doc); err != nil {
			return noticeMsg{err: err}
		}
		return noticeMsg{text: "Copié dans le presse-papiers."}
	}
}

func (m Model) exportFile() tea.Cmd {
	doc, err := m.document()
	dir := m.deps.ExportDir
	return func() tea.Msg {
		if err != nil {
			return noticeMsg{err: err}
		}
		path, err := export.Write(dir, doc)
		if err != nil {
			return noticeMsg{err: err}
		}
		return noticeMsg{text: "Exporté vers " + path}
	}
}

func (m Model) exportPDF() tea.Cmd {
	analysis, now, dir := m.analysis, m.deps.Now(), m.deps.ExportDir
	return func() tea.Msg {
		doc, err := export.ReportPDF(analysis, now)
		if err != nil {
			return noticeMsg{err: err}
		}
		path, err := export.Write(dir, doc)
		if err != nil {
			return noticeMsg{err: err}
		}
		return noticeMsg{text: "PDF exporté vers " + path}
	}
}

// analysisSeparator sits between turns in the text sent for analysis.
const analysisSeparator = "\n\n"

// Transcript returns the transcript shown on screen: finalized turns joined
// by [export.Separator], followed by the turn still being spoken.
func (m Model) Transcript() string { return m.transcriptText(export.Separator) }

func (m Model) transcriptText(sep string) string {
	var (
		final []transcript.Entry
		live  []string
	)
	for _, e := range m.snap.Entries {
		if e.Final {
			final = append(final, e)
		} else if e.Text != "" {
			live = append(live, e.Text)
		}
	}
	return export.JoinTranscript(final, strings.Join(live, " "), sep)
}

// Analysis returns the last report received.
func (m Model) Analysis() string { return m.analysis }

// Notice returns the message in the status line and whether it is an error.
func (m Model) Notice() (string, bool) { return m.notice, m.noticeErr }

// Naming reports whether the name prompt is open.
func (m Model) Naming() bool { return m.naming }
