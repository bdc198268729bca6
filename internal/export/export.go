// Package export renders transcripts and coaching reports as plain-text
// documents and hands them to the file system or the system clipboard.
package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"

	"github.com/MrWong99/callcoach/internal/failure"
	"github.com/MrWong99/callcoach/internal/transcript"
)

// Separator sits between turns in exported transcripts.
const Separator = "\n\n---\n\n"

// File name prefixes.
const (
	TranscriptPrefix = "transcription"
	AnalysisPrefix   = "analyse_appel"
)

var rule = strings.Repeat("=", 50)

// Document is a rendered export.
type Document struct {
	// Name is the suggested file name, timestamped.
	Name string

	Content string
}

// JoinTranscript joins the entries' text with sep and appends current, the
// text still being spoken, when it is not empty.
func JoinTranscript(entries []transcript.Entry, current, sep string) string {
	out := transcript.Join(entries, sep)
	if current == "" {
		return out
	}
	if out == "" {
		return current
	}
	return out + sep + current
}

// FileName returns prefix followed by t in UTC as 2006-01-02T15-04-05 and a
// .txt extension.
func FileName(prefix string, t time.Time) string {
	return prefix + "_" + t.UTC().Format("2006-01-02T15-04-05") + ".txt"
}

// TranscriptDocument renders a transcript export. It fails with
// [failure.ErrNothingToSave] when text is blank.
func TranscriptDocument(text string, now time.Time) (Document, error) {
	if strings.TrimSpace(text) == "" {
		return Document{}, failure.ErrNothingToSave
	}
	return Document{Name: FileName(TranscriptPrefix, now), Content: text}, nil
}

// AnalysisDocument renders a report together with the transcript it was
// produced from.
func AnalysisDocument(text, analysis string, now time.Time) (Document, error) {
	if strings.TrimSpace(analysis) == "" {
		return Document{}, failure.ErrNoAnalysis
	}
	var b strings.Builder
	fmt.Fprintf(&b, "TRANSCRIPTION DE L'APPEL:\n%s\n\n%s\n\n%s\n\n", rule, text, rule)
	fmt.Fprintf(&b, "ANALYSE COMMERCIALE:\n%s\n\n%s", rule, analysis)
	return Document{Name: FileName(AnalysisPrefix, now), Content: b.String()}, nil
}

// Write stores doc in dir, creating the directory if needed, and returns
// the written path.
func Write(dir string, doc Document) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", failure.Within(failure.OpExport, fmt.Errorf("export: create dir: %w", err))
	}
	path := filepath.Join(dir, doc.Name)
	if err := os.WriteFile(path, []byte(doc.Content), 0o644); err != nil {
		return "", failure.Within(failure.OpExport, fmt.Errorf("export: write: %w", err))
	}
	return path, nil
}

// ── Clipboard ─────────────────────────────────────────────────────────────────

// ErrNoClipboard is returned when the platform offers no clipboard utility.
var ErrNoClipboard = errors.New("export: no clipboard available")

// Clipboard receives copied text.
type Clipboard interface {
	WriteAll(text string) error
}

// SystemClipboard writes to the operating system clipboard.
type SystemClipboard struct{}

var _ Clipboard = SystemClipboard{}

// WriteAll implements [Clipboard].
func (SystemClipboard) WriteAll(text string) error {
	if clipboard.Unsupported {
		return ErrNoClipboard
	}
	return clipboard.WriteAll(text)
}

// Copy places doc's content on cb.
func Copy(cb Clipboard, doc Document) error {
	if err := cb.WriteAll(doc.Content); err != nil {
		return failure.Within(failure.OpCopy, fmt.Errorf("export: clipboard: %w", err))
	}
	return nil
}
