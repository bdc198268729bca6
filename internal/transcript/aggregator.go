// Package transcript assembles the streamed transcription fragments of a live
// session into an ordered list of speaker turns.
//
// Fragments arrive as deltas. Each speaker has an accumulator holding the
// text of its current turn; the newest entry shows that text live until the
// service signals the end of the turn, at which point every live entry is
// finalized and becomes immutable.
package transcript

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	// User is the person speaking into the microphone.
	User Speaker = "user"

	// Assistant is the remote model in role-play mode.
	Assistant Speaker = "assistant"
)

// Entry is one turn of the transcript.
type Entry struct {
	ID      string  `json:"id"`
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`

	// Final is set once the turn completed. Final entries never change.
	Final bool `json:"final"`
}

// Option configures an [Aggregator].
type Option func(*Aggregator)

// WithCorrector sets a function applied to the text of each entry at the
// moment it is finalized.
func WithCorrector(fn func(string) string) Option {
	return func(a *Aggregator) { a.correct = fn }
}

// WithOnChange registers a callback invoked with a snapshot of the entries
// after every mutation. It runs synchronously and must not call back into
// the aggregator.
func WithOnChange(fn func([]Entry)) Option {
	return func(a *Aggregator) { a.onChange = fn }
}

// Aggregator is the only owner of the transcript sequence. All methods are
// safe for concurrent use.
//
// A partial replaces the newest entry only when that entry is live and
// belongs to the same speaker. When the two speakers' fragments interleave
// within one turn, the returning speaker gets a fresh entry holding its whole
// accumulated text again.
type Aggregator struct {
	correct  func(string) string
	onChange func([]Entry)

	mu      sync.Mutex
	entries []Entry
	acc     map[Speaker]*strings.Builder
}

// New creates an empty Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{acc: make(map[Speaker]*strings.Builder)}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Partial appends delta to speaker's current turn.
func (a *Aggregator) Partial(speaker Speaker, delta string) {
	if delta == "" {
		return
	}
	a.mu.Lock()
	b, ok := a.acc[speaker]
	if !ok {
		b = &strings.Builder{}
		a.acc[speaker] = b
	}
	b.WriteString(delta)

	if n := len(a.entries); n > 0 && !a.entries[n-1].Final && a.entries[n-1].Speaker == speaker {
		a.entries[n-1].Text = b.String()
	} else {
		a.entries = append(a.entries, Entry{
			ID:      uuid.NewString(),
			Speaker: speaker,
			Text:    b.String(),
		})
	}
	snap := a.snapshotLocked()
	a.mu.Unlock()
	a.notify(snap)
}

// TurnComplete resets both accumulators and finalizes every live entry.
// Entries whose text is blank are discarded. Returns the entries finalized
// by this call.
func (a *Aggregator) TurnComplete() []Entry {
	a.mu.Lock()
	clear(a.acc)

	var finalized []Entry
	kept := a.entries[:0]
	for _, e := range a.entries {
		if e.Final {
			kept = append(kept, e)
			continue
		}
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		if a.correct != nil {
			e.Text = a.correct(e.Text)
		}
		e.Final = true
		kept = append(kept, e)
		finalized = append(finalized, e)
	}
	clear(a.entries[len(kept):])
	a.entries = kept
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.notify(snap)
	return finalized
}

// Append adds a complete, already final entry, such as the transcription of
// an uploaded file. Blank text is ignored and yields ok=false.
func (a *Aggregator) Append(speaker Speaker, text string) (e Entry, ok bool) {
	if strings.TrimSpace(text) == "" {
		return Entry{}, false
	}
	e = Entry{ID: uuid.NewString(), Speaker: speaker, Text: text, Final: true}
	a.mu.Lock()
	a.entries = append(a.entries, e)
	snap := a.snapshotLocked()
	a.mu.Unlock()
	a.notify(snap)
	return e, true
}

// Entries returns a copy of all entries in insertion order.
func (a *Aggregator) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Finalized returns a copy of the final entries only.
func (a *Aggregator) Finalized() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, 0, len(a.entries))
	for _, e := range a.entries {
		if e.Final {
			out = append(out, e)
		}
	}
	return out
}

// Text joins every entry, live ones included, with sep.
func (a *Aggregator) Text(sep string) string {
	return Join(a.Entries(), sep)
}

// Len returns the number of entries.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Reset discards all entries and accumulators.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.entries = nil
	clear(a.acc)
	a.mu.Unlock()
	a.notify(nil)
}

func (a *Aggregator) snapshotLocked() []Entry {
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

func (a *Aggregator) notify(snap []Entry) {
	if a.onChange != nil {
		a.onChange(snap)
	}
}

// Join concatenates the text of entries with sep, skipping blank live
// entries.
func Join(entries []Entry, sep string) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Final && strings.TrimSpace(e.Text) == "" {
			continue
		}
		parts = append(parts, e.Text)
	}
	return strings.Join(parts, sep)
}
