package records

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/callcoach/internal/failure"
	"github.com/MrWong99/callcoach/internal/observe"
)

// Title formats.
const (
	transcriptTitle = "Transcription du %s à %s"
	sessionTitle    = "Session du %s à %s"
)

// TranscriptTitle names a transcript saved at t, using French date and time
// formatting.
func TranscriptTitle(t time.Time) string {
	return fmt.Sprintf(transcriptTitle, t.Format("02/01/2006"), t.Format("15:04:05"))
}

// SessionTitle names a transcript-plus-analysis record saved at t.
func SessionTitle(t time.Time) string {
	return fmt.Sprintf(sessionTitle, t.Format("02/01/2006"), t.Format("15:04:05"))
}

// SessionContent combines a transcript and its analysis into one body.
func SessionContent(transcript, analysis string) string {
	return "TRANSCRIPTION:\n" + transcript + "\n\nANALYSE:\n" + analysis
}

// NewDraft validates a user save request. Content is checked before the
// name, matching the order in which the user is prompted.
func NewDraft(title, name, content string) (Draft, error) {
	if strings.TrimSpace(content) == "" {
		return Draft{}, failure.ErrNothingToSave
	}
	if strings.TrimSpace(name) == "" {
		return Draft{}, failure.ErrNameRequired
	}
	return Draft{Title: title, Name: strings.TrimSpace(name), Content: content}, nil
}

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithMetrics records store operations on m.
func WithMetrics(m *observe.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// WithClock overrides the time source used for titles.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// Recorder is the user-facing entry point to a [Store]. Every error it
// returns is a classified [failure.Error] carrying the operation that failed.
type Recorder struct {
	store   Store
	metrics *observe.Metrics
	now     func() time.Time
}

// NewRecorder wraps store. store may be nil when no backend is configured;
// every operation then fails with [failure.MsgStoreNotReady].
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{store: store, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Ready reports whether a backend is configured.
func (r *Recorder) Ready() bool { return r.store != nil }

// SaveTranscript stores transcript under the user's name in t.
func (r *Recorder) SaveTranscript(ctx context.Context, t Table, name, transcript string) (Record, error) {
	d, err := NewDraft(TranscriptTitle(r.now()), name, transcript)
	if err != nil {
		return Record{}, err
	}
	return r.save(ctx, failure.OpSaveRecord, t, d)
}

// SaveSession stores transcript and analysis together in t.
func (r *Recorder) SaveSession(ctx context.Context, t Table, name, transcript, analysis string) (Record, error) {
	switch {
	case strings.TrimSpace(analysis) == "":
		return Record{}, failure.ErrNoAnalysis
	case strings.TrimSpace(transcript) == "":
		return Record{}, failure.Input(failure.MsgNoLinkedText)
	case strings.TrimSpace(name) == "":
		return Record{}, failure.Input(failure.MsgSessionName)
	}
	d := Draft{
		Title:   SessionTitle(r.now()),
		Name:    strings.TrimSpace(name),
		Content: SessionContent(transcript, analysis),
	}
	return r.save(ctx, failure.OpSaveSession, t, d)
}

func (r *Recorder) save(ctx context.Context, op string, t Table, d Draft) (rec Record, err error) {
	if err := r.check(op, t); err != nil {
		return Record{}, err
	}
	ctx, span := observe.StartSpan(ctx, "records.save")
	defer func() { observe.EndSpan(span, err) }()

	rec, err = r.store.Save(ctx, t, d)
	r.record(ctx, "save", t, err)
	if err != nil {
		observe.Logger(ctx).Error("records: save failed", "table", string(t), "err", err)
		return Record{}, failure.Within(op, err)
	}
	observe.Logger(ctx).Info("records: saved", "table", string(t), "id", rec.ID)
	return rec, nil
}

// List returns the records of t, newest first.
func (r *Recorder) List(ctx context.Context, t Table) (recs []Record, err error) {
	if err := r.check(failure.OpListRecords, t); err != nil {
		return nil, err
	}
	ctx, span := observe.StartSpan(ctx, "records.list")
	defer func() { observe.EndSpan(span, err) }()

	recs, err = r.store.List(ctx, t)
	r.record(ctx, "list", t, err)
	if err != nil {
		return nil, failure.Within(failure.OpListRecords, err)
	}
	return recs, nil
}

// Delete removes a record from t.
func (r *Recorder) Delete(ctx context.Context, t Table, id string) (err error) {
	if err := r.check(failure.OpDeleteRecord, t); err != nil {
		return err
	}
	ctx, span := observe.StartSpan(ctx, "records.delete")
	defer func() { observe.EndSpan(span, err) }()

	err = r.store.Delete(ctx, t, id)
	r.record(ctx, "delete", t, err)
	if err != nil {
		return failure.Within(failure.OpDeleteRecord, err)
	}
	return nil
}

// Ping checks the backend.
func (r *Recorder) Ping(ctx context.Context) error {
	if r.store == nil {
		return failure.Configuration(failure.MsgStoreNotReady)
	}
	return r.store.Ping(ctx)
}

func (r *Recorder) check(op string, t Table) error {
	if r.store == nil {
		return failure.Within(op, failure.Configuration(failure.MsgStoreNotReady))
	}
	if !t.Valid() {
		return failure.Wrap(failure.KindInput, op, fmt.Errorf("%w: %q", ErrUnknownTable, t))
	}
	return nil
}

func (r *Recorder) record(ctx context.Context, op string, t Table, err error) {
	if r.metrics != nil {
		r.metrics.RecordStoreOp(ctx, op, string(t), err)
	}
}
