package coach

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/callcoach/internal/failure"
	"github.com/MrWong99/callcoach/internal/observe"
	"github.com/MrWong99/callcoach/pkg/provider/generate"
)

// DefaultTimeout bounds each single-shot call.
const DefaultTimeout = 2 * time.Minute

// Input messages specific to file transcription.
const (
	MsgEmptyFile     = "Le fichier audio est vide."
	MsgUnknownFormat = "Format de fichier audio non reconnu."
)

// Report is the outcome of one analysis. Reports are never edited; a new
// analysis produces a new Report.
type Report struct {
	// Markdown is the styled evaluation document.
	Markdown string `json:"markdown"`

	// Transcript is the text that was analysed.
	Transcript string `json:"transcript"`

	CreatedAt time.Time `json:"created_at"`
}

// Option configures a [Service].
type Option func(*Service)

// WithTimeout overrides [DefaultTimeout]. Non-positive values disable the
// client-side deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithMetrics records call latency and outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithProviderName sets the provider label used in metrics and logs.
func WithProviderName(name string) Option {
	return func(s *Service) { s.provider = name }
}

// WithLanguage sets the language hint sent with file transcriptions.
func WithLanguage(lang string) Option {
	return func(s *Service) { s.language = lang }
}

// WithTemperature sets the sampling temperature of report generation.
func WithTemperature(t float64) Option {
	return func(s *Service) { s.temperature = t }
}

// Service runs file transcriptions and call analyses against a
// [generate.Generator].
type Service struct {
	gen         generate.Generator
	metrics     *observe.Metrics
	provider    string
	language    string
	temperature float64
	timeout     time.Duration
	now         func() time.Time
}

// NewService creates a Service. gen may be nil when no generation
// credentials are configured; every call then fails with a configuration
// error.
func NewService(gen generate.Generator, opts ...Option) *Service {
	s := &Service{
		gen:      gen,
		provider: "gemini",
		language: "fr",
		timeout:  DefaultTimeout,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ready reports whether a generator is configured.
func (s *Service) Ready() bool { return s.gen != nil }

// TranscribeFile reads the recording at path and returns its text.
func (s *Service) TranscribeFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", failure.Within(failure.OpTranscribe, fmt.Errorf("coach: read recording: %w", err))
	}
	return s.Transcribe(ctx, filepath.Base(path), data)
}

// Transcribe returns the text of an in-memory recording. name is used to
// infer the audio format.
func (s *Service) Transcribe(ctx context.Context, name string, data []byte) (text string, err error) {
	if s.gen == nil {
		return "", failure.Within(failure.OpTranscribe, failure.Configuration(failure.MsgGeminiNotReady))
	}
	if len(data) == 0 {
		return "", failure.Within(failure.OpTranscribe, failure.Input(MsgEmptyFile))
	}
	mimeType := AudioMIMEType(name, data)
	if mimeType == "" {
		return "", failure.Within(failure.OpTranscribe, failure.Input(MsgUnknownFormat))
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "coach.transcribe")
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	text, err = s.gen.Transcribe(ctx, generate.AudioInput{
		Data:        data,
		MIMEType:    mimeType,
		Filename:    name,
		Instruction: FileInstruction,
		Language:    s.language,
	})
	s.observe(ctx, "transcribe", start, err)
	if err != nil {
		observe.Logger(ctx).Warn("coach: transcription failed", "file", name, "err", err)
		return "", failure.Within(failure.OpTranscribe, err)
	}
	return strings.TrimSpace(text), nil
}

// Analyze evaluates transcript against the rubric. A blank transcript is
// rejected locally without contacting the service.
func (s *Service) Analyze(ctx context.Context, transcript string) (report Report, err error) {
	if strings.TrimSpace(transcript) == "" {
		return Report{}, failure.ErrNoTranscript
	}
	if s.gen == nil {
		return Report{}, failure.Within(failure.OpAnalyze, failure.Configuration(failure.MsgGeminiNotReady))
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "coach.analyze")
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	md, err := s.gen.Generate(ctx, generate.Prompt{
		Text:        ReportPrompt(transcript, rubric),
		Temperature: s.temperature,
	})
	s.observe(ctx, "report", start, err)
	if err != nil {
		observe.Logger(ctx).Warn("coach: analysis failed", "err", err)
		return Report{}, failure.Within(failure.OpAnalyze, err)
	}
	return Report{
		Markdown:   strings.TrimSpace(md),
		Transcript: transcript,
		CreatedAt:  s.now(),
	}, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) observe(ctx context.Context, kind string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.GenerationDuration.Record(ctx, time.Since(start).Seconds(),
		metricAttrs(s.provider, kind))
	status := "ok"
	if err != nil {
		status = "error"
		if !errors.Is(err, context.Canceled) {
			s.metrics.RecordProviderError(ctx, s.provider, kind)
		}
	}
	s.metrics.RecordProviderRequest(ctx, s.provider, kind, status)
}

func metricAttrs(provider, kind string) metric.MeasurementOption {
	return metric.WithAttributes(observe.Attr("provider", provider), observe.Attr("kind", kind))
}

// audioTypes covers the containers the generation services accept.
var audioTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".flac": "audio/flac",
	".webm": "audio/webm",
	".aiff": "audio/aiff",
}

// AudioMIMEType infers the audio type of a recording from its extension,
// falling back to content sniffing. Returns "" when the data is not audio.
func AudioMIMEType(name string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := audioTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); strings.HasPrefix(t, "audio/") {
		t, _, _ = strings.Cut(t, ";")
		return t
	}
	t := http.DetectContentType(data)
	if strings.HasPrefix(t, "audio/") {
		t, _, _ = strings.Cut(t, ";")
		return t
	}
	return ""
}
