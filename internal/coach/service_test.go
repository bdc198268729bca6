package coach_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/callcoach/internal/coach"
	"github.com/MrWong99/callcoach/internal/failure"
	"github.com/MrWong99/callcoach/internal/observe"
	"github.com/MrWong99/callcoach/pkg/provider/generate"
	"github.com/MrWong99/callcoach/pkg/provider/generate/mock"
)

func TestRubric(t *testing.T) {
	t.Parallel()

	r := coach.Rubric()
	if len(r) != 6 {
		t.Fatalf("rubric has %d axes, want 6", len(r))
	}
	for _, c := range r {
		if c.Method == "" || c.Question == "" || c.Title == "" {
			t.Errorf("criterion %q incomplete", c.ID)
		}
	}
	if c, ok := coach.Lookup("spin"); !ok || !strings.Contains(c.Method, "Questions d’Impact") {
		t.Errorf("Lookup(spin) = %+v, %v", c, ok)
	}
	if _, ok := coach.Lookup("nope"); ok {
		t.Error("unknown criterion found")
	}

	r[0].Title = "changed"
	if coach.Rubric()[0].Title == "changed" {
		t.Error("Rubric exposes internal state")
	}
}

func TestReportPrompt(t *testing.T) {
	t.Parallel()

	p := coach.ReportPrompt("Bonjour ```ignore``` madame", coach.Rubric())
	for _, c := range coach.Rubric() {
		if !strings.Contains(p, "--- CRITERE : "+c.Title+" ---") {
			t.Errorf("prompt lacks criterion %q", c.ID)
		}
	}
	if !strings.Contains(p, "6.  **Gestion des Objections**: Note sur 10.") {
		t.Error("prompt lacks numbered instructions")
	}
	if strings.Count(p, "```") != 2 {
		t.Error("transcript can break out of its fence")
	}
}

func TestAnalyze_RejectsBlankTranscript(t *testing.T) {
	t.Parallel()
	gen := &mock.Generator{GenerateResult: "rapport"}
	svc := coach.NewService(gen)

	for _, in := range []string{"", "  \n\t "} {
		_, err := svc.Analyze(context.Background(), in)
		if !errors.Is(err, failure.ErrNoTranscript) {
			t.Errorf("Analyze(%q) err = %v", in, err)
		}
		if got := failure.Message(err); got != failure.MsgNoTranscript {
			t.Errorf("message = %q", got)
		}
	}
	if gen.CallCountGenerate() != 0 {
		t.Error("remote call made for a blank transcript")
	}
}

func TestAnalyze_ReturnsReport(t *testing.T) {
	t.Parallel()
	gen := &mock.Generator{GenerateResult: "\n## Résumé Global\nBien.\n"}
	svc := coach.NewService(gen, coach.WithTemperature(0.3))

	rep, err := svc.Analyze(context.Background(), "Bonjour, je suis Paul.")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if rep.Markdown != "## Résumé Global\nBien." {
		t.Errorf("Markdown = %q", rep.Markdown)
	}
	if rep.Transcript != "Bonjour, je suis Paul." || rep.CreatedAt.IsZero() {
		t.Errorf("report = %+v", rep)
	}
	p := gen.GenerateCalls[0]
	if !strings.Contains(p.Text, "Bonjour, je suis Paul.") || p.Temperature != 0.3 {
		t.Errorf("prompt = %+v", p)
	}
}

func TestAnalyze_Timeout(t *testing.T) {
	t.Parallel()
	gen := &mock.Generator{GenerateFunc: func(ctx context.Context, _ generate.Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	svc := coach.NewService(gen, coach.WithTimeout(10*time.Millisecond))

	_, err := svc.Analyze(context.Background(), "texte")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if failure.KindOf(err) != failure.KindConnection {
		t.Errorf("kind = %v", failure.KindOf(err))
	}
}

func TestAnalyze_ProviderError(t *testing.T) {
	t.Parallel()
	svc := coach.NewService(&mock.Generator{GenerateErr: errors.New("quota exceeded")})

	_, err := svc.Analyze(context.Background(), "texte")
	want := "Erreur lors de l'analyse : quota exceeded"
	if got := failure.Message(err); got != want {
		t.Errorf("message = %q, want %q", got, want)
	}
}

func TestService_NotConfigured(t *testing.T) {
	t.Parallel()
	svc := coach.NewService(nil)
	if svc.Ready() {
		t.Error("Ready with no generator")
	}

	_, err := svc.Analyze(context.Background(), "texte")
	if failure.KindOf(err) != failure.KindConfiguration || failure.Message(err) != failure.MsgGeminiNotReady {
		t.Errorf("Analyze err = %v", err)
	}
	_, err = svc.Transcribe(context.Background(), "a.mp3", []byte{1})
	if failure.Message(err) != failure.MsgGeminiNotReady {
		t.Errorf("Transcribe err = %v", err)
	}
}

func TestTranscribeFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "appel.MP3")
	if err := os.WriteFile(path, []byte("ID3fake"), 0o600); err != nil {
		t.Fatal(err)
	}
	gen := &mock.Generator{TranscribeResult: "  Allô ?  "}
	svc := coach.NewService(gen)

	got, err := svc.TranscribeFile(context.Background(), path)
	if err != nil {
		t.Fatalf("TranscribeFile: %v", err)
	}
	if got != "Allô ?" {
		t.Errorf("text = %q", got)
	}
	in := gen.TranscribeCalls[0]
	if in.MIMEType != "audio/mpeg" || in.Filename != "appel.MP3" || in.Language != "fr" {
		t.Errorf("input = %+v", in)
	}
	if in.Instruction != coach.FileInstruction || string(in.Data) != "ID3fake" {
		t.Error("instruction or data not forwarded")
	}
}

func TestTranscribeFile_Failures(t *testing.T) {
	t.Parallel()
	gen := &mock.Generator{TranscribeResult: "x"}
	svc := coach.NewService(gen)
	dir := t.TempDir()

	_, err := svc.TranscribeFile(context.Background(), filepath.Join(dir, "missing.wav"))
	if msg := failure.Message(err); !strings.HasPrefix(msg, "Erreur lors de la transcription du fichier : ") {
		t.Errorf("missing file message = %q", msg)
	}

	_, err = svc.Transcribe(context.Background(), "vide.wav", nil)
	if failure.Message(err) != coach.MsgEmptyFile {
		t.Errorf("empty file err = %v", err)
	}

	_, err = svc.Transcribe(context.Background(), "notes.txt", []byte("hello world"))
	if failure.Message(err) != coach.MsgUnknownFormat {
		t.Errorf("text file err = %v", err)
	}
	if gen.CallCountTranscribe() != 0 {
		t.Error("remote call made for rejected input")
	}
}

func TestAudioMIMEType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"a.wav", nil, "audio/wav"},
		{"a.m4a", nil, "audio/mp4"},
		{"a.FLAC", nil, "audio/flac"},
		{"noext", []byte("ID3\x03\x00"), "audio/mpeg"},
		{"doc.pdf", []byte("%PDF-1.4"), ""},
	}
	for _, tt := range tests {
		if got := coach.AudioMIMEType(tt.name, tt.data); got != tt.want {
			t.Errorf("AudioMIMEType(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestService_RecordsMetrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	svc := coach.NewService(&mock.Generator{GenerateResult: "ok"},
		coach.WithMetrics(m), coach.WithProviderName("anyllm"))
	if _, err := svc.Analyze(context.Background(), "texte"); err != nil {
		t.Fatal(err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "callcoach.provider.requests" {
				continue
			}
			sum := met.Data.(metricdata.Sum[int64])
			for _, dp := range sum.DataPoints {
				if v, _ := dp.Attributes.Value("provider"); v.AsString() == "anyllm" && dp.Value == 1 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("provider request not recorded")
	}
}
