package whisper_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrWong99/callcoach/pkg/provider/generate"
	"github.com/MrWong99/callcoach/pkg/provider/generate/whisper"
)

type upload struct {
	path     string
	model    string
	language string
	prompt   string
	filename string
	data     []byte
}

func startServer(t *testing.T, reply string) (*httptest.Server, *[]upload, *sync.Mutex) {
	t.Helper()
	var (
		mu      sync.Mutex
		uploads []upload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		u := upload{
			path:     r.URL.Path,
			model:    r.FormValue("model"),
			language: r.FormValue("language"),
			prompt:   r.FormValue("prompt"),
		}
		if f, hdr, err := r.FormFile("file"); err == nil {
			u.filename = hdr.Filename
			u.data, _ = io.ReadAll(f)
			f.Close()
		}
		mu.Lock()
		uploads = append(uploads, u)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":` + reply + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &uploads, &mu
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestTranscribe_UploadsFile(t *testing.T) {
	t.Parallel()

	srv, uploads, mu := startServer(t, `" Bonjour Staffy. "`)
	p, err := whisper.New("sk-test",
		whisper.WithBaseURL(srv.URL+"/"),
		whisper.WithLanguage("fr"),
		whisper.WithPrompt("Staffy, TimeOne"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.Transcribe(context.Background(), generate.AudioInput{
		Data:        []byte("RIFFfake"),
		MIMEType:    "audio/wav",
		Filename:    "appel.wav",
		Instruction: "ignored by whisper",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "Bonjour Staffy." {
		t.Errorf("text = %q", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(*uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(*uploads))
	}
	u := (*uploads)[0]
	if u.path != "/audio/transcriptions" {
		t.Errorf("path = %q", u.path)
	}
	if u.model != "whisper-1" || u.language != "fr" || u.prompt != "Staffy, TimeOne" {
		t.Errorf("form = model %q, language %q, prompt %q", u.model, u.language, u.prompt)
	}
	if u.filename != "appel.wav" || string(u.data) != "RIFFfake" {
		t.Errorf("file = %q (%q)", u.filename, u.data)
	}
}

func TestTranscribe_InputLanguageOverrides(t *testing.T) {
	t.Parallel()

	srv, uploads, mu := startServer(t, `"hello"`)
	p, _ := whisper.New("sk-test", whisper.WithBaseURL(srv.URL+"/"), whisper.WithLanguage("fr"))
	if _, err := p.Transcribe(context.Background(), generate.AudioInput{Data: []byte{1, 2}, Language: "en"}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if got := (*uploads)[0].language; got != "en" {
		t.Errorf("language = %q, want en", got)
	}
}

func TestTranscribe_EmptyText(t *testing.T) {
	t.Parallel()

	srv, _, _ := startServer(t, `""`)
	p, _ := whisper.New("sk-test", whisper.WithBaseURL(srv.URL+"/"))
	if _, err := p.Transcribe(context.Background(), generate.AudioInput{Data: []byte{1}}); !errors.Is(err, generate.ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestGenerate_Unsupported(t *testing.T) {
	t.Parallel()

	p, _ := whisper.New("sk-test")
	if _, err := p.Generate(context.Background(), generate.Prompt{Text: "x"}); !errors.Is(err, generate.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}
