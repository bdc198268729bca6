// Package whisper provides an audio-only Generator backed by the OpenAI
// transcription endpoint (Whisper).
//
// Whisper is a dedicated speech model: it ignores free-form instructions, so
// [generate.AudioInput.Instruction] is not forwarded. A vocabulary hint can be
// supplied with [WithPrompt]. Generate returns [generate.ErrUnsupported].
package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/callcoach/pkg/provider/generate"
)

var _ generate.Generator = (*Provider)(nil)

const defaultFilename = "audio"

// Provider implements generate.Generator using OpenAI's transcription API.
type Provider struct {
	client   oai.Client
	model    oai.AudioModel
	language string
	prompt   string
}

type config struct {
	baseURL  string
	timeout  time.Duration
	model    string
	language string
	prompt   string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithModel overrides the transcription model (default "whisper-1").
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithLanguage sets the default ISO-639-1 language hint. An AudioInput with
// its own Language overrides it.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithPrompt sets a vocabulary hint sent with every request, typically a list
// of product names the model tends to misspell.
func WithPrompt(prompt string) Option {
	return func(c *config) { c.prompt = prompt }
}

// New constructs a Whisper Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("whisper: apiKey must not be empty")
	}
	cfg := &config{model: string(oai.AudioModelWhisper1)}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    oai.AudioModel(cfg.model),
		language: cfg.language,
		prompt:   cfg.prompt,
	}, nil
}

// Transcribe implements generate.Generator.
func (p *Provider) Transcribe(ctx context.Context, in generate.AudioInput) (string, error) {
	if len(in.Data) == 0 {
		return "", errors.New("whisper: transcribe: empty audio")
	}
	name := in.Filename
	if name == "" {
		name = defaultFilename
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(in.Data), name, in.MIMEType),
		Model: p.model,
	}
	lang := in.Language
	if lang == "" {
		lang = p.language
	}
	if lang != "" {
		params.Language = oai.String(lang)
	}
	if p.prompt != "" {
		params.Prompt = oai.String(p.prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("whisper: transcribe: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("whisper: %w", generate.ErrEmptyResponse)
	}
	return text, nil
}

// Generate is not supported by a speech-only model.
func (p *Provider) Generate(context.Context, generate.Prompt) (string, error) {
	return "", generate.ErrUnsupported
}
