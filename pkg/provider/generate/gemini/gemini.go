// Package gemini implements generate.Generator with the Google Gen AI SDK.
//
// Both operations go through a single GenerateContent call: transcription
// sends the audio as an inline part followed by the instruction, report
// generation sends the prompt text with an optional system instruction.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/callcoach/pkg/provider/generate"
)

var _ generate.Generator = (*Provider)(nil)

const defaultModel = "gemini-2.5-flash"

// ── Options ────────────────────────────────────────────────────────────────────

type config struct {
	model      string
	baseURL    string
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel sets the model used for both operations.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the API endpoint. Primarily used in tests.
func WithBaseURL(u string) Option {
	return func(c *config) { c.baseURL = u }
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *config) { c.httpClient = h }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements generate.Generator using the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
}

// New creates a Provider authenticating with apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.httpClient,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Provider{client: client, model: cfg.model}, nil
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// Transcribe implements generate.Generator.
func (p *Provider) Transcribe(ctx context.Context, in generate.AudioInput) (string, error) {
	if len(in.Data) == 0 {
		return "", errors.New("gemini: transcribe: empty audio")
	}
	parts := []*genai.Part{genai.NewPartFromBytes(in.Data, in.MIMEType)}
	if in.Instruction != "" {
		parts = append(parts, genai.NewPartFromText(in.Instruction))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	text, err := p.call(ctx, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini: transcribe: %w", err)
	}
	return text, nil
}

// Generate implements generate.Generator.
func (p *Provider) Generate(ctx context.Context, pr generate.Prompt) (string, error) {
	gc := &genai.GenerateContentConfig{}
	if pr.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(pr.System, genai.RoleUser)
	}
	if pr.Temperature != 0 {
		gc.Temperature = genai.Ptr(float32(pr.Temperature))
	}
	if pr.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(pr.MaxTokens)
	}

	text, err := p.call(ctx, genai.Text(pr.Text), gc)
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	return text, nil
}

func (p *Provider) call(ctx context.Context, contents []*genai.Content, gc *genai.GenerateContentConfig) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, gc)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", generate.ErrEmptyResponse
	}
	return text, nil
}
