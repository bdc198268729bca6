// Package generate defines the Generator interface for single-shot AI calls:
// transcribing a recorded audio file and producing a text document from a
// prompt.
//
// A Generator wraps a remote model API (Gemini, any provider supported by
// any-llm-go, or OpenAI Whisper) and exposes a uniform request/response
// interface. Providers that only handle one of the two operations return
// [ErrUnsupported] for the other; [Compose] pairs two such providers.
//
// Implementations must be safe for concurrent use and must honour context
// cancellation.
package generate

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by providers that cannot perform the requested
// operation (for example, transcription on a text-only model).
var ErrUnsupported = errors.New("generate: operation not supported by provider")

// ErrEmptyResponse is returned when the model answered without any text.
var ErrEmptyResponse = errors.New("generate: empty response")

// AudioInput is a recorded audio file to transcribe.
type AudioInput struct {
	// Data holds the raw file bytes in their container format.
	Data []byte

	// MIMEType describes Data, e.g. "audio/mpeg" or "audio/wav".
	MIMEType string

	// Filename is passed to APIs that infer the format from the upload name.
	Filename string

	// Instruction tells instruction-following models how to transcribe.
	// Dedicated speech models may ignore it.
	Instruction string

	// Language is an optional ISO-639-1 hint such as "fr".
	Language string
}

// Prompt is a text generation request.
type Prompt struct {
	// System is an optional high-priority instruction.
	System string

	// Text is the user message.
	Text string

	// Temperature in [0, 2]. Zero keeps the provider default.
	Temperature float64

	// MaxTokens caps the response length. Zero keeps the provider default.
	MaxTokens int
}

// Generator performs single-shot generation calls.
type Generator interface {
	// Transcribe returns the text spoken in the audio file.
	Transcribe(ctx context.Context, in AudioInput) (string, error)

	// Generate returns the model's answer to p.
	Generate(ctx context.Context, p Prompt) (string, error)
}

// Compose returns a Generator that sends transcriptions to transcriber and
// text generation to writer.
func Compose(transcriber, writer Generator) Generator {
	return composed{transcriber: transcriber, writer: writer}
}

type composed struct {
	transcriber Generator
	writer      Generator
}

func (c composed) Transcribe(ctx context.Context, in AudioInput) (string, error) {
	return c.transcriber.Transcribe(ctx, in)
}

func (c composed) Generate(ctx context.Context, p Prompt) (string, error) {
	return c.writer.Generate(ctx, p)
}
