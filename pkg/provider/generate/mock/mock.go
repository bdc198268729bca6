// Package mock provides a test double for the generate.Generator interface.
//
// Generator records every call and returns the configured results. Set
// TranscribeFunc or GenerateFunc for behaviour that depends on the input or
// the context (for example, blocking until cancellation).
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callcoach/pkg/provider/generate"
)

// Generator is a mock implementation of generate.Generator.
type Generator struct {
	mu sync.Mutex

	// TranscribeResult is returned by Transcribe when TranscribeErr is nil.
	TranscribeResult string

	// TranscribeErr, if non-nil, is returned by Transcribe.
	TranscribeErr error

	// TranscribeFunc, if set, replaces the canned Transcribe behaviour.
	TranscribeFunc func(ctx context.Context, in generate.AudioInput) (string, error)

	// GenerateResult is returned by Generate when GenerateErr is nil.
	GenerateResult string

	// GenerateErr, if non-nil, is returned by Generate.
	GenerateErr error

	// GenerateFunc, if set, replaces the canned Generate behaviour.
	GenerateFunc func(ctx context.Context, p generate.Prompt) (string, error)

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []generate.AudioInput

	// GenerateCalls records every call to Generate in order.
	GenerateCalls []generate.Prompt
}

// Transcribe records the call and returns TranscribeResult, TranscribeErr.
func (g *Generator) Transcribe(ctx context.Context, in generate.AudioInput) (string, error) {
	g.mu.Lock()
	g.TranscribeCalls = append(g.TranscribeCalls, in)
	fn := g.TranscribeFunc
	res, err := g.TranscribeResult, g.TranscribeErr
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx, in)
	}
	if err != nil {
		return "", err
	}
	return res, nil
}

// Generate records the call and returns GenerateResult, GenerateErr.
func (g *Generator) Generate(ctx context.Context, p generate.Prompt) (string, error) {
	g.mu.Lock()
	g.GenerateCalls = append(g.GenerateCalls, p)
	fn := g.GenerateFunc
	res, err := g.GenerateResult, g.GenerateErr
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx, p)
	}
	if err != nil {
		return "", err
	}
	return res, nil
}

// CallCountTranscribe returns the number of Transcribe calls.
func (g *Generator) CallCountTranscribe() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.TranscribeCalls)
}

// CallCountGenerate returns the number of Generate calls.
func (g *Generator) CallCountGenerate() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.GenerateCalls)
}

// Reset clears all recorded calls.
func (g *Generator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.TranscribeCalls = nil
	g.GenerateCalls = nil
}

var _ generate.Generator = (*Generator)(nil)
