package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/callcoach/pkg/provider/generate"
)

// GeneratorFallback implements [generate.Generator] with failover across
// several backends. Transcription and text generation keep separate breakers
// per backend, so a provider that cannot transcribe is still tried first for
// reports.
type GeneratorFallback struct {
	transcribe *FallbackGroup[generate.Generator]
	generate   *FallbackGroup[generate.Generator]
}

var _ generate.Generator = (*GeneratorFallback)(nil)

// NewGeneratorFallback creates a [GeneratorFallback] with primary as the
// preferred backend. [generate.ErrUnsupported] moves on to the next backend
// without tripping the breaker. A nil cfg.Classify uses [GeneratorClassify].
func NewGeneratorFallback(primary generate.Generator, primaryName string, cfg FallbackConfig) *GeneratorFallback {
	if cfg.Classify == nil {
		cfg.Classify = GeneratorClassify
	}
	return &GeneratorFallback{
		transcribe: NewFallbackGroup(primary, primaryName, cfg),
		generate:   NewFallbackGroup(primary, primaryName, cfg),
	}
}

// GeneratorClassify skips unsupported operations and otherwise behaves like
// [DefaultClassify].
func GeneratorClassify(err error) Verdict {
	if errors.Is(err, generate.ErrUnsupported) {
		return Skip
	}
	return DefaultClassify(err)
}

// AddFallback registers an additional backend.
func (f *GeneratorFallback) AddFallback(name string, g generate.Generator) {
	f.transcribe.AddFallback(name, g)
	f.generate.AddFallback(name, g)
}

// Names returns the backend names in failover order.
func (f *GeneratorFallback) Names() []string { return f.generate.Names() }

// Transcribe sends the audio to the first healthy backend able to transcribe.
func (f *GeneratorFallback) Transcribe(ctx context.Context, in generate.AudioInput) (string, error) {
	return ExecuteWithResult(f.transcribe, func(g generate.Generator) (string, error) {
		return g.Transcribe(ctx, in)
	})
}

// Generate sends the prompt to the first healthy backend able to generate.
func (f *GeneratorFallback) Generate(ctx context.Context, p generate.Prompt) (string, error) {
	return ExecuteWithResult(f.generate, func(g generate.Generator) (string, error) {
		return g.Generate(ctx, p)
	})
}
