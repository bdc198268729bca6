package main

import (
	"context"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/callcoach/internal/config"
	"github.com/MrWong99/callcoach/internal/failure"
	"github.com/MrWong99/callcoach/internal/records"
	"github.com/MrWong99/callcoach/internal/records/postgres"
	"github.com/MrWong99/callcoach/internal/records/supabase"
	"github.com/MrWong99/callcoach/pkg/provider/generate"
	"github.com/MrWong99/callcoach/pkg/provider/generate/anyllm"
	geminigen "github.com/MrWong99/callcoach/pkg/provider/generate/gemini"
	"github.com/MrWong99/callcoach/pkg/provider/generate/whisper"
	"github.com/MrWong99/callcoach/pkg/provider/live"
	geminilive "github.com/MrWong99/callcoach/pkg/provider/live/gemini"
)

// anyllmProviders are the text-only generators served through any-llm-go.
var anyllmProviders = []string{
	"openai", "anthropic", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama",
}

// registerBuiltinProviders wires all built-in factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Live ─────────────────────────────────────────────────────────────────

	reg.RegisterLive("gemini", func(lc config.LiveConfig) (live.Transport, error) {
		if lc.APIKey == "" {
			return nil, failure.Configuration(failure.MsgGeminiNotReady)
		}
		var opts []geminilive.Option
		if lc.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(lc.BaseURL))
		}
		return geminilive.New(lc.APIKey, opts...), nil
	})

	// ── Generate ─────────────────────────────────────────────────────────────

	reg.RegisterGenerator("gemini", func(ctx context.Context, entry config.ProviderEntry) (generate.Generator, error) {
		if entry.APIKey == "" {
			return nil, failure.Configuration(failure.MsgGeminiNotReady)
		}
		var opts []geminigen.Option
		if entry.Model != "" {
			opts = append(opts, geminigen.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminigen.WithBaseURL(entry.BaseURL))
		}
		return geminigen.New(ctx, entry.APIKey, opts...)
	})

	reg.RegisterGenerator("whisper", func(_ context.Context, entry config.ProviderEntry) (generate.Generator, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, whisper.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, whisper.WithPrompt(prompt))
		}
		return whisper.New(entry.APIKey, opts...)
	})

	for _, providerName := range anyllmProviders {
		reg.RegisterGenerator(providerName, func(_ context.Context, entry config.ProviderEntry) (generate.Generator, error) {
			var opts []anyllmlib.Option
			// ollama is a local server addressed by BaseURL only.
			if entry.APIKey != "" && providerName != "ollama" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── Records ──────────────────────────────────────────────────────────────

	reg.RegisterStore(config.BackendSupabase, func(_ context.Context, rc config.RecordsConfig) (records.Store, error) {
		return supabase.NewStore(rc.SupabaseURL, rc.SupabaseKey)
	})

	reg.RegisterStore(config.BackendPostgres, func(ctx context.Context, rc config.RecordsConfig) (records.Store, error) {
		return postgres.NewStore(ctx, rc.PostgresDSN)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
