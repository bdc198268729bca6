package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/callcoach/internal/records"
)

// Defaults applied by [LoadFromReader] to fields left empty.
const (
	DefaultLiveProvider = "gemini"
	DefaultLiveModel    = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultGenerator    = "gemini"
	DefaultTimeout      = 2 * time.Minute
	DefaultLanguage     = "fr"
	DefaultPendingLimit = -1
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live":     {"gemini"},
	"generate": {"gemini", "whisper", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Environment variables overlaid onto the file. They fill fields the file
// leaves empty.
const (
	EnvGeminiKey    = "GEMINI_API_KEY"
	EnvGeminiKeyAlt = "API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvSupabaseURL  = "SUPABASE_URL"
	EnvSupabaseKey  = "SUPABASE_ANON_KEY"
	EnvDatabaseURL  = "DATABASE_URL"
)

// LoadOption configures [Load] and [LoadFromReader].
type LoadOption func(*loadOptions)

type loadOptions struct {
	lookup func(string) (string, bool)
}

// WithLookup replaces [os.LookupEnv] as the source of environment values.
func WithLookup(fn func(string) (string, bool)) LoadOption {
	return func(o *loadOptions) { o.lookup = fn }
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are skipped and variables already set are kept.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load env file %q: %w", p, err)
		}
		slog.Debug("loaded env file", "path", p)
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string, opts ...LoadOption) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given: defaults plus
// the environment overlay.
func Default(opts ...LoadOption) (*Config, error) {
	return finish(&Config{}, opts)
}

// LoadFromReader decodes a YAML config from r, overlays the environment,
// applies defaults and validates the result. An empty document is valid.
func LoadFromReader(r io.Reader, opts ...LoadOption) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return finish(cfg, opts)
}

func finish(cfg *Config, opts []LoadOption) (*Config, error) {
	o := loadOptions{lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(&o)
	}
	ApplyEnv(cfg, o.lookup)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv fills credentials cfg leaves empty from lookup. When no backend is
// configured, SUPABASE_URL with SUPABASE_ANON_KEY selects supabase and
// DATABASE_URL selects postgres.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	get := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				return v
			}
		}
		return ""
	}
	fill := func(dst *string, keys ...string) {
		if *dst == "" {
			*dst = get(keys...)
		}
	}

	if cfg.Live.Provider == "" || cfg.Live.Provider == "gemini" {
		fill(&cfg.Live.APIKey, EnvGeminiKey, EnvGeminiKeyAlt)
	}
	for i := range cfg.Generate.Providers {
		e := &cfg.Generate.Providers[i]
		switch e.Name {
		case "gemini":
			fill(&e.APIKey, EnvGeminiKey, EnvGeminiKeyAlt)
		case "whisper", "openai":
			fill(&e.APIKey, EnvOpenAIKey)
		}
	}

	fill(&cfg.Records.SupabaseURL, EnvSupabaseURL)
	fill(&cfg.Records.SupabaseKey, EnvSupabaseKey)
	fill(&cfg.Records.PostgresDSN, EnvDatabaseURL)
	if cfg.Records.Backend == BackendNone {
		switch {
		case cfg.Records.SupabaseURL != "" && cfg.Records.SupabaseKey != "":
			cfg.Records.Backend = BackendSupabase
		case cfg.Records.PostgresDSN != "":
			cfg.Records.Backend = BackendPostgres
		}
	}
}

// ApplyDefaults sets defaults on fields cfg leaves empty. The default
// generator receives the live API key.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Live.Provider == "" {
		cfg.Live.Provider = DefaultLiveProvider
	}
	if cfg.Live.Model == "" && cfg.Live.Provider == DefaultLiveProvider {
		cfg.Live.Model = DefaultLiveModel
	}
	if len(cfg.Generate.Providers) == 0 {
		cfg.Generate.Providers = []ProviderEntry{{Name: DefaultGenerator, APIKey: cfg.Live.APIKey}}
	}
	if cfg.Generate.Timeout == 0 {
		cfg.Generate.Timeout = DefaultTimeout
	}
	if cfg.Generate.Language == "" {
		cfg.Generate.Language = DefaultLanguage
	}
	if cfg.Records.DefaultTable == "" {
		cfg.Records.DefaultTable = string(records.DefaultTable)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found. Missing
// credentials only produce warnings; the affected feature reports itself as
// not configured when used.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Live
	validateProviderName("live", cfg.Live.Provider)
	if cfg.Live.SendTimeout < 0 {
		errs = append(errs, fmt.Errorf("live.send_timeout %s must not be negative", cfg.Live.SendTimeout))
	}
	if cfg.Live.APIKey == "" {
		slog.Warn("live.api_key is empty; live sessions will not connect", "env", EnvGeminiKey)
	}

	// Audio
	for name, v := range map[string]int{
		"audio.capture_rate":  cfg.Audio.CaptureRate,
		"audio.playback_rate": cfg.Audio.PlaybackRate,
		"audio.frame_size":    cfg.Audio.FrameSize,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", name, v))
		}
	}

	// Generate
	seen := make(map[string]int, len(cfg.Generate.Providers))
	for i, e := range cfg.Generate.Providers {
		prefix := fmt.Sprintf("generate.providers[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of generate.providers[%d]", prefix, e.Name, prev))
		}
		seen[e.Name] = i
		validateProviderName("generate", e.Name)
	}
	if cfg.Generate.Timeout < 0 {
		errs = append(errs, fmt.Errorf("generate.timeout %s must not be negative", cfg.Generate.Timeout))
	}
	if cfg.Generate.Temperature < 0 || cfg.Generate.Temperature > 2 {
		errs = append(errs, fmt.Errorf("generate.temperature %.2f is out of range [0, 2]", cfg.Generate.Temperature))
	}

	// Records
	switch {
	case !cfg.Records.Backend.IsValid():
		errs = append(errs, fmt.Errorf("records.backend %q is invalid; valid values: supabase, postgres", cfg.Records.Backend))
	case cfg.Records.Backend == BackendSupabase && (cfg.Records.SupabaseURL == "" || cfg.Records.SupabaseKey == ""):
		slog.Warn("records.backend is supabase but the URL or key is missing; saving will not be available")
	case cfg.Records.Backend == BackendPostgres && cfg.Records.PostgresDSN == "":
		slog.Warn("records.backend is postgres but records.postgres_dsn is empty; saving will not be available")
	case cfg.Records.Backend == BackendNone:
		slog.Debug("no record store configured")
	}
	if cfg.Records.DefaultTable != "" {
		if _, err := records.ParseTable(cfg.Records.DefaultTable); err != nil {
			errs = append(errs, fmt.Errorf("records.default_table: %w", err))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
