// Package config loads pagesearch settings.
//
// Settings are layered in order of increasing precedence:
//  1. Hardcoded defaults (NewConfig)
//  2. User config ($XDG_CONFIG_HOME/pagesearch/config.yaml or ~/.config/pagesearch/config.yaml)
//  3. An explicit config file (--config)
//  4. A .env file in the working directory
//  5. PAGESEARCH_* environment variables
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/pagesearch/internal/chunk"
	"github.com/Aman-CERP/pagesearch/internal/embed"
	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

// CurrentVersion is the only config schema version understood.
const CurrentVersion = 1

// DotEnvFile is read from the working directory when present.
const DotEnvFile = ".env"

// Summary policies for IndexingConfig.SummaryPolicy.
const (
	SummaryFirstChunk = "first_chunk"
	SummarySupplied   = "supplied"
)

// Config is the complete pagesearch configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	DataDir    string           `yaml:"data_dir" json:"data_dir"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Indexing   IndexingConfig   `yaml:"indexing" json:"indexing"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// EmbeddingsConfig selects the embedding provider. Endpoint and APIKey are
// handed to the provider and go nowhere else.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider" json:"provider"`
	Endpoint   string `yaml:"endpoint" json:"endpoint"`
	APIKey     string `yaml:"api_key" json:"-"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	Timeout    string `yaml:"timeout" json:"timeout"`
	MaxRetries int    `yaml:"max_retries" json:"max_retries"`

	// CacheSize is the number of embeddings kept in memory (0 disables).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// IndexingConfig configures chunking and the background scheduler.
type IndexingConfig struct {
	ChunkSize       int    `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap    int    `yaml:"chunk_overlap" json:"chunk_overlap"`
	SummaryPolicy   string `yaml:"summary_policy" json:"summary_policy"`
	Workers         int    `yaml:"workers" json:"workers"`
	QueueSize       int    `yaml:"queue_size" json:"queue_size"`
	ShutdownTimeout string `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// SearchConfig configures retrieval and ranking.
type SearchConfig struct {
	// RRFConstant is κ in 1/(κ + rank). Default: 60.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// PoolFactor sizes each candidate list as PoolFactor*k.
	PoolFactor int `yaml:"pool_factor" json:"pool_factor"`
	MaxResults int `yaml:"max_results" json:"max_results"`

	// HalfLife is the age at which the recency multiplier is halfway to DecayFloor.
	HalfLife        string  `yaml:"half_life" json:"half_life"`
	DecayFloor      float64 `yaml:"decay_floor" json:"decay_floor"`
	FrequencyWeight float64 `yaml:"frequency_weight" json:"frequency_weight"`

	// LexicalBackend is "fts5" (default) or "bleve".
	LexicalBackend string `yaml:"lexical_backend" json:"lexical_backend"`

	Weights ListWeights `yaml:"weights" json:"weights"`

	// Telemetry keeps local query statistics in telemetry.db.
	Telemetry bool `yaml:"telemetry" json:"telemetry"`
}

// ListWeights scales each ranked list's RRF contribution.
type ListWeights struct {
	Title        float64 `yaml:"title" json:"title"`
	Summary      float64 `yaml:"summary" json:"summary"`
	Chunk        float64 `yaml:"chunk" json:"chunk"`
	LexicalPage  float64 `yaml:"lexical_page" json:"lexical_page"`
	LexicalChunk float64 `yaml:"lexical_chunk" json:"lexical_chunk"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// NewConfig creates a Config with defaults: local embeddings, 500/50
// token chunks, FTS5 lexical search.
func NewConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		DataDir: DefaultDataDir(),
		Embeddings: EmbeddingsConfig{
			Provider:   string(embed.ProviderLocal),
			Dimensions: embed.LocalDimensions,
			BatchSize:  embed.DefaultBatchSize,
			Timeout:    "30s",
			MaxRetries: embed.DefaultMaxRetries,
			CacheSize:  1000,
		},
		Indexing: IndexingConfig{
			ChunkSize:       chunk.DefaultMaxTokens,
			ChunkOverlap:    chunk.DefaultOverlapTokens,
			SummaryPolicy:   SummaryFirstChunk,
			Workers:         max(1, runtime.NumCPU()/2),
			QueueSize:       256,
			ShutdownTimeout: "5s",
		},
		Search: SearchConfig{
			RRFConstant:     60,
			PoolFactor:      4,
			MaxResults:      10,
			HalfLife:        "720h", // 30 days
			DecayFloor:      0.2,
			FrequencyWeight: 0.25,
			LexicalBackend:  "fts5",
			Weights: ListWeights{
				Title:        1,
				Summary:      1,
				Chunk:        1,
				LexicalPage:  1,
				LexicalChunk: 1,
			},
			Telemetry: true,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// DefaultDataDir returns ~/.pagesearch, or a temp-dir equivalent when the
// home directory is unavailable.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".pagesearch")
	}
	return filepath.Join(home, ".pagesearch")
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/pagesearch/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/pagesearch/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pagesearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "pagesearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "pagesearch", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load builds the effective configuration. path is an optional explicit
// config file; when set it must exist.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if !fileExists(path) {
			return nil, apperr.New(apperr.ErrCodeConfigNotFound,
				fmt.Sprintf("config file %s not found", path), nil).
				WithSuggestion("run 'pagesearch config init' or drop --config")
		}
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	dotenv, err := readDotEnv(DotEnvFile)
	if err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides(func(key string) (string, bool) {
		if v := os.Getenv(key); v != "" {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML decodes path over the current values, so keys missing from the
// file keep their earlier layer's value. Unknown keys are rejected.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperr.ConfigError(fmt.Sprintf("read config file %s", path), err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return apperr.ConfigError(fmt.Sprintf("parse config file %s", path), err)
	}
	return nil
}

// readDotEnv returns the key/values of a .env file without touching the
// process environment. A missing file is not an error.
func readDotEnv(path string) (map[string]string, error) {
	if !fileExists(path) {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, apperr.ConfigError(fmt.Sprintf("parse %s", path), err)
	}
	return values, nil
}

// applyEnvOverrides applies PAGESEARCH_* overrides. Unparseable numbers are
// logged and ignored.
func (c *Config) applyEnvOverrides(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			slog.Warn("config_env_ignored", slog.String("key", key), slog.String("value", v))
			return
		}
		*dst = n
	}
	flag := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			slog.Warn("config_env_ignored", slog.String("key", key), slog.String("value", v))
			return
		}
		*dst = b
	}

	str("PAGESEARCH_DATA_DIR", &c.DataDir)
	str("PAGESEARCH_PROVIDER", &c.Embeddings.Provider)
	str("PAGESEARCH_ENDPOINT", &c.Embeddings.Endpoint)
	str("PAGESEARCH_API_KEY", &c.Embeddings.APIKey)
	str("PAGESEARCH_MODEL", &c.Embeddings.Model)
	num("PAGESEARCH_DIMENSIONS", &c.Embeddings.Dimensions)
	num("PAGESEARCH_CHUNK_SIZE", &c.Indexing.ChunkSize)
	num("PAGESEARCH_CHUNK_OVERLAP", &c.Indexing.ChunkOverlap)
	num("PAGESEARCH_WORKERS", &c.Indexing.Workers)
	str("PAGESEARCH_LEXICAL_BACKEND", &c.Search.LexicalBackend)
	num("PAGESEARCH_RRF_CONSTANT", &c.Search.RRFConstant)
	flag("PAGESEARCH_TELEMETRY", &c.Search.Telemetry)
	str("PAGESEARCH_LOG_LEVEL", &c.Logging.Level)

	// The conventional OpenAI variable fills an empty key.
	if c.Embeddings.APIKey == "" && strings.EqualFold(c.Embeddings.Provider, string(embed.ProviderOpenAI)) {
		str("OPENAI_API_KEY", &c.Embeddings.APIKey)
	}
}

// Validate returns a ConfigError describing the first invalid setting.
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return apperr.ConfigError(fmt.Sprintf("unsupported config version %d", c.Version), nil)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return apperr.ConfigError("data_dir must not be empty", nil)
	}

	// Embeddings
	if _, ok := embed.ParseProviderKind(c.Embeddings.Provider); !ok {
		return apperr.New(apperr.ErrCodeUnknownProvider,
			fmt.Sprintf("embeddings.provider %q is not supported", c.Embeddings.Provider), nil).
			WithSuggestion(fmt.Sprintf("use one of %v", embed.ValidProviders()))
	}
	if c.Embeddings.Dimensions <= 0 {
		return apperr.ConfigError(fmt.Sprintf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions), nil)
	}
	if c.Embeddings.BatchSize < 0 || c.Embeddings.BatchSize > embed.MaxBatchSize {
		return apperr.ConfigError(fmt.Sprintf("embeddings.batch_size must be between 0 and %d, got %d", embed.MaxBatchSize, c.Embeddings.BatchSize), nil)
	}
	if _, err := positiveDuration("embeddings.timeout", c.Embeddings.Timeout); err != nil {
		return err
	}
	if c.Embeddings.MaxRetries < 0 {
		return apperr.ConfigError(fmt.Sprintf("embeddings.max_retries must be non-negative, got %d", c.Embeddings.MaxRetries), nil)
	}
	if c.Embeddings.CacheSize < 0 {
		return apperr.ConfigError(fmt.Sprintf("embeddings.cache_size must be non-negative, got %d", c.Embeddings.CacheSize), nil)
	}

	// Indexing
	if err := c.IndexConfig().ChunkOptions().Validate(); err != nil {
		return err
	}
	switch c.Indexing.SummaryPolicy {
	case SummaryFirstChunk, SummarySupplied:
	default:
		return apperr.ConfigError(fmt.Sprintf("indexing.summary_policy must be %q or %q, got %q",
			SummaryFirstChunk, SummarySupplied, c.Indexing.SummaryPolicy), nil)
	}
	if c.Indexing.Workers < 1 {
		return apperr.ConfigError(fmt.Sprintf("indexing.workers must be at least 1, got %d", c.Indexing.Workers), nil)
	}
	if c.Indexing.QueueSize < 1 {
		return apperr.ConfigError(fmt.Sprintf("indexing.queue_size must be at least 1, got %d", c.Indexing.QueueSize), nil)
	}
	if _, err := positiveDuration("indexing.shutdown_timeout", c.Indexing.ShutdownTimeout); err != nil {
		return err
	}

	// Search
	s := c.Search
	if s.RRFConstant <= 0 {
		return apperr.ConfigError(fmt.Sprintf("search.rrf_constant must be positive, got %d", s.RRFConstant), nil)
	}
	if s.PoolFactor < 1 {
		return apperr.ConfigError(fmt.Sprintf("search.pool_factor must be at least 1, got %d", s.PoolFactor), nil)
	}
	if s.MaxResults < 1 {
		return apperr.ConfigError(fmt.Sprintf("search.max_results must be at least 1, got %d", s.MaxResults), nil)
	}
	if _, err := positiveDuration("search.half_life", s.HalfLife); err != nil {
		return err
	}
	if s.DecayFloor < 0 || s.DecayFloor > 1 {
		return apperr.ConfigError(fmt.Sprintf("search.decay_floor must be between 0 and 1, got %g", s.DecayFloor), nil)
	}
	if s.FrequencyWeight < 0 {
		return apperr.ConfigError(fmt.Sprintf("search.frequency_weight must be non-negative, got %g", s.FrequencyWeight), nil)
	}
	switch strings.ToLower(s.LexicalBackend) {
	case "fts5", "bleve":
	default:
		return apperr.ConfigError(fmt.Sprintf("search.lexical_backend must be 'fts5' or 'bleve', got %q", s.LexicalBackend), nil)
	}
	w := s.Weights
	for name, v := range map[string]float64{
		"title": w.Title, "summary": w.Summary, "chunk": w.Chunk,
		"lexical_page": w.LexicalPage, "lexical_chunk": w.LexicalChunk,
	} {
		if v < 0 {
			return apperr.ConfigError(fmt.Sprintf("search.weights.%s must be non-negative, got %g", name, v), nil)
		}
	}
	if w.Title+w.Summary+w.Chunk+w.LexicalPage+w.LexicalChunk == 0 {
		return apperr.ConfigError("search.weights must not all be zero", nil)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return apperr.ConfigError(fmt.Sprintf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level), nil)
	}
	return nil
}

func positiveDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, apperr.ConfigError(fmt.Sprintf("%s %q is not a duration", field, value), err)
	}
	if d <= 0 {
		return 0, apperr.ConfigError(fmt.Sprintf("%s must be positive, got %s", field, value), nil)
	}
	return d, nil
}

// durationOr parses value, falling back to def on error. Validate has
// already rejected bad values for loaded configs.
func durationOr(value string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return def
}

// IndexConfig is the slice of settings that decides what an index entry
// looks like. Pipeline and engine receive it explicitly.
type IndexConfig struct {
	Provider     embed.ProviderKind
	Model        string
	Endpoint     string
	Dimension    int
	ChunkSize    int
	ChunkOverlap int
}

// ChunkOptions returns the chunker window settings.
func (ic IndexConfig) ChunkOptions() chunk.Options {
	return chunk.Options{MaxTokens: ic.ChunkSize, OverlapTokens: ic.ChunkOverlap}
}

// IndexConfig extracts the index-shaping settings.
func (c *Config) IndexConfig() IndexConfig {
	kind, _ := embed.ParseProviderKind(c.Embeddings.Provider)
	return IndexConfig{
		Provider:     kind,
		Model:        c.Embeddings.Model,
		Endpoint:     c.Embeddings.Endpoint,
		Dimension:    c.Embeddings.Dimensions,
		ChunkSize:    c.Indexing.ChunkSize,
		ChunkOverlap: c.Indexing.ChunkOverlap,
	}
}

// EmbedOptions returns the provider factory options.
func (c *Config) EmbedOptions() embed.Options {
	kind, _ := embed.ParseProviderKind(c.Embeddings.Provider)
	return embed.Options{
		Provider:   kind,
		Endpoint:   c.Embeddings.Endpoint,
		APIKey:     c.Embeddings.APIKey,
		Model:      c.Embeddings.Model,
		Dimensions: c.Embeddings.Dimensions,
		BatchSize:  c.Embeddings.BatchSize,
		Timeout:    durationOr(c.Embeddings.Timeout, embed.DefaultTimeout),
		MaxRetries: providerRetries(c.Embeddings.MaxRetries),
		CacheSize:  c.Embeddings.CacheSize,
	}
}

// providerRetries maps max_retries onto the provider configs, where zero
// means the default. A configured zero turns retries off.
func providerRetries(n int) int {
	if n == 0 {
		return embed.NoRetries
	}
	return n
}

// HalfLifeDuration returns the parsed search half-life.
func (s SearchConfig) HalfLifeDuration() time.Duration {
	return durationOr(s.HalfLife, 30*24*time.Hour)
}

// ShutdownTimeoutDuration returns the parsed scheduler drain budget.
func (ic IndexingConfig) ShutdownTimeoutDuration() time.Duration {
	return durationOr(ic.ShutdownTimeout, 5*time.Second)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return apperr.InternalError("marshal config", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return apperr.ConfigError("create config directory", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return apperr.ConfigError(fmt.Sprintf("write config file %s", path), err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
