package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration from ~/.deckmcp/config.yaml.
// A loaded Config is never modified; reloads build a new one.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Deck    DeckConfig    `yaml:"deck"`
	Scoring ScoringConfig `yaml:"scoring"`
	Gemini  GeminiConfig  `yaml:"gemini"`
	Search  SearchConfig  `yaml:"search"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// StorageConfig selects the save point backend.
type StorageConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=badger sqlite"`
	DataDir    string `yaml:"data_dir" validate:"required_if=Backend badger"`
	SQLitePath string `yaml:"sqlite_path" validate:"required_if=Backend sqlite"`
}

// DeckConfig holds the engine's limits.
type DeckConfig struct {
	Retention        int           `yaml:"retention" validate:"min=1,max=10000"`
	LockTimeout      time.Duration `yaml:"lock_timeout" validate:"gt=0"`
	ScoringWait      time.Duration `yaml:"scoring_wait" validate:"gte=0"`
	CacheMaxSessions int           `yaml:"cache_max_sessions" validate:"min=1"`
	CacheTTL         time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

// ScoringConfig controls the quality judge.
type ScoringConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	Concurrency int           `yaml:"concurrency" validate:"min=1,max=64"`
	RPS         float64       `yaml:"rps" validate:"gt=0"`
	Burst       int           `yaml:"burst" validate:"min=1"`
}

// GeminiConfig holds Gemini model settings.
type GeminiConfig struct {
	APIKey         string `yaml:"api_key"`
	JudgeModel     string `yaml:"judge_model" validate:"required"`
	ProposerModel  string `yaml:"proposer_model" validate:"required"`
	EmbeddingModel string `yaml:"embedding_model" validate:"required"`
}

// SearchConfig controls the save point search index. Provider "openai"
// targets any OpenAI compatible embeddings endpoint (LM Studio, Ollama).
type SearchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Provider  string `yaml:"provider" validate:"oneof=gemini openai"`
	BaseURL   string `yaml:"base_url" validate:"omitempty,url"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	IndexPath string `yaml:"index_path"` // empty keeps the index in memory
}

// HTTPConfig is the optional read-only HTTP surface.
type HTTPConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:    BackendBadger,
			DataDir:    DefaultDataDir,
			SQLitePath: DefaultSQLiteFile,
		},
		Deck: DeckConfig{
			Retention:        DefaultRetention,
			LockTimeout:      DefaultLockTimeout,
			ScoringWait:      DefaultScoringWait,
			CacheMaxSessions: DefaultCacheMaxSessions,
			CacheTTL:         DefaultCacheTTL,
		},
		Scoring: ScoringConfig{
			Enabled:     true,
			Timeout:     DefaultScoringTimeout,
			Concurrency: DefaultScoringConcurrency,
			RPS:         DefaultJudgeRPS,
			Burst:       1,
		},
		Gemini: GeminiConfig{
			JudgeModel:     DefaultJudgeModel,
			ProposerModel:  DefaultProposerModel,
			EmbeddingModel: DefaultEmbeddingModel,
		},
		Search: SearchConfig{
			Enabled:   true,
			Provider:  "gemini",
			IndexPath: DefaultIndexDir,
		},
	}
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DefaultConfigPath is ~/.deckmcp/config.yaml.
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".deckmcp", "config.yaml"), nil
}

// LoadConfig reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func LoadConfig(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Debug("config file not found, using defaults and environment", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		logger.Debug("loaded config", "path", path)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with DECKMCP_* variables and GEMINI_API_KEY.
func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"DECKMCP_BACKEND":         &cfg.Storage.Backend,
		"DECKMCP_DATA_DIR":        &cfg.Storage.DataDir,
		"DECKMCP_SQLITE_PATH":     &cfg.Storage.SQLitePath,
		"DECKMCP_HTTP_ADDR":       &cfg.HTTP.Addr,
		"DECKMCP_SEARCH_PROVIDER": &cfg.Search.Provider,
		"DECKMCP_SEARCH_BASE_URL": &cfg.Search.BaseURL,
		"DECKMCP_SEARCH_MODEL":    &cfg.Search.Model,
		"DECKMCP_SEARCH_API_KEY":  &cfg.Search.APIKey,
		"DECKMCP_INDEX_PATH":      &cfg.Search.IndexPath,
		"GEMINI_API_KEY":          &cfg.Gemini.APIKey,
		"GEMINI_JUDGE_MODEL":      &cfg.Gemini.JudgeModel,
		"GEMINI_PROPOSER_MODEL":   &cfg.Gemini.ProposerModel,
		"GEMINI_EMBEDDING_MODEL":  &cfg.Gemini.EmbeddingModel,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("DECKMCP_RETENTION"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DECKMCP_RETENTION: %w", err)
		}
		cfg.Deck.Retention = n
	}
	durations := map[string]*time.Duration{
		"DECKMCP_LOCK_TIMEOUT": &cfg.Deck.LockTimeout,
		"DECKMCP_SCORING_WAIT": &cfg.Deck.ScoringWait,
		"DECKMCP_CACHE_TTL":    &cfg.Deck.CacheTTL,
	}
	for name, dst := range durations {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = d
		}
	}
	if v := os.Getenv("DECKMCP_SCORING"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DECKMCP_SCORING: %w", err)
		}
		cfg.Scoring.Enabled = enabled
	}
	return nil
}

// ConfigHandle hands out the current immutable Config. Readers call Load
// once per request and keep using that snapshot.
type ConfigHandle struct {
	current atomic.Pointer[Config]

	mu          sync.Mutex
	subscribers []func(*Config)
}

func NewConfigHandle(cfg *Config) *ConfigHandle {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	h := &ConfigHandle{}
	h.current.Store(cfg)
	return h
}

func (h *ConfigHandle) Load() *Config { return h.current.Load() }

// Swap installs cfg and notifies subscribers.
func (h *ConfigHandle) Swap(cfg *Config) {
	h.current.Store(cfg)
	h.mu.Lock()
	subs := slices.Clone(h.subscribers)
	h.mu.Unlock()
	for _, fn := range subs {
		fn(cfg)
	}
}

// Subscribe registers fn to run after every swap.
func (h *ConfigHandle) Subscribe(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers = append(h.subscribers, fn)
}

// Watch reloads path whenever it changes until ctx is done. Invalid files are
// logged and the previous snapshot stays active.
func (h *ConfigHandle) Watch(ctx context.Context, path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	// Watch the directory: editors often replace the file on save.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				cfg, err := LoadConfig(path, logger)
				if err != nil {
					configReloads.WithLabelValues("rejected").Inc()
					logger.Warn("ignoring invalid config reload", "path", path, "error", err)
					continue
				}
				h.Swap(cfg)
				configReloads.WithLabelValues("applied").Inc()
				logger.Info("config reloaded", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()
	return nil
}

// SaveConfig writes cfg as YAML to path.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
