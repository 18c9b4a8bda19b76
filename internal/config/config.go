package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const configPathEnv = "BIZPILOT_CONFIG"

// Config holds all settings for the triage service.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Ollama       OllamaConfig       `yaml:"ollama"`
	Storage      StorageConfig      `yaml:"storage"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Compose      ComposeConfig      `yaml:"compose"`
	Scoring      ScoringConfig      `yaml:"scoring"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Review       ReviewConfig       `yaml:"review"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	APIToken string `yaml:"apiToken"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type OllamaConfig struct {
	BaseURL    string `yaml:"baseUrl"`
	ChatModel  string `yaml:"chatModel"`
	EmbedModel string `yaml:"embedModel"`
}

type StorageConfig struct {
	DataDir string `yaml:"dataDir"`
}

// RetrievalConfig bounds what the retriever hands to downstream stages.
type RetrievalConfig struct {
	TopK            int     `yaml:"topK"`
	SimilarityFloor float64 `yaml:"similarityFloor"`
	SnippetBudget   int     `yaml:"snippetBudget"` // characters per snippet
}

// ComposeConfig bounds the generation request the prompt builder produces.
type ComposeConfig struct {
	MaxSnippets int `yaml:"maxSnippets"`
	CharBudget  int `yaml:"charBudget"`
}

// ScoringConfig is the confidence blend surface. The weights are deliberately
// configuration, not code constants.
type ScoringConfig struct {
	RetrievalWeight float64 `yaml:"retrievalWeight"`
	TierWeight      float64 `yaml:"tierWeight"`
	LengthWeight    float64 `yaml:"lengthWeight"`
	MinBodyChars    int     `yaml:"minBodyChars"`
	ShortPenalty    float64 `yaml:"shortPenalty"`
}

// OrchestratorConfig tunes the worker pool and retry policy. CallTimeout
// bounds each external model call; RunTimeout bounds a whole per-lead run,
// which spans several such calls, and must be comfortably larger.
type OrchestratorConfig struct {
	Workers     int           `yaml:"workers"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
	MaxBackoff  time.Duration `yaml:"maxBackoff"`
	CallTimeout time.Duration `yaml:"callTimeout"`
	RunTimeout  time.Duration `yaml:"runTimeout"`
	Poll        time.Duration `yaml:"poll"`
}

// ReviewConfig carries policy values consumed by the external review
// collaborator. The core surfaces them on message records, it never
// enforces them.
type ReviewConfig struct {
	AutoSendThreshold float64 `yaml:"autoSendThreshold"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 4600},
		Log:    LogConfig{Level: "info"},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "mistral-nemo",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Retrieval: RetrievalConfig{
			TopK:            5,
			SimilarityFloor: 0.3,
			SnippetBudget:   200,
		},
		Compose: ComposeConfig{
			MaxSnippets: 3,
			CharBudget:  4000,
		},
		Scoring: ScoringConfig{
			RetrievalWeight: 0.5,
			TierWeight:      0.3,
			LengthWeight:    0.2,
			MinBodyChars:    40,
			ShortPenalty:    0.8,
		},
		Orchestrator: OrchestratorConfig{
			Workers:     4,
			MaxAttempts: 3,
			BaseBackoff: 2 * time.Second,
			MaxBackoff:  2 * time.Minute,
			CallTimeout: 10 * time.Second,
			RunTimeout:  2 * time.Minute,
			Poll:        500 * time.Millisecond,
		},
		Review: ReviewConfig{AutoSendThreshold: 0.85},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "bizpilot")
	}
	return "./data"
}

// Load builds configuration from defaults, an optional YAML file (explicit
// path argument, falling back to BIZPILOT_CONFIG), and BIZPILOT_* environment
// overrides, in that order of precedence.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.APIToken, "BIZPILOT_API_TOKEN")
	setInt(&cfg.Server.Port, "BIZPILOT_PORT")
	setString(&cfg.Log.Level, "BIZPILOT_LOG_LEVEL")
	setString(&cfg.Ollama.BaseURL, "BIZPILOT_OLLAMA_URL")
	setString(&cfg.Ollama.ChatModel, "BIZPILOT_CHAT_MODEL")
	setString(&cfg.Ollama.EmbedModel, "BIZPILOT_EMBED_MODEL")
	setString(&cfg.Storage.DataDir, "BIZPILOT_DATA_DIR")
	setFloat(&cfg.Review.AutoSendThreshold, "BIZPILOT_AUTO_SEND_THRESHOLD")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func (c Config) validate() error {
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval.topK must be >= 1, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.SimilarityFloor < 0 || c.Retrieval.SimilarityFloor > 1 {
		return fmt.Errorf("retrieval.similarityFloor must be in [0,1], got %g", c.Retrieval.SimilarityFloor)
	}
	if c.Orchestrator.MaxAttempts < 1 {
		return fmt.Errorf("orchestrator.maxAttempts must be >= 1, got %d", c.Orchestrator.MaxAttempts)
	}
	if w := c.Scoring.RetrievalWeight + c.Scoring.TierWeight + c.Scoring.LengthWeight; w <= 0 {
		return fmt.Errorf("scoring weights must sum to a positive value, got %g", w)
	}
	return nil
}
