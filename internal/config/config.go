package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure. It is built once at
// startup and threaded through constructors; nothing mutates it afterwards.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Providers  []ProviderConfig `json:"providers"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Database   DatabaseConfig   `json:"database"`
	Data       DataConfig       `json:"data"`
	Tutoring   TutoringConfig   `json:"tutoring"`
	Evaluation EvaluationConfig `json:"evaluation"`
	KT         KTConfig         `json:"kt"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Models   []string          `json:"models,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DataConfig points at the on-disk record format produced by the
// ingestion scripts: learner interaction logs, profile item files with
// their parallel vector files, and the output directory for dialogues
// and evaluation results.
type DataConfig struct {
	Dataset      string `json:"dataset"`
	RecordsDir   string `json:"records_dir"`
	ProfilesDir  string `json:"profiles_dir"`
	QuestionsDir string `json:"questions_dir"`
	OutputDir    string `json:"output_dir"`
}

// TutoringConfig carries the knobs of one tutoring run. Variant names an
// ablation profile: "full", "no_persona", "no_memory" or "no_rewrite".
// Lambda is a pointer so an explicit 0 (pure recency ordering) is
// distinguishable from an absent field.
type TutoringConfig struct {
	BackboneModel string   `json:"backbone_model"`
	Variant       string   `json:"variant"`
	NumRounds     int      `json:"num_rounds"`
	TopK          int      `json:"top_k"`
	Lambda        *float64 `json:"lambda"`
	Estimator     string   `json:"estimator"`
	TauMinutes    float64  `json:"tau_minutes"`
	Workers       int      `json:"workers"`
	Force         bool     `json:"force"`
}

type EvaluationConfig struct {
	Trials          int    `json:"trials"`
	SelectionPolicy string `json:"selection_policy"`
	GradingModel    string `json:"grading_model"`
}

// KTConfig locates the external knowledge-tracing prediction service
// used by the model_based estimator.
type KTConfig struct {
	Endpoint string `json:"endpoint"`
	Model    string `json:"model"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Tutoring.NumRounds == 0 {
		c.Tutoring.NumRounds = 10
	}
	if c.Tutoring.TopK == 0 {
		c.Tutoring.TopK = 3
	}
	if c.Tutoring.Lambda == nil {
		lambda := 0.7
		c.Tutoring.Lambda = &lambda
	}
	if c.Tutoring.Estimator == "" {
		c.Tutoring.Estimator = "historical_accuracy"
	}
	if c.Tutoring.TauMinutes == 0 {
		c.Tutoring.TauMinutes = 60
	}
	if c.Tutoring.Workers == 0 {
		c.Tutoring.Workers = 4
	}
	if c.Tutoring.Variant == "" {
		c.Tutoring.Variant = "full"
	}
	if c.Evaluation.Trials == 0 {
		c.Evaluation.Trials = 1
	}
	if c.Evaluation.SelectionPolicy == "" {
		c.Evaluation.SelectionPolicy = "average"
	}
}
