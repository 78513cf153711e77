// Package config provides configuration types and loading for podweave.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/podweave/podweave/internal/scheduler"
)

// Config is the root configuration struct.
type Config struct {
	Paths     PathsConfig      `json:"paths"`
	Model     ModelConfig      `json:"model"`
	Scheduler scheduler.Config `json:"scheduler"`
	Workflow  WorkflowConfig   `json:"workflow"`
	Store     StoreConfig      `json:"store"`
	Notify    NotifyConfig     `json:"notify"`
	Log       LogConfig        `json:"log"`
}

// PathsConfig groups filesystem locations.
type PathsConfig struct {
	DataDir        string `json:"dataDir" envconfig:"DATA_DIR"`
	TranscriptsDir string `json:"transcriptsDir" envconfig:"TRANSCRIPTS_DIR"`
}

// ModelConfig configures the OpenAI-compatible model endpoint.
type ModelConfig struct {
	APIKey       string  `json:"apiKey" envconfig:"API_KEY"`
	APIBase      string  `json:"apiBase" envconfig:"API_BASE"`
	Name         string  `json:"name" envconfig:"MODEL"`
	MaxTokens    int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature  float64 `json:"temperature" envconfig:"TEMPERATURE"`
	HistoryLimit int     `json:"historyLimit" envconfig:"HISTORY_LIMIT"`
	SystemPrompt string  `json:"systemPrompt,omitempty" envconfig:"SYSTEM_PROMPT"`
}

// WorkflowConfig tunes the propagation pipeline.
type WorkflowConfig struct {
	SummaryTimeout time.Duration `json:"summaryTimeout" envconfig:"SUMMARY_TIMEOUT"`
	TurnTimeout    time.Duration `json:"turnTimeout" envconfig:"TURN_TIMEOUT"`
	EventBuffer    int           `json:"eventBuffer" envconfig:"EVENT_BUFFER"`
}

// StoreConfig selects the SQLite driver and database file.
type StoreConfig struct {
	Driver string `json:"driver" envconfig:"DRIVER"`
	Path   string `json:"path" envconfig:"DB_PATH"`
}

// NotifyConfig groups the event sinks.
type NotifyConfig struct {
	Kafka KafkaConfig `json:"kafka"`
	Slack SlackConfig `json:"slack"`
}

// KafkaConfig configures the Kafka event sink. No brokers disables it.
type KafkaConfig struct {
	Brokers  []string `json:"brokers" envconfig:"BROKERS"`
	Topic    string   `json:"topic" envconfig:"TOPIC"`
	Encoding string   `json:"encoding" envconfig:"ENCODING"`
}

// Enabled reports whether the sink is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 && k.Topic != "" }

// SlackConfig configures the Slack sink.
type SlackConfig struct {
	WebhookURL string   `json:"webhookUrl" envconfig:"WEBHOOK_URL"`
	Token      string   `json:"token,omitempty" envconfig:"TOKEN"`
	Channel    string   `json:"channel,omitempty" envconfig:"CHANNEL"`
	Events     []string `json:"events" envconfig:"EVENTS"`
}

// Enabled reports whether the sink is configured.
func (s SlackConfig) Enabled() bool {
	return s.WebhookURL != "" || (s.Token != "" && s.Channel != "")
}

// LogConfig configures the slog default handler.
type LogConfig struct {
	Level  string `json:"level" envconfig:"LEVEL"`
	Format string `json:"format" envconfig:"FORMAT"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	data := filepath.Join(home, ConfigDir)
	sched := scheduler.DefaultConfig()
	sched.LockPath = filepath.Join(data, "scheduler.lock")
	return &Config{
		Paths: PathsConfig{
			DataDir:        data,
			TranscriptsDir: filepath.Join(data, "transcripts"),
		},
		Model: ModelConfig{
			APIBase:      "https://api.openai.com/v1",
			Name:         "gpt-4o-mini",
			MaxTokens:    4096,
			Temperature:  0.7,
			HistoryLimit: 50,
		},
		Scheduler: sched,
		Workflow: WorkflowConfig{
			SummaryTimeout: 2 * time.Minute,
			TurnTimeout:    10 * time.Minute,
			EventBuffer:    1024,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join(data, "podweave.db"),
		},
		Notify: NotifyConfig{
			Kafka: KafkaConfig{Topic: "podweave.events", Encoding: "json"},
			Slack: SlackConfig{Events: []string{"chain.cleared", "propagation.error"}},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}
