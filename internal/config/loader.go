package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".podweave"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

var envPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("PODWEAVE_CONFIG")); explicit != "" {
		return expandHome(explicit)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("PODWEAVE_HOME")); h != "" {
		return expandHome(h)
	}
	return os.UserHomeDir()
}

func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	base, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, p[1:]), nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil
	}
	if home, err := resolveHomeDir(); err == nil {
		rebase(cfg, filepath.Join(home, ConfigDir))
	}

	data, err := loadResolvedConfig(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	groups := []struct {
		prefix string
		target any
	}{
		{"PODWEAVE_PATHS", &cfg.Paths},
		{"PODWEAVE_MODEL", &cfg.Model},
		{"PODWEAVE_SCHEDULER", &cfg.Scheduler},
		{"PODWEAVE_WORKFLOW", &cfg.Workflow},
		{"PODWEAVE_STORE", &cfg.Store},
		{"PODWEAVE_KAFKA", &cfg.Notify.Kafka},
		{"PODWEAVE_SLACK", &cfg.Notify.Slack},
		{"PODWEAVE_LOG", &cfg.Log},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.target); err != nil {
			return nil, fmt.Errorf("env %s: %w", g.prefix, err)
		}
	}

	if cfg.Model.APIKey == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.Model.APIKey = key
		} else if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
			cfg.Model.APIKey = key
		}
	}

	for _, p := range []*string{&cfg.Paths.DataDir, &cfg.Paths.TranscriptsDir, &cfg.Store.Path, &cfg.Scheduler.LockPath} {
		if v, err := expandHome(*p); err == nil {
			*p = v
		}
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Notify.Kafka.Encoding = strings.ToLower(strings.TrimSpace(cfg.Notify.Kafka.Encoding))
	return cfg, nil
}

// rebase moves the default data paths under dir.
func rebase(cfg *Config, dir string) {
	cfg.Paths.DataDir = dir
	cfg.Paths.TranscriptsDir = filepath.Join(dir, "transcripts")
	cfg.Store.Path = filepath.Join(dir, "podweave.db")
	cfg.Scheduler.LockPath = filepath.Join(dir, "scheduler.lock")
}

// Save writes cfg to the config path.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// EnsureDir creates path and its parents.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// loadResolvedConfig reads the file and substitutes ${VAR} references.
func loadResolvedConfig(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return json.Marshal(substituteEnvValues(obj))
}

func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			parts := envPattern.FindStringSubmatch(match)
			if len(parts) != 2 {
				return match
			}
			if value, ok := os.LookupEnv(parts[1]); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}
