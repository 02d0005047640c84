package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultStartupGrace = 3 * time.Second
	DefaultStaleAfter   = 2 * time.Minute
)

type Config struct {
	DataDir            string
	DBPath             string
	UserPipelineDir    string
	ProjectPipelineDir string

	Binary         string
	PollInterval   time.Duration
	StartupGrace   time.Duration
	StaleAfter     time.Duration
	DefaultVersion string
	LogLevel       string
}

// fileConfig is the on-disk shape of <data>/config.yaml. Durations use Go
// syntax ("2s", "1m30s").
type fileConfig struct {
	Binary         string `yaml:"binary"`
	PollInterval   string `yaml:"poll_interval"`
	StartupGrace   string `yaml:"startup_grace"`
	StaleAfter     string `yaml:"stale_after"`
	DefaultVersion string `yaml:"default_version"`
	LogLevel       string `yaml:"log_level"`
}

func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("NFWATCH_DATA_DIR", filepath.Join(homeDir, ".nfwatch"))

	c := &Config{
		DataDir:            dataDir,
		DBPath:             filepath.Join(dataDir, "nfwatch.db"),
		UserPipelineDir:    filepath.Join(dataDir, "pipelines"),
		ProjectPipelineDir: ".nfwatch/pipelines",

		Binary:       "nextflow",
		PollInterval: DefaultPollInterval,
		StartupGrace: DefaultStartupGrace,
		StaleAfter:   DefaultStaleAfter,
		LogLevel:     "info",
	}

	if err := c.load(filepath.Join(dataDir, "config.yaml")); err != nil {
		return nil, err
	}

	c.Binary = getEnv("NFWATCH_BINARY", c.Binary)
	c.LogLevel = getEnv("NFWATCH_LOG_LEVEL", c.LogLevel)
	if v, ok := os.LookupEnv("NFWATCH_POLL_INTERVAL"); ok {
		if c.PollInterval, err = parseDuration("NFWATCH_POLL_INTERVAL", v); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Config) load(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if fc.Binary != "" {
		c.Binary = fc.Binary
	}
	if fc.DefaultVersion != "" {
		c.DefaultVersion = fc.DefaultVersion
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"poll_interval", fc.PollInterval, &c.PollInterval},
		{"startup_grace", fc.StartupGrace, &c.StartupGrace},
		{"stale_after", fc.StaleAfter, &c.StaleAfter},
	} {
		if d.raw == "" {
			continue
		}
		v, err := parseDuration(d.name, d.raw)
		if err != nil {
			return err
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(c.UserPipelineDir, 0755); err != nil {
		return err
	}
	return nil
}

// PipelineDirs lists manifest directories. Later entries shadow earlier
// ones, so a project manifest wins over a user one of the same name.
func (c *Config) PipelineDirs() []string {
	return []string{c.UserPipelineDir, c.ProjectPipelineDir}
}

// RunsDir is where runs launched without an explicit location go.
func (c *Config) RunsDir() string {
	return filepath.Join(c.DataDir, "runs")
}

func parseDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: negative", name, raw)
	}
	return d, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
