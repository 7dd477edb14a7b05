package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/4-proxy/nekodb"
	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when the project config file does not exist.
var ErrConfigNotFound = errors.New("config file not found")

// DefaultConfigPath is where the project config lives when --config is not given.
var DefaultConfigPath = filepath.Join("windows", "project_config.json")

// Environment variables recognised on top of the nekodb NEKODB_* set.
const (
	EnvAPIToken    = "NEKOSHOP_API_TOKEN"
	EnvOwnerChatID = "NEKOSHOP_OWNER_CHAT_ID"
	EnvDebug       = "NEKOSHOP_DEBUG"
)

type BotConfig struct {
	APIToken    string `yaml:"API_TOKEN"`
	OwnerChatID string `yaml:"OWNER_CHAT_ID"`
	Debug       bool   `yaml:"DEBUG"`
}

// ProjectConfig is the project_config.json document. JSON is read through
// the YAML decoder, so .yaml files work as well.
type ProjectConfig struct {
	Bot            BotConfig                `yaml:"Bot"`
	Database       nekodb.ConnectionConfig `yaml:"Database"`
	StartupQueries []string                 `yaml:"STARTUP_QUERIES,omitempty"`
	LogFile        string                   `yaml:"LOG_FILE,omitempty"`
}

// Load reads the project config at path, then applies .env files and
// environment overrides.
func Load(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", nekodb.ErrInvalidConfig, path, err)
	}

	if err := nekodb.LoadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Database.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ProjectConfig) applyEnv() error {
	if v, ok := os.LookupEnv(EnvAPIToken); ok {
		c.Bot.APIToken = v
	}
	if v, ok := os.LookupEnv(EnvOwnerChatID); ok {
		c.Bot.OwnerChatID = v
	}
	if v, ok := os.LookupEnv(EnvDebug); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", nekodb.ErrInvalidConfig, EnvDebug, v)
		}
		c.Bot.Debug = b
	}
	return nekodb.ApplyEnv(&c.Database)
}

// Validate checks the config for the run command, which also needs the bot
// section.
func (c *ProjectConfig) Validate() error {
	if c.Bot.OwnerChatID == "" {
		return fmt.Errorf("%w: Bot.OWNER_CHAT_ID is required", nekodb.ErrInvalidConfig)
	}
	return c.Database.Validate()
}
