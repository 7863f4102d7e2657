// Package config loads the runtime configuration. Order: defaults ->
// config file -> local override file -> environment overrides ->
// validation. Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"vidbot/internal/logging"
	"vidbot/internal/pubsub"
	"vidbot/internal/sink"
)

// defaultPath is where a deployment keeps its checked-in configuration; the
// sibling local override stays out of version control.
const defaultPath = "config/config.yml"

// Config holds the application configuration.
type Config struct {
	Logging logging.Config   `yaml:"logging"`
	PubSub  pubsub.Config    `yaml:"pubsub"`
	Bot     BotConfig        `yaml:"bot"`
	Store   sink.StoreConfig `yaml:"store"`
}

// BotConfig selects the input, output and execution mode of one bot
// process.
type BotConfig struct {
	// Channel is the pub/sub channel prefix the bot serves.
	Channel string `yaml:"channel"`
	// ID identifies this bot on the control channel; generated when empty.
	ID string `yaml:"id"`

	// InputReplay names a recorded wire-record file to play back.
	InputReplay string `yaml:"input_replay"`
	// InputURL names a remote websocket endpoint streaming wire records.
	InputURL string `yaml:"input_url"`
	// InputChannel consumes frames from the pub/sub channel itself.
	InputChannel bool `yaml:"input_channel"`

	// Loop restarts file inputs at EOF.
	Loop bool `yaml:"loop"`
	// Batch disables pacing and the worker thread hop.
	Batch bool `yaml:"batch"`
	// FPS paces live file input; zero means the default.
	FPS int `yaml:"fps"`

	// AnalysisFile redirects analysis output to a local file.
	AnalysisFile string `yaml:"analysis_file"`
	// DebugFile redirects debug output to a local file.
	DebugFile string `yaml:"debug_file"`
	// AnalysisFilter is a CEL predicate gating analysis records.
	AnalysisFilter string `yaml:"analysis_filter"`
	// AnalysisStore enables persisting analysis records to the store.
	AnalysisStore bool `yaml:"analysis_store"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: logging.DefaultConfig(),
		PubSub:  pubsub.DefaultConfig(),
		Store:   sink.DefaultStoreConfig(),
	}
}

// Load reads configuration in layers: defaults, then the config file, then
// its sibling local override (config.yml -> config.local.yml), then the
// environment. An explicitly named file must exist; the default path and
// the local override are skipped when absent.
func Load(path string) (*Config, error) {
	cfg := Default()
	required := path != ""
	if path == "" {
		path = defaultPath
	}
	if err := loadFile(path, cfg, required); err != nil {
		return nil, err
	}
	if err := loadFile(localPath(path), cfg, false); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func loadFile(path string, cfg *Config, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// localPath maps a config file onto its local override:
// config/config.yml -> config/config.local.yml.
func localPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

// applyEnvOverrides lets the orchestrator override file settings without
// templating.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VIDBOT_CHANNEL"); v != "" {
		c.Bot.Channel = v
	}
	if v := os.Getenv("VIDBOT_ID"); v != "" {
		c.Bot.ID = v
	}
	if v := os.Getenv("VIDBOT_PUBSUB_URL"); v != "" {
		c.PubSub.URLs = []string{v}
	}
	if v := os.Getenv("VIDBOT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("VIDBOT_FPS"); v != "" {
		if fps, err := strconv.Atoi(v); err == nil {
			c.Bot.FPS = fps
		}
	}
}

// Validate rejects configurations the runtime cannot serve.
func (c *Config) Validate() error {
	inputs := 0
	if c.Bot.InputReplay != "" {
		inputs++
	}
	if c.Bot.InputURL != "" {
		inputs++
	}
	if c.Bot.InputChannel {
		inputs++
	}
	if inputs == 0 {
		return errors.New("config: no input configured: set input_replay, input_url or input_channel")
	}
	if inputs > 1 {
		return errors.New("config: input_replay, input_url and input_channel are mutually exclusive")
	}
	if c.Bot.InputChannel && c.Bot.Channel == "" {
		return errors.New("config: input_channel requires a channel")
	}
	if c.Bot.FPS < 0 {
		return fmt.Errorf("config: fps must be non-negative, got %d", c.Bot.FPS)
	}
	if c.Bot.AnalysisStore && c.Store.URI == "" {
		return errors.New("config: analysis_store requires store.uri")
	}
	return nil
}
