package runtime

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"vidbot/internal/bot"
	"vidbot/internal/config"
	"vidbot/internal/logging"
)

// Main is the entry point a bot binary hands its descriptor to. It parses
// flags, loads configuration, builds the bot instance and runs the pipeline,
// returning the process exit code.
func Main(desc bot.Descriptor) int {
	return run(desc, os.Args[1:], EnvOptions{})
}

// MainWithOptions is Main for embedders that supply their own collaborators,
// typically a real frame decoder.
func MainWithOptions(desc bot.Descriptor, opts EnvOptions) int {
	return run(desc, os.Args[1:], opts)
}

func run(desc bot.Descriptor, args []string, opts EnvOptions) int {
	fs := flag.NewFlagSet("vidbot", flag.ContinueOnError)

	configPath := fs.String("runtime-config", "", "(yaml) runtime config file")
	channel := fs.String("channel", "", "pub/sub channel prefix")
	id := fs.String("id", "", "bot id")
	botConfig := fs.String("config", "", "(json) bot config")
	botConfigFile := fs.String("config-file", "", "(json) bot config file")

	inputReplay := fs.String("input-replay", "", "play back a recorded wire-record file")
	inputURL := fs.String("input-url", "", "stream wire records from a remote endpoint")
	inputChannel := fs.Bool("input-channel", false, "consume frames from the pub/sub channel")
	loop := fs.Bool("loop", false, "restart file input at EOF")
	batch := fs.Bool("batch", false, "consume input as fast as possible")
	fps := fs.Int("fps", 0, "nominal live-mode frame rate")

	analysisFile := fs.String("analysis-file", "",
		"saves analysis messages to a file instead of sending to a channel")
	debugFile := fs.String("debug-file", "",
		"saves debug messages to a file instead of sending to a channel")
	analysisFilter := fs.String("analysis-filter", "",
		"CEL predicate gating analysis records, e.g. 'msg.confidence > 0.5'")
	analysisStore := fs.Bool("analysis-store", false, "persist analysis records to the store")
	logLevel := fs.String("v", "", "log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	applyFlag(fs, "channel", &cfg.Bot.Channel, *channel)
	applyFlag(fs, "id", &cfg.Bot.ID, *id)
	applyFlag(fs, "input-replay", &cfg.Bot.InputReplay, *inputReplay)
	applyFlag(fs, "input-url", &cfg.Bot.InputURL, *inputURL)
	applyFlag(fs, "analysis-file", &cfg.Bot.AnalysisFile, *analysisFile)
	applyFlag(fs, "debug-file", &cfg.Bot.DebugFile, *debugFile)
	applyFlag(fs, "analysis-filter", &cfg.Bot.AnalysisFilter, *analysisFilter)
	applyFlag(fs, "v", &cfg.Logging.Level, *logLevel)
	if wasSet(fs, "input-channel") {
		cfg.Bot.InputChannel = *inputChannel
	}
	if wasSet(fs, "loop") {
		cfg.Bot.Loop = *loop
	}
	if wasSet(fs, "batch") {
		cfg.Bot.Batch = *batch
	}
	if wasSet(fs, "fps") {
		cfg.Bot.FPS = *fps
	}
	if wasSet(fs, "analysis-store") {
		cfg.Bot.AnalysisStore = *analysisStore
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fs.Usage()
		return 1
	}

	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() {
		if err := logging.Shutdown(); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}()

	botCfg, err := loadBotConfig(*botConfig, *botConfigFile)
	if err != nil {
		slog.Error("loading bot config", "error", err)
		return 1
	}

	mode := bot.Live
	if cfg.Bot.Batch {
		mode = bot.Batch
	}
	inst, err := bot.NewBuilder(desc).
		WithID(cfg.Bot.ID).
		WithMode(mode).
		WithConfig(botCfg).
		Build()
	if err != nil {
		slog.Error("building bot", "error", err)
		return 1
	}

	env, err := NewEnvironment(inst, cfg, opts)
	if err != nil {
		slog.Error("initializing runtime", "error", err)
		return 1
	}

	if err := env.Run(); err != nil {
		slog.Error("pipeline terminated with error", "error", err)
		return exitCode(err)
	}
	slog.Info("pipeline complete")
	return 0
}

// loadBotConfig reads the bot's JSON configuration from an inline argument
// or a file; the two are mutually exclusive.
func loadBotConfig(inline, path string) (bot.Config, error) {
	if inline != "" && path != "" {
		return nil, fmt.Errorf("--config and --config-file options are mutually exclusive")
	}
	var data []byte
	switch {
	case inline != "":
		data = []byte(inline)
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading bot config: %w", err)
		}
		data = b
	default:
		return nil, nil
	}
	var cfg bot.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing bot config: %w", err)
	}
	return cfg, nil
}

// applyFlag overrides a config field when the flag was set explicitly.
func applyFlag(fs *flag.FlagSet, name string, dst *string, value string) {
	if wasSet(fs, name) {
		*dst = value
	}
}

func wasSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
