// Package config loads and validates the mark-batch configuration from its
// layered sources: defaults, config file, environment, and command flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/xeipuuv/gojsonschema"

	"github.com/stackvity/mark-batch/pkg/batch"
	"github.com/stackvity/mark-batch/pkg/batch/markdown"
)

const (
	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// MARKBATCH_WORKERS=8.
	EnvPrefix = "MARKBATCH"
	// DefaultConfigName is the base name of the config file searched for when
	// none is given explicitly.
	DefaultConfigName = "mark-batch"
)

// configSchema validates the shape of the merged configuration before it is
// unmarshalled, so typos and type mistakes in config files surface as one
// readable error instead of a mapstructure failure.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "outputRoot":         { "type": "string" },
    "inPlace":            { "type": "boolean" },
    "conflictPolicy":     { "type": "string", "enum": ["skip", "overwrite", "rename", "ask"] },
    "renamePattern":      { "type": "string" },
    "askTimeout":         { "type": "string" },
    "workers":            { "type": "integer", "minimum": 0 },
    "taskTimeout":        { "type": "string" },
    "failureThreshold":   { "type": "integer", "minimum": 0 },
    "resetTimeout":       { "type": "string" },
    "fallbackMaxRetries": { "type": "integer", "minimum": 0 },
    "fallbackDelay":      { "type": "string" },
    "ignore":             { "type": "array", "items": { "type": "string" } },
    "outputFormat":       { "type": "string", "enum": ["text", "json"] },
    "verbose":            { "type": "boolean" },
    "tuiEnabled":         { "type": "boolean" },
    "frontMatter":        { "type": "string", "enum": ["", "yaml", "toml"] },
    "defaultEncoding":    { "type": "string" },
    "languageMappings":   { "type": "object", "additionalProperties": { "type": "string" } },
    "gitMetadata":        { "type": "boolean" }
  },
  "additionalProperties": false
}`

// flagBindings maps viper configuration keys to the CLI flag names that
// override them.
var flagBindings = map[string]string{
	"outputRoot":         "output",
	"inPlace":            "in-place",
	"conflictPolicy":     "conflict",
	"renamePattern":      "rename-pattern",
	"askTimeout":         "ask-timeout",
	"workers":            "workers",
	"taskTimeout":        "task-timeout",
	"failureThreshold":   "failure-threshold",
	"resetTimeout":       "reset-timeout",
	"fallbackMaxRetries": "fallback-retries",
	"fallbackDelay":      "fallback-delay",
	"ignore":             "ignore",
	"outputFormat":       "output-format",
	"verbose":            "verbose",
	"frontMatter":        "front-matter",
	"defaultEncoding":    "encoding",
	"gitMetadata":        "git-metadata",
}

// converterConfig carries the keys consumed by the markdown converter rather
// than the engine.
type converterConfig struct {
	FrontMatter      string            `mapstructure:"frontMatter"`
	DefaultEncoding  string            `mapstructure:"defaultEncoding"`
	LanguageMappings map[string]string `mapstructure:"languageMappings"`
	GitMetadata      bool              `mapstructure:"gitMetadata"`
}

// LoadAndValidate loads configuration from all sources, validates the merged
// result, and returns the engine options, the markdown converter options, and
// the configured logger. sources are the positional command arguments.
func LoadAndValidate(cfgFile, appVersion string, sources []string, flags *pflag.FlagSet) (batch.Options, markdown.Options, *slog.Logger, error) {
	var opts batch.Options
	var mdOpts markdown.Options

	// Temporary logger for errors raised before the verbose flag is known.
	tempLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			tempLogger.Error("Failed to get user home directory", slog.Any("error", err))
			return opts, mdOpts, tempLogger, fmt.Errorf("failed to get user home directory: %w", err)
		}
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(home, ".config", DefaultConfigName))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && cfgFile == "" {
			tempLogger.Debug("No configuration file found, using defaults/env/flags")
		} else {
			used := cfgFile
			if used == "" {
				used = fmt.Sprintf("searched locations for %s.yaml", DefaultConfigName)
			}
			tempLogger.Error("Error reading configuration file", slog.String("path", used), slog.Any("error", err))
			return opts, mdOpts, tempLogger, fmt.Errorf("error reading config file %q: %w", used, err)
		}
	} else {
		opts.ConfigFilePath = v.ConfigFileUsed()
		tempLogger.Debug("Using configuration file", slog.String("path", opts.ConfigFilePath))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, flagName := range flagBindings {
		flag := flags.Lookup(flagName)
		if flag == nil {
			tempLogger.Debug("Flag lookup failed during binding", slog.String("flag", flagName))
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			tempLogger.Error("Error binding flag", slog.String("flag", flagName), slog.Any("error", err))
			return opts, mdOpts, tempLogger, fmt.Errorf("error binding flag '--%s': %w", flagName, err)
		}
	}

	if err := validateSchema(v); err != nil {
		tempLogger.Error("Configuration failed schema validation", slog.Any("error", err))
		return opts, mdOpts, tempLogger, err
	}

	opts.AppVersion = appVersion
	opts.Sources = sources

	if err := v.Unmarshal(&opts); err != nil {
		tempLogger.Error("Error unmarshalling configuration", slog.Any("error", err))
		return opts, mdOpts, tempLogger, fmt.Errorf("error unmarshalling configuration: %w", err)
	}

	var mdCfg converterConfig
	if err := v.Unmarshal(&mdCfg); err != nil {
		tempLogger.Error("Error unmarshalling converter configuration", slog.Any("error", err))
		return opts, mdOpts, tempLogger, fmt.Errorf("error unmarshalling converter configuration: %w", err)
	}

	// Boolean flags override file and environment values unconditionally
	// when set on the command line.
	if flags.Changed("verbose") {
		opts.Verbose, _ = flags.GetBool("verbose")
	}
	if flags.Changed("in-place") {
		opts.InPlace, _ = flags.GetBool("in-place")
	}
	if flags.Changed("no-tui") {
		if noTui, _ := flags.GetBool("no-tui"); noTui {
			opts.TuiEnabled = false
		}
	}
	if flags.Changed("git-metadata") {
		mdCfg.GitMetadata, _ = flags.GetBool("git-metadata")
	}

	// Verbose logging and the TUI contend for the terminal; verbose wins.
	if opts.Verbose {
		opts.TuiEnabled = false
	}

	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logHandler)
	opts.Logger = logHandler

	mdOpts = markdown.Options{
		FrontMatter:       markdown.FrontMatterFormat(mdCfg.FrontMatter),
		DefaultEncoding:   mdCfg.DefaultEncoding,
		LanguageOverrides: mdCfg.LanguageMappings,
		IncludeGitMeta:    mdCfg.GitMetadata,
		Logger:            logHandler,
	}

	if err := validateOptions(&opts, logger); err != nil {
		return opts, mdOpts, logger, err
	}

	logger.Debug("Configuration loading and validation complete",
		slog.String("configFile", opts.ConfigFilePath),
		slog.Bool("verbose", opts.Verbose),
		slog.String("logLevel", logLevel.String()))

	return opts, mdOpts, logger, nil
}

// setDefaults establishes the default values for configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("outputRoot", "")
	v.SetDefault("inPlace", false)
	v.SetDefault("conflictPolicy", string(batch.DefaultConflictPolicy))
	v.SetDefault("renamePattern", batch.DefaultRenamePattern)
	v.SetDefault("askTimeout", batch.DefaultAskTimeout.String())
	v.SetDefault("workers", batch.DefaultWorkerCount)
	v.SetDefault("taskTimeout", "0s")
	v.SetDefault("failureThreshold", batch.DefaultFailureThreshold)
	v.SetDefault("resetTimeout", batch.DefaultResetTimeout.String())
	v.SetDefault("fallbackMaxRetries", batch.DefaultFallbackMaxRetries)
	v.SetDefault("fallbackDelay", batch.DefaultFallbackDelay.String())
	v.SetDefault("ignore", []string{})
	v.SetDefault("outputFormat", string(batch.DefaultOutputFormat))
	v.SetDefault("verbose", batch.DefaultVerbose)
	v.SetDefault("tuiEnabled", batch.DefaultTuiEnabled)
	v.SetDefault("frontMatter", "yaml")
	v.SetDefault("defaultEncoding", "")
	v.SetDefault("languageMappings", map[string]string{})
	v.SetDefault("gitMetadata", false)
}

// validateSchema checks the merged settings against the embedded JSON schema.
func validateSchema(v *viper.Viper) error {
	settings, err := json.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("marshalling settings for validation: %w", err)
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewBytesLoader(settings),
	)
	if err != nil {
		return fmt.Errorf("running configuration schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("%w: %s", batch.ErrConfigValidation, strings.Join(msgs, "; "))
}

// validateOptions performs the semantic checks that the schema cannot
// express, and normalizes paths.
func validateOptions(opts *batch.Options, logger *slog.Logger) error {
	if len(opts.Sources) == 0 {
		err := fmt.Errorf("%w: at least one source file or directory is required", batch.ErrConfigValidation)
		logger.Error(err.Error())
		return err
	}
	for i, source := range opts.Sources {
		abs, err := filepath.Abs(source)
		if err != nil {
			err = fmt.Errorf("%w: cannot resolve absolute path for source %q: %w", batch.ErrConfigValidation, source, err)
			logger.Error(err.Error())
			return err
		}
		if _, statErr := os.Stat(abs); statErr != nil {
			err = fmt.Errorf("%w: cannot access source %q: %w", batch.ErrConfigValidation, source, statErr)
			logger.Error(err.Error())
			return err
		}
		opts.Sources[i] = abs
	}

	if _, err := batch.ParseConflictPolicy(string(opts.ConflictPolicy)); err != nil {
		logger.Error(err.Error(), slog.String("key", "conflictPolicy"))
		return err
	}
	if !strings.Contains(opts.RenamePattern, "{n}") {
		err := fmt.Errorf("%w: rename pattern %q must contain the {n} placeholder", batch.ErrConfigValidation, opts.RenamePattern)
		logger.Error(err.Error(), slog.String("key", "renamePattern"))
		return err
	}
	if opts.OutputFormat != batch.OutputFormatText && opts.OutputFormat != batch.OutputFormatJSON {
		err := fmt.Errorf("%w: invalid value %q for key 'outputFormat'", batch.ErrConfigValidation, opts.OutputFormat)
		logger.Error(err.Error(), slog.String("key", "outputFormat"))
		return err
	}
	if opts.AskTimeout < 0 || opts.TaskTimeout < 0 || opts.ResetTimeout < 0 || opts.FallbackDelay < 0 {
		err := fmt.Errorf("%w: timeouts and delays must not be negative", batch.ErrConfigValidation)
		logger.Error(err.Error())
		return err
	}

	if !opts.InPlace {
		if opts.OutputRoot == "" {
			opts.OutputRoot = "."
		}
		abs, err := filepath.Abs(opts.OutputRoot)
		if err != nil {
			err = fmt.Errorf("%w: cannot resolve absolute output path %q: %w", batch.ErrConfigValidation, opts.OutputRoot, err)
			logger.Error(err.Error(), slog.String("key", "outputRoot"))
			return err
		}
		opts.OutputRoot = abs
		if mkdirErr := os.MkdirAll(opts.OutputRoot, 0o755); mkdirErr != nil {
			err = fmt.Errorf("%w: cannot create or access output directory %q: %w", batch.ErrConfigValidation, opts.OutputRoot, mkdirErr)
			logger.Error(err.Error(), slog.String("key", "outputRoot"))
			return err
		}
		logger.Debug("Resolved and verified output path", slog.String("path", opts.OutputRoot))
	}

	return nil
}
