// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLevel   = "ETHRPC_LOG_LEVEL"
	EnvConsole = "ETHRPC_LOG_CONSOLE"
)

type Config struct {
	Level   string `toml:"level" yaml:"level"`
	Console bool   `toml:"console" yaml:"console"`
	App     string `toml:"-" yaml:"-"`
}

func DefaultConfig(app string) Config {
	return Config{Level: "info", Console: true, App: app}
}

// Init installs the global logger. Environment variables override cfg.
func Init(cfg Config) zerolog.Logger {
	return InitWriter(cfg, os.Stdout)
}

func InitWriter(cfg Config, out io.Writer) zerolog.Logger {
	if v, ok := os.LookupEnv(EnvLevel); ok && v != "" {
		cfg.Level = v
	}
	if v, ok := os.LookupEnv(EnvConsole); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Console = b
		}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	w := out
	if cfg.Console {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if cfg.App != "" {
		ctx = ctx.Str("app", cfg.App)
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger
}
