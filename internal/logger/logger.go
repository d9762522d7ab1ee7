package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level      string `mapstructure:"level"`
	JSON       bool   `mapstructure:"json"`
	FilePath   string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Init replaces the global zerolog logger. Console output is human friendly unless
// JSON is set; a non-empty FilePath adds a rotating file sink that always gets JSON.
func Init(cfg Config) {
	Setup(cfg, os.Stderr)
}

func Setup(cfg Config, out io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var console io.Writer = out
	if !cfg.JSON {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	writers := []io.Writer{console}
	if cfg.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}

	var w io.Writer = writers[0]
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}
