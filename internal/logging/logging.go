package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tendant/simple-image-forensics/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup configures zerolog from cfg, installs the result as the global
// logger and returns it. The closer releases the optional log file.
// Uses console writer for human-readable logs by default.
func Setup(cfg config.LogConfig) (zerolog.Logger, io.Closer, error) {
	return setup(cfg, os.Stdout)
}

func setup(cfg config.LogConfig, stdout io.Writer) (zerolog.Logger, io.Closer, error) {
	// Timestamp format
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var out io.Writer = stdout
	if !strings.EqualFold(cfg.Format, "json") {
		out = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = stdout
			w.TimeFormat = time.RFC3339
		})
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		out = zerolog.MultiLevelWriter(out, f)
		closer = f
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	return logger, closer, nil
}
