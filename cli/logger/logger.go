package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Options struct {
	Level  string `doc:"log from debug, info, warn or error"`
	File   string `doc:"append logs to file, - for stdout"`
	Format string `doc:"format logs as text or json"              default:"text"`
	Source bool   `doc:"add the source code position to log lines"`
}

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func level(option string) (slog.Leveler, bool) {
	if option == "" {
		return nil, true
	}
	l, ok := levels[strings.ToLower(option)]
	return l, ok
}

// New builds a logger from options. Invalid options are reset to their
// defaults and reported with a warning on the resulting logger.
func New(options *Options) *slog.Logger {
	level, ok := level(options.Level)
	if !ok {
		options.Level = ""
		logger := New(options)
		logger.Warn("could not parse logger level")
		return logger
	}
	opts := slog.HandlerOptions{Level: level, AddSource: options.Source}

	var output io.Writer
	switch options.File {
	case "", "-":
		output = os.Stdout
	case os.DevNull:
		return slog.New(slog.DiscardHandler)
	default:
		var err error
		output, err = os.OpenFile(options.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			options.File = ""
			logger := New(options)
			logger.Warn("could not open logger file", "err", err)
			return logger
		}
	}

	switch strings.ToLower(options.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(output, &opts))
	case "text":
		return slog.New(slog.NewTextHandler(output, &opts))
	default:
		options.Format = "text"
		logger := New(options)
		logger.Warn("could not parse logger format")
		return logger
	}
}
