// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures logrus from the [logging] config section.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/aicli/internal/config"
)

// Setup applies cfg to logger. --debug forces the debug level. Output goes
// to cfg.File when set (a bare name is placed under ~/.aicli/logs),
// otherwise to stderr; stdout is never used. The returned closer releases
// the log file.
func Setup(logger *logrus.Logger, cfg config.LoggingConfig, debug bool) (io.Closer, error) {
	lvl, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if debug {
		lvl = logrus.DebugLevel
	}
	logger.SetLevel(lvl)

	out := io.Writer(os.Stderr)
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		path, err := FilePath(cfg.File)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}
	logger.SetOutput(out)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(new(logrus.JSONFormatter))
	case "text", "":
		formatter := &logrus.TextFormatter{DisableColors: cfg.File != ""}
		// the default setting does not recognize cygwin on windows
		if cfg.File == "" && runtime.GOOS == "windows" && isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			formatter.ForceColors = true
		}
		logger.SetFormatter(formatter)
	default:
		closer.Close()
		return nil, fmt.Errorf("unsupported log format: %q", cfg.Format)
	}
	return closer, nil
}

// FilePath resolves a configured log file name.
func FilePath(name string) (string, error) {
	if filepath.IsAbs(name) {
		return name, nil
	}
	if strings.HasPrefix(name, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, name[2:]), nil
	}
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs", name), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
