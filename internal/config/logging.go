// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

type logOutput struct {
	file *lumberjack.Logger
}

// ApplyLogConfig configures the global zerolog logger: pretty console output
// on a terminal, JSON otherwise, plus an optional rotating log file.
func (c *AppConfig) ApplyLogConfig() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	setLogLevel(c.Config.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339

	var stdout io.Writer = os.Stdout
	if term.IsTerminal(int(os.Stdout.Fd())) {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}
	}

	writers := []io.Writer{stdout}

	if c.logging != nil && c.logging.file != nil {
		_ = c.logging.file.Close()
		c.logging = nil
	}

	if c.Config.LogPath != "" {
		path := c.Config.LogPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(c.ConfigDir(), path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errors.Wrap(err, "could not create log directory")
		}

		file := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    c.Config.LogMaxSize,
			MaxBackups: c.Config.LogMaxBackups,
		}
		c.logging = &logOutput{file: file}
		writers = append(writers, file)
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	return nil
}

// CloseLogs stops pending reloads and closes the log file, if any.
func (c *AppConfig) CloseLogs() error {
	if c.reload != nil {
		c.reload.Stop()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.logging == nil || c.logging.file == nil {
		return nil
	}
	err := c.logging.file.Close()
	c.logging = nil
	return err
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
