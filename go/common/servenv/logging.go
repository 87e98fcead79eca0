// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package servenv

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/pflag"
)

// Logger builds the process logger from the log-level, log-format and
// log-output settings of a Config.
type Logger struct {
	cfg *Config

	// stdout and stderr are the writers behind the "stdout" and "stderr"
	// outputs.
	stdout io.Writer
	stderr io.Writer

	mu     sync.Mutex
	logger *slog.Logger
	file   *os.File
}

func NewLogger(cfg *Config) *Logger {
	cfg.v.SetDefault("log-level", "info")
	cfg.v.SetDefault("log-format", "json")
	cfg.v.SetDefault("log-output", "stdout")
	return &Logger{cfg: cfg, stdout: os.Stdout, stderr: os.Stderr}
}

// RegisterFlags registers logging-related command line flags.
func (lg *Logger) RegisterFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("log-format", "json", "Log format (json, text)")
	fs.String("log-output", "stdout", "Log output (stdout, stderr, or file path)")
}

// ParseLevel maps a level name onto a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// SetupLogging creates the logger, installs it as the slog default and
// returns it. wrap, if non-nil, decorates the handler (for example with
// trace correlation). Calling SetupLogging again replaces the logger.
func (lg *Logger) SetupLogging(wrap func(slog.Handler) slog.Handler) (*slog.Logger, error) {
	v := lg.cfg.v
	levelStr, formatStr, outputStr := v.GetString("log-level"), v.GetString("log-format"), v.GetString("log-output")

	level, err := ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}

	var (
		output io.Writer
		file   *os.File
	)
	switch strings.ToLower(outputStr) {
	case "", "stdout":
		output = lg.stdout
	case "stderr":
		output = lg.stderr
	default:
		file, err = os.OpenFile(outputStr, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log output: %w", err)
		}
		output = file
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(formatStr) {
	case "", "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		if file != nil {
			_ = file.Close()
		}
		return nil, fmt.Errorf("unknown log format %q", formatStr)
	}
	if wrap != nil {
		handler = wrap(handler)
	}

	newLogger := slog.New(handler)
	slog.SetDefault(newLogger)

	lg.mu.Lock()
	prev := lg.file
	lg.logger, lg.file = newLogger, file
	lg.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	newLogger.Info("logging initialized",
		"level", levelStr,
		"format", formatStr,
		"output", outputStr,
	)
	return newLogger, nil
}

// GetLogger returns the configured logger, or slog.Default before
// SetupLogging has run.
func (lg *Logger) GetLogger() *slog.Logger {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	if lg.logger == nil {
		return slog.Default()
	}
	return lg.logger
}

// Close closes the log file, if logging goes to one.
func (lg *Logger) Close() error {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	if lg.file == nil {
		return nil
	}
	err := lg.file.Close()
	lg.file = nil
	return err
}
