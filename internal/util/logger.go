// Package util provides utility functions used throughout the w3gshost application.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`

	// HostCounter, when non-zero, is folded into the log file name so
	// logs from two lobbies hosted back-to-back on the same machine (a
	// fresh host_counter each run, spec §3) don't append into the same
	// file. Zero means "not yet known" — InitLogger falls back to a
	// plain date-stamped name, which is what happens during the config
	// bootstrap window before a session exists.
	HostCounter uint32
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxSizeMB:  10,
		MaxBackups: 5,
		Console:    true,
	}
}

// InitLogger initializes the zerolog global logger with file and console output.
func InitLogger(cfg LogConfig) error {
	// Parse log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure time format
	zerolog.TimeFieldFormat = time.RFC3339

	// Create log directory
	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
	}

	// Create log file, named after the lobby's host_counter once one has
	// been drawn so concurrent or sequential lobbies don't share a file.
	var logFileName string
	if cfg.HostCounter != 0 {
		logFileName = fmt.Sprintf("w3gshost_%08x_%s.log", cfg.HostCounter, time.Now().Format("2006-01-02"))
	} else {
		logFileName = fmt.Sprintf("w3gshost_%s.log", time.Now().Format("2006-01-02"))
	}
	logFilePath := filepath.Join(cfg.Directory, logFileName)

	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}

	// Build writers
	var writers []io.Writer

	// File writer (JSON format for machine parsing)
	writers = append(writers, logFile)

	// Console writer (human-readable format)
	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
			NoColor:    false,
		}
		writers = append(writers, consoleWriter)
	}

	// Multi-writer: both file and console
	multi := zerolog.MultiLevelWriter(writers...)

	logCtx := zerolog.New(multi).With().Timestamp().Caller()
	if cfg.HostCounter != 0 {
		logCtx = logCtx.Str("host_counter", fmt.Sprintf("%08x", cfg.HostCounter))
	}
	log.Logger = logCtx.Logger()

	log.Info().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	// Clean up old log files
	go cleanOldLogs(cfg.Directory, cfg.MaxBackups)

	return nil
}

// cleanOldLogs removes log files older than the retention limit.
func cleanOldLogs(directory string, maxBackups int) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return
	}

	var logFiles []os.DirEntry
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".log" {
			logFiles = append(logFiles, entry)
		}
	}

	// Remove oldest files if exceeding max backups
	if len(logFiles) > maxBackups {
		// Sort by modification time (oldest first) and remove excess
		modTime := func(e os.DirEntry) time.Time {
			if info, err := e.Info(); err == nil {
				return info.ModTime()
			}
			return time.Time{}
		}
		sort.Slice(logFiles, func(i, j int) bool {
			return modTime(logFiles[i]).Before(modTime(logFiles[j]))
		})
		for i := 0; i < len(logFiles)-maxBackups; i++ {
			path := filepath.Join(directory, logFiles[i].Name())
			os.Remove(path)
			log.Debug().Str("file", path).Msg("removed old log file")
		}
	}
}

// ComponentLogger returns a logger scoped to one package (session,
// hostloop, announcer, telemetry, statusapi, cli, ...) so its lines
// carry a "component" field instead of each call site repeating the
// package name in the message text.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
