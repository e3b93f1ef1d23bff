// Package logging provides structured logging functionality.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "surge-scanner", "logs", "scanner.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	// Console writer
	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				if ll, ok := i.(string); ok {
					switch ll {
					case "debug":
						return "\033[36mDBG\033[0m"
					case "info":
						return "\033[32mINF\033[0m"
					case "warn":
						return "\033[33mWRN\033[0m"
					case "error":
						return "\033[31mERR\033[0m"
					default:
						return ll
					}
				}
				return "???"
			},
		}
		writers = append(writers, consoleWriter)
	}

	// File writer with rotation
	if cfg.File {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			fileWriter := &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			}
			writers = append(writers, fileWriter)
		}
	}

	var writer io.Writer
	if len(writers) == 0 {
		writer = os.Stdout
	} else if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	return zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// WithTicker adds a ticker symbol to the logger context.
func WithTicker(logger zerolog.Logger, ticker string) zerolog.Logger {
	return logger.With().Str("ticker", ticker).Logger()
}

// WithPattern adds a pattern id to the logger context.
func WithPattern(logger zerolog.Logger, patternID string) zerolog.Logger {
	return logger.With().Str("pattern_id", patternID).Logger()
}

// WithNode adds a stage node id to the logger context.
func WithNode(logger zerolog.Logger, nodeID string) zerolog.Logger {
	return logger.With().Str("node", nodeID).Logger()
}

// LogStageOpen logs the opening of a stage instance.
func LogStageOpen(logger zerolog.Logger, instanceID, nodeID string, date time.Time, peakPrice float64) {
	logger.Info().
		Str("event", "stage_open").
		Str("instance_id", instanceID).
		Str("node", nodeID).
		Time("date", date).
		Float64("peak_price", peakPrice).
		Msg("Stage instance opened")
}

// LogStageClose logs the closing of a stage instance.
func LogStageClose(logger zerolog.Logger, instanceID, reason string, date time.Time) {
	logger.Info().
		Str("event", "stage_close").
		Str("instance_id", instanceID).
		Str("reason", reason).
		Time("date", date).
		Msg("Stage instance closed")
}

// LogRedetection logs a redetection event transition.
func LogRedetection(logger zerolog.Logger, parentID string, seq int, action string, date time.Time) {
	logger.Info().
		Str("event", "redetection").
		Str("parent_id", parentID).
		Int("seq", seq).
		Str("action", action).
		Time("date", date).
		Msg("Redetection event")
}

// LogEvalFailure logs a failed condition evaluation. Evaluation failures are
// fail-closed and never interrupt the scan.
func LogEvalFailure(logger zerolog.Logger, label string, err error) {
	logger.Debug().
		Str("event", "eval_failure").
		Str("condition", label).
		Err(err).
		Msg("Condition evaluation failed, treated as not satisfied")
}
