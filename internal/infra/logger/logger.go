// Package logger provides structured logging using zerolog.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for file output.
const (
	maxFileSizeMB  = 10
	maxFileBackups = 10
)

// Config represents logger configuration.
type Config struct {
	Output string // "stdout", "stderr", "none", or "file"
	Level  string // "debug", "info", "warn", "error"
	File   string // log file path; written as JSON in addition to Output
}

// Init initializes the global zerolog logger with the given configuration.
// The returned closer releases the log file, if any.
func Init(cfg Config) (io.Closer, error) {
	level := parseLevel(cfg.Level)

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFieldName = "time"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "message"

	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		parts := strings.Split(file, string(filepath.Separator))
		if len(parts) > 1 {
			return filepath.Join(parts[len(parts)-2:]...) + ":" + strconv.Itoa(line)
		}
		return filepath.Base(file) + ":" + strconv.Itoa(line)
	}

	var writers []io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout", "":
		writers = append(writers, consoleWriter(os.Stdout, level))
	case "stderr":
		writers = append(writers, consoleWriter(os.Stderr, level))
	case "none", "file":
	default:
		return nil, &os.PathError{Op: "init", Path: cfg.Output, Err: os.ErrInvalid}
	}

	// JSON output for files, rotated by size
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, err
		}
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxFileSizeMB,
			MaxBackups: maxFileBackups,
		}
		writers = append(writers, rotating)
		closer = rotating
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp()
	if level == zerolog.DebugLevel {
		// Add Caller only for DEBUG level
		ctx = ctx.Caller()
	}
	logger := ctx.Logger()

	zerolog.DefaultContextLogger = &logger
	zlog.Logger = logger

	return closer, nil
}

// consoleWriter returns a colored human-readable writer.
func consoleWriter(out io.Writer, level zerolog.Level) zerolog.ConsoleWriter {
	w := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.TimeOnly,
	}
	if level == zerolog.DebugLevel {
		w.PartsOrder = []string{"time", "level", "message", "caller"}
		w.FormatCaller = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return "(" + s + ")"
			}
			return ""
		}
	}
	return w
}

// parseLevel parses the log level string.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
