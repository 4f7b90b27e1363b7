// Package logging wraps log/slog for witnessd: leveled text/JSON
// output, per-component child loggers, size-based rotation, attribute
// redaction, and the append-only audit trail.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level aliases slog.Level so callers need only this package.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format selects the output encoding.
type Format int

const (
	// FormatText outputs human-readable text logs.
	FormatText Format = iota
	// FormatJSON outputs JSON-structured logs.
	FormatJSON
)

// Config holds the logging configuration.
type Config struct {
	Level  Level
	Format Format

	// Output routes logs: "stdout", "stderr", "file", or "both".
	Output string

	// FilePath is the rotated log file when Output includes "file".
	FilePath string

	// Rotation policy.
	MaxSize    int64 // megabytes per file
	MaxAge     int   // days to keep rotated files
	MaxBackups int
	Compress   bool

	AddSource bool

	// RedactPatterns supplements the built-in sensitive-key redaction.
	RedactPatterns []string

	Component string
}

// DefaultConfig logs info-level text to stderr with rotation defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     "stderr",
		FilePath:   defaultLogPath(),
		MaxSize:    100,
		MaxAge:     30,
		MaxBackups: 5,
		Compress:   true,
		Component:  "witnessd",
	}
}

func defaultLogPath() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", "witnessd", "witnessd.log")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "witnessd", "logs", "witnessd.log")
	default:
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			homeDir, _ := os.UserHomeDir()
			stateHome = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateHome, "witnessd", "witnessd.log")
	}
}

// Logger wraps slog.Logger with rotation and request-ID support.
type Logger struct {
	*slog.Logger
	config    *Config
	writers   []io.Writer
	rotator   *FileRotator
	mu        sync.RWMutex
	requestID atomic.Uint64
}

var (
	defaultLogger *Logger
	loggerOnce    sync.Once
)

// Default returns the process-wide logger, creating it on first use.
func Default() *Logger {
	loggerOnce.Do(func() {
		var err error
		defaultLogger, err = New(DefaultConfig())
		if err != nil {
			defaultLogger = &Logger{
				Logger: slog.Default(),
				config: DefaultConfig(),
			}
		}
	})
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	defaultLogger = l
	slog.SetDefault(l.Logger)
}

// New builds a Logger from the configuration.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Logger{config: cfg}
	if err := l.setupWriters(); err != nil {
		return nil, fmt.Errorf("setup writers: %w", err)
	}

	var w io.Writer
	if len(l.writers) == 1 {
		w = l.writers[0]
	} else {
		w = io.MultiWriter(l.writers...)
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if shouldRedact(a.Key) {
				a.Value = slog.StringValue("[REDACTED]")
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	if cfg.Component != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("component", cfg.Component)})
	}

	l.Logger = slog.New(handler)
	return l, nil
}

func (l *Logger) setupWriters() error {
	addRotator := func() error {
		rotator, err := NewFileRotator(l.config)
		if err != nil {
			return err
		}
		l.rotator = rotator
		l.writers = append(l.writers, rotator)
		return nil
	}

	switch strings.ToLower(l.config.Output) {
	case "stdout":
		l.writers = append(l.writers, os.Stdout)
	case "file":
		return addRotator()
	case "both":
		l.writers = append(l.writers, os.Stderr)
		return addRotator()
	default: // "stderr" and anything unrecognized
		l.writers = append(l.writers, os.Stderr)
	}
	return nil
}

// shouldRedact matches attribute keys that look secret-bearing.
func shouldRedact(key string) bool {
	sensitiveKeys := []string{
		"password", "secret", "token", "key", "credential",
		"private", "auth", "session", "cookie", "api_key",
		"apikey", "access_token", "refresh_token", "bearer",
	}
	keyLower := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(keyLower, sensitive) {
			return true
		}
	}
	return false
}

// WithRequestID attaches a request ID to a child logger.
func (l *Logger) WithRequestID(id string) *Logger {
	return &Logger{
		Logger:  l.Logger.With(slog.String("request_id", id)),
		config:  l.config,
		writers: l.writers,
		rotator: l.rotator,
	}
}

// NewRequestID mints a unique request ID.
func (l *Logger) NewRequestID() string {
	id := l.requestID.Add(1)
	return fmt.Sprintf("%s-%d-%d", l.config.Component, time.Now().UnixNano(), id)
}

// WithComponent attaches a component name to a child logger.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger:  l.Logger.With(slog.String("component", name)),
		config:  l.config,
		writers: l.writers,
		rotator: l.rotator,
	}
}

// WithContext lifts a request ID out of the context, when present.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if reqID := RequestIDFromContext(ctx); reqID != "" {
		return l.WithRequestID(reqID)
	}
	return l
}

// Close closes the rotated log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// Sync flushes buffered entries to disk.
func (l *Logger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rotator != nil {
		return l.rotator.Sync()
	}
	return nil
}

type contextKey int

const requestIDKey contextKey = iota

// ContextWithRequestID stores a request ID in the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext reads a request ID back out of the context.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Package-level convenience wrappers over the default logger.

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }

func Info(msg string, args ...any) { Default().Info(msg, args...) }

func Warn(msg string, args ...any) { Default().Warn(msg, args...) }

func Error(msg string, args ...any) { Default().Error(msg, args...) }

func DebugContext(ctx context.Context, msg string, args ...any) {
	Default().WithContext(ctx).DebugContext(ctx, msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	Default().WithContext(ctx).InfoContext(ctx, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	Default().WithContext(ctx).WarnContext(ctx, msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	Default().WithContext(ctx).ErrorContext(ctx, msg, args...)
}

// ParseLevel maps a config string onto a level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// LevelString renders a level for config output.
func LevelString(level Level) string {
	switch level {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}
