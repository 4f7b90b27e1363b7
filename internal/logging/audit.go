package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"witnessd/internal/security"
)

// AuditEventType tags the kind of security-relevant event.
type AuditEventType string

const (
	AuditEventSessionStart AuditEventType = "session_start"
	AuditEventSessionEnd   AuditEventType = "session_end"
	AuditEventCheckpoint   AuditEventType = "checkpoint"
	AuditEventVerification AuditEventType = "verification"
	AuditEventExport       AuditEventType = "export"
	AuditEventAnchor       AuditEventType = "anchor"
	AuditEventError        AuditEventType = "error"
	AuditEventStartup      AuditEventType = "startup"
	AuditEventShutdown     AuditEventType = "shutdown"
)

// AuditEvent is one line of the append-only audit trail.
type AuditEvent struct {
	Timestamp  time.Time              `json:"timestamp"`
	EventType  AuditEventType         `json:"event_type"`
	Component  string                 `json:"component"`
	SessionID  string                 `json:"session_id,omitempty"`
	DeviceID   string                 `json:"device_id,omitempty"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource,omitempty"`
	Result     string                 `json:"result"` // "success", "failure", "denied"
	Details    map[string]interface{} `json:"details,omitempty"`
	SourceFile string                 `json:"source_file,omitempty"`
	SourceLine int                    `json:"source_line,omitempty"`
	Error      string                 `json:"error,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
}

// AuditLoggerConfig configures the audit trail.
type AuditLoggerConfig struct {
	FilePath   string
	MaxSize    int64 // megabytes
	MaxAge     int   // days
	MaxBackups int
	Compress   bool
	Component  string
	DeviceID   string
}

// DefaultAuditConfig keeps 90 days of compressed audit logs.
func DefaultAuditConfig() *AuditLoggerConfig {
	return &AuditLoggerConfig{
		FilePath:   defaultAuditLogPath(),
		MaxSize:    50,
		MaxAge:     90,
		MaxBackups: 10,
		Compress:   true,
		Component:  "witnessd",
	}
}

func defaultAuditLogPath() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", "witnessd", "audit.log")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "witnessd", "logs", "audit.log")
	default:
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			homeDir, _ := os.UserHomeDir()
			stateHome = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateHome, "witnessd", "audit.log")
	}
}

// AuditLogger writes the audit trail through its own rotator, separate
// from operational logs.
type AuditLogger struct {
	config    *AuditLoggerConfig
	rotator   *FileRotator
	logger    *slog.Logger
	mu        sync.Mutex
	sessionID string
}

var (
	defaultAuditLogger *AuditLogger
	auditLoggerOnce    sync.Once
)

// DefaultAuditLogger returns the process-wide audit logger.
func DefaultAuditLogger() *AuditLogger {
	auditLoggerOnce.Do(func() {
		var err error
		defaultAuditLogger, err = NewAuditLogger(DefaultAuditConfig())
		if err != nil {
			defaultAuditLogger = &AuditLogger{
				config: DefaultAuditConfig(),
				logger: slog.Default(),
			}
		}
	})
	return defaultAuditLogger
}

// NewAuditLogger builds an audit logger over a dedicated rotator.
func NewAuditLogger(cfg *AuditLoggerConfig) (*AuditLogger, error) {
	if cfg == nil {
		cfg = DefaultAuditConfig()
	}

	rotator, err := NewFileRotator(&Config{
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		Format:     FormatJSON,
		Level:      LevelInfo,
	})
	if err != nil {
		return nil, fmt.Errorf("create audit rotator: %w", err)
	}

	return &AuditLogger{
		config:  cfg,
		rotator: rotator,
		logger:  slog.New(slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: LevelInfo})),
	}, nil
}

// SetSessionID attaches a session ID to subsequent events.
func (a *AuditLogger) SetSessionID(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = sessionID
}

// Log writes one audit event, filling defaults and source location.
func (a *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Component == "" {
		event.Component = a.config.Component
	}
	if event.SessionID == "" {
		event.SessionID = a.sessionID
	}
	if event.DeviceID == "" {
		event.DeviceID = a.config.DeviceID
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}
	if event.SourceFile == "" {
		if _, file, line, ok := runtime.Caller(1); ok {
			event.SourceFile = file
			event.SourceLine = line
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	data = append(data, '\n')
	if _, err := a.rotator.Write(data); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

func resultString(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// LogSessionStart records a session opening and pins its ID.
func (a *AuditLogger) LogSessionStart(ctx context.Context, sessionID string, details map[string]interface{}) error {
	a.SetSessionID(sessionID)
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventSessionStart,
		Action:    "session_started",
		Result:    "success",
		SessionID: sessionID,
		Details:   details,
	})
}

// LogSessionEnd records a session closing and clears the pinned ID.
func (a *AuditLogger) LogSessionEnd(ctx context.Context, details map[string]interface{}) error {
	err := a.Log(ctx, AuditEvent{
		EventType: AuditEventSessionEnd,
		Action:    "session_ended",
		Result:    "success",
		Details:   details,
	})
	a.SetSessionID("")
	return err
}

// LogCheckpoint records a checkpoint commit.
func (a *AuditLogger) LogCheckpoint(ctx context.Context, filePath, checkpointID string, details map[string]interface{}) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventCheckpoint,
		Action:    "checkpoint_created",
		Resource:  filePath,
		Result:    "success",
		Details:   details,
	})
}

// LogVerification records a verification run and its outcome.
func (a *AuditLogger) LogVerification(ctx context.Context, resource string, success bool, details map[string]interface{}) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventVerification,
		Action:    "verification_performed",
		Resource:  resource,
		Result:    resultString(success),
		Details:   details,
	})
}

// LogExport records an evidence packet export.
func (a *AuditLogger) LogExport(ctx context.Context, filePath, outputPath string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventExport,
		Action:    "evidence_exported",
		Resource:  filePath,
		Result:    "success",
		Details: map[string]interface{}{
			"output_path": outputPath,
		},
	})
}

// LogAnchor records an external-anchor submission.
func (a *AuditLogger) LogAnchor(ctx context.Context, anchorType, resource string, success bool, details map[string]interface{}) error {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["anchor_type"] = anchorType
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventAnchor,
		Action:    "anchor_created",
		Resource:  resource,
		Result:    resultString(success),
		Details:   details,
	})
}

// LogError records a failure; the error string passes through redaction
// first so an embedded secret never reaches the trail.
func (a *AuditLogger) LogError(ctx context.Context, operation string, err error, details map[string]interface{}) error {
	if details == nil {
		details = make(map[string]interface{})
	}
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventError,
		Action:    operation,
		Result:    "failure",
		Error:     security.SanitizeLogOutput(err.Error()),
		Details:   details,
	})
}

// LogStartup records process startup.
func (a *AuditLogger) LogStartup(ctx context.Context, version string, details map[string]interface{}) error {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["version"] = version
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventStartup,
		Action:    "daemon_started",
		Result:    "success",
		Details:   details,
	})
}

// LogShutdown records process shutdown.
func (a *AuditLogger) LogShutdown(ctx context.Context, reason string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventShutdown,
		Action:    "daemon_stopped",
		Result:    "success",
		Details: map[string]interface{}{
			"reason": reason,
		},
	})
}

// Close closes the audit rotator.
func (a *AuditLogger) Close() error {
	if a.rotator != nil {
		return a.rotator.Close()
	}
	return nil
}

// Sync flushes buffered audit events.
func (a *AuditLogger) Sync() error {
	if a.rotator != nil {
		return a.rotator.Sync()
	}
	return nil
}

// Default-logger convenience wrappers.

func AuditSessionStart(ctx context.Context, sessionID string, details map[string]interface{}) error {
	return DefaultAuditLogger().LogSessionStart(ctx, sessionID, details)
}

func AuditSessionEnd(ctx context.Context, details map[string]interface{}) error {
	return DefaultAuditLogger().LogSessionEnd(ctx, details)
}

func AuditCheckpoint(ctx context.Context, filePath, checkpointID string, details map[string]interface{}) error {
	return DefaultAuditLogger().LogCheckpoint(ctx, filePath, checkpointID, details)
}

func AuditError(ctx context.Context, operation string, err error, details map[string]interface{}) error {
	return DefaultAuditLogger().LogError(ctx, operation, err, details)
}

// AuditAnchor records when a checkpoint chain's tip leaves the local
// machine for an external timestamp authority.
func AuditAnchor(ctx context.Context, anchorType, resource string, success bool, details map[string]interface{}) error {
	return DefaultAuditLogger().LogAnchor(ctx, anchorType, resource, success, details)
}
