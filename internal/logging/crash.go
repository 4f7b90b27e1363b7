package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// CrashReport is the JSON dump written when a panic reaches the
// handler: enough environment and stack to diagnose without rerunning.
type CrashReport struct {
	Timestamp    time.Time              `json:"timestamp"`
	Version      string                 `json:"version"`
	BuildInfo    *debug.BuildInfo       `json:"build_info,omitempty"`
	GOOS         string                 `json:"goos"`
	GOARCH       string                 `json:"goarch"`
	NumCPU       int                    `json:"num_cpu"`
	NumGoroutine int                    `json:"num_goroutine"`
	MemStats     *runtime.MemStats      `json:"mem_stats,omitempty"`
	PanicValue   string                 `json:"panic_value"`
	StackTrace   string                 `json:"stack_trace"`
	Component    string                 `json:"component,omitempty"`
	SessionID    string                 `json:"session_id,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	Context      map[string]interface{} `json:"context,omitempty"`
}

// CrashHandler recovers panics and writes crash dumps.
type CrashHandler struct {
	mu        sync.Mutex
	crashDir  string
	version   string
	component string
	sessionID string
	onCrash   func(CrashReport)
}

// CrashHandlerConfig configures the handler.
type CrashHandlerConfig struct {
	CrashDir  string
	Version   string
	Component string
	// OnCrash runs after each dump is written.
	OnCrash func(CrashReport)
}

// DefaultCrashDir is the platform crash-dump directory.
func DefaultCrashDir() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", "DiagnosticReports", "witnessd")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "witnessd", "crashes")
	default:
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			homeDir, _ := os.UserHomeDir()
			stateHome = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateHome, "witnessd", "crashes")
	}
}

var (
	globalCrashHandler *CrashHandler
	crashHandlerOnce   sync.Once
)

// DefaultCrashHandler returns the process-wide handler.
func DefaultCrashHandler() *CrashHandler {
	crashHandlerOnce.Do(func() {
		globalCrashHandler = NewCrashHandler(&CrashHandlerConfig{
			CrashDir:  DefaultCrashDir(),
			Component: "witnessd",
		})
	})
	return globalCrashHandler
}

// NewCrashHandler builds a handler, creating the crash directory.
func NewCrashHandler(cfg *CrashHandlerConfig) *CrashHandler {
	if cfg == nil {
		cfg = &CrashHandlerConfig{}
	}
	if cfg.CrashDir == "" {
		cfg.CrashDir = DefaultCrashDir()
	}
	os.MkdirAll(cfg.CrashDir, 0750)

	return &CrashHandler{
		crashDir:  cfg.CrashDir,
		version:   cfg.Version,
		component: cfg.Component,
		onCrash:   cfg.OnCrash,
	}
}

// SetVersion records the application version for reports.
func (h *CrashHandler) SetVersion(version string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.version = version
}

// SetSessionID records the live session ID for reports.
func (h *CrashHandler) SetSessionID(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessionID = sessionID
}

// HandlePanic builds and writes a crash report for a recovered panic.
func (h *CrashHandler) HandlePanic(panicValue interface{}, contextInfo map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	report := CrashReport{
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
		PanicValue:   fmt.Sprintf("%v", panicValue),
		StackTrace:   string(debug.Stack()),
		Component:    h.component,
		SessionID:    h.sessionID,
		Context:      contextInfo,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		report.BuildInfo = bi
	}
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	report.MemStats = &memStats

	h.writeCrashDump(report)

	if h.onCrash != nil {
		h.onCrash(report)
	}

	fmt.Fprintf(os.Stderr, "\n=== CRASH REPORT ===\n")
	fmt.Fprintf(os.Stderr, "Time: %s\n", report.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(os.Stderr, "Panic: %s\n", report.PanicValue)
	fmt.Fprintf(os.Stderr, "Stack trace:\n%s\n", report.StackTrace)
	fmt.Fprintf(os.Stderr, "Crash dump written to: %s\n", h.crashDir)
}

func (h *CrashHandler) writeCrashDump(report CrashReport) error {
	filename := fmt.Sprintf("crash-%s-%s.json",
		report.Component, report.Timestamp.Format("20060102-150405"))

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal crash report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(h.crashDir, filename), data, 0640); err != nil {
		return fmt.Errorf("write crash report: %w", err)
	}
	return nil
}

// GetCrashReports loads every parseable dump in the crash directory.
func (h *CrashHandler) GetCrashReports() ([]CrashReport, error) {
	files, err := filepath.Glob(filepath.Join(h.crashDir, "crash-*.json"))
	if err != nil {
		return nil, err
	}

	reports := make([]CrashReport, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		var report CrashReport
		if err := json.Unmarshal(data, &report); err != nil {
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// CleanupOldCrashReports removes dumps older than maxAge.
func (h *CrashHandler) CleanupOldCrashReports(maxAge time.Duration) error {
	files, err := filepath.Glob(filepath.Join(h.crashDir, "crash-*.json"))
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(file)
		}
	}
	return nil
}

// RecoverPanic recovers a panic into a crash dump.
// Usage: defer logging.RecoverPanic()
func RecoverPanic() {
	if r := recover(); r != nil {
		DefaultCrashHandler().HandlePanic(r, nil)
	}
}

// RecoverPanicWith is RecoverPanic with extra context fields.
func RecoverPanicWith(context map[string]interface{}) {
	if r := recover(); r != nil {
		DefaultCrashHandler().HandlePanic(r, context)
	}
}
