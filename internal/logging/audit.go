// Package logging provides structured logging with slog for keybox.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// AuditEventType classifies a security-relevant event.
type AuditEventType string

// Audit event types. Every access to sealed key material is auditable;
// events carry container fingerprints and public outputs only, never
// secrets.
const (
	AuditEventKeyGenerated AuditEventType = "key_generated"
	AuditEventKeyImported  AuditEventType = "key_imported"
	AuditEventKeyAccess    AuditEventType = "key_access"
	AuditEventSign         AuditEventType = "sign"
	AuditEventVerification AuditEventType = "verification"
	AuditEventExport       AuditEventType = "export"
	AuditEventError        AuditEventType = "error"
)

// AuditEvent is one entry in the audit trail.
type AuditEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventType   AuditEventType `json:"event_type"`
	Component   string         `json:"component"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Action      string         `json:"action"`
	Resource    string         `json:"resource,omitempty"`
	Result      string         `json:"result"` // "success" or "failure"
	Details     map[string]any `json:"details,omitempty"`
	Error       string         `json:"error,omitempty"`
	OpID        string         `json:"op_id,omitempty"`
}

// AuditLoggerConfig holds configuration for the audit logger.
type AuditLoggerConfig struct {
	// FilePath is the path to the audit log file.
	FilePath string

	// MaxSize is the maximum size in MB before rotation.
	MaxSize int64

	// MaxAge is the maximum age in days before deletion.
	MaxAge int

	// MaxBackups is the maximum number of rotated files to keep.
	MaxBackups int

	// Compress determines if rotated logs should be compressed.
	Compress bool

	// Component is the component name for audit events.
	Component string
}

// DefaultAuditConfig returns default audit logger configuration.
func DefaultAuditConfig() *AuditLoggerConfig {
	return &AuditLoggerConfig{
		FilePath:   defaultAuditLogPath(),
		MaxSize:    50, // 50 MB
		MaxAge:     90, // 90 days
		MaxBackups: 10,
		Compress:   true,
		Component:  "keybox",
	}
}

// defaultAuditLogPath returns the platform-specific default audit log path.
func defaultAuditLogPath() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", "keybox", "audit.log")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "keybox", "logs", "audit.log")
	default:
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			homeDir, _ := os.UserHomeDir()
			stateHome = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateHome, "keybox", "audit.log")
	}
}

// AuditLogger writes the append-only audit trail as JSON lines.
type AuditLogger struct {
	config  *AuditLoggerConfig
	rotator *FileRotator
	out     io.Writer
	mu      sync.Mutex
}

var (
	defaultAuditLogger *AuditLogger
	auditLoggerOnce    sync.Once
)

// DefaultAuditLogger returns the default global audit logger.
func DefaultAuditLogger() *AuditLogger {
	auditLoggerOnce.Do(func() {
		var err error
		defaultAuditLogger, err = NewAuditLogger(DefaultAuditConfig())
		if err != nil {
			// Fallback that writes to stderr
			defaultAuditLogger = &AuditLogger{
				config: DefaultAuditConfig(),
				out:    os.Stderr,
			}
		}
	})
	return defaultAuditLogger
}

// SetDefaultAuditLogger sets the default global audit logger.
func SetDefaultAuditLogger(l *AuditLogger) {
	// Consume the once so a later DefaultAuditLogger() keeps this logger.
	auditLoggerOnce.Do(func() {})
	defaultAuditLogger = l
}

// NewAuditLogger creates an AuditLogger backed by a rotating file.
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
	})
	if err != nil {
		return nil, fmt.Errorf("create audit rotator: %w", err)
	}

	return &AuditLogger{
		config:  cfg,
		rotator: rotator,
		out:     rotator,
	}, nil
}

// Log writes an audit event.
func (a *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Component == "" {
		event.Component = a.config.Component
	}
	if event.OpID == "" {
		event.OpID = OperationIDFromContext(ctx)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	data = append(data, '\n')
	if _, err := a.out.Write(data); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// LogKeyGenerated records creation of a new sealed container.
func (a *AuditLogger) LogKeyGenerated(ctx context.Context, keyType, fingerprint string) error {
	return a.Log(ctx, AuditEvent{
		EventType:   AuditEventKeyGenerated,
		Action:      "key_generated",
		Fingerprint: fingerprint,
		Result:      "success",
		Details:     map[string]any{"key_type": keyType},
	})
}

// LogKeyImported records sealing of externally supplied key material.
func (a *AuditLogger) LogKeyImported(ctx context.Context, keyType, fingerprint string) error {
	return a.Log(ctx, AuditEvent{
		EventType:   AuditEventKeyImported,
		Action:      "key_imported",
		Fingerprint: fingerprint,
		Result:      "success",
		Details:     map[string]any{"key_type": keyType},
	})
}

// LogKeyAccess records one decrypt-use-wipe cycle against a container.
func (a *AuditLogger) LogKeyAccess(ctx context.Context, fingerprint, operation string, success bool) error {
	result := "success"
	if !success {
		result = "failure"
	}
	return a.Log(ctx, AuditEvent{
		EventType:   AuditEventKeyAccess,
		Action:      operation,
		Fingerprint: fingerprint,
		Result:      result,
	})
}

// LogSign records a transaction signing operation: which container signed,
// the transaction id, and how many witnesses were produced.
func (a *AuditLogger) LogSign(ctx context.Context, fingerprint, txID string, witnesses int, success bool) error {
	result := "success"
	if !success {
		result = "failure"
	}
	return a.Log(ctx, AuditEvent{
		EventType:   AuditEventSign,
		Action:      "sign_transaction",
		Fingerprint: fingerprint,
		Resource:    txID,
		Result:      result,
		Details:     map[string]any{"witnesses": witnesses},
	})
}

// LogVerification records a signature verification.
func (a *AuditLogger) LogVerification(ctx context.Context, resource string, success bool, details map[string]any) error {
	result := "success"
	if !success {
		result = "failure"
	}
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventVerification,
		Action:    "verification_performed",
		Resource:  resource,
		Result:    result,
		Details:   details,
	})
}

// LogExport records writing a serialized container to a file.
func (a *AuditLogger) LogExport(ctx context.Context, fingerprint, outputPath string) error {
	return a.Log(ctx, AuditEvent{
		EventType:   AuditEventExport,
		Action:      "container_exported",
		Fingerprint: fingerprint,
		Result:      "success",
		Details:     map[string]any{"output_path": outputPath},
	})
}

// LogError records a failed operation.
func (a *AuditLogger) LogError(ctx context.Context, operation string, err error, details map[string]any) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventError,
		Action:    operation,
		Result:    "failure",
		Error:     err.Error(),
		Details:   details,
	})
}

// Close closes the audit logger.
func (a *AuditLogger) Close() error {
	if a.rotator != nil {
		return a.rotator.Close()
	}
	return nil
}

// Sync flushes any buffered audit events.
func (a *AuditLogger) Sync() error {
	if a.rotator != nil {
		return a.rotator.Sync()
	}
	return nil
}

// Audit logs an audit event using the default audit logger.
func Audit(ctx context.Context, event AuditEvent) error {
	return DefaultAuditLogger().Log(ctx, event)
}
