package privacy

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bentman/jarvis/runtime/telemetry"
)

// Audit event types.
const (
	EventPIIDetected           = "pii_detected"
	EventPIIRedacted           = "pii_redacted"
	EventExternalCallInitiated = "external_call_initiated"
	EventPermissionDenied      = "permission_denied"
)

// Audit severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

type (
	// AuditEvent is one privacy audit record. Context carries summaries
	// only (PII types, counts, truncated snippets), never raw values.
	AuditEvent struct {
		EventType string         `json:"event_type"`
		Timestamp string         `json:"timestamp"`
		Severity  string         `json:"severity"`
		TaskID    string         `json:"task_id,omitempty"`
		Context   map[string]any `json:"context"`
	}

	// AuditLogger appends events to a JSONL file, one event per line,
	// synced after each write. Logging is fail-open: a write failure is
	// reported to the telemetry logger and otherwise swallowed.
	AuditLogger struct {
		mu     sync.Mutex
		f      *os.File
		logger telemetry.Logger
		now    func() time.Time
	}

	// AuditOption configures an AuditLogger.
	AuditOption func(*AuditLogger)
)

// WithAuditLogger sets the telemetry logger for degradation warnings.
func WithAuditLogger(logger telemetry.Logger) AuditOption {
	return func(a *AuditLogger) { a.logger = logger }
}

// WithAuditClock overrides the timestamp source. Used in tests.
func WithAuditClock(now func() time.Time) AuditOption {
	return func(a *AuditLogger) { a.now = now }
}

// NewAuditLogger opens (or creates) the JSONL audit file in append mode.
func NewAuditLogger(path string, opts ...AuditOption) (*AuditLogger, error) {
	if path == "" {
		return nil, errors.New("privacy: audit log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	a := &AuditLogger{f: f, logger: telemetry.NewNoopLogger(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Log appends event to the audit file. The timestamp is stamped here.
func (a *AuditLogger) Log(ctx context.Context, eventType, severity, taskID string, eventContext map[string]any) {
	if eventContext == nil {
		eventContext = map[string]any{}
	}
	event := AuditEvent{
		EventType: eventType,
		Timestamp: a.now().UTC().Format(time.RFC3339Nano),
		Severity:  severity,
		TaskID:    taskID,
		Context:   eventContext,
	}
	line, err := json.Marshal(event)
	if err != nil {
		a.logger.Warn(ctx, "audit encode failed", "event_type", eventType, "err", err.Error())
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.f.Write(append(line, '\n')); err != nil {
		a.logger.Warn(ctx, "audit write failed", "event_type", eventType, "err", err.Error())
		return
	}
	if err := a.f.Sync(); err != nil {
		a.logger.Warn(ctx, "audit sync failed", "err", err.Error())
	}
}

// Close syncs and closes the audit file.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.f.Sync(); err != nil {
		return err
	}
	return a.f.Close()
}

// Snippet truncates s for inclusion in an audit context. Raw text never
// exceeds 100 characters in the log.
func Snippet(s string) string {
	const max = 100
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
