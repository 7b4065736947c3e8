package privacy

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/bentman/jarvis/runtime/telemetry"
)

type (
	// WrapperOptions configures a Wrapper.
	WrapperOptions struct {
		// Redactor scans payloads and results. Required.
		Redactor *Redactor
		// Audit receives privacy events. Required.
		Audit *AuditLogger
		// Mode selects the redaction style for outbound payloads and
		// result text. Defaults to ModeStrict.
		Mode Mode
		// Limiter caps the rate of external calls. Optional; nil means
		// unlimited.
		Limiter *rate.Limiter
		// Logger receives degradation warnings. Defaults to no-op.
		Logger telemetry.Logger
	}

	// Wrapper gates outbound tool calls: policy check, rate limit, PII
	// scan, audit trail, redacted result text. Gate decisions fail closed;
	// everything downstream of an allowed call fails open.
	Wrapper struct {
		redactor *Redactor
		audit    *AuditLogger
		mode     Mode
		limiter  *rate.Limiter
		logger   telemetry.Logger
	}

	// OutboundReport is the gate decision for one external call.
	OutboundReport struct {
		Allowed         bool     `json:"allowed"`
		DenyReason      string   `json:"deny_reason,omitempty"`
		PIIDetected     bool     `json:"pii_detected"`
		Types           []string `json:"types,omitempty"`
		RedactedPayload string   `json:"-"`
	}
)

// Deny reasons attached to blocked external calls.
const (
	DenyExternalNotAllowed = "external_not_allowed"
	DenyRateLimited        = "rate_limited"
)

// NewWrapper constructs a Wrapper.
func NewWrapper(opts *WrapperOptions) (*Wrapper, error) {
	if opts == nil || opts.Redactor == nil {
		return nil, errors.New("privacy: redactor is required")
	}
	if opts.Audit == nil {
		return nil, errors.New("privacy: audit logger is required")
	}
	w := &Wrapper{
		redactor: opts.Redactor,
		audit:    opts.Audit,
		mode:     opts.Mode,
		limiter:  opts.Limiter,
		logger:   opts.Logger,
	}
	if w.mode == "" {
		w.mode = ModeStrict
	}
	if w.logger == nil {
		w.logger = telemetry.NewNoopLogger()
	}
	return w, nil
}

// GateOutbound decides whether an external tool call may proceed. Denials
// emit permission_denied; allowed calls emit external_call_initiated (plus
// pii_detected when the payload carries PII). The returned RedactedPayload
// is what should leave the process.
func (w *Wrapper) GateOutbound(ctx context.Context, taskID, toolName, payload string, allowExternal bool) OutboundReport {
	if !allowExternal {
		w.audit.Log(ctx, EventPermissionDenied, SeverityWarning, taskID, map[string]any{
			"tool":   toolName,
			"reason": DenyExternalNotAllowed,
		})
		return OutboundReport{Allowed: false, DenyReason: DenyExternalNotAllowed}
	}
	if w.limiter != nil && !w.limiter.Allow() {
		w.audit.Log(ctx, EventPermissionDenied, SeverityWarning, taskID, map[string]any{
			"tool":   toolName,
			"reason": DenyRateLimited,
		})
		return OutboundReport{Allowed: false, DenyReason: DenyRateLimited}
	}

	result := w.redactor.Redact(payload, w.mode)
	types := Types(result.Matches)
	if result.PIIDetected {
		w.audit.Log(ctx, EventPIIDetected, SeverityWarning, taskID, map[string]any{
			"tool":        toolName,
			"types":       types,
			"match_count": len(result.Matches),
		})
	}
	w.audit.Log(ctx, EventExternalCallInitiated, SeverityInfo, taskID, map[string]any{
		"tool":         toolName,
		"pii_detected": result.PIIDetected,
		"payload_size": len(payload),
	})
	return OutboundReport{
		Allowed:         true,
		PIIDetected:     result.PIIDetected,
		Types:           types,
		RedactedPayload: result.Redacted,
	}
}

// RedactResult scans text returned by an external call and produces the
// redacted representation attached to the tool result. Emits pii_redacted
// when anything was removed.
func (w *Wrapper) RedactResult(ctx context.Context, taskID, text string) (string, bool, []string) {
	result := w.redactor.Redact(text, w.mode)
	if result.PIIDetected {
		w.audit.Log(ctx, EventPIIRedacted, SeverityInfo, taskID, map[string]any{
			"types":       Types(result.Matches),
			"match_count": len(result.Matches),
			"snippet":     Snippet(result.Redacted),
		})
	}
	return result.Redacted, result.PIIDetected, Types(result.Matches)
}
