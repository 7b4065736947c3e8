package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bentman/jarvis/runtime/cache"
	"github.com/bentman/jarvis/runtime/canonjson"
	"github.com/bentman/jarvis/runtime/privacy"
	"github.com/bentman/jarvis/runtime/telemetry"
)

// Executor error codes, fail-closed and stable.
const (
	ErrCodeToolNotFound       = "tool_not_found"
	ErrCodeValidation         = "validation_error"
	ErrCodePermissionDenied   = "permission_denied"
	ErrCodeConfiguration      = "configuration_error"
	ErrCodeToolNotImplemented = "tool_not_implemented"
	ErrCodeExecution          = "execution_error"
)

// DefaultToolCacheTTL bounds cached READ_ONLY tool results.
const DefaultToolCacheTTL = 1800 * time.Second

type (
	// Request is one tool invocation.
	Request struct {
		Tool    string         `json:"tool"`
		Payload map[string]any `json:"payload"`
		TaskID  string         `json:"task_id,omitempty"`
	}

	// PrivacyInfo summarizes the privacy scan attached to external calls.
	PrivacyInfo struct {
		PIIDetected bool     `json:"pii_detected"`
		Types       []string `json:"types,omitempty"`
	}

	// Result is the in-band outcome of an invocation. Failures carry a
	// stable Error code instead of a Go error.
	Result struct {
		OK                 bool         `json:"ok"`
		Value              any          `json:"value,omitempty"`
		CacheHit           bool         `json:"cache_hit"`
		Error              string       `json:"error,omitempty"`
		Message            string       `json:"message,omitempty"`
		Privacy            *PrivacyInfo `json:"privacy,omitempty"`
		RedactedResultText string       `json:"redacted_result_text,omitempty"`
	}

	// ExecuteOptions carries the per-call policy flags.
	ExecuteOptions struct {
		// AllowWriteSafe permits WRITE_SAFE tools for this call.
		AllowWriteSafe bool
		// AllowExternal permits external tools for this call.
		AllowExternal bool
	}

	// Options configures an Executor.
	Options struct {
		// Registry resolves tool names. Required.
		Registry *Registry
		// Cache serves READ_ONLY results. Optional.
		Cache cache.Client
		// CacheEnabled gates tool-result caching even when Cache is set.
		CacheEnabled bool
		// CacheTTL bounds cached entries. Defaults to 1800s.
		CacheTTL time.Duration
		// Privacy gates external tools. Required to run External tools.
		Privacy *privacy.Wrapper
		// Logger, Metrics, Tracer default to no-ops.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
	}

	// Executor validates, gates, caches, and runs tools.
	Executor struct {
		registry     *Registry
		cache        cache.Client
		cacheEnabled bool
		cacheTTL     time.Duration
		keys         *cache.KeyPolicy
		privacy      *privacy.Wrapper
		logger       telemetry.Logger
		metrics      telemetry.Metrics
		tracer       telemetry.Tracer
	}
)

// NewExecutor constructs an Executor.
func NewExecutor(opts *Options) (*Executor, error) {
	if opts == nil || opts.Registry == nil {
		return nil, errors.New("tools: registry is required")
	}
	e := &Executor{
		registry:     opts.Registry,
		cache:        opts.Cache,
		cacheEnabled: opts.CacheEnabled,
		cacheTTL:     opts.CacheTTL,
		keys:         cache.NewKeyPolicy(),
		privacy:      opts.Privacy,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		tracer:       opts.Tracer,
	}
	if e.cacheTTL <= 0 {
		e.cacheTTL = DefaultToolCacheTTL
	}
	if e.logger == nil {
		e.logger = telemetry.NewNoopLogger()
	}
	if e.metrics == nil {
		e.metrics = telemetry.NewNoopMetrics()
	}
	if e.tracer == nil {
		e.tracer = telemetry.NewNoopTracer()
	}
	return e, nil
}

// Execute runs one tool invocation. The returned Result is never nil; all
// tool-level failures surface in-band via Result.Error.
func (e *Executor) Execute(ctx context.Context, req *Request, opts ExecuteOptions) *Result {
	ctx, span := e.tracer.Start(ctx, "tools.execute")
	defer span.End()

	start := time.Now()
	result := e.execute(ctx, req, opts)
	e.metrics.RecordTimer("tool.execute", time.Since(start), "tool", req.Tool)
	if result.OK {
		e.metrics.IncCounter("tool.success", 1, "tool", req.Tool)
	} else {
		e.metrics.IncCounter("tool.failure", 1, "tool", req.Tool, "code", result.Error)
		e.logger.Warn(ctx, "tool failed", "tool", req.Tool, "code", result.Error, "msg", result.Message)
	}
	return result
}

func (e *Executor) execute(ctx context.Context, req *Request, opts ExecuteOptions) *Result {
	reg, ok := e.registry.lookup(req.Tool)
	if !ok {
		return failed(ErrCodeToolNotFound, fmt.Sprintf("unknown tool %q", req.Tool))
	}

	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if err := reg.validate(payload); err != nil {
		return failed(ErrCodeValidation, err.Error())
	}

	switch reg.def.Tier {
	case TierSystem:
		return failed(ErrCodePermissionDenied, "SYSTEM tools are denied at this layer")
	case TierWriteSafe:
		if !opts.AllowWriteSafe {
			return failed(ErrCodePermissionDenied, fmt.Sprintf("%s requires allow_write_safe", req.Tool))
		}
	}
	if reg.def.External && e.privacy == nil {
		if !opts.AllowExternal {
			return failed(ErrCodePermissionDenied, fmt.Sprintf("%s requires allow_external", req.Tool))
		}
		return failed(ErrCodeConfiguration, "external tool without a privacy wrapper")
	}

	if reg.def.Handler == nil {
		return failed(ErrCodeToolNotImplemented, fmt.Sprintf("%s has no handler", req.Tool))
	}

	if reg.def.External {
		return e.executeExternal(ctx, reg, req, payload, opts)
	}

	// Caching applies only to READ_ONLY internal tools.
	cacheKey := ""
	if reg.def.Tier == TierReadOnly && e.cache != nil && e.cacheEnabled {
		key, err := e.keys.MakeKey("tool", map[string]any{
			"tool_name": req.Tool,
			"payload":   payload,
		})
		if err != nil {
			e.logger.Warn(ctx, "tool cache key rejected", "tool", req.Tool, "err", err.Error())
		} else {
			cacheKey = key
			var cached Result
			if e.cache.GetJSON(ctx, cacheKey, &cached) {
				hit := cached
				hit.CacheHit = true
				return &hit
			}
		}
	}

	result := e.runHandler(ctx, reg, payload)
	if result.OK && cacheKey != "" {
		e.cache.SetJSON(ctx, cacheKey, result, e.cacheTTL)
	}
	return result
}

func (e *Executor) executeExternal(ctx context.Context, reg *registered, req *Request, payload map[string]any, opts ExecuteOptions) *Result {
	payloadJSON, err := canonPayload(payload)
	if err != nil {
		return failed(ErrCodeValidation, err.Error())
	}
	report := e.privacy.GateOutbound(ctx, req.TaskID, req.Tool, payloadJSON, opts.AllowExternal)
	if !report.Allowed {
		return failed(ErrCodePermissionDenied, fmt.Sprintf("external call denied: %s", report.DenyReason))
	}

	result := e.runHandler(ctx, reg, payload)
	if !result.OK {
		return result
	}
	redacted, detected, types := e.privacy.RedactResult(ctx, req.TaskID, stringify(result.Value))
	result.Privacy = &PrivacyInfo{PIIDetected: report.PIIDetected || detected, Types: types}
	result.RedactedResultText = redacted
	return result
}

// runHandler invokes the tool handler, translating panics and errors into
// in-band failures.
func (e *Executor) runHandler(ctx context.Context, reg *registered, payload map[string]any) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			result = failed(ErrCodeExecution, fmt.Sprintf("handler panic: %v", r))
		}
	}()

	value, err := reg.def.Handler(ctx, payload)
	if err != nil {
		var herr *HandlerError
		if errors.As(err, &herr) {
			return failed(herr.Code, herr.Message)
		}
		return failed(ErrCodeExecution, err.Error())
	}
	return &Result{OK: true, Value: value}
}

func canonPayload(payload map[string]any) (string, error) {
	return canonjson.MarshalString(payload)
}

func failed(code, message string) *Result {
	return &Result{OK: false, Error: code, Message: message}
}

func stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	raw, err := canonPayload(map[string]any{"value": value})
	if err != nil {
		return fmt.Sprint(value)
	}
	return raw
}
