package tools

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	rediscache "github.com/bentman/jarvis/features/cache/redis"
	"github.com/bentman/jarvis/runtime/privacy"
)

var echoSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"text": {"type": "string"}},
	"required": ["text"],
	"additionalProperties": false
}`)

func newTestExecutor(t *testing.T, opts Options, defs ...Definition) *Executor {
	t.Helper()
	registry := NewRegistry()
	for _, def := range defs {
		require.NoError(t, registry.Register(def))
	}
	opts.Registry = registry
	e, err := NewExecutor(&opts)
	require.NoError(t, err)
	return e
}

func echoTool(tier Tier) Definition {
	return Definition{
		Name:   "echo",
		Tier:   tier,
		Schema: echoSchema,
		Handler: func(_ context.Context, payload map[string]any) (any, error) {
			return map[string]any{"echoed": payload["text"]}, nil
		},
	}
}

func newTestWrapper(t *testing.T) *privacy.Wrapper {
	t.Helper()
	audit, err := privacy.NewAuditLogger(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close() })
	w, err := privacy.NewWrapper(&privacy.WrapperOptions{Redactor: privacy.NewRedactor(), Audit: audit})
	require.NoError(t, err)
	return w
}

func TestExecuteUnknownTool(t *testing.T) {
	e := newTestExecutor(t, Options{})
	result := e.Execute(context.Background(), &Request{Tool: "nope"}, ExecuteOptions{})
	require.False(t, result.OK)
	require.Equal(t, ErrCodeToolNotFound, result.Error)
}

func TestExecuteValidationError(t *testing.T) {
	e := newTestExecutor(t, Options{}, echoTool(TierReadOnly))
	result := e.Execute(context.Background(), &Request{Tool: "echo", Payload: map[string]any{"text": 42}}, ExecuteOptions{})
	require.False(t, result.OK)
	require.Equal(t, ErrCodeValidation, result.Error)

	result = e.Execute(context.Background(), &Request{Tool: "echo", Payload: map[string]any{}}, ExecuteOptions{})
	require.Equal(t, ErrCodeValidation, result.Error)
}

func TestExecuteSuccess(t *testing.T) {
	e := newTestExecutor(t, Options{}, echoTool(TierReadOnly))
	result := e.Execute(context.Background(), &Request{Tool: "echo", Payload: map[string]any{"text": "hi"}}, ExecuteOptions{})
	require.True(t, result.OK)
	require.False(t, result.CacheHit)
	value, ok := result.Value.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "hi", value["echoed"])
}

func TestWriteSafeDenyByDefault(t *testing.T) {
	e := newTestExecutor(t, Options{}, echoTool(TierWriteSafe))
	req := &Request{Tool: "echo", Payload: map[string]any{"text": "hi"}}

	result := e.Execute(context.Background(), req, ExecuteOptions{})
	require.Equal(t, ErrCodePermissionDenied, result.Error)

	result = e.Execute(context.Background(), req, ExecuteOptions{AllowWriteSafe: true})
	require.True(t, result.OK)
}

func TestSystemAlwaysDenied(t *testing.T) {
	e := newTestExecutor(t, Options{}, echoTool(TierSystem))
	result := e.Execute(context.Background(), &Request{Tool: "echo", Payload: map[string]any{"text": "hi"}}, ExecuteOptions{AllowWriteSafe: true, AllowExternal: true})
	require.Equal(t, ErrCodePermissionDenied, result.Error)
}

func TestToolNotImplemented(t *testing.T) {
	e := newTestExecutor(t, Options{}, Definition{Name: "ghost", Tier: TierReadOnly, Schema: echoSchema})
	result := e.Execute(context.Background(), &Request{Tool: "ghost", Payload: map[string]any{"text": "x"}}, ExecuteOptions{})
	require.Equal(t, ErrCodeToolNotImplemented, result.Error)
}

func TestExecutionError(t *testing.T) {
	def := Definition{
		Name:   "boom",
		Tier:   TierReadOnly,
		Schema: echoSchema,
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("kaput")
		},
	}
	e := newTestExecutor(t, Options{}, def)
	result := e.Execute(context.Background(), &Request{Tool: "boom", Payload: map[string]any{"text": "x"}}, ExecuteOptions{})
	require.Equal(t, ErrCodeExecution, result.Error)
	require.Contains(t, result.Message, "kaput")
}

func TestHandlerPanicBecomesExecutionError(t *testing.T) {
	def := Definition{
		Name:   "panic",
		Tier:   TierReadOnly,
		Schema: echoSchema,
		Handler: func(context.Context, map[string]any) (any, error) {
			panic("unexpected")
		},
	}
	e := newTestExecutor(t, Options{}, def)
	result := e.Execute(context.Background(), &Request{Tool: "panic", Payload: map[string]any{"text": "x"}}, ExecuteOptions{})
	require.Equal(t, ErrCodeExecution, result.Error)
}

func TestHandlerErrorCodeSurfaces(t *testing.T) {
	def := Definition{
		Name:   "limited",
		Tier:   TierReadOnly,
		Schema: echoSchema,
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, &HandlerError{Code: "path_not_allowed", Message: "outside sandbox"}
		},
	}
	e := newTestExecutor(t, Options{}, def)
	result := e.Execute(context.Background(), &Request{Tool: "limited", Payload: map[string]any{"text": "x"}}, ExecuteOptions{})
	require.Equal(t, "path_not_allowed", result.Error)
}

func TestExternalWithoutWrapperIsConfigurationError(t *testing.T) {
	def := echoTool(TierReadOnly)
	def.External = true
	e := newTestExecutor(t, Options{}, def)
	result := e.Execute(context.Background(), &Request{Tool: "echo", Payload: map[string]any{"text": "x"}}, ExecuteOptions{AllowExternal: true})
	require.Equal(t, ErrCodeConfiguration, result.Error)
}

func TestExternalDeniedWithoutFlag(t *testing.T) {
	def := echoTool(TierReadOnly)
	def.External = true
	e := newTestExecutor(t, Options{Privacy: newTestWrapper(t)}, def)
	result := e.Execute(context.Background(), &Request{Tool: "echo", Payload: map[string]any{"text": "x"}}, ExecuteOptions{})
	require.Equal(t, ErrCodePermissionDenied, result.Error)
}

func TestExternalAttachesRedactedResult(t *testing.T) {
	def := Definition{
		Name:     "lookup",
		Tier:     TierReadOnly,
		External: true,
		Schema:   echoSchema,
		Handler: func(context.Context, map[string]any) (any, error) {
			return "contact alice@example.com for access", nil
		},
	}
	e := newTestExecutor(t, Options{Privacy: newTestWrapper(t)}, def)
	result := e.Execute(context.Background(), &Request{Tool: "lookup", Payload: map[string]any{"text": "x"}, TaskID: "task-1"}, ExecuteOptions{AllowExternal: true})
	require.True(t, result.OK)
	require.NotNil(t, result.Privacy)
	require.True(t, result.Privacy.PIIDetected)
	require.Equal(t, []string{privacy.TypeEmail}, result.Privacy.Types)
	require.Equal(t, "contact [REDACTED:EMAIL] for access", result.RedactedResultText)
}

func TestReadOnlyCacheCoherence(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := rediscache.New(&rediscache.Options{Addr: mr.Addr(), Enabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	calls := 0
	def := Definition{
		Name:   "counted",
		Tier:   TierReadOnly,
		Schema: echoSchema,
		Handler: func(_ context.Context, payload map[string]any) (any, error) {
			calls++
			return map[string]any{"echoed": payload["text"], "call": calls}, nil
		},
	}
	e := newTestExecutor(t, Options{Cache: client, CacheEnabled: true}, def)
	ctx := context.Background()
	req := &Request{Tool: "counted", Payload: map[string]any{"text": "same"}}

	first := e.Execute(ctx, req, ExecuteOptions{})
	require.True(t, first.OK)
	require.False(t, first.CacheHit)

	second := e.Execute(ctx, req, ExecuteOptions{})
	require.True(t, second.OK)
	require.True(t, second.CacheHit)
	require.Equal(t, 1, calls)
	require.EqualValues(t, first.Value.(map[string]any)["echoed"], second.Value.(map[string]any)["echoed"])

	require.Equal(t, 1, client.InvalidatePattern(ctx, "tool:v1:*"))
	third := e.Execute(ctx, req, ExecuteOptions{})
	require.False(t, third.CacheHit)
	require.Equal(t, 2, calls)
}

func TestWriteSafeNeverCached(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := rediscache.New(&rediscache.Options{Addr: mr.Addr(), Enabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	calls := 0
	def := Definition{
		Name:   "writer",
		Tier:   TierWriteSafe,
		Schema: echoSchema,
		Handler: func(context.Context, map[string]any) (any, error) {
			calls++
			return calls, nil
		},
	}
	e := newTestExecutor(t, Options{Cache: client, CacheEnabled: true}, def)
	ctx := context.Background()
	req := &Request{Tool: "writer", Payload: map[string]any{"text": "x"}}
	e.Execute(ctx, req, ExecuteOptions{AllowWriteSafe: true})
	e.Execute(ctx, req, ExecuteOptions{AllowWriteSafe: true})
	require.Equal(t, 2, calls)
}

func TestCacheErrorDegradesToDirectExecution(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := rediscache.New(&rediscache.Options{Addr: mr.Addr(), Enabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	e := newTestExecutor(t, Options{Cache: client, CacheEnabled: true}, echoTool(TierReadOnly))
	result := e.Execute(context.Background(), &Request{Tool: "echo", Payload: map[string]any{"text": "x"}}, ExecuteOptions{})
	require.True(t, result.OK)
	require.False(t, result.CacheHit)
}

func TestExportSchemasSorted(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		def := echoTool(TierReadOnly)
		def.Name = name
		require.NoError(t, registry.Register(def))
	}
	exported := registry.ExportSchemas()
	require.Len(t, exported, 3)
	require.Equal(t, "alpha", exported[0].Name)
	require.Equal(t, "mid", exported[1].Name)
	require.Equal(t, "zeta", exported[2].Name)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(echoTool(TierReadOnly)))
	require.Error(t, registry.Register(echoTool(TierReadOnly)))
}
