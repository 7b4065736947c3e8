package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"goa.design/clue/log"
)

func TestClueTracerSpanLifecycle(t *testing.T) {
	tracer := NewClueTracer()
	ctx, span := tracer.Start(context.Background(), "test.op")
	require.NotNil(t, ctx)
	require.NotNil(t, span)

	span.RecordError(errors.New("boom"))
	span.SetStatus(codes.Error, "boom")
	span.End()
}

func TestClueMetricsRecordWithoutProvider(t *testing.T) {
	m := NewClueMetrics()
	m.IncCounter("test.counter", 1, "tag", "value")
	m.RecordTimer("test.timer", time.Millisecond, "tag", "value")
}

func TestFieldersPairsKeyvals(t *testing.T) {
	out := fielders("hello", []any{"a", 1, 2, "skipped", "b"})
	require.Len(t, out, 3)
	require.Equal(t, log.KV{K: "msg", V: "hello"}, out[0])
	require.Equal(t, log.KV{K: "a", V: 1}, out[1])
	// Trailing key pairs with nil.
	require.Equal(t, log.KV{K: "b", V: nil}, out[2])
}

func TestTagAttrsToleratesOddTags(t *testing.T) {
	attrs := tagAttrs([]string{"k1", "v1", "k2"})
	require.Len(t, attrs, 2)
	require.Equal(t, "v1", attrs[0].Value.AsString())
	require.Equal(t, "", attrs[1].Value.AsString())
}
