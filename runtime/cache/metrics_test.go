package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricsSummary(t *testing.T) {
	m := NewMetrics()
	m.Hit("tool")
	m.Hit("tool")
	m.Miss("tool")
	m.Miss("context")
	m.Hit("")
	m.Set()
	m.Delete()
	m.Error()

	s := m.Summary()
	require.Equal(t, int64(3), s.Hits)
	require.Equal(t, int64(2), s.Misses)
	require.Equal(t, int64(1), s.Sets)
	require.Equal(t, int64(1), s.Deletes)
	require.Equal(t, int64(1), s.Errors)
	require.Equal(t, int64(5), s.Requests)
	require.Equal(t, "60.00%", s.HitRatePct)

	// Categories sorted by name, blank normalized to general.
	require.Len(t, s.Categories, 3)
	require.Equal(t, "context", s.Categories[0].Name)
	require.Equal(t, "general", s.Categories[1].Name)
	require.Equal(t, "tool", s.Categories[2].Name)
	require.Equal(t, "66.67%", s.Categories[2].HitRatePct)
}

func TestMetricsEmptySummary(t *testing.T) {
	s := NewMetrics().Summary()
	require.Equal(t, "0.00%", s.HitRatePct)
	require.Empty(t, s.Categories)
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.Hit("tool")
	m.Reset()
	s := m.Summary()
	require.Zero(t, s.Hits)
	require.Empty(t, s.Categories)
}

func TestCategoryForKey(t *testing.T) {
	require.Equal(t, "tool", CategoryForKey("tool:v1:h:abc"))
	require.Equal(t, "plain", CategoryForKey("plain"))
}
