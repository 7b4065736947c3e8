package cache

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type (
	// Metrics counts cache activity per category. A category is the key
	// prefix ("tool", "context"); blank categories fold into "general".
	// Safe for concurrent use.
	Metrics struct {
		mu      sync.Mutex
		hits    int64
		misses  int64
		sets    int64
		deletes int64
		errors  int64
		hitsBy  map[string]int64
		missBy  map[string]int64
	}

	// Summary is a point-in-time view of the counters.
	Summary struct {
		Hits       int64           `json:"hits"`
		Misses     int64           `json:"misses"`
		Sets       int64           `json:"sets"`
		Deletes    int64           `json:"deletes"`
		Errors     int64           `json:"errors"`
		Requests   int64           `json:"total_requests"`
		HitRatePct string          `json:"hit_rate_pct"`
		Categories []CategoryStats `json:"categories"`
	}

	// CategoryStats breaks hits and misses down by key prefix.
	CategoryStats struct {
		Name       string `json:"name"`
		Hits       int64  `json:"hits"`
		Misses     int64  `json:"misses"`
		HitRatePct string `json:"hit_rate_pct"`
	}
)

// NewMetrics constructs an empty Metrics recorder.
func NewMetrics() *Metrics {
	return &Metrics{
		hitsBy: make(map[string]int64),
		missBy: make(map[string]int64),
	}
}

// Hit records a cache hit for the category.
func (m *Metrics) Hit(category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
	m.hitsBy[normalizeCategory(category)]++
}

// Miss records a cache miss for the category.
func (m *Metrics) Miss(category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
	m.missBy[normalizeCategory(category)]++
}

// Set records a successful store.
func (m *Metrics) Set() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
}

// Delete records a successful delete.
func (m *Metrics) Delete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
}

// Error records a backend error.
func (m *Metrics) Error() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

// Summary returns the current counters with categories sorted by name.
func (m *Metrics) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make(map[string]struct{}, len(m.hitsBy)+len(m.missBy))
	for name := range m.hitsBy {
		names[name] = struct{}{}
	}
	for name := range m.missBy {
		names[name] = struct{}{}
	}
	categories := make([]CategoryStats, 0, len(names))
	for name := range names {
		categories = append(categories, CategoryStats{
			Name:       name,
			Hits:       m.hitsBy[name],
			Misses:     m.missBy[name],
			HitRatePct: hitRatePct(m.hitsBy[name], m.missBy[name]),
		})
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].Name < categories[j].Name })

	return Summary{
		Hits:       m.hits,
		Misses:     m.misses,
		Sets:       m.sets,
		Deletes:    m.deletes,
		Errors:     m.errors,
		Requests:   m.hits + m.misses,
		HitRatePct: hitRatePct(m.hits, m.misses),
		Categories: categories,
	}
}

// Reset zeroes all counters.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits, m.misses, m.sets, m.deletes, m.errors = 0, 0, 0, 0, 0
	m.hitsBy = make(map[string]int64)
	m.missBy = make(map[string]int64)
}

// CategoryForKey derives the metrics category from a cache key prefix.
func CategoryForKey(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}

func normalizeCategory(category string) string {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return "general"
	}
	return category
}

func hitRatePct(hits, misses int64) string {
	total := hits + misses
	if total == 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", float64(hits)/float64(total)*100)
}
