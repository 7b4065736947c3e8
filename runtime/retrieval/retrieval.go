// Package retrieval merges evidence from the three memory layers into one
// ranked result list. Each source contributes (relevance, recency) scores in
// [0,1]; per-source weights blend them into a final score. A failing or
// absent source contributes nothing; retrieval degrades, it never fails the
// caller.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bentman/jarvis/runtime/memory"
	"github.com/bentman/jarvis/runtime/telemetry"
)

// Result sources.
const (
	SourceWorkingState = "working_state"
	SourceSemantic     = "semantic"
	SourceEpisodic     = "episodic"
)

type (
	// Config tunes the retriever. Zero values take the documented
	// defaults.
	Config struct {
		// MaxWorkingStateMessages caps how many recent transcript turns
		// are scored. Default 10.
		MaxWorkingStateMessages int
		// SemanticTopK caps vector hits. Default 5.
		SemanticTopK int
		// EpisodicLimit caps decisions fetched per keyword. Default 20.
		EpisodicLimit int
		// DecayHours controls timestamp recency decay. Default 24.
		DecayHours float64
		// MinFinalScore filters out weak results. Default 0.1.
		MinFinalScore float64
		// MaxTotalResults truncates the merged list. Default 5.
		MaxTotalResults int

		// Per-source weights; each pair should sum to 1.
		WorkingRelevanceWeight  float64 // default 0.3
		WorkingRecencyWeight    float64 // default 0.7
		SemanticRelevanceWeight float64 // default 0.9
		SemanticRecencyWeight   float64 // default 0.1
		EpisodicRelevanceWeight float64 // default 0.7
		EpisodicRecencyWeight   float64 // default 0.3
	}

	// Result is one ranked retrieval hit. All scores lie in [0,1];
	// FinalScore is derived, never caller-supplied.
	Result struct {
		Content        string         `json:"content"`
		Source         string         `json:"source"`
		RelevanceScore float64        `json:"relevance_score"`
		RecencyScore   float64        `json:"recency_score"`
		FinalScore     float64        `json:"final_score"`
		Metadata       map[string]any `json:"metadata"`
	}

	// Options configures a Retriever. Sources may be nil; a nil source
	// simply contributes no results.
	Options struct {
		Working  memory.Working
		Semantic memory.Semantic
		Episodic memory.Episodic
		Config   Config
		// Now overrides the clock. Used in tests.
		Now func() time.Time
		// Logger receives per-source degradation warnings.
		Logger telemetry.Logger
	}

	// Retriever merges the three memory sources.
	Retriever struct {
		working  memory.Working
		semantic memory.Semantic
		episodic memory.Episodic
		config   Config
		now      func() time.Time
		logger   telemetry.Logger
	}
)

// DefaultConfig returns the documented default configuration.
func DefaultConfig() Config {
	return Config{
		MaxWorkingStateMessages: 10,
		SemanticTopK:            5,
		EpisodicLimit:           20,
		DecayHours:              24,
		MinFinalScore:           0.1,
		MaxTotalResults:         5,
		WorkingRelevanceWeight:  0.3,
		WorkingRecencyWeight:    0.7,
		SemanticRelevanceWeight: 0.9,
		SemanticRecencyWeight:   0.1,
		EpisodicRelevanceWeight: 0.7,
		EpisodicRecencyWeight:   0.3,
	}
}

// NewResult validates score ranges and derives nothing: FinalScore is set by
// the retriever only.
func NewResult(content, source string, relevance, recency float64, metadata map[string]any) (Result, error) {
	if relevance < 0 || relevance > 1 {
		return Result{}, fmt.Errorf("%w: relevance %v outside [0,1]", memory.ErrInvalidArgument, relevance)
	}
	if recency < 0 || recency > 1 {
		return Result{}, fmt.Errorf("%w: recency %v outside [0,1]", memory.ErrInvalidArgument, recency)
	}
	return Result{
		Content:        content,
		Source:         source,
		RelevanceScore: relevance,
		RecencyScore:   recency,
		Metadata:       metadata,
	}, nil
}

// New constructs a Retriever. Unset config fields take defaults; a nil opts
// yields a retriever with no sources.
func New(opts *Options) *Retriever {
	if opts == nil {
		opts = &Options{}
	}
	cfg := DefaultConfig()
	if opts.Config.MaxWorkingStateMessages > 0 {
		cfg.MaxWorkingStateMessages = opts.Config.MaxWorkingStateMessages
	}
	if opts.Config.SemanticTopK > 0 {
		cfg.SemanticTopK = opts.Config.SemanticTopK
	}
	if opts.Config.EpisodicLimit > 0 {
		cfg.EpisodicLimit = opts.Config.EpisodicLimit
	}
	if opts.Config.DecayHours > 0 {
		cfg.DecayHours = opts.Config.DecayHours
	}
	if opts.Config.MinFinalScore > 0 {
		cfg.MinFinalScore = opts.Config.MinFinalScore
	}
	if opts.Config.MaxTotalResults > 0 {
		cfg.MaxTotalResults = opts.Config.MaxTotalResults
	}
	if opts.Config.WorkingRelevanceWeight > 0 || opts.Config.WorkingRecencyWeight > 0 {
		cfg.WorkingRelevanceWeight = opts.Config.WorkingRelevanceWeight
		cfg.WorkingRecencyWeight = opts.Config.WorkingRecencyWeight
	}
	if opts.Config.SemanticRelevanceWeight > 0 || opts.Config.SemanticRecencyWeight > 0 {
		cfg.SemanticRelevanceWeight = opts.Config.SemanticRelevanceWeight
		cfg.SemanticRecencyWeight = opts.Config.SemanticRecencyWeight
	}
	if opts.Config.EpisodicRelevanceWeight > 0 || opts.Config.EpisodicRecencyWeight > 0 {
		cfg.EpisodicRelevanceWeight = opts.Config.EpisodicRelevanceWeight
		cfg.EpisodicRecencyWeight = opts.Config.EpisodicRecencyWeight
	}
	r := &Retriever{
		working:  opts.Working,
		semantic: opts.Semantic,
		episodic: opts.Episodic,
		config:   cfg,
		now:      opts.Now,
		logger:   opts.Logger,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = telemetry.NewNoopLogger()
	}
	return r
}

// Retrieve ranks evidence for query across all configured sources. The
// result order is (-final_score, source, content-hash) so equal scores
// break ties deterministically.
func (r *Retriever) Retrieve(ctx context.Context, query, taskID string) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", memory.ErrInvalidArgument)
	}

	var merged []Result
	merged = append(merged, r.fromWorkingState(ctx, query, taskID)...)
	merged = append(merged, r.fromSemantic(ctx, query)...)
	merged = append(merged, r.fromEpisodic(ctx, query)...)

	filtered := merged[:0]
	for _, result := range merged {
		if result.FinalScore >= r.config.MinFinalScore {
			filtered = append(filtered, result)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].FinalScore != filtered[j].FinalScore {
			return filtered[i].FinalScore > filtered[j].FinalScore
		}
		if filtered[i].Source != filtered[j].Source {
			return filtered[i].Source < filtered[j].Source
		}
		return contentHash(filtered[i].Content) < contentHash(filtered[j].Content)
	})
	if len(filtered) > r.config.MaxTotalResults {
		filtered = filtered[:r.config.MaxTotalResults]
	}
	out := make([]Result, len(filtered))
	copy(out, filtered)
	return out, nil
}

func (r *Retriever) fromWorkingState(ctx context.Context, query, taskID string) []Result {
	if r.working == nil || taskID == "" {
		return nil
	}
	messages, err := r.working.ListRecentMessages(ctx, taskID, r.config.MaxWorkingStateMessages)
	if err != nil {
		r.logger.Warn(ctx, "retrieval: working state unavailable", "err", err.Error())
		return nil
	}
	queryWords := strings.Fields(strings.ToLower(query))
	if len(queryWords) == 0 {
		return nil
	}
	n := len(messages)
	var out []Result
	for position, msg := range messages {
		relevance := wordOverlap(queryWords, msg.Content)
		if relevance == 0 {
			continue
		}
		// Newest message scores 1.0, oldest 0.1.
		recency := 1.0
		if n > 1 {
			recency = 0.1 + 0.9*float64(position)/float64(n-1)
		}
		result, err := NewResult(msg.Content, SourceWorkingState, relevance, recency, map[string]any{
			"role":      msg.Role,
			"timestamp": msg.Timestamp.Format(time.RFC3339),
		})
		if err != nil {
			continue
		}
		result.FinalScore = relevance*r.config.WorkingRelevanceWeight + recency*r.config.WorkingRecencyWeight
		out = append(out, result)
	}
	return out
}

func (r *Retriever) fromSemantic(ctx context.Context, query string) []Result {
	if r.semantic == nil {
		return nil
	}
	hits, err := r.semantic.SearchText(ctx, query, r.config.SemanticTopK)
	if err != nil {
		r.logger.Warn(ctx, "retrieval: semantic unavailable", "err", err.Error())
		return nil
	}
	var out []Result
	for _, hit := range hits {
		relevance := clamp01(hit.Similarity)
		recency := r.timestampRecency(metadataTimestamp(hit.Metadata))
		result, err := NewResult(hit.Text, SourceSemantic, relevance, recency, hit.Metadata)
		if err != nil {
			continue
		}
		result.FinalScore = relevance*r.config.SemanticRelevanceWeight + recency*r.config.SemanticRecencyWeight
		out = append(out, result)
	}
	return out
}

func (r *Retriever) fromEpisodic(ctx context.Context, query string) []Result {
	if r.episodic == nil {
		return nil
	}
	keywords := queryKeywords(query)
	if len(keywords) == 0 {
		return nil
	}
	seen := make(map[int64]struct{})
	var decisions []memory.Decision
	for _, keyword := range keywords {
		hits, err := r.episodic.SearchDecisions(ctx, keyword, memory.SearchOptions{Limit: r.config.EpisodicLimit})
		if err != nil {
			r.logger.Warn(ctx, "retrieval: episodic unavailable", "err", err.Error())
			return nil
		}
		for _, d := range hits {
			if _, ok := seen[d.ID]; ok {
				continue
			}
			seen[d.ID] = struct{}{}
			decisions = append(decisions, d)
		}
	}
	var out []Result
	for _, d := range decisions {
		content := strings.ToLower(d.Content)
		matched := 0
		for _, keyword := range keywords {
			if strings.Contains(content, keyword) {
				matched++
			}
		}
		relevance := float64(matched) / float64(len(keywords))
		recency := r.timestampRecency(d.Timestamp)
		result, err := NewResult(d.Content, SourceEpisodic, relevance, recency, map[string]any{
			"decision_id": d.ID,
			"task_id":     d.TaskID,
			"action_type": d.ActionType,
			"timestamp":   d.Timestamp.Format(time.RFC3339),
		})
		if err != nil {
			continue
		}
		result.FinalScore = relevance*r.config.EpisodicRelevanceWeight + recency*r.config.EpisodicRecencyWeight
		out = append(out, result)
	}
	return out
}

// timestampRecency maps an age to exp(-age_hours/decay_hours), clamped to
// [0.1, 1.0]. A zero timestamp scores the neutral 0.5.
func (r *Retriever) timestampRecency(ts time.Time) float64 {
	if ts.IsZero() {
		return 0.5
	}
	ageHours := r.now().UTC().Sub(ts).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	recency := math.Exp(-ageHours / r.config.DecayHours)
	if recency < 0.1 {
		return 0.1
	}
	if recency > 1.0 {
		return 1.0
	}
	return recency
}

// queryKeywords extracts lowercased words longer than three characters.
func queryKeywords(query string) []string {
	var out []string
	for _, word := range strings.Fields(strings.ToLower(query)) {
		if len(word) > 3 {
			out = append(out, word)
		}
	}
	return out
}

func wordOverlap(queryWords []string, text string) float64 {
	folded := strings.ToLower(text)
	matched := 0
	for _, word := range queryWords {
		if strings.Contains(folded, word) {
			matched++
		}
	}
	overlap := float64(matched) / float64(len(queryWords))
	return clamp01(overlap)
}

func metadataTimestamp(metadata map[string]any) time.Time {
	raw, ok := metadata["timestamp"].(string)
	if !ok {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
