package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bentman/jarvis/runtime/memory"
)

var testNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

type stubWorking struct {
	messages []memory.Message
	err      error
}

func (s *stubWorking) Load(context.Context, string) (*memory.WorkingState, error) { return nil, nil }
func (s *stubWorking) Save(context.Context, *memory.WorkingState) error           { return nil }
func (s *stubWorking) AppendMessage(context.Context, string, string, string) error {
	return nil
}
func (s *stubWorking) ListRecentMessages(_ context.Context, _ string, n int) ([]memory.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	msgs := s.messages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}
func (s *stubWorking) Archive(context.Context, string) error { return nil }
func (s *stubWorking) Close() error                          { return nil }

type stubSemantic struct {
	hits []memory.SemanticHit
	err  error
}

func (s *stubSemantic) Add(context.Context, string, map[string]any) (int64, error) { return 0, nil }
func (s *stubSemantic) SearchText(context.Context, string, int) ([]memory.SemanticHit, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.hits, nil
}
func (s *stubSemantic) Close() error { return nil }

type stubEpisodic struct {
	decisions []memory.Decision
	err       error
}

func (s *stubEpisodic) AppendDecision(context.Context, string, string, string, string) (int64, error) {
	return 0, nil
}
func (s *stubEpisodic) AppendToolCall(context.Context, int64, string, string, string) (int64, error) {
	return 0, nil
}
func (s *stubEpisodic) AppendValidation(context.Context, int64, string, string, string) (int64, error) {
	return 0, nil
}
func (s *stubEpisodic) ListValidations(context.Context, int64) ([]memory.Validation, error) {
	return nil, nil
}
func (s *stubEpisodic) SearchDecisions(_ context.Context, query string, _ memory.SearchOptions) ([]memory.Decision, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []memory.Decision
	for _, d := range s.decisions {
		if strings.Contains(strings.ToLower(d.Content), strings.ToLower(query)) {
			out = append(out, d)
		}
	}
	return out, nil
}
func (s *stubEpisodic) SearchToolCalls(context.Context, string, memory.SearchOptions) ([]memory.ToolCall, error) {
	return nil, nil
}
func (s *stubEpisodic) Close() error { return nil }

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	r := New(&Options{})
	_, err := r.Retrieve(context.Background(), "   ", "task-1")
	require.ErrorIs(t, err, memory.ErrInvalidArgument)
}

func TestNewNilOptions(t *testing.T) {
	r := New(nil)
	results, err := r.Retrieve(context.Background(), "anything", "task-1")
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestWorkingStateScoring(t *testing.T) {
	working := &stubWorking{messages: []memory.Message{
		{Role: "user", Content: "deploy procedure question", Timestamp: testNow},
		{Role: "assistant", Content: "unrelated reply", Timestamp: testNow},
		{Role: "user", Content: "the deploy procedure is documented", Timestamp: testNow},
		{Role: "assistant", Content: "also unrelated", Timestamp: testNow},
	}}
	r := New(&Options{Working: working, Now: func() time.Time { return testNow }})

	results, err := r.Retrieve(context.Background(), "deploy procedure", "task-1")
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Newest match sits at position 2 of 4: recency = 0.1 + 0.9*2/3 = 0.7,
	// relevance 1.0, final = 1.0*0.3 + 0.7*0.7 = 0.79.
	require.Equal(t, SourceWorkingState, results[0].Source)
	require.InDelta(t, 1.0, results[0].RelevanceScore, 1e-9)
	require.InDelta(t, 0.7, results[0].RecencyScore, 1e-9)
	require.InDelta(t, 0.79, results[0].FinalScore, 1e-9)

	// Oldest match: recency 0.1, final = 0.3 + 0.07 = 0.37.
	require.InDelta(t, 0.1, results[1].RecencyScore, 1e-9)
	require.InDelta(t, 0.37, results[1].FinalScore, 1e-9)
}

func TestSemanticOutranksOlderWorkingMatch(t *testing.T) {
	working := &stubWorking{messages: []memory.Message{
		{Role: "user", Content: "the deploy procedure is documented", Timestamp: testNow},
		{Role: "assistant", Content: "noted", Timestamp: testNow},
		{Role: "user", Content: "something else", Timestamp: testNow},
		{Role: "assistant", Content: "ok", Timestamp: testNow},
	}}
	semantic := &stubSemantic{hits: []memory.SemanticHit{{
		VectorID:   1,
		Text:       "deploy runbook: drain, roll, verify",
		Similarity: 0.9,
		Metadata:   map[string]any{"timestamp": testNow.Add(-time.Hour).Format(time.RFC3339)},
	}}}
	r := New(&Options{Working: working, Semantic: semantic, Now: func() time.Time { return testNow }})

	results, err := r.Retrieve(context.Background(), "deploy procedure", "task-1")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, SourceSemantic, results[0].Source)
	// relevance 0.9*0.9 + recency exp(-1/24)*0.1 ≈ 0.906.
	require.InDelta(t, 0.9059, results[0].FinalScore, 1e-3)
	require.Greater(t, results[0].FinalScore, results[1].FinalScore)
}

func TestEpisodicKeywordScoring(t *testing.T) {
	episodic := &stubEpisodic{decisions: []memory.Decision{
		{ID: 1, TaskID: "old", ActionType: memory.ActionNode, Content: "database migration completed", Status: memory.StatusOK, Timestamp: testNow.Add(-2 * time.Hour)},
		{ID: 2, TaskID: "old", ActionType: memory.ActionNode, Content: "migration planning notes", Status: memory.StatusOK, Timestamp: testNow.Add(-2 * time.Hour)},
	}}
	r := New(&Options{Episodic: episodic, Now: func() time.Time { return testNow }})

	results, err := r.Retrieve(context.Background(), "database migration", "task-1")
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Both keywords present → relevance 1.0; only "migration" → 0.5.
	require.Equal(t, "database migration completed", results[0].Content)
	require.InDelta(t, 1.0, results[0].RelevanceScore, 1e-9)
	require.InDelta(t, 0.5, results[1].RelevanceScore, 1e-9)
	for _, result := range results {
		require.Equal(t, SourceEpisodic, result.Source)
		require.GreaterOrEqual(t, result.FinalScore, 0.0)
		require.LessOrEqual(t, result.FinalScore, 1.0)
	}
}

func TestEpisodicDeduplicatesAcrossKeywords(t *testing.T) {
	episodic := &stubEpisodic{decisions: []memory.Decision{
		{ID: 1, Content: "database migration completed", Timestamp: testNow},
	}}
	r := New(&Options{Episodic: episodic, Now: func() time.Time { return testNow }})

	results, err := r.Retrieve(context.Background(), "database migration", "task-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestThresholdFiltersWeakResults(t *testing.T) {
	episodic := &stubEpisodic{decisions: []memory.Decision{
		{ID: 1, Content: "barely mentions database once", Timestamp: testNow.Add(-1000 * time.Hour)},
	}}
	r := New(&Options{
		Episodic: episodic,
		Config:   Config{MinFinalScore: 0.9},
		Now:      func() time.Time { return testNow },
	})
	results, err := r.Retrieve(context.Background(), "database throughput tuning", "task-1")
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestMaxTotalResultsTruncates(t *testing.T) {
	var messages []memory.Message
	for i := 0; i < 8; i++ {
		messages = append(messages, memory.Message{Role: "user", Content: "deploy step", Timestamp: testNow})
	}
	r := New(&Options{
		Working: &stubWorking{messages: messages},
		Config:  Config{MaxTotalResults: 3},
		Now:     func() time.Time { return testNow },
	})
	results, err := r.Retrieve(context.Background(), "deploy", "task-1")
	require.NoError(t, err)
	require.Len(t, results, 3)
}

func TestFailingSourcesDegradeSilently(t *testing.T) {
	r := New(&Options{
		Working:  &stubWorking{err: errors.New("disk gone")},
		Semantic: &stubSemantic{err: errors.New("index gone")},
		Episodic: &stubEpisodic{decisions: []memory.Decision{
			{ID: 1, Content: "database migration completed", Timestamp: testNow},
		}},
		Now: func() time.Time { return testNow },
	})
	results, err := r.Retrieve(context.Background(), "database migration", "task-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, SourceEpisodic, results[0].Source)
}

func TestDeterministicOrdering(t *testing.T) {
	episodic := &stubEpisodic{decisions: []memory.Decision{
		{ID: 1, Content: "alpha database entry", Timestamp: testNow},
		{ID: 2, Content: "beta database entry", Timestamp: testNow},
	}}
	r := New(&Options{Episodic: episodic, Now: func() time.Time { return testNow }})

	first, err := r.Retrieve(context.Background(), "database", "task-1")
	require.NoError(t, err)
	second, err := r.Retrieve(context.Background(), "database", "task-1")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, first, 2)
	// Equal scores tie-break on content hash.
	require.Equal(t, first[0].FinalScore, first[1].FinalScore)
}

func TestNewResultValidatesRanges(t *testing.T) {
	_, err := NewResult("x", SourceSemantic, 1.2, 0.5, nil)
	require.ErrorIs(t, err, memory.ErrInvalidArgument)
	_, err = NewResult("x", SourceSemantic, 0.5, -0.1, nil)
	require.ErrorIs(t, err, memory.ErrInvalidArgument)
	result, err := NewResult("x", SourceSemantic, 0.5, 0.5, nil)
	require.NoError(t, err)
	require.Zero(t, result.FinalScore)
}

func TestMissingTimestampScoresNeutral(t *testing.T) {
	semantic := &stubSemantic{hits: []memory.SemanticHit{{
		VectorID:   1,
		Text:       "deploy notes",
		Similarity: 1.0,
		Metadata:   map[string]any{},
	}}}
	r := New(&Options{Semantic: semantic, Now: func() time.Time { return testNow }})
	results, err := r.Retrieve(context.Background(), "deploy", "task-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.InDelta(t, 0.5, results[0].RecencyScore, 1e-9)
}
