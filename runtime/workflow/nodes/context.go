package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bentman/jarvis/runtime/cache"
	"github.com/bentman/jarvis/runtime/memory"
	"github.com/bentman/jarvis/runtime/model"
	"github.com/bentman/jarvis/runtime/retrieval"
	"github.com/bentman/jarvis/runtime/telemetry"
)

// Context builder defaults.
const (
	DefaultSystemPrompt       = "You are a helpful assistant. Answer concisely and truthfully."
	DefaultContextCacheTTL    = 3600 * time.Second
	DefaultContextMaxMessages = 10
	retrievedContentMax       = 200
)

type (
	// ContextBuilderOptions configures a ContextBuilder.
	ContextBuilderOptions struct {
		// Working supplies the task transcript. Optional; without it the
		// prompt is just the system prompt and the current input.
		Working memory.Working
		// Retriever contributes the retrieved-context block. Optional.
		Retriever *retrieval.Retriever
		// Cache memoizes assembled prompts per (task, turn). Optional.
		Cache cache.Client
		// CacheEnabled gates prompt caching even when Cache is set.
		CacheEnabled bool
		// CacheTTL bounds cached prompts. Defaults to 3600s.
		CacheTTL time.Duration
		// MaxMessages caps transcript turns in the prompt. Default 10.
		MaxMessages int
		// SystemPrompt overrides the default system message.
		SystemPrompt string
		// Logger defaults to no-op.
		Logger telemetry.Logger
	}

	// ContextBuilder assembles the model prompt: system prompt, recent
	// transcript, and the retrieved-context block. Every dependency is
	// fail-safe; a broken store or cache degrades the prompt, it never
	// fails the run.
	ContextBuilder struct {
		working      memory.Working
		retriever    *retrieval.Retriever
		cache        cache.Client
		cacheEnabled bool
		cacheTTL     time.Duration
		keys         *cache.KeyPolicy
		maxMessages  int
		systemPrompt string
		logger       telemetry.Logger
	}
)

// NewContextBuilder constructs a ContextBuilder.
func NewContextBuilder(opts *ContextBuilderOptions) (*ContextBuilder, error) {
	if opts == nil {
		return nil, errors.New("nodes: context builder options are required")
	}
	b := &ContextBuilder{
		working:      opts.Working,
		retriever:    opts.Retriever,
		cache:        opts.Cache,
		cacheEnabled: opts.CacheEnabled,
		cacheTTL:     opts.CacheTTL,
		keys:         cache.NewKeyPolicy(),
		maxMessages:  opts.MaxMessages,
		systemPrompt: opts.SystemPrompt,
		logger:       opts.Logger,
	}
	if b.cacheTTL <= 0 {
		b.cacheTTL = DefaultContextCacheTTL
	}
	if b.maxMessages <= 0 {
		b.maxMessages = DefaultContextMaxMessages
	}
	if b.systemPrompt == "" {
		b.systemPrompt = DefaultSystemPrompt
	}
	if b.logger == nil {
		b.logger = telemetry.NewNoopLogger()
	}
	return b, nil
}

func (b *ContextBuilder) ID() string   { return "context_builder" }
func (b *ContextBuilder) Type() string { return "context_builder" }

// Run sets s.Messages.
func (b *ContextBuilder) Run(ctx context.Context, s *State) {
	cacheKey := b.cacheKey(ctx, s)
	if cacheKey != "" {
		var cached []model.Message
		if b.cache.GetJSON(ctx, cacheKey, &cached) && len(cached) > 0 {
			s.Messages = cached
			return
		}
	}

	messages := b.baseMessages(ctx, s)
	messages = b.withRetrievedContext(ctx, s, messages)
	s.Messages = messages

	if cacheKey != "" {
		b.cache.SetJSON(ctx, cacheKey, messages, b.cacheTTL)
	}
}

// baseMessages is the system prompt plus the recent transcript. The current
// user input closes the prompt when the transcript does not already carry it.
func (b *ContextBuilder) baseMessages(ctx context.Context, s *State) []model.Message {
	messages := []model.Message{{Role: model.RoleSystem, Content: b.systemPrompt}}
	if b.working != nil && s.TaskID != "" {
		recent, err := b.working.ListRecentMessages(ctx, s.TaskID, b.maxMessages)
		if err != nil {
			b.logger.Warn(ctx, "context: transcript unavailable", "task_id", s.TaskID, "err", err.Error())
		} else {
			for _, m := range recent {
				messages = append(messages, model.Message{Role: m.Role, Content: m.Content})
			}
		}
	}
	last := messages[len(messages)-1]
	if last.Role != model.RoleUser || last.Content != s.UserInput {
		messages = append(messages, model.Message{Role: model.RoleUser, Content: s.UserInput})
	}
	return messages
}

// withRetrievedContext inserts the retrieved-context system message after
// the first system message, or at position 0 when none exists. Retrieval
// failure leaves the prompt unchanged.
func (b *ContextBuilder) withRetrievedContext(ctx context.Context, s *State, messages []model.Message) []model.Message {
	if b.retriever == nil {
		return messages
	}
	results, err := b.retriever.Retrieve(ctx, s.UserInput, s.TaskID)
	if err != nil || len(results) == 0 {
		if err != nil {
			b.logger.Warn(ctx, "context: retrieval skipped", "err", err.Error())
		}
		return messages
	}

	block := FormatRetrievedContext(results)
	insert := 0
	if len(messages) > 0 && messages[0].Role == model.RoleSystem {
		insert = 1
	}
	out := make([]model.Message, 0, len(messages)+1)
	out = append(out, messages[:insert]...)
	out = append(out, model.Message{Role: model.RoleSystem, Content: block})
	out = append(out, messages[insert:]...)
	return out
}

func (b *ContextBuilder) cacheKey(ctx context.Context, s *State) string {
	if b.cache == nil || !b.cacheEnabled || s.TaskID == "" {
		return ""
	}
	key, err := b.keys.MakeKey("context", map[string]any{
		"task_id": s.TaskID,
		"turn":    s.Turn,
	})
	if err != nil {
		b.logger.Warn(ctx, "context: cache key rejected", "err", err.Error())
		return ""
	}
	return key
}

// FormatRetrievedContext renders ranked retrieval results as the prompt
// block the model sees. Content is truncated to keep the prompt bounded.
func FormatRetrievedContext(results []retrieval.Result) string {
	var sb strings.Builder
	sb.WriteString("Retrieved Context:")
	for _, r := range results {
		content := r.Content
		if len(content) > retrievedContentMax {
			content = content[:retrievedContentMax] + "..."
		}
		fmt.Fprintf(&sb, "\n[%s] score=%.3f\n%s", r.Source, r.FinalScore, content)
	}
	return sb.String()
}
