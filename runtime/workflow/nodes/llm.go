package nodes

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/bentman/jarvis/runtime/memory"
	"github.com/bentman/jarvis/runtime/model"
	"github.com/bentman/jarvis/runtime/telemetry"
)

// Generation defaults.
const (
	DefaultMaxTokens   = 512
	DefaultTemperature = 0.7
)

// DefaultStopTokens terminate generation for instruction-tuned local models
// that echo their chat template.
func DefaultStopTokens() []string {
	return []string{"Instruction:", "User:", "<|im_end|>", "</s>"}
}

// nameLineRE collapses a leading "name is <Token>" statement down to the
// token itself, so identity answers come back as the bare name.
var nameLineRE = regexp.MustCompile(`(?i)^(?:.*\b)?name is ([A-Za-z0-9_-]+)[.!?]*$`)

type (
	// LLMWorkerOptions configures an LLMWorker.
	LLMWorkerOptions struct {
		// Generator produces completions. Required.
		Generator model.Generator
		// Working receives the assistant turn after generation. Optional.
		Working memory.Working
		// MaxTokens caps the completion. Default 512.
		MaxTokens int
		// Temperature defaults to 0.7.
		Temperature float64
		// Stop overrides the default stop tokens.
		Stop []string
		// FallbackMessage, when set, is returned instead of failing the
		// run when the model backend is unreachable.
		FallbackMessage string
		// Logger defaults to no-op.
		Logger telemetry.Logger
	}

	// LLMWorker calls the model with the assembled prompt and post-processes
	// the completion.
	LLMWorker struct {
		generator   model.Generator
		working     memory.Working
		maxTokens   int
		temperature float64
		stop        []string
		fallback    string
		logger      telemetry.Logger
	}
)

// NewLLMWorker constructs an LLMWorker.
func NewLLMWorker(opts *LLMWorkerOptions) (*LLMWorker, error) {
	if opts == nil || opts.Generator == nil {
		return nil, errors.New("nodes: llm worker needs a generator")
	}
	w := &LLMWorker{
		generator:   opts.Generator,
		working:     opts.Working,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		stop:        opts.Stop,
		fallback:    opts.FallbackMessage,
		logger:      opts.Logger,
	}
	if w.maxTokens <= 0 {
		w.maxTokens = DefaultMaxTokens
	}
	if w.temperature == 0 {
		w.temperature = DefaultTemperature
	}
	if w.stop == nil {
		w.stop = DefaultStopTokens()
	}
	if w.logger == nil {
		w.logger = telemetry.NewNoopLogger()
	}
	return w, nil
}

func (w *LLMWorker) ID() string   { return "llm_worker" }
func (w *LLMWorker) Type() string { return "llm_worker" }

// Run sets s.Output from the model completion.
func (w *LLMWorker) Run(ctx context.Context, s *State) {
	messages := s.Messages
	if len(messages) == 0 {
		messages = []model.Message{{Role: model.RoleUser, Content: s.UserInput}}
	}
	resp, err := w.generator.Generate(ctx, &model.GenerateRequest{
		Messages:    messages,
		MaxTokens:   w.maxTokens,
		Temperature: w.temperature,
		Stop:        w.stop,
	})
	if err != nil {
		if errors.Is(err, model.ErrUnavailable) {
			if w.fallback != "" {
				w.logger.Warn(ctx, "llm: backend unavailable, using fallback", "task_id", s.TaskID)
				w.finish(ctx, s, w.fallback, "fallback")
				return
			}
			s.Fail(CodeLLMUnavailable, err.Error())
			return
		}
		s.Fail(CodeLLMError, err.Error())
		return
	}
	w.finish(ctx, s, CleanOutput(resp.Text, w.stop), resp.FinishReason)
}

func (w *LLMWorker) finish(ctx context.Context, s *State, output, reason string) {
	s.Output = output
	s.FinishReason = reason
	if w.working != nil && s.TaskID != "" {
		if err := w.working.AppendMessage(ctx, s.TaskID, model.RoleAssistant, output); err != nil {
			w.logger.Warn(ctx, "llm: transcript append failed", "task_id", s.TaskID, "err", err.Error())
		}
	}
}

// CleanOutput trims a raw completion: cut at the first surfaced stop token,
// strip whitespace, and collapse a first-line "name is <Token>" statement to
// the token.
func CleanOutput(text string, stop []string) string {
	for _, token := range stop {
		if i := strings.Index(text, token); i >= 0 {
			text = text[:i]
		}
	}
	text = strings.TrimSpace(text)

	firstLine := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		firstLine = text[:i]
	}
	if m := nameLineRE.FindStringSubmatch(strings.TrimSpace(firstLine)); m != nil {
		return m[1]
	}
	return text
}
