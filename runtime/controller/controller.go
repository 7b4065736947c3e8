package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bentman/jarvis/runtime/cache"
	"github.com/bentman/jarvis/runtime/canonjson"
	"github.com/bentman/jarvis/runtime/memory"
	"github.com/bentman/jarvis/runtime/model"
	"github.com/bentman/jarvis/runtime/retrieval"
	"github.com/bentman/jarvis/runtime/telemetry"
	"github.com/bentman/jarvis/runtime/tools"
	"github.com/bentman/jarvis/runtime/workflow"
	"github.com/bentman/jarvis/runtime/workflow/nodes"
)

// Controller-level failure codes.
const (
	CodeDeadlineExceeded = workflow.CodeDeadlineExceeded
	CodeCycleDetected    = workflow.CodeCycleDetected
	CodeMemoryError      = "memory_error"
)

// Working-state statuses written at commit.
const (
	statusArchived = "archived"
	statusFailed   = "failed"
)

type (
	// Options configures a Controller.
	Options struct {
		// Memory owns the three stores. Required.
		Memory *memory.Manager
		// Generator produces completions. Required.
		Generator model.Generator
		// Pinger reports model reachability for health checks. Optional;
		// absent means the model is assumed reachable.
		Pinger model.Pinger
		// Tools runs tool requests. Optional; without it runs carrying a
		// tool request fail their tool_call node.
		Tools *tools.Executor
		// Retriever contributes retrieved context to prompts. Optional.
		Retriever *retrieval.Retriever
		// Cache memoizes assembled prompts. Optional.
		Cache cache.Client
		// CacheEnabled gates prompt caching.
		CacheEnabled bool
		// ContextCacheTTL bounds cached prompts. Defaults to 3600s.
		ContextCacheTTL time.Duration

		// SystemPrompt overrides the default system message.
		SystemPrompt string
		// MaxTokens and Temperature tune generation.
		MaxTokens   int
		Temperature float64
		// Stop overrides the default stop tokens.
		Stop []string
		// MaxOutputChars bounds validated output. Default 4096.
		MaxOutputChars int
		// FallbackMessage, when set, answers runs whose model backend is
		// unreachable instead of failing them.
		FallbackMessage string

		// ArchiveDir receives one snapshot per archived task. Optional.
		ArchiveDir string

		// NewTaskID overrides task id generation. Used in tests.
		NewTaskID func() string
		// Now overrides the clock. Used in tests.
		Now func() time.Time
		// Logger, Metrics, Tracer default to no-ops.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
	}

	// RunInput is one turn of a task.
	RunInput struct {
		// UserInput is the utterance. Required.
		UserInput string
		// TaskID resumes an existing task; empty creates a new one.
		TaskID string
		// Tool, when set, inserts a tool_call node into the plan.
		Tool *tools.Request
		// Per-run policy flags, default-deny.
		AllowWriteSafe bool
		AllowExternal  bool
	}

	// RunOutput is the result of one turn.
	RunOutput struct {
		TaskID     string       `json:"task_id"`
		FinalState State        `json:"final_state"`
		LLMOutput  string       `json:"llm_output"`
		Trace      []TraceEntry `json:"trace"`
	}

	// Controller orchestrates task runs.
	Controller struct {
		memory     *memory.Manager
		tools      *tools.Executor
		pinger     model.Pinger
		cache      cache.Client
		semantic   memory.Semantic
		executor   *workflow.Executor
		router     *nodes.Router
		contexts   *nodes.ContextBuilder
		worker     *nodes.LLMWorker
		toolCall   *nodes.ToolCall
		validator  *nodes.Validator
		archiveDir string
		newTaskID  func() string
		now        func() time.Time
		logger     telemetry.Logger
		metrics    telemetry.Metrics
		tracer     telemetry.Tracer
	}

	// run is the per-invocation scratch the helpers share.
	run struct {
		taskID   string
		machine  *Machine
		trace    []TraceEntry
		runStart time.Time
	}
)

// New constructs a Controller.
func New(opts *Options) (*Controller, error) {
	if opts == nil || opts.Memory == nil {
		return nil, errors.New("controller: memory manager is required")
	}
	if opts.Generator == nil {
		return nil, errors.New("controller: generator is required")
	}
	c := &Controller{
		memory:     opts.Memory,
		tools:      opts.Tools,
		pinger:     opts.Pinger,
		cache:      opts.Cache,
		semantic:   opts.Memory.Semantic(),
		archiveDir: opts.ArchiveDir,
		newTaskID:  opts.NewTaskID,
		now:        opts.Now,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
	}
	if c.newTaskID == nil {
		c.newTaskID = NewTaskID
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = telemetry.NewNoopLogger()
	}
	if c.metrics == nil {
		c.metrics = telemetry.NewNoopMetrics()
	}
	if c.tracer == nil {
		c.tracer = telemetry.NewNoopTracer()
	}

	var err error
	c.contexts, err = nodes.NewContextBuilder(&nodes.ContextBuilderOptions{
		Working:      opts.Memory.Working(),
		Retriever:    opts.Retriever,
		Cache:        opts.Cache,
		CacheEnabled: opts.CacheEnabled,
		CacheTTL:     opts.ContextCacheTTL,
		SystemPrompt: opts.SystemPrompt,
		Logger:       c.logger,
	})
	if err != nil {
		return nil, err
	}
	c.worker, err = nodes.NewLLMWorker(&nodes.LLMWorkerOptions{
		Generator:       opts.Generator,
		Working:         opts.Memory.Working(),
		MaxTokens:       opts.MaxTokens,
		Temperature:     opts.Temperature,
		Stop:            opts.Stop,
		FallbackMessage: opts.FallbackMessage,
		Logger:          c.logger,
	})
	if err != nil {
		return nil, err
	}
	if opts.Tools != nil {
		c.toolCall, err = nodes.NewToolCall(&nodes.ToolCallOptions{Executor: opts.Tools})
		if err != nil {
			return nil, err
		}
	}
	c.router = nodes.NewRouter()
	c.validator = nodes.NewValidator(&nodes.ValidatorOptions{
		MaxOutputChars: opts.MaxOutputChars,
		Forbidden:      opts.Stop,
	})
	c.executor = workflow.NewExecutor(&workflow.ExecutorOptions{Now: c.now, Logger: c.logger})
	return c, nil
}

// NewTaskID produces a fresh task id: "task-" plus 10 hex characters.
func NewTaskID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "task-" + hex[:10]
}

// Run drives one turn through the lifecycle. The returned output is non-nil
// whenever the input is well-formed; task-level failures surface as
// FinalState FAILED, not as Go errors.
func (c *Controller) Run(ctx context.Context, in *RunInput) (*RunOutput, error) {
	if in == nil || strings.TrimSpace(in.UserInput) == "" {
		return nil, fmt.Errorf("%w: empty user input", memory.ErrInvalidArgument)
	}
	ctx, span := c.tracer.Start(ctx, "controller.run")
	defer span.End()

	taskID := in.TaskID
	if taskID == "" {
		taskID = c.newTaskID()
	}
	r := &run{taskID: taskID, machine: NewMachine(), runStart: c.now()}

	turn, err := c.beginTurn(ctx, r, in)
	if err != nil {
		return c.fail(ctx, r, nil, CodeMemoryError, err.Error()), nil
	}

	// INIT -> PLAN.
	intent := nodes.Classify(in.UserInput)
	graph, err := workflow.CompilePlan(workflow.PlanInput{Intent: intent, HasToolCall: in.Tool != nil})
	if err != nil {
		return c.fail(ctx, r, nil, "plan_error", err.Error()), nil
	}
	planContent := "plan compiled for intent " + intent
	if canon, cerr := graph.Canonical(); cerr == nil {
		planContent = canon
	}
	if _, err := c.transition(ctx, r, StatePlan, memory.ActionPlan, planContent); err != nil {
		return nil, err
	}

	// PLAN -> EXECUTE.
	if _, err := c.transition(ctx, r, StateExecute, memory.ActionNode, "executing plan"); err != nil {
		return nil, err
	}
	state := &nodes.State{
		TaskID:         taskID,
		Turn:           turn,
		UserInput:      in.UserInput,
		ToolRequest:    in.Tool,
		AllowWriteSafe: in.AllowWriteSafe,
		AllowExternal:  in.AllowExternal,
	}
	execErr := c.executor.Run(ctx, graph, c.implementations(), state, func(ev workflow.NodeEvent) {
		r.trace = append(r.trace, TraceEntry{
			TaskID:          taskID,
			ControllerState: StateExecute,
			EventType:       ev.Event,
			NodeID:          ev.NodeID,
			NodeType:        ev.NodeType,
			Success:         ev.Event != workflow.EventError,
			ElapsedNS:       ev.ElapsedNS,
			StartOffsetNS:   ev.StartOffsetNS,
			ErrorCode:       ev.ErrorCode,
		})
	})
	c.recordToolCall(ctx, r, state)
	if execErr != nil {
		code := CodeCycleDetected
		if errors.Is(execErr, workflow.ErrDeadlineExceeded) {
			code = CodeDeadlineExceeded
		}
		return c.fail(ctx, r, state, code, execErr.Error()), nil
	}
	if state.Failed() {
		return c.fail(ctx, r, state, state.Err.Code, state.Err.Message), nil
	}

	// EXECUTE -> VALIDATE.
	decisionID, err := c.transition(ctx, r, StateValidate, memory.ActionValidate, "output validated")
	if err != nil {
		return nil, err
	}
	c.recordValidation(ctx, r, decisionID, "pass", fmt.Sprintf("%d chars", len(state.Output)))

	// VALIDATE -> COMMIT.
	c.commit(ctx, r, in, state, statusArchived)
	if _, err := c.transition(ctx, r, StateCommit, memory.ActionNode, "working state committed"); err != nil {
		return nil, err
	}

	// COMMIT -> ARCHIVE.
	c.writeArchive(ctx, r, state)
	if _, err := c.transition(ctx, r, StateArchive, memory.ActionArchive, "task archived"); err != nil {
		return nil, err
	}

	return c.finish(r, state), nil
}

// beginTurn resolves the task document and appends the user message. It
// returns the 1-based turn number.
func (c *Controller) beginTurn(ctx context.Context, r *run, in *RunInput) (int, error) {
	working := c.memory.Working()
	doc, err := working.Load(ctx, r.taskID)
	if err != nil {
		return 0, err
	}
	turn := 1
	for _, msg := range doc.Messages {
		if msg.Role == model.RoleUser {
			turn++
		}
	}
	if doc.Goal == "" {
		doc.Goal = in.UserInput
		if err := working.Save(ctx, doc); err != nil {
			return 0, err
		}
	}
	if err := c.memory.AppendMessage(ctx, r.taskID, model.RoleUser, in.UserInput); err != nil {
		return 0, err
	}
	return turn, nil
}

// implementations maps plan node ids to their implementations.
func (c *Controller) implementations() map[string]nodes.Node {
	impls := map[string]nodes.Node{
		c.router.ID():    c.router,
		c.contexts.ID():  c.contexts,
		c.worker.ID():    c.worker,
		c.validator.ID(): c.validator,
	}
	if c.toolCall != nil {
		impls[c.toolCall.ID()] = c.toolCall
	}
	return impls
}

// transition advances the FSM, appends the decision row, and records the
// trace entry. An illegal transition is a programmer error and is returned.
// The decision id is zero when the row was lost.
func (c *Controller) transition(ctx context.Context, r *run, next State, actionType, content string) (int64, error) {
	if err := r.machine.Advance(next); err != nil {
		return 0, err
	}
	status := memory.StatusOK
	if next == StateFailed {
		status = memory.StatusErr
	}
	decisionID, err := c.memory.RecordDecision(ctx, r.taskID, actionType, content, status)
	if err != nil {
		c.logger.Warn(ctx, "controller: decision row lost", "task_id", r.taskID, "state", string(next), "err", err.Error())
	}
	r.trace = append(r.trace, TraceEntry{
		TaskID:          r.taskID,
		ControllerState: next,
		EventType:       EventTransition,
		Success:         next != StateFailed,
		StartOffsetNS:   c.now().Sub(r.runStart).Nanoseconds(),
	})
	return decisionID, nil
}

// recordValidation appends the validator verdict under its decision row.
func (c *Controller) recordValidation(ctx context.Context, r *run, decisionID int64, result, notes string) {
	if decisionID == 0 {
		return
	}
	if _, err := c.memory.RecordValidation(ctx, decisionID, "output_validator", result, notes); err != nil {
		c.logger.Warn(ctx, "controller: validation row lost", "task_id", r.taskID, "err", err.Error())
	}
}

// recordToolCall persists the run's tool invocation, if any, as a decision
// row plus its tool_call row.
func (c *Controller) recordToolCall(ctx context.Context, r *run, state *nodes.State) {
	if state == nil || state.ToolResult == nil || state.ToolRequest == nil {
		return
	}
	status := memory.StatusOK
	if !state.ToolResult.OK {
		status = memory.StatusErr
	}
	content := fmt.Sprintf("tool %s: %s", state.ToolRequest.Tool, status)
	decisionID, err := c.memory.RecordDecision(ctx, r.taskID, memory.ActionTool, content, status)
	if err != nil {
		c.logger.Warn(ctx, "controller: tool decision lost", "task_id", r.taskID, "err", err.Error())
		return
	}
	params, _ := canonjson.MarshalString(state.ToolRequest.Payload)
	result, _ := canonjson.MarshalString(state.ToolResult)
	if _, err := c.memory.RecordToolCall(ctx, decisionID, state.ToolRequest.Tool, params, result); err != nil {
		c.logger.Warn(ctx, "controller: tool call row lost", "task_id", r.taskID, "err", err.Error())
	}
}

// commit persists working-state changes and feeds the semantic store. All
// failures degrade with a warning; commit never fails the run.
func (c *Controller) commit(ctx context.Context, r *run, in *RunInput, state *nodes.State, status string) {
	working := c.memory.Working()
	doc, err := working.Load(ctx, r.taskID)
	if err == nil {
		if doc.Goal == "" {
			doc.Goal = in.UserInput
		}
		doc.Status = status
		doc.CurrentStep = ""
		if err := working.Save(ctx, doc); err != nil {
			c.logger.Warn(ctx, "controller: working state commit failed", "task_id", r.taskID, "err", err.Error())
		}
	} else {
		c.logger.Warn(ctx, "controller: working state unavailable at commit", "task_id", r.taskID, "err", err.Error())
	}

	if c.semantic == nil || state == nil {
		return
	}
	ingest := []string{"user: " + in.UserInput}
	if state.Output != "" {
		ingest = append(ingest, "assistant: "+state.Output)
	}
	for _, text := range ingest {
		if _, err := c.semantic.Add(ctx, text, map[string]any{"task_id": r.taskID}); err != nil {
			c.logger.Warn(ctx, "controller: semantic ingest failed", "task_id", r.taskID, "err", err.Error())
			return
		}
	}
}

// fail moves the run to FAILED. Persisted rows are still committed; the
// task is not archived.
func (c *Controller) fail(ctx context.Context, r *run, state *nodes.State, code, message string) *RunOutput {
	if in := failInput(state); in != nil {
		c.commit(ctx, r, in, state, statusFailed)
	}
	content := fmt.Sprintf("run failed: %s: %s", code, message)
	decisionID, err := c.memory.RecordDecision(ctx, r.taskID, memory.ActionError, content, memory.StatusErr)
	if err != nil {
		c.logger.Warn(ctx, "controller: failure decision lost", "task_id", r.taskID, "err", err.Error())
	}
	if code == nodes.CodeValidationFailed {
		c.recordValidation(ctx, r, decisionID, "fail", message)
	}
	if err := r.machine.Advance(StateFailed); err != nil {
		c.logger.Error(ctx, "controller: failed from terminal state", "task_id", r.taskID, "err", err.Error())
	}
	r.trace = append(r.trace, TraceEntry{
		TaskID:          r.taskID,
		ControllerState: StateFailed,
		EventType:       EventTransition,
		Success:         false,
		StartOffsetNS:   c.now().Sub(r.runStart).Nanoseconds(),
		ErrorCode:       code,
	})
	c.metrics.IncCounter("controller.run.failed", 1, "code", code)
	c.logger.Warn(ctx, "controller: run failed", "task_id", r.taskID, "code", code, "msg", message)
	return c.finish(r, state)
}

// finish closes the trace with the latency baseline entry and builds the
// output.
func (c *Controller) finish(r *run, state *nodes.State) *RunOutput {
	final := r.machine.Current()
	total := c.now().Sub(r.runStart).Nanoseconds()
	r.trace = append(r.trace, TraceEntry{
		TaskID:          r.taskID,
		ControllerState: final,
		EventType:       EventLatencyBaseline,
		Success:         final == StateArchive,
		ElapsedNS:       total,
		StartOffsetNS:   total,
	})
	c.metrics.RecordTimer("controller.run", time.Duration(total), "final_state", string(final))

	output := ""
	if state != nil {
		output = state.Output
	}
	return &RunOutput{
		TaskID:     r.taskID,
		FinalState: final,
		LLMOutput:  output,
		Trace:      r.trace,
	}
}

// failInput reconstructs enough of the run input for the failure-path
// commit.
func failInput(state *nodes.State) *RunInput {
	if state == nil {
		return nil
	}
	return &RunInput{UserInput: state.UserInput, TaskID: state.TaskID}
}
