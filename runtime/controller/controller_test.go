package controller

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bentman/jarvis/features/episodic/leveldb"
	"github.com/bentman/jarvis/features/workingstate/local"
	"github.com/bentman/jarvis/runtime/memory"
	"github.com/bentman/jarvis/runtime/model"
	"github.com/bentman/jarvis/runtime/tools"
)

// scriptGenerator returns canned completions in order, repeating the last.
type scriptGenerator struct {
	outputs []string
	err     error
	calls   int
}

func (g *scriptGenerator) Generate(context.Context, *model.GenerateRequest) (*model.GenerateResponse, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	i := g.calls - 1
	if i >= len(g.outputs) {
		i = len(g.outputs) - 1
	}
	return &model.GenerateResponse{Text: g.outputs[i], FinishReason: "stop"}, nil
}

type testEnv struct {
	controller *Controller
	manager    *memory.Manager
	archiveDir string
}

func newTestEnv(t *testing.T, gen model.Generator, mutate func(*Options)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	episodic, err := leveldb.New(&leveldb.Options{Path: filepath.Join(dir, "episodic")})
	require.NoError(t, err)
	t.Cleanup(func() { episodic.Close() })
	working, err := local.New(&local.Options{Dir: filepath.Join(dir, "working_state")})
	require.NoError(t, err)

	manager, err := memory.NewManager(&memory.ManagerOptions{Episodic: episodic, Working: working})
	require.NoError(t, err)

	opts := &Options{
		Memory:     manager,
		Generator:  gen,
		ArchiveDir: filepath.Join(dir, "archives"),
	}
	if mutate != nil {
		mutate(opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	return &testEnv{controller: c, manager: manager, archiveDir: opts.ArchiveDir}
}

func TestRunHappyPath(t *testing.T) {
	env := newTestEnv(t, &scriptGenerator{outputs: []string{"Two."}}, nil)

	out, err := env.controller.Run(context.Background(), &RunInput{UserInput: "what is one plus one?"})
	require.NoError(t, err)
	require.Equal(t, StateArchive, out.FinalState)
	require.Equal(t, "Two.", out.LLMOutput)
	require.Regexp(t, `^task-[0-9a-f]{10}$`, out.TaskID)

	// Five transitions, four node start/end pairs, latency baseline.
	require.Len(t, out.Trace, 14)
	require.Equal(t, EventTransition, out.Trace[0].EventType)
	require.Equal(t, StatePlan, out.Trace[0].ControllerState)
	require.Equal(t, StateExecute, out.Trace[1].ControllerState)
	require.Equal(t, "router", out.Trace[2].NodeID)
	require.Equal(t, "start", out.Trace[2].EventType)
	require.Equal(t, "validator", out.Trace[9].NodeID)
	require.Equal(t, StateValidate, out.Trace[10].ControllerState)
	require.Equal(t, StateCommit, out.Trace[11].ControllerState)
	require.Equal(t, StateArchive, out.Trace[12].ControllerState)

	last := out.Trace[len(out.Trace)-1]
	require.Equal(t, EventLatencyBaseline, last.EventType)
	require.True(t, last.Success)
	require.GreaterOrEqual(t, last.ElapsedNS, int64(0))

	// One decision row per transition plus none for tools.
	decisions, err := env.manager.Episodic().SearchDecisions(context.Background(), "plan", memory.SearchOptions{TaskID: out.TaskID})
	require.NoError(t, err)
	require.NotEmpty(t, decisions)

	// The VALIDATE decision owns a pass verdict.
	validated, err := env.manager.Episodic().SearchDecisions(context.Background(), "output validated", memory.SearchOptions{TaskID: out.TaskID})
	require.NoError(t, err)
	require.Len(t, validated, 1)
	verdicts, err := env.manager.Episodic().ListValidations(context.Background(), validated[0].ID)
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	require.Equal(t, "pass", verdicts[0].Result)
	require.Equal(t, "output_validator", verdicts[0].ValidatorType)

	// Archive snapshot exists and carries the transcript.
	raw, err := os.ReadFile(filepath.Join(env.archiveDir, out.TaskID+".json"))
	require.NoError(t, err)
	var record map[string]any
	require.NoError(t, json.Unmarshal(raw, &record))
	require.Equal(t, out.TaskID, record["task_id"])
	require.Equal(t, "ARCHIVE", record["final_state"])
	require.Equal(t, "Two.", record["llm_output"])
}

func TestRunRoundTripRecall(t *testing.T) {
	gen := &scriptGenerator{outputs: []string{"Nice to meet you, Alice.", "Alice"}}
	env := newTestEnv(t, gen, nil)

	first, err := env.controller.Run(context.Background(), &RunInput{UserInput: "My name is Alice."})
	require.NoError(t, err)
	require.Equal(t, StateArchive, first.FinalState)

	second, err := env.controller.Run(context.Background(), &RunInput{
		UserInput: "Please reply with only the name I told you.",
		TaskID:    first.TaskID,
	})
	require.NoError(t, err)
	require.Equal(t, StateArchive, second.FinalState)
	require.Equal(t, "Alice", second.LLMOutput)

	// The transcript carried over between turns.
	msgs, err := env.manager.Working().ListRecentMessages(context.Background(), first.TaskID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	require.Equal(t, "My name is Alice.", msgs[0].Content)
}

func TestRunArchivedRecordIsNeverMutated(t *testing.T) {
	env := newTestEnv(t, &scriptGenerator{outputs: []string{"one", "two"}}, nil)

	first, err := env.controller.Run(context.Background(), &RunInput{UserInput: "hello"})
	require.NoError(t, err)
	path := filepath.Join(env.archiveDir, first.TaskID+".json")
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	second, err := env.controller.Run(context.Background(), &RunInput{UserInput: "hello again", TaskID: first.TaskID})
	require.NoError(t, err)
	require.Equal(t, StateArchive, second.FinalState)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestRunValidatorFailureGoesFailed(t *testing.T) {
	env := newTestEnv(t, &scriptGenerator{outputs: []string{"   "}}, nil)

	out, err := env.controller.Run(context.Background(), &RunInput{UserInput: "hello"})
	require.NoError(t, err)
	require.Equal(t, StateFailed, out.FinalState)

	last := out.Trace[len(out.Trace)-1]
	require.Equal(t, EventLatencyBaseline, last.EventType)
	require.False(t, last.Success)
	failEntry := out.Trace[len(out.Trace)-2]
	require.Equal(t, StateFailed, failEntry.ControllerState)
	require.Equal(t, "validation_failed", failEntry.ErrorCode)

	// The failure landed on the episodic log, but no archive was written.
	decisions, err := env.manager.Episodic().SearchDecisions(context.Background(), "validation_failed", memory.SearchOptions{TaskID: out.TaskID})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.Equal(t, memory.ActionError, decisions[0].ActionType)
	verdicts, err := env.manager.Episodic().ListValidations(context.Background(), decisions[0].ID)
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	require.Equal(t, "fail", verdicts[0].Result)
	_, err = os.Stat(filepath.Join(env.archiveDir, out.TaskID+".json"))
	require.True(t, os.IsNotExist(err))
}

func TestRunModelUnavailableFailsRun(t *testing.T) {
	env := newTestEnv(t, &scriptGenerator{err: model.ErrUnavailable}, nil)
	out, err := env.controller.Run(context.Background(), &RunInput{UserInput: "hello"})
	require.NoError(t, err)
	require.Equal(t, StateFailed, out.FinalState)
}

func TestRunModelUnavailableFallback(t *testing.T) {
	env := newTestEnv(t, &scriptGenerator{err: model.ErrUnavailable}, func(o *Options) {
		o.FallbackMessage = "The model backend is offline."
	})
	out, err := env.controller.Run(context.Background(), &RunInput{UserInput: "hello"})
	require.NoError(t, err)
	require.Equal(t, StateArchive, out.FinalState)
	require.Equal(t, "The model backend is offline.", out.LLMOutput)
}

func TestRunDeadlineExceeded(t *testing.T) {
	env := newTestEnv(t, &scriptGenerator{outputs: []string{"ok"}}, nil)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	out, err := env.controller.Run(ctx, &RunInput{UserInput: "hello"})
	require.NoError(t, err)
	require.Equal(t, StateFailed, out.FinalState)
	failEntry := out.Trace[len(out.Trace)-2]
	require.Equal(t, CodeDeadlineExceeded, failEntry.ErrorCode)
}

func TestRunWithToolRequest(t *testing.T) {
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(tools.Definition{
		Name:   "echo",
		Tier:   tools.TierReadOnly,
		Schema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
		Handler: func(_ context.Context, payload map[string]any) (any, error) {
			return payload["text"], nil
		},
	}))
	executor, err := tools.NewExecutor(&tools.Options{Registry: registry})
	require.NoError(t, err)

	env := newTestEnv(t, &scriptGenerator{outputs: []string{"done"}}, func(o *Options) {
		o.Tools = executor
	})
	out, err := env.controller.Run(context.Background(), &RunInput{
		UserInput: "echo something for me",
		Tool:      &tools.Request{Tool: "echo", Payload: map[string]any{"text": "ping"}},
	})
	require.NoError(t, err)
	require.Equal(t, StateArchive, out.FinalState)

	var sawToolNode bool
	for _, entry := range out.Trace {
		if entry.NodeID == "tool_call" && entry.EventType == "end" {
			sawToolNode = true
		}
	}
	require.True(t, sawToolNode)

	calls, err := env.manager.Episodic().SearchToolCalls(context.Background(), "echo", memory.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	require.Equal(t, "echo", calls[0].ToolName)
	require.Contains(t, calls[0].Params, "ping")
}

func TestRunDeniedToolFailsRun(t *testing.T) {
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(tools.Definition{
		Name:   "write_thing",
		Tier:   tools.TierWriteSafe,
		Schema: json.RawMessage(`{"type":"object"}`),
		Handler: func(context.Context, map[string]any) (any, error) {
			return "wrote", nil
		},
	}))
	executor, err := tools.NewExecutor(&tools.Options{Registry: registry})
	require.NoError(t, err)

	env := newTestEnv(t, &scriptGenerator{outputs: []string{"done"}}, func(o *Options) {
		o.Tools = executor
	})
	out, err := env.controller.Run(context.Background(), &RunInput{
		UserInput: "write the thing",
		Tool:      &tools.Request{Tool: "write_thing"},
	})
	require.NoError(t, err)
	require.Equal(t, StateFailed, out.FinalState)
	failEntry := out.Trace[len(out.Trace)-2]
	require.Equal(t, tools.ErrCodePermissionDenied, failEntry.ErrorCode)
}

func TestRunTraceCanonicalDeterminism(t *testing.T) {
	env := newTestEnv(t, &scriptGenerator{outputs: []string{"two"}}, nil)

	first, err := env.controller.Run(context.Background(), &RunInput{UserInput: "one-plus-one"})
	require.NoError(t, err)
	second, err := env.controller.Run(context.Background(), &RunInput{UserInput: "one-plus-one"})
	require.NoError(t, err)
	require.NotEqual(t, first.TaskID, second.TaskID)

	c1, err := CanonicalTrace(first.Trace)
	require.NoError(t, err)
	c2, err := CanonicalTrace(second.Trace)
	require.NoError(t, err)
	require.Equal(t, c1, c2)
}

func TestRunRejectsEmptyInput(t *testing.T) {
	env := newTestEnv(t, &scriptGenerator{outputs: []string{"x"}}, nil)
	_, err := env.controller.Run(context.Background(), &RunInput{UserInput: "   "})
	require.Error(t, err)
	_, err = env.controller.Run(context.Background(), nil)
	require.Error(t, err)
}

func TestCheckHealth(t *testing.T) {
	env := newTestEnv(t, &scriptGenerator{outputs: []string{"x"}}, nil)
	h := env.controller.CheckHealth(context.Background())
	require.Equal(t, HealthOK, h.Status)
	require.Equal(t, HealthOK, h.Components["llm"])
	require.Equal(t, HealthOK, h.Components["episodic"])
	require.Equal(t, HealthDisabled, h.Components["cache"])
	require.Equal(t, HealthAbsent, h.Components["semantic"])
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	_, err = New(&Options{})
	require.Error(t, err)
}
