package nodes

import (
	"context"
	"errors"
	"time"

	"github.com/bentman/jarvis/runtime/memory"
	"github.com/bentman/jarvis/runtime/model"
)

// stubWorking is an in-memory memory.Working for node tests.
type stubWorking struct {
	messages map[string][]memory.Message
	failAll  bool
	appended []memory.Message
}

func newStubWorking() *stubWorking {
	return &stubWorking{messages: make(map[string][]memory.Message)}
}

func (s *stubWorking) Load(_ context.Context, taskID string) (*memory.WorkingState, error) {
	if s.failAll {
		return nil, errors.New("working store down")
	}
	return &memory.WorkingState{TaskID: taskID, Messages: s.messages[taskID]}, nil
}

func (s *stubWorking) Save(context.Context, *memory.WorkingState) error { return nil }

func (s *stubWorking) AppendMessage(_ context.Context, taskID, role, content string) error {
	if s.failAll {
		return errors.New("working store down")
	}
	msg := memory.Message{Role: role, Content: content, Timestamp: time.Now().UTC()}
	s.messages[taskID] = append(s.messages[taskID], msg)
	s.appended = append(s.appended, msg)
	return nil
}

func (s *stubWorking) ListRecentMessages(_ context.Context, taskID string, n int) ([]memory.Message, error) {
	if s.failAll {
		return nil, errors.New("working store down")
	}
	msgs := s.messages[taskID]
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]memory.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *stubWorking) Archive(context.Context, string) error { return nil }
func (s *stubWorking) Close() error                          { return nil }

// stubGenerator returns a fixed completion and records the last request.
type stubGenerator struct {
	text    string
	err     error
	lastReq *model.GenerateRequest
	calls   int
}

func (g *stubGenerator) Generate(_ context.Context, req *model.GenerateRequest) (*model.GenerateResponse, error) {
	g.lastReq = req
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &model.GenerateResponse{Text: g.text, FinishReason: "stop"}, nil
}
