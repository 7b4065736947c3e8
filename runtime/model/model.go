// Package model defines the language-model capabilities the runtime depends
// on. The runtime never constructs a model itself; generation and embedding
// are injected so tests substitute deterministic stubs and production wires
// an OpenAI-protocol client.
package model

import (
	"context"
	"errors"
)

// ErrUnavailable reports that the model runtime cannot be reached. The
// controller degrades to a canned fallback answer instead of failing the
// whole task pipeline startup.
var ErrUnavailable = errors.New("model: unavailable")

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type (
	// Message is one chat turn sent to the model.
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	// GenerateRequest asks for a completion of the conversation.
	GenerateRequest struct {
		Messages    []Message
		MaxTokens   int
		Temperature float64
		Stop        []string
	}

	// GenerateResponse is the model's answer.
	GenerateResponse struct {
		Text         string
		FinishReason string
		Usage        Usage
	}

	// Usage reports token accounting when the backend provides it.
	Usage struct {
		PromptTokens     int
		CompletionTokens int
	}

	// Generator produces chat completions.
	Generator interface {
		Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
	}

	// Embedder maps text to a fixed-dimension vector.
	Embedder interface {
		Embed(ctx context.Context, text string) ([]float32, error)
	}

	// Pinger is implemented by backends that can report reachability.
	// Health reporting treats a missing Pinger as healthy.
	Pinger interface {
		Ping(ctx context.Context) error
	}
)
