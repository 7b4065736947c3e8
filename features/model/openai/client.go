// Package openai adapts any OpenAI-protocol chat server, including local
// llama.cpp-style runtimes, to the runtime's Generator and Embedder
// capabilities.
package openai

import (
	"context"
	"errors"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/bentman/jarvis/runtime/model"
	"github.com/bentman/jarvis/runtime/telemetry"
)

type (
	// ChatClient is the subset of the go-openai client the adapter uses.
	// Tests substitute a fake.
	ChatClient interface {
		CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
		CreateEmbeddings(ctx context.Context, conv goopenai.EmbeddingRequestConverter) (goopenai.EmbeddingResponse, error)
		ListModels(ctx context.Context) (goopenai.ModelsList, error)
	}

	// Options configures the adapter.
	Options struct {
		// Model is the chat model identifier. Required.
		Model string
		// EmbeddingModel is the embeddings model identifier. Required
		// only when Embed is used.
		EmbeddingModel string
		// BaseURL points at the OpenAI-protocol server. Defaults to the
		// public endpoint; local runtimes set host:port/v1 here.
		BaseURL string
		// APIKey authenticates. Local runtimes usually accept anything.
		APIKey string
		// Client overrides the constructed go-openai client. Used in
		// tests.
		Client ChatClient
		// Logger defaults to no-op.
		Logger telemetry.Logger
	}

	// Client implements model.Generator, model.Embedder, and model.Pinger.
	Client struct {
		client         ChatClient
		model          string
		embeddingModel string
		logger         telemetry.Logger
	}
)

var (
	_ model.Generator = (*Client)(nil)
	_ model.Embedder  = (*Client)(nil)
	_ model.Pinger    = (*Client)(nil)
)

// New constructs a Client.
func New(opts *Options) (*Client, error) {
	if opts == nil || opts.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	c := &Client{
		client:         opts.Client,
		model:          opts.Model,
		embeddingModel: opts.EmbeddingModel,
		logger:         opts.Logger,
	}
	if c.client == nil {
		cfg := goopenai.DefaultConfig(opts.APIKey)
		if opts.BaseURL != "" {
			cfg.BaseURL = opts.BaseURL
		}
		c.client = goopenai.NewClientWithConfig(cfg)
	}
	if c.logger == nil {
		c.logger = telemetry.NewNoopLogger()
	}
	return c, nil
}

// Generate produces one chat completion.
func (c *Client) Generate(ctx context.Context, req *model.GenerateRequest) (*model.GenerateResponse, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, errors.New("openai: request needs messages")
	}
	messages := make([]goopenai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stop:        req.Stop,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response carried no choices")
	}
	choice := resp.Choices[0]
	return &model.GenerateResponse{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: model.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// Embed maps text to a vector via the embeddings endpoint.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("openai: empty embed input")
	}
	if c.embeddingModel == "" {
		return nil, errors.New("openai: embedding model not configured")
	}
	resp, err := c.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: []string{text},
		Model: goopenai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrUnavailable, err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai: embeddings response was empty")
	}
	return resp.Data[0].Embedding, nil
}

// Ping verifies the backend answers the models endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("%w: %s", model.ErrUnavailable, err)
	}
	return nil
}
