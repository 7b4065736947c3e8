// Package anthropic adapts the Claude Messages API to the runtime's
// Generator capability, as an alternative backend to the OpenAI-protocol
// adapter.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/bentman/jarvis/runtime/model"
	"github.com/bentman/jarvis/runtime/telemetry"
)

type (
	// MessagesClient is the subset of the Anthropic SDK the adapter uses.
	// *sdk.MessageService satisfies it; tests substitute a fake.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures the adapter.
	Options struct {
		// Model is the Claude model identifier. Required.
		Model string
		// APIKey authenticates. Required unless Client is set.
		APIKey string
		// Client overrides the constructed SDK client. Used in tests.
		Client MessagesClient
		// Logger defaults to no-op.
		Logger telemetry.Logger
	}

	// Client implements model.Generator and model.Pinger.
	Client struct {
		msg    MessagesClient
		model  string
		logger telemetry.Logger
	}
)

var (
	_ model.Generator = (*Client)(nil)
	_ model.Pinger    = (*Client)(nil)
)

// New constructs a Client.
func New(opts *Options) (*Client, error) {
	if opts == nil || opts.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	c := &Client{
		msg:    opts.Client,
		model:  opts.Model,
		logger: opts.Logger,
	}
	if c.msg == nil {
		if opts.APIKey == "" {
			return nil, errors.New("anthropic: api key is required")
		}
		ac := sdk.NewClient(option.WithAPIKey(opts.APIKey))
		c.msg = &ac.Messages
	}
	if c.logger == nil {
		c.logger = telemetry.NewNoopLogger()
	}
	return c, nil
}

// Generate produces one completion via Messages.New.
func (c *Client) Generate(ctx context.Context, req *model.GenerateRequest) (*model.GenerateResponse, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, errors.New("anthropic: request needs messages")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}

	var system []sdk.TextBlockParam
	var conversation []sdk.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case model.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrUnavailable, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &model.GenerateResponse{
		Text:         text.String(),
		FinishReason: string(msg.StopReason),
		Usage: model.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// Ping issues a one-token request to verify the backend answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: 1,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock("ping"))},
	})
	if err != nil {
		return fmt.Errorf("%w: %s", model.ErrUnavailable, err)
	}
	return nil
}
