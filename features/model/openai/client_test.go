package openai_test

import (
	"context"
	"errors"
	"testing"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	adapter "github.com/bentman/jarvis/features/model/openai"
	"github.com/bentman/jarvis/runtime/model"
)

type mockChatClient struct {
	chatResponse  goopenai.ChatCompletionResponse
	embedResponse goopenai.EmbeddingResponse
	err           error

	lastChatRequest goopenai.ChatCompletionRequest
}

func (m *mockChatClient) CreateChatCompletion(_ context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error) {
	m.lastChatRequest = req
	return m.chatResponse, m.err
}

func (m *mockChatClient) CreateEmbeddings(_ context.Context, _ goopenai.EmbeddingRequestConverter) (goopenai.EmbeddingResponse, error) {
	return m.embedResponse, m.err
}

func (m *mockChatClient) ListModels(context.Context) (goopenai.ModelsList, error) {
	return goopenai.ModelsList{}, m.err
}

func TestGenerate(t *testing.T) {
	mock := &mockChatClient{chatResponse: goopenai.ChatCompletionResponse{
		Choices: []goopenai.ChatCompletionChoice{{
			FinishReason: "stop",
			Message:      goopenai.ChatCompletionMessage{Role: "assistant", Content: "hello back"},
		}},
		Usage: goopenai.Usage{PromptTokens: 12, CompletionTokens: 3},
	}}
	client, err := adapter.New(&adapter.Options{Model: "qwen2.5-7b-instruct", Client: mock})
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), &model.GenerateRequest{
		Messages:  []model.Message{{Role: model.RoleUser, Content: "hello"}},
		MaxTokens: 256,
		Stop:      []string{"User:"},
	})
	require.NoError(t, err)
	require.Equal(t, "hello back", resp.Text)
	require.Equal(t, "stop", resp.FinishReason)
	require.Equal(t, 12, resp.Usage.PromptTokens)

	require.Equal(t, "qwen2.5-7b-instruct", mock.lastChatRequest.Model)
	require.Equal(t, []string{"User:"}, mock.lastChatRequest.Stop)
	require.Equal(t, 256, mock.lastChatRequest.MaxTokens)
}

func TestGenerateUnavailable(t *testing.T) {
	mock := &mockChatClient{err: errors.New("connection refused")}
	client, err := adapter.New(&adapter.Options{Model: "m", Client: mock})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), &model.GenerateRequest{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	require.ErrorIs(t, err, model.ErrUnavailable)
}

func TestGenerateRequiresMessages(t *testing.T) {
	client, err := adapter.New(&adapter.Options{Model: "m", Client: &mockChatClient{}})
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), &model.GenerateRequest{})
	require.Error(t, err)
}

func TestEmbed(t *testing.T) {
	mock := &mockChatClient{embedResponse: goopenai.EmbeddingResponse{
		Data: []goopenai.Embedding{{Embedding: []float32{0.1, 0.2, 0.3}}},
	}}
	client, err := adapter.New(&adapter.Options{Model: "m", EmbeddingModel: "nomic-embed-text", Client: mock})
	require.NoError(t, err)

	vec, err := client.Embed(context.Background(), "some text")
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbedWithoutEmbeddingModel(t *testing.T) {
	client, err := adapter.New(&adapter.Options{Model: "m", Client: &mockChatClient{}})
	require.NoError(t, err)
	_, err = client.Embed(context.Background(), "text")
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	client, err := adapter.New(&adapter.Options{Model: "m", Client: &mockChatClient{}})
	require.NoError(t, err)
	require.NoError(t, client.Ping(context.Background()))

	down, err := adapter.New(&adapter.Options{Model: "m", Client: &mockChatClient{err: errors.New("down")}})
	require.NoError(t, err)
	require.ErrorIs(t, down.Ping(context.Background()), model.ErrUnavailable)
}

func TestNewRequiresModel(t *testing.T) {
	_, err := adapter.New(&adapter.Options{})
	require.Error(t, err)
}
