package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements the Client interface for OpenAI-compatible APIs
// (OpenAI, Ollama, vLLM, LiteLLM, etc.).
type OpenAIClient struct {
	model  string
	client *openai.Client
}

// NewOpenAIClient creates a new OpenAI-compatible client. An empty baseURL
// uses the OpenAI default.
func NewOpenAIClient(baseURL, apiKey, model string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}
	config.HTTPClient = &http.Client{Timeout: 5 * time.Minute}

	return &OpenAIClient{
		model:  model,
		client: openai.NewClientWithConfig(config),
	}
}

// Model returns the model name requests default to.
func (c *OpenAIClient) Model() string { return c.model }

// Stream makes a streaming chat completion call. Tool call deltas are
// forwarded as they arrive rather than accumulated.
func (c *OpenAIClient) Stream(ctx context.Context, req Request, ch chan<- StreamChunk) error {
	defer close(ch)

	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(req))
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		res, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if len(res.Choices) == 0 {
			continue
		}

		choice := res.Choices[0]
		if choice.Delta.Content != "" {
			ch <- StreamChunk{Delta: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			ch <- StreamChunk{ToolCallDelta: &ToolCallDelta{
				Index:     idx,
				ID:        tc.ID,
				Name:      cleanToolName(tc.Function.Name),
				Arguments: tc.Function.Arguments,
			}}
		}
		if choice.FinishReason != "" {
			ch <- StreamChunk{FinishReason: string(choice.FinishReason)}
		}
	}

	ch <- StreamChunk{Done: true}
	return nil
}

func (c *OpenAIClient) buildRequest(req Request) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)

	// System prompt as first message
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}

	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		msgs = append(msgs, msg)
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	oReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		oReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		oReq.Temperature = float32(*req.Temperature)
	}

	for _, t := range req.Tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		oReq.Tools = append(oReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	if len(oReq.Tools) > 0 {
		if req.ToolChoice != "" {
			oReq.ToolChoice = req.ToolChoice
		}
		if req.ParallelToolCalls != nil {
			oReq.ParallelToolCalls = *req.ParallelToolCalls
		}
	}

	return oReq
}

// cleanToolName strips namespace prefixes some models put on function names.
func cleanToolName(name string) string {
	for _, prefix := range []string{"functions.", "function.", "tools.", "tool."} {
		name = strings.TrimPrefix(name, prefix)
	}
	return name
}
