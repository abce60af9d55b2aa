// ABOUTME: OpenAI chat completion provider, also usable with OpenAI-compatible endpoints.
// ABOUTME: Converts turns to ChatCompletionMessages and returns the first choice.

package assistant

import (
	"context"
	"errors"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAI calls the chat completions API.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAI creates an OpenAI provider. baseURL may point at any compatible API.
func NewOpenAI(apiKey, model, baseURL string, maxTokens int) *OpenAI {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(config),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, system string, turns []Turn) (Completion, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		if t.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: msgs,
	}
	if o.maxTokens > 0 {
		req.MaxTokens = o.maxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return Completion{}, errors.New("empty response from OpenAI")
	}

	choice := resp.Choices[0]
	finish := "stop"
	switch choice.FinishReason {
	case openai.FinishReasonLength:
		finish = "length"
	case openai.FinishReasonContentFilter:
		finish = "content_filter"
	}
	return Completion{Text: choice.Message.Content, FinishReason: finish}, nil
}
