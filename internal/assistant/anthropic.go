// ABOUTME: Anthropic Messages API provider.
// ABOUTME: Sends the system prompt as a system part and concatenates text blocks of the answer.

package assistant

import (
	"context"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

// Anthropic calls the Messages API.
type Anthropic struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(apiKey, model string, maxTokens int) *Anthropic {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &Anthropic{
		client:    anthropic.NewClient(apiKey),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Complete implements Completer.
func (a *Anthropic) Complete(ctx context.Context, system string, turns []Turn) (Completion, error) {
	msgs := make([]anthropic.Message, 0, len(turns))
	for _, t := range turns {
		role := anthropic.RoleUser
		if t.Role == "assistant" {
			role = anthropic.RoleAssistant
		}
		msgs = append(msgs, anthropic.Message{
			Role:    role,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(t.Text)},
		})
	}

	req := anthropic.MessagesRequest{
		Model:     anthropic.Model(a.model),
		Messages:  msgs,
		MaxTokens: a.maxTokens,
	}
	if system != "" {
		req.MultiSystem = []anthropic.MessageSystemPart{{Type: "text", Text: system}}
	}

	resp, err := a.client.CreateMessages(ctx, req)
	if err != nil {
		return Completion{}, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			text.WriteString(*block.Text)
		}
	}

	finish := "stop"
	switch resp.StopReason {
	case "max_tokens":
		finish = "length"
	case "content_filtered", "refusal":
		finish = "content_filter"
	}
	return Completion{Text: text.String(), FinishReason: finish}, nil
}
