// ABOUTME: Assistant gateway: answers a visitor from the FAQ or a language model.
// ABOUTME: Every answer carries a NeedsHuman verdict; upstream failures wrap ErrUpstream.

package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/handoff-gateway/internal/faq"
	"github.com/2389/handoff-gateway/internal/session"
)

// ErrUpstream indicates the model provider failed or timed out.
var ErrUpstream = errors.New("assistant upstream failure")

// Reply sources.
const (
	SourceFAQ     = "faq"
	SourceModel   = "model"
	SourceVisitor = "visitor" // the visitor asked for a human outright
	SourceNone    = "none"    // no model configured and no FAQ hit
)

// DefaultSystemPrompt instructs the model how to hand over to a human.
const DefaultSystemPrompt = "You are a friendly customer support assistant. Answer briefly and accurately. " +
	"If you cannot help, if the visitor is upset, or if the request needs account access, refunds or " +
	"anything you are unsure about, reply with a short apology followed by " + HandoffMarker + " on its own line."

// Reply is the assistant's answer to the latest visitor message.
type Reply struct {
	Text       string
	NeedsHuman bool
	Source     string
}

// Turn is one provider-neutral chat turn. Role is "user" or "assistant".
type Turn struct {
	Role string
	Text string
}

// Completion is a raw model answer.
type Completion struct {
	Text         string
	FinishReason string
}

// Completer is a chat completion provider.
type Completer interface {
	Complete(ctx context.Context, system string, turns []Turn) (Completion, error)
}

// FAQ looks up canned answers.
type FAQ interface {
	Match(text string) (faq.Entry, float64, bool)
}

// Options tunes a Gateway.
type Options struct {
	SystemPrompt    string
	MinAnswerLength int
	Timeout         time.Duration
}

// Gateway produces replies for visitor messages.
type Gateway struct {
	completer Completer
	faq       FAQ
	opts      Options
	logger    *slog.Logger
}

// NewGateway builds a Gateway. Either completer or faqs may be nil.
func NewGateway(completer Completer, faqs FAQ, opts Options, logger *slog.Logger) *Gateway {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		completer: completer,
		faq:       faqs,
		opts:      opts,
		logger:    logger.With("component", "assistant"),
	}
}

// Ask answers the newest visitor message in history.
func (g *Gateway) Ask(ctx context.Context, history []session.Message) (Reply, error) {
	question := lastVisitorMessage(history)

	if WantsHuman(question) {
		return Reply{NeedsHuman: true, Source: SourceVisitor}, nil
	}

	if g.faq != nil {
		if entry, score, ok := g.faq.Match(question); ok {
			g.logger.Debug("faq hit", "score", score, "question", entry.Question)
			return Reply{Text: entry.Answer, Source: SourceFAQ}, nil
		}
	}

	if g.completer == nil {
		return Reply{NeedsHuman: true, Source: SourceNone}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	start := time.Now()
	completion, err := g.completer.Complete(ctx, g.opts.SystemPrompt, ToTurns(history))
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	text, needsHuman := Classify(completion.Text, completion.FinishReason, g.opts.MinAnswerLength)
	g.logger.Debug("model answered",
		"duration", time.Since(start),
		"finish_reason", completion.FinishReason,
		"needs_human", needsHuman,
	)
	return Reply{Text: text, NeedsHuman: needsHuman, Source: SourceModel}, nil
}

func lastVisitorMessage(history []session.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == session.RoleVisitor {
			return history[i].Content
		}
	}
	return ""
}

// ToTurns converts a transcript to alternating user/assistant turns, starting
// with a user turn. Operator messages count as the assistant side; system
// messages are dropped; consecutive turns of one role are merged.
func ToTurns(history []session.Message) []Turn {
	var turns []Turn
	for _, msg := range history {
		var role string
		switch msg.Role {
		case session.RoleVisitor:
			role = "user"
		case session.RoleAssistant, session.RoleOperator:
			role = "assistant"
		default:
			continue
		}
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		if len(turns) == 0 && role != "user" {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Text += "\n\n" + msg.Content
			continue
		}
		turns = append(turns, Turn{Role: role, Text: msg.Content})
	}
	return turns
}
