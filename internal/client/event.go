// ABOUTME: Outbound event envelopes pushed to visitors and inbound message envelopes.
// ABOUTME: The JSON shapes are the wire contract with the embedded chat widget.

package client

import "github.com/2389/handoff-gateway/internal/session"

// Outbound event types.
const (
	EventAIResponse        = "ai_response"
	EventHumanConnected    = "human_connected"
	EventHumanDisconnected = "human_disconnected"
	EventOperatorMessage   = "operator_message"
	EventStatus            = "status"
	EventError             = "error"
	EventHistory           = "history"
)

// Inbound message types.
const (
	InboundUserMessage  = "user_message"
	InboundRequestHuman = "request_human"
	InboundEndSession   = "end_session"
)

// Event is one message pushed to a visitor.
type Event struct {
	Type       string            `json:"type"`
	Text       string            `json:"text,omitempty"`
	Message    string            `json:"message,omitempty"`
	NeedsHuman *bool             `json:"needsHuman,omitempty"`
	Messages   []session.Message `json:"messages,omitempty"`
}

// Inbound is one message received from a visitor over the real-time channel.
type Inbound struct {
	Type      string            `json:"type"`
	SessionID string            `json:"sessionId"`
	Text      string            `json:"text"`
	UserInfo  map[string]string `json:"userInfo,omitempty"`
}

// AIResponse carries an assistant answer.
func AIResponse(text string, needsHuman bool) Event {
	return Event{Type: EventAIResponse, Text: text, NeedsHuman: &needsHuman}
}

// HumanConnected tells the visitor an operator joined.
func HumanConnected(text string) Event {
	return Event{Type: EventHumanConnected, Text: text}
}

// HumanDisconnected tells the visitor the operator left.
func HumanDisconnected(text string) Event {
	return Event{Type: EventHumanDisconnected, Text: text}
}

// OperatorMessage relays operator text.
func OperatorMessage(text string) Event {
	return Event{Type: EventOperatorMessage, Text: text}
}

// Status is an informational notice such as "waiting for an operator".
func Status(message string) Event {
	return Event{Type: EventStatus, Message: message}
}

// Error reports a failure the visitor should know about.
func Error(message string) Event {
	return Event{Type: EventError, Message: message}
}

// History replays the transcript after a (re)connect.
func History(messages []session.Message) Event {
	return Event{Type: EventHistory, Messages: messages}
}
