// ABOUTME: Session, Message and mode types shared by the store and the orchestrator.
// ABOUTME: Sessions handed out by the store are copies and safe to read without locks.

package session

import (
	"maps"
	"slices"
	"time"
)

// Mode is the conversation state of a session.
type Mode string

// Session modes.
const (
	ModeAI           Mode = "AI"
	ModePendingHuman Mode = "PENDING_HUMAN"
	ModeHuman        Mode = "HUMAN"
)

// Role identifies who wrote a message.
type Role string

// Message roles.
const (
	RoleVisitor   Role = "visitor"
	RoleAssistant Role = "assistant"
	RoleOperator  Role = "operator"
	RoleSystem    Role = "system"
)

// Message is one entry of a session transcript. Messages are never modified
// after they are appended.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Claim records the outstanding notification that invited operators to take
// a waiting session.
type Claim struct {
	Handle string    `json:"handle"`
	Code   string    `json:"code"`
	SentAt time.Time `json:"sentAt"`
}

// Session is a snapshot of one conversation.
type Session struct {
	ID             string            `json:"id"`
	Mode           Mode              `json:"mode"`
	History        []Message         `json:"history"`
	Operator       string            `json:"operator,omitempty"`
	Claim          *Claim            `json:"claim,omitempty"`
	UserInfo       map[string]string `json:"userInfo,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	LastActivityAt time.Time         `json:"lastActivityAt"`
}

// Recent returns at most n of the newest messages.
func (s *Session) Recent(n int) []Message {
	if n <= 0 || len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

// clone copies everything the store may later mutate.
func (s *Session) clone() *Session {
	c := *s
	c.History = slices.Clone(s.History)
	c.UserInfo = maps.Clone(s.UserInfo)
	if s.Claim != nil {
		claim := *s.Claim
		c.Claim = &claim
	}
	return &c
}
