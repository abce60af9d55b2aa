// ABOUTME: In-memory session store with compare-and-swap mode transitions.
// ABOUTME: Owns history trimming, operator bindings and idle eviction.

package session

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"
)

// ErrSessionNotFound indicates no session exists with the given id.
var ErrSessionNotFound = errors.New("session not found")

// ErrInvalidTransition indicates the session was not in the expected mode.
var ErrInvalidTransition = errors.New("invalid mode transition")

// ErrAlreadyBound indicates another operator already holds the session.
var ErrAlreadyBound = errors.New("session already bound to an operator")

// DefaultHistoryLimit caps the transcript when no limit is configured.
const DefaultHistoryLimit = 100

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithHistoryLimit sets how many messages a session keeps.
func WithHistoryLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// Store keeps every live session in memory.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	byOperator map[string]string

	historyLimit int
	now          func() time.Time
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions:     make(map[string]*Session),
		byOperator:   make(map[string]string),
		historyLimit: DefaultHistoryLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the session with the given id, creating it in ModeAI if
// it does not exist. Non-empty userInfo values are merged into the session.
func (s *Store) GetOrCreate(id string, userInfo map[string]string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		mergeInfo(sess, userInfo)
		return sess.clone(), false
	}

	now := s.now()
	sess := &Session{
		ID:             id,
		Mode:           ModeAI,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	mergeInfo(sess, userInfo)
	s.sessions[id] = sess
	return sess.clone(), true
}

func mergeInfo(sess *Session, info map[string]string) {
	for k, v := range info {
		if v == "" {
			continue
		}
		if sess.UserInfo == nil {
			sess.UserInfo = make(map[string]string, len(info))
		}
		sess.UserInfo[k] = v
	}
}

// Find returns the session or ErrSessionNotFound. It never creates.
func (s *Store) Find(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.clone(), nil
}

// FindByOperator returns the session currently bound to the operator.
func (s *Store) FindByOperator(operator string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byOperator[operator]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.sessions[id].clone(), nil
}

// List returns a snapshot of all sessions in no particular order.
func (s *Store) List() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.clone())
	}
	return out
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Append adds a message to the session history and refreshes its activity
// time. A zero timestamp is filled in from the store clock.
func (s *Store) Append(id string, msg Message) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	now := s.now()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	sess.History = append(sess.History, msg)
	if over := len(sess.History) - s.historyLimit; over > 0 {
		sess.History = append([]Message(nil), sess.History[over:]...)
	}
	sess.LastActivityAt = now
	return sess.clone(), nil
}

// Transition moves the session from one mode to another. It fails with
// ErrInvalidTransition when the current mode is not from. Entering ModeHuman
// is only possible through BindOperator.
func (s *Store) Transition(id string, from, to Mode) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.Mode != from {
		return nil, fmt.Errorf("%w: %s is %s, not %s", ErrInvalidTransition, id, sess.Mode, from)
	}
	if to == ModeHuman || from == to {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	if from == ModeHuman {
		delete(s.byOperator, sess.Operator)
		sess.Operator = ""
	}
	if from == ModePendingHuman {
		sess.Claim = nil
	}
	sess.Mode = to
	sess.LastActivityAt = s.now()
	return sess.clone(), nil
}

// AttachClaim records the notification sent for a waiting session.
func (s *Store) AttachClaim(id string, claim Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.Mode != ModePendingHuman {
		return fmt.Errorf("%w: claim on %s session", ErrInvalidTransition, sess.Mode)
	}
	sess.Claim = &claim
	return nil
}

// BindOperator hands a waiting session to an operator. Only the first call for
// a given wait succeeds; later calls get ErrAlreadyBound.
func (s *Store) BindOperator(id, operator string) (*Session, error) {
	if operator == "" {
		return nil, errors.New("operator binding is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	switch sess.Mode {
	case ModeHuman:
		return nil, ErrAlreadyBound
	case ModeAI:
		return nil, fmt.Errorf("%w: %s is not waiting for an operator", ErrInvalidTransition, id)
	}

	sess.Mode = ModeHuman
	sess.Operator = operator
	sess.Claim = nil
	sess.LastActivityAt = s.now()
	s.byOperator[operator] = id
	return sess.clone(), nil
}

// Remove deletes a session and returns its final snapshot.
func (s *Store) Remove(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.removeLocked(sess)
	return sess, nil
}

func (s *Store) removeLocked(sess *Session) {
	delete(s.sessions, sess.ID)
	if sess.Operator != "" && s.byOperator[sess.Operator] == sess.ID {
		delete(s.byOperator, sess.Operator)
	}
}

// Expired returns the ids of sessions whose last activity is before cutoff.
func (s *Store) Expired(cutoff time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, sess := range s.sessions {
		if sess.LastActivityAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// EvictIfIdle removes the session only if it is still idle since before cutoff.
func (s *Store) EvictIfIdle(id string, cutoff time.Time) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || !sess.LastActivityAt.Before(cutoff) {
		return nil, false
	}
	s.removeLocked(sess)
	return sess, true
}

// EvictExpired removes every session idle for longer than idle as of now and
// reports how many were removed.
func (s *Store) EvictExpired(now time.Time, idle time.Duration) int {
	cutoff := now.Add(-idle)
	n := 0
	for _, id := range s.Expired(cutoff) {
		if _, ok := s.EvictIfIdle(id, cutoff); ok {
			n++
		}
	}
	return n
}

// Bindings returns a copy of the operator to session index.
func (s *Store) Bindings() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.byOperator)
}
