// ABOUTME: Tests for the session store: creation, transitions, binding and eviction.
// ABOUTME: Includes the concurrent claim race on a single waiting session.

package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(opts ...Option) (*Store, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)}
	return NewStore(append([]Option{WithClock(clock.Now)}, opts...)...), clock
}

func pendingSession(t *testing.T, s *Store, id string) {
	t.Helper()
	s.GetOrCreate(id, nil)
	_, err := s.Transition(id, ModeAI, ModePendingHuman)
	require.NoError(t, err)
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	s, _ := newTestStore()

	first, created := s.GetOrCreate("s1", map[string]string{"name": "Ana"})
	require.True(t, created)
	assert.Equal(t, ModeAI, first.Mode)

	second, created := s.GetOrCreate("s1", map[string]string{"page": "/pricing", "name": ""})
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, map[string]string{"name": "Ana", "page": "/pricing"}, second.UserInfo)
	assert.Equal(t, 1, s.Len())
}

func TestFindDoesNotCreate(t *testing.T) {
	s, _ := newTestStore()

	_, err := s.Find("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestAppendTrimsHistoryAndTouchesActivity(t *testing.T) {
	s, clock := newTestStore(WithHistoryLimit(3))
	created, _ := s.GetOrCreate("s1", nil)

	for i := range 5 {
		clock.Advance(time.Second)
		_, err := s.Append("s1", Message{Role: RoleVisitor, Content: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	sess, err := s.Find("s1")
	require.NoError(t, err)
	require.Len(t, sess.History, 3)
	assert.Equal(t, "m2", sess.History[0].Content)
	assert.Equal(t, "m4", sess.History[2].Content)
	assert.Equal(t, created.CreatedAt.Add(5*time.Second), sess.LastActivityAt)

	_, err = s.Append("missing", Message{Role: RoleVisitor, Content: "x"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSnapshotsAreIsolated(t *testing.T) {
	s, _ := newTestStore()
	s.GetOrCreate("s1", map[string]string{"name": "Ana"})
	_, err := s.Append("s1", Message{Role: RoleVisitor, Content: "hi"})
	require.NoError(t, err)

	snap, err := s.Find("s1")
	require.NoError(t, err)
	snap.History[0].Content = "changed"
	snap.UserInfo["name"] = "changed"

	fresh, err := s.Find("s1")
	require.NoError(t, err)
	assert.Equal(t, "hi", fresh.History[0].Content)
	assert.Equal(t, "Ana", fresh.UserInfo["name"])
}

func TestTransition(t *testing.T) {
	s, _ := newTestStore()
	s.GetOrCreate("s1", nil)

	_, err := s.Transition("s1", ModeHuman, ModeAI)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.Transition("s1", ModeAI, ModeHuman)
	assert.ErrorIs(t, err, ErrInvalidTransition, "HUMAN is only reachable through BindOperator")

	sess, err := s.Transition("s1", ModeAI, ModePendingHuman)
	require.NoError(t, err)
	assert.Equal(t, ModePendingHuman, sess.Mode)

	_, err = s.Transition("missing", ModeAI, ModePendingHuman)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAttachClaimOnlyWhilePending(t *testing.T) {
	s, _ := newTestStore()
	s.GetOrCreate("s1", nil)

	err := s.AttachClaim("s1", Claim{Handle: "$evt", Code: "S1"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.Transition("s1", ModeAI, ModePendingHuman)
	require.NoError(t, err)
	require.NoError(t, s.AttachClaim("s1", Claim{Handle: "$evt", Code: "S1"}))

	sess, _ := s.Find("s1")
	require.NotNil(t, sess.Claim)
	assert.Equal(t, "$evt", sess.Claim.Handle)

	sess, err = s.Transition("s1", ModePendingHuman, ModeAI)
	require.NoError(t, err)
	assert.Nil(t, sess.Claim)
}

func TestBindOperatorKeepsBindingInvariant(t *testing.T) {
	s, _ := newTestStore()
	s.GetOrCreate("s1", nil)

	_, err := s.BindOperator("s1", "@op:example.org")
	assert.ErrorIs(t, err, ErrInvalidTransition, "AI sessions cannot be claimed")

	_, err = s.Transition("s1", ModeAI, ModePendingHuman)
	require.NoError(t, err)
	require.NoError(t, s.AttachClaim("s1", Claim{Handle: "$evt"}))

	sess, err := s.BindOperator("s1", "@op:example.org")
	require.NoError(t, err)
	assert.Equal(t, ModeHuman, sess.Mode)
	assert.Equal(t, "@op:example.org", sess.Operator)
	assert.Nil(t, sess.Claim)

	byOp, err := s.FindByOperator("@op:example.org")
	require.NoError(t, err)
	assert.Equal(t, "s1", byOp.ID)

	sess, err = s.Transition("s1", ModeHuman, ModeAI)
	require.NoError(t, err)
	assert.Equal(t, ModeAI, sess.Mode)
	assert.Empty(t, sess.Operator)

	_, err = s.FindByOperator("@op:example.org")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestBindOperatorRace(t *testing.T) {
	s, _ := newTestStore()
	pendingSession(t, s, "s1")

	const claimants = 32
	var wins, taken atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range claimants {
		wg.Go(func() {
			<-start
			_, err := s.BindOperator("s1", fmt.Sprintf("@op%d:example.org", i))
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, ErrAlreadyBound):
				taken.Add(1)
			}
		})
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(claimants-1), taken.Load())

	sess, err := s.Find("s1")
	require.NoError(t, err)
	assert.Equal(t, ModeHuman, sess.Mode)
	assert.NotEmpty(t, sess.Operator)
	assert.Len(t, s.Bindings(), 1)
}

func TestEvictExpired(t *testing.T) {
	s, clock := newTestStore()
	s.GetOrCreate("old", nil)
	clock.Advance(20 * time.Minute)
	s.GetOrCreate("fresh", nil)
	clock.Advance(15 * time.Minute)

	n := s.EvictExpired(clock.Now(), 30*time.Minute)
	assert.Equal(t, 1, n)

	_, err := s.Find("old")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.Find("fresh")
	assert.NoError(t, err)
}

func TestEvictIfIdleRechecksActivity(t *testing.T) {
	s, clock := newTestStore()
	pendingSession(t, s, "s1")
	_, err := s.BindOperator("s1", "@op:example.org")
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	cutoff := clock.Now().Add(-30 * time.Minute)
	require.Equal(t, []string{"s1"}, s.Expired(cutoff))

	// Activity between listing and eviction saves the session.
	_, err = s.Append("s1", Message{Role: RoleVisitor, Content: "still here"})
	require.NoError(t, err)
	_, ok := s.EvictIfIdle("s1", cutoff)
	assert.False(t, ok)

	clock.Advance(31 * time.Minute)
	cutoff = clock.Now().Add(-30 * time.Minute)
	evicted, ok := s.EvictIfIdle("s1", cutoff)
	require.True(t, ok)
	assert.Equal(t, "@op:example.org", evicted.Operator)
	assert.Empty(t, s.Bindings())
}

func TestRecent(t *testing.T) {
	sess := &Session{History: []Message{{Content: "a"}, {Content: "b"}, {Content: "c"}}}
	assert.Len(t, sess.Recent(2), 2)
	assert.Equal(t, "b", sess.Recent(2)[0].Content)
	assert.Len(t, sess.Recent(10), 3)
	assert.Len(t, sess.Recent(0), 3)
}
