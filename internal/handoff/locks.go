// ABOUTME: Per-key mutexes so work on one session or operator is serialized
// ABOUTME: Backed by moby/locker, which frees a key once nobody holds or waits for it

package handoff

import (
	"sync"

	"github.com/moby/locker"
)

// keyedLocks hands out one mutex per key.
type keyedLocks struct {
	l *locker.Locker
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{l: locker.New()}
}

// lock blocks until key is free and returns the matching unlock. Calling
// unlock more than once releases the key only the first time.
func (k *keyedLocks) lock(key string) (unlock func()) {
	k.l.Lock(key)

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = k.l.Unlock(key)
		})
	}
}
