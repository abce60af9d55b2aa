// Package session holds the in-memory record of every live support conversation.
//
// # Overview
//
// A Session is created the first time a visitor contacts the gateway with an
// unknown session id and lives until it is evicted for inactivity or ended
// explicitly. The Store is the only owner of session state; callers receive
// snapshots and mutate through Store methods.
//
// # Modes
//
// Every session is in exactly one mode:
//
//   - ModeAI: the assistant answers visitor messages
//   - ModePendingHuman: a claim notification is outstanding, no operator yet
//   - ModeHuman: exactly one operator is bound and messages are relayed
//
// An operator binding exists if and only if the mode is ModeHuman.
//
// # Claim Race
//
// Transition and BindOperator are compare-and-swap operations on the mode. When
// several operators accept the same waiting session at once, the first
// BindOperator wins and the rest get ErrAlreadyBound.
//
// # Eviction
//
// Expired lists sessions idle since before a cutoff; EvictIfIdle removes one of
// them only if it is still idle, so a message that lands between listing and
// removal keeps the session alive.
package session
