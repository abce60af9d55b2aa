// Package ledger keeps an audit transcript of support conversations.
//
// Every message, mode transition, claim and eviction the orchestrator performs
// is appended to a SQLite table. The ledger is write-only from the gateway's
// point of view: sessions are never rebuilt from it after a restart. The
// operations API reads it to show transcripts of past conversations.
package ledger
