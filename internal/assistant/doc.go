// Package assistant answers visitors automatically and decides when a human
// should take over.
//
// # Gateway
//
// Gateway.Ask looks at the newest visitor message and tries, in order:
//
//  1. an explicit request for a person ("talk to a human"): NeedsHuman
//  2. the FAQ matcher, if configured
//  3. the completion provider (OpenAI or Anthropic)
//
// With provider "none" anything the FAQ cannot answer needs a human.
//
// # Needs-human signal
//
// The model is prompted to end its answer with HandoffMarker when it cannot
// help. Classify also treats empty or very short answers, common refusal
// phrases and content-filtered completions as needing a human. A provider
// error or timeout is returned as ErrUpstream; the caller escalates.
package assistant
