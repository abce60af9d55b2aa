// Package faq answers frequent visitor questions from a curated list.
//
// Entries live in a TOML file:
//
//	[[entry]]
//	question = "What are your opening hours?"
//	answer = "We are open 9:00-17:00 CET, Monday to Friday."
//	keywords = ["hours", "open", "schedule"]
//
// Questions and keywords are indexed in memory with bleve's standard
// analyzer. Match returns the top hit and whether its score clears the
// configured minimum.
package faq
