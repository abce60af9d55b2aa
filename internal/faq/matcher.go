// ABOUTME: Lexical FAQ matcher: loads question/answer pairs from TOML into an in-memory bleve index.
// ABOUTME: Lets the assistant answer common questions without calling the language model.

package faq

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Entry is one canned answer.
type Entry struct {
	Question string   `toml:"question"`
	Answer   string   `toml:"answer"`
	Keywords []string `toml:"keywords"`
}

type file struct {
	Entries []Entry `toml:"entry"`
}

// Matcher finds the FAQ entry closest to a visitor question.
type Matcher struct {
	index    bleve.Index
	entries  []Entry
	minScore float64
}

// LoadFile reads a TOML file of [[entry]] tables and builds a Matcher.
func LoadFile(path string, minScore float64) (*Matcher, error) {
	var f file
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("reading faq file: %w", err)
	}
	return New(f.Entries, minScore)
}

// New indexes entries. Entries without a question or answer are rejected.
func New(entries []Entry, minScore float64) (*Matcher, error) {
	if len(entries) == 0 {
		return nil, errors.New("faq has no entries")
	}

	index, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("creating faq index: %w", err)
	}

	batch := index.NewBatch()
	for i, e := range entries {
		if strings.TrimSpace(e.Question) == "" || strings.TrimSpace(e.Answer) == "" {
			_ = index.Close()
			return nil, fmt.Errorf("faq entry %d: question and answer are required", i+1)
		}
		doc := map[string]any{
			"question": e.Question,
			"keywords": strings.Join(e.Keywords, " "),
		}
		if err := batch.Index(strconv.Itoa(i), doc); err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("indexing faq entry %d: %w", i+1, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("indexing faq: %w", err)
	}

	return &Matcher{index: index, entries: entries, minScore: minScore}, nil
}

func buildMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	question := bleve.NewTextFieldMapping()
	question.Analyzer = standard.Name
	question.Store = false
	doc.AddFieldMappingsAt("question", question)

	keywords := bleve.NewTextFieldMapping()
	keywords.Analyzer = standard.Name
	keywords.Store = false
	doc.AddFieldMappingsAt("keywords", keywords)

	indexMapping.DefaultMapping = doc
	return indexMapping
}

// Match returns the best entry for text and its score. ok is false when
// nothing scores at least the configured minimum.
func (m *Matcher) Match(text string) (Entry, float64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Entry{}, 0, false
	}

	req := bleve.NewSearchRequest(bleve.NewMatchQuery(text))
	req.Size = 1
	res, err := m.index.Search(req)
	if err != nil || len(res.Hits) == 0 {
		return Entry{}, 0, false
	}

	hit := res.Hits[0]
	i, err := strconv.Atoi(hit.ID)
	if err != nil || i < 0 || i >= len(m.entries) {
		return Entry{}, 0, false
	}
	return m.entries[i], hit.Score, hit.Score >= m.minScore
}

// Len reports the number of entries.
func (m *Matcher) Len() int { return len(m.entries) }

// Close releases the index.
func (m *Matcher) Close() error {
	return m.index.Close()
}
