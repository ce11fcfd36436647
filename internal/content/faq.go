package content

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// FAQEntry is one answerable question in the sales FAQ table.
type FAQEntry struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Keywords []string `json:"keywords"`
}

// FAQ is a read-only question/answer table with spoken-input lookup.
type FAQ struct {
	entries []FAQEntry
}

// NewFAQ builds an FAQ from the given entries, preserving order.
func NewFAQ(entries []FAQEntry) *FAQ {
	return &FAQ{entries: entries}
}

// LoadFAQ reads a JSON FAQ table (an array of entry objects) from path.
// An empty path returns the built-in default table.
func LoadFAQ(path string) (*FAQ, error) {
	if path == "" {
		return NewFAQ(DefaultFAQ()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("content: read FAQ table: %w", err)
	}
	var entries []FAQEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("content: parse FAQ table %s: %w", path, err)
	}
	return NewFAQ(entries), nil
}

// Entries returns the entries in declared order.
func (f *FAQ) Entries() []FAQEntry { return f.entries }

// Answer finds the entry whose keywords best match the spoken question.
// A keyword contained verbatim in the utterance wins immediately; otherwise
// every keyword competes via fuzzy matching.
func (f *FAQ) Answer(utterance string) (FAQEntry, bool) {
	lower := strings.ToLower(utterance)

	for _, e := range f.entries {
		for _, kw := range e.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return e, true
			}
		}
	}

	var candidates []string
	var owners []int
	for i, e := range f.entries {
		for _, kw := range e.Keywords {
			candidates = append(candidates, kw)
			owners = append(owners, i)
		}
	}
	idx, _, ok := bestMatch(utterance, candidates)
	if !ok {
		return FAQEntry{}, false
	}
	return f.entries[owners[idx]], true
}

// DefaultFAQ returns the built-in product FAQ used when no FAQ file is
// configured.
func DefaultFAQ() []FAQEntry {
	return []FAQEntry{
		{
			ID:       "pricing",
			Question: "How much does it cost?",
			Answer:   "We have a free tier for small teams, and paid plans start at twenty dollars per seat per month. Annual billing gets you two months free.",
			Keywords: []string{"pricing", "price", "cost", "expensive", "how much"},
		},
		{
			ID:       "product",
			Question: "What does the product do?",
			Answer:   "It's a voice assistant platform: you plug in your own knowledge and workflows, and it handles calls end to end with natural conversation.",
			Keywords: []string{"product", "what do you do", "features", "capabilities"},
		},
		{
			ID:       "integrations",
			Question: "What does it integrate with?",
			Answer:   "We integrate with the major CRMs and helpdesks out of the box, and there's a webhook API for anything custom.",
			Keywords: []string{"integrate", "integration", "crm", "api", "webhook"},
		},
		{
			ID:       "security",
			Question: "Is my data secure?",
			Answer:   "All audio and transcripts are encrypted in transit and at rest, and we never train models on your data.",
			Keywords: []string{"security", "secure", "privacy", "data", "gdpr"},
		},
		{
			ID:       "support",
			Question: "What support do you offer?",
			Answer:   "Email support on every plan, and dedicated onboarding plus a shared channel on the business tier.",
			Keywords: []string{"support", "help", "onboarding", "sla"},
		},
	}
}
