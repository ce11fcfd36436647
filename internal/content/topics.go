package content

import (
	"encoding/json"
	"fmt"
	"os"
)

// Topic is one entry in the tutoring topic table.
type Topic struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Summary        string `json:"summary"`
	SampleQuestion string `json:"sample_question"`
}

// Catalog is an ordered, read-only topic table loaded once at startup.
type Catalog struct {
	topics []Topic
	byID   map[string]Topic
}

// NewCatalog builds a Catalog from the given topics, preserving order.
// Duplicate ids are rejected.
func NewCatalog(topics []Topic) (*Catalog, error) {
	byID := make(map[string]Topic, len(topics))
	for _, t := range topics {
		if t.ID == "" {
			return nil, fmt.Errorf("content: topic %q has empty id", t.Title)
		}
		if _, dup := byID[t.ID]; dup {
			return nil, fmt.Errorf("content: duplicate topic id %q", t.ID)
		}
		byID[t.ID] = t
	}
	return &Catalog{topics: topics, byID: byID}, nil
}

// LoadCatalog reads a JSON topic table (an array of topic objects) from path.
// An empty path returns the built-in default catalogue.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(DefaultTopics())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("content: read topic table: %w", err)
	}
	var topics []Topic
	if err := json.Unmarshal(data, &topics); err != nil {
		return nil, fmt.Errorf("content: parse topic table %s: %w", path, err)
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("content: topic table %s is empty", path)
	}
	return NewCatalog(topics)
}

// Topics returns the topics in declared order.
func (c *Catalog) Topics() []Topic { return c.topics }

// Lookup returns the topic with the given id.
func (c *Catalog) Lookup(id string) (Topic, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// Resolve finds the topic a spoken utterance most likely refers to, first by
// exact id, then by fuzzy match against ids and titles.
func (c *Catalog) Resolve(utterance string) (Topic, bool) {
	if t, ok := c.byID[utterance]; ok {
		return t, true
	}

	candidates := make([]string, 0, len(c.topics)*2)
	owners := make([]int, 0, len(c.topics)*2)
	for i, t := range c.topics {
		candidates = append(candidates, t.ID, t.Title)
		owners = append(owners, i, i)
	}

	idx, _, ok := bestMatch(utterance, candidates)
	if !ok {
		return Topic{}, false
	}
	return c.topics[owners[idx]], true
}

// DefaultTopics returns the built-in beginner programming topic table used
// when no topic file is configured.
func DefaultTopics() []Topic {
	return []Topic{
		{
			ID:             "variables",
			Title:          "Variables",
			Summary:        "A variable is a named box that stores a value your program can read and change. Naming them well makes code readable.",
			SampleQuestion: "What happens to the old value when you assign a new value to a variable?",
		},
		{
			ID:             "loops",
			Title:          "Loops",
			Summary:        "A loop repeats a block of code, either a fixed number of times or until a condition changes. Loops remove copy-pasted repetition.",
			SampleQuestion: "When would you choose a while loop over a for loop?",
		},
		{
			ID:             "functions",
			Title:          "Functions",
			Summary:        "A function is a reusable named block that takes inputs and returns an output. Functions break a big problem into small testable pieces.",
			SampleQuestion: "Why is it useful for a function to return a value instead of printing it?",
		},
	}
}
