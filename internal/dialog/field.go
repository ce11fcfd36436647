// Package dialog implements the slot-filling engine: a generic collector of
// named values into a Record, supporting both sequential collection (the next
// open field is the first unfilled one in declared order) and targeted
// collection (the caller names the field explicitly).
//
// A Record tracks which fields have been collected and whether it has been
// committed. Collection is idempotent per field: once a field is in the
// collected set, further applies are no-ops that signal FieldAlreadyCollected
// instead of overwriting.
package dialog

import "strings"

// FieldSpec describes one collectable field. FieldSpecs are immutable and
// defined at session-type configuration time.
type FieldSpec struct {
	// ID is the field identifier (e.g. "drink_type", "email").
	ID string

	// Prompt is the question spoken to collect this field.
	Prompt string

	// Required marks the field as necessary for record completion. Optional
	// fields never block completion and receive their empty value on commit.
	Required bool

	// List marks the field as list-typed: the collected value is a list of
	// comma/and-separated items rather than a single string.
	List bool

	// NegativeSentinel enables the negation rule: a negation phrase yields the
	// field's empty value (empty list or empty string) instead of the literal
	// text.
	NegativeSentinel bool

	// Lowercase normalises the collected text to lower case.
	Lowercase bool

	// Validate, when non-nil, rejects raw input before it is stored.
	Validate func(raw string) error
}

// Value is a collected field value. Exactly one of Text or List carries the
// value, per the field's List flag.
type Value struct {
	Text string
	List []string
}

// negationTokens are the words that count as a refusal for fields with a
// negative sentinel. Matching is token-based over the whole utterance, which
// is deliberately permissive ("no sugar please" counts as a refusal); see the
// field prompts, which ask yes/no style questions for such fields.
var negationTokens = map[string]struct{}{
	"no":      {},
	"nope":    {},
	"none":    {},
	"nothing": {},
	"nah":     {},
}

// isNegation reports whether the raw text contains a negation token.
func isNegation(raw string) bool {
	for _, tok := range strings.Fields(strings.ToLower(raw)) {
		tok = strings.Trim(tok, ".,!?")
		if _, ok := negationTokens[tok]; ok {
			return true
		}
	}
	return false
}

// splitList breaks a raw utterance into list items on commas and the word
// "and". Items are trimmed; empty items are dropped.
func splitList(raw string) []string {
	replaced := strings.NewReplacer(" and ", ",", " und ", ",").Replace(" " + raw + " ")
	parts := strings.Split(replaced, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			items = append(items, p)
		}
	}
	return items
}
