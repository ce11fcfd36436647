package dialog

import (
	"fmt"
	"strings"
)

// ApplyOutcome describes what Apply did with the input.
type ApplyOutcome int

const (
	// Applied means the value was stored and the field marked collected.
	Applied ApplyOutcome = iota

	// AlreadyCollected means the field was collected earlier; the stored value
	// was retained and the input discarded. This is a soft signal, not an
	// error.
	AlreadyCollected
)

// ApplyResult is returned by Apply on success.
type ApplyResult struct {
	Outcome ApplyOutcome

	// Field is the spec the input was applied against.
	Field FieldSpec

	// Value is the value now stored for the field (the original value when
	// Outcome is AlreadyCollected).
	Value Value

	// RecordComplete reports whether the record became complete as a result
	// of this apply.
	RecordComplete bool
}

// NextOpenField returns the first required field in declared order that has
// not been collected yet. Returns false when all required fields are
// collected.
func NextOpenField(r *Record) (FieldSpec, bool) {
	for _, s := range r.specs {
		if !s.Required {
			continue
		}
		if !r.Collected(s.ID) {
			return s, true
		}
	}
	return FieldSpec{}, false
}

// Apply normalises rawText per the field spec and stores it on the record,
// marking the field collected. If the field is already collected the call is
// an idempotent no-op reporting AlreadyCollected. Unknown field ids and
// validation failures return an error with the record unchanged.
func Apply(r *Record, fieldID, rawText string) (ApplyResult, error) {
	spec, ok := r.byID[fieldID]
	if !ok {
		return ApplyResult{}, fmt.Errorf("dialog: unknown field %q", fieldID)
	}

	if r.Collected(fieldID) {
		return ApplyResult{
			Outcome: AlreadyCollected,
			Field:   spec,
			Value:   r.values[fieldID],
		}, nil
	}

	text := strings.TrimSpace(rawText)
	if spec.Lowercase {
		text = strings.ToLower(text)
	}
	if spec.Validate != nil {
		if err := spec.Validate(text); err != nil {
			return ApplyResult{}, fmt.Errorf("dialog: field %q: %w", fieldID, err)
		}
	}

	var val Value
	switch {
	case spec.NegativeSentinel && isNegation(text):
		// A refusal stores the field's empty value, never the literal text.
		if spec.List {
			val = Value{List: []string{}}
		} else {
			val = Value{}
		}
	case spec.List:
		val = Value{List: splitList(text)}
	default:
		val = Value{Text: text}
	}

	r.values[fieldID] = val
	r.collected[fieldID] = struct{}{}

	return ApplyResult{
		Outcome:        Applied,
		Field:          spec,
		Value:          val,
		RecordComplete: r.Complete(),
	}, nil
}
