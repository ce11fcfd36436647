package dialog

// Record holds the values collected so far for one slot-filling cycle. A
// Record is owned by exactly one session and must not be shared across
// goroutines; the session's control loop is its only mutator.
type Record struct {
	specs     []FieldSpec
	byID      map[string]FieldSpec
	values    map[string]Value
	collected map[string]struct{}
	committed bool
}

// NewRecord creates an empty Record for the given field specs. Spec order
// defines the sequential collection order.
func NewRecord(specs []FieldSpec) *Record {
	byID := make(map[string]FieldSpec, len(specs))
	for _, s := range specs {
		byID[s.ID] = s
	}
	return &Record{
		specs:     specs,
		byID:      byID,
		values:    make(map[string]Value, len(specs)),
		collected: make(map[string]struct{}, len(specs)),
	}
}

// Specs returns the field specs in declared order.
func (r *Record) Specs() []FieldSpec { return r.specs }

// Spec returns the FieldSpec for the given id.
func (r *Record) Spec(fieldID string) (FieldSpec, bool) {
	s, ok := r.byID[fieldID]
	return s, ok
}

// Value returns the collected value for the given field and whether it has
// been collected.
func (r *Record) Value(fieldID string) (Value, bool) {
	_, ok := r.collected[fieldID]
	return r.values[fieldID], ok
}

// Collected reports whether the given field is in the collected set.
func (r *Record) Collected(fieldID string) bool {
	_, ok := r.collected[fieldID]
	return ok
}

// Complete reports whether every required field has been collected.
func (r *Record) Complete() bool {
	for _, s := range r.specs {
		if !s.Required {
			continue
		}
		if _, ok := r.collected[s.ID]; !ok {
			return false
		}
	}
	return true
}

// Committed reports whether this Record instance has already been committed.
func (r *Record) Committed() bool { return r.committed }

// MarkCommitted flags the Record as committed. Returns false if it was
// already committed; the commit must not be repeated in that case.
func (r *Record) MarkCommitted() bool {
	if r.committed {
		return false
	}
	r.committed = true
	return true
}

// Reset clears all collected values and the committed flag, starting a fresh
// collection cycle over the same field specs.
func (r *Record) Reset() {
	r.values = make(map[string]Value, len(r.specs))
	r.collected = make(map[string]struct{}, len(r.specs))
	r.committed = false
}
