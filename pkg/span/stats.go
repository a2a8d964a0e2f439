package span

// Stats is the aggregate attached to a span after propagation. Every field
// is optional: a nil pointer means the dimension was never observed, which
// is distinct from an observed zero.
type Stats struct {
	InputTokens       *int64   `json:"inputTokens,omitempty"`
	OutputTokens      *int64   `json:"outputTokens,omitempty"`
	CachedInputTokens *int64   `json:"cachedInputTokens,omitempty"`
	TotalTokens       *int64   `json:"totalTokens,omitempty"`
	Cost              *float64 `json:"cost,omitempty"`
	Errors            *int64   `json:"errors,omitempty"`
	Descendants       *int64   `json:"descendants,omitempty"`
	Duration          *int64   `json:"duration,omitempty"`
}

// Int returns a pointer to v, for building Stats literals.
func Int(v int64) *int64 { return &v }

// Float returns a pointer to v, for building Stats literals.
func Float(v float64) *float64 { return &v }

func addInt(a, b *int64) *int64 {
	if a == nil {
		return cloneInt(b)
	}
	if b == nil {
		return cloneInt(a)
	}
	return Int(*a + *b)
}

func addFloat(a, b *float64) *float64 {
	if a == nil {
		return cloneFloat(b)
	}
	if b == nil {
		return cloneFloat(a)
	}
	return Float(*a + *b)
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	return Int(*v)
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return Float(*v)
}

// Merge returns the field-wise sum of s and o. A field absent on both sides
// stays absent; a field present on either side is present in the result.
// Neither receiver nor argument is mutated.
func (s *Stats) Merge(o *Stats) *Stats {
	if s == nil {
		return o.Clone()
	}
	if o == nil {
		return s.Clone()
	}
	return &Stats{
		InputTokens:       addInt(s.InputTokens, o.InputTokens),
		OutputTokens:      addInt(s.OutputTokens, o.OutputTokens),
		CachedInputTokens: addInt(s.CachedInputTokens, o.CachedInputTokens),
		TotalTokens:       addInt(s.TotalTokens, o.TotalTokens),
		Cost:              addFloat(s.Cost, o.Cost),
		Errors:            addInt(s.Errors, o.Errors),
		Descendants:       addInt(s.Descendants, o.Descendants),
		Duration:          addInt(s.Duration, o.Duration),
	}
}

// Clone returns a deep copy of s; nil clones to nil.
func (s *Stats) Clone() *Stats {
	if s == nil {
		return nil
	}
	return &Stats{
		InputTokens:       cloneInt(s.InputTokens),
		OutputTokens:      cloneInt(s.OutputTokens),
		CachedInputTokens: cloneInt(s.CachedInputTokens),
		TotalTokens:       cloneInt(s.TotalTokens),
		Cost:              cloneFloat(s.Cost),
		Errors:            cloneInt(s.Errors),
		Descendants:       cloneInt(s.Descendants),
		Duration:          cloneInt(s.Duration),
	}
}

func eqInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func eqFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Equal compares every field, treating absent and present-zero as distinct.
func (s *Stats) Equal(o *Stats) bool {
	if s == nil || o == nil {
		return s == nil && o == nil
	}
	return eqInt(s.InputTokens, o.InputTokens) &&
		eqInt(s.OutputTokens, o.OutputTokens) &&
		eqInt(s.CachedInputTokens, o.CachedInputTokens) &&
		eqInt(s.TotalTokens, o.TotalTokens) &&
		eqFloat(s.Cost, o.Cost) &&
		eqInt(s.Errors, o.Errors) &&
		eqInt(s.Descendants, o.Descendants) &&
		eqInt(s.Duration, o.Duration)
}

// NumericFields returns the present fields as a name → value map, the shape
// merged into experiment result scores.
func (s *Stats) NumericFields() map[string]float64 {
	if s == nil {
		return nil
	}
	out := make(map[string]float64)
	if s.InputTokens != nil {
		out["inputTokens"] = float64(*s.InputTokens)
	}
	if s.OutputTokens != nil {
		out["outputTokens"] = float64(*s.OutputTokens)
	}
	if s.CachedInputTokens != nil {
		out["cachedInputTokens"] = float64(*s.CachedInputTokens)
	}
	if s.TotalTokens != nil {
		out["totalTokens"] = float64(*s.TotalTokens)
	}
	if s.Cost != nil {
		out["cost"] = *s.Cost
	}
	if s.Errors != nil {
		out["errors"] = float64(*s.Errors)
	}
	if s.Descendants != nil {
		out["descendants"] = float64(*s.Descendants)
	}
	if s.Duration != nil {
		out["duration"] = float64(*s.Duration)
	}
	return out
}
