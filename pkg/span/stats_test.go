package span

import "testing"

func TestStats_Merge(t *testing.T) {
	a := &Stats{InputTokens: Int(10), OutputTokens: Int(20), Errors: Int(0)}
	b := &Stats{InputTokens: Int(5), CachedInputTokens: Int(3), Errors: Int(1)}

	m := a.Merge(b)
	if got := *m.InputTokens; got != 15 {
		t.Errorf("InputTokens = %d, want 15", got)
	}
	if got := *m.OutputTokens; got != 20 {
		t.Errorf("OutputTokens = %d, want 20", got)
	}
	if got := *m.CachedInputTokens; got != 3 {
		t.Errorf("CachedInputTokens = %d, want 3", got)
	}
	if got := *m.Errors; got != 1 {
		t.Errorf("Errors = %d, want 1", got)
	}
	if m.TotalTokens != nil {
		t.Errorf("TotalTokens = %v, want absent", *m.TotalTokens)
	}
}

func TestStats_MergeDoesNotMutate(t *testing.T) {
	a := &Stats{InputTokens: Int(10)}
	b := &Stats{InputTokens: Int(5)}
	_ = a.Merge(b)
	if *a.InputTokens != 10 || *b.InputTokens != 5 {
		t.Error("Merge mutated an operand")
	}
}

func TestStats_MergeNil(t *testing.T) {
	a := &Stats{Cost: Float(0.5)}
	if m := a.Merge(nil); m == nil || *m.Cost != 0.5 {
		t.Error("merge with nil should clone the receiver")
	}
	var none *Stats
	if m := none.Merge(a); m == nil || *m.Cost != 0.5 {
		t.Error("nil receiver should clone the argument")
	}
}

func TestStats_EqualDistinguishesAbsentFromZero(t *testing.T) {
	withZero := &Stats{Errors: Int(0)}
	absent := &Stats{}
	if withZero.Equal(absent) {
		t.Error("errors=0 should not equal errors absent")
	}
	if !withZero.Equal(&Stats{Errors: Int(0)}) {
		t.Error("identical stats should be equal")
	}
}

func TestStats_NumericFields(t *testing.T) {
	s := &Stats{InputTokens: Int(7), Cost: Float(0.25), Descendants: Int(2)}
	fields := s.NumericFields()
	want := map[string]float64{"inputTokens": 7, "cost": 0.25, "descendants": 2}
	if len(fields) != len(want) {
		t.Fatalf("fields = %v, want %v", fields, want)
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("fields[%q] = %v, want %v", k, fields[k], v)
		}
	}
}

func TestStats_CloneIndependent(t *testing.T) {
	a := &Stats{InputTokens: Int(1)}
	b := a.Clone()
	*b.InputTokens = 99
	if *a.InputTokens != 1 {
		t.Error("clone shares pointers with original")
	}
}
