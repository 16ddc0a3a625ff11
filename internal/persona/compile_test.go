package persona

import (
	"errors"
	"math"
	"testing"
)

func makeRecord(id string, v float64) Record {
	rec := Record{
		ID:          id,
		Numeric:     map[string]float64{},
		Categorical: map[string]string{FieldArchetype: "pragmatist"},
	}
	for _, f := range RequiredNumeric {
		rec.Numeric[f] = v
	}
	return rec
}

func TestCompileWithinRanges(t *testing.T) {
	for _, v := range []float64{0, 0.25, 0.5, 0.75, 1} {
		p, err := Compile(makeRecord("p1", v))
		if err != nil {
			t.Fatalf("Compile(%v): %v", v, err)
		}
		if !p.Within() {
			t.Fatalf("priors out of range for v=%v: %+v", v, p)
		}
	}
}

func TestCompileDeterministic(t *testing.T) {
	rec := makeRecord("p1", 0.3)
	rec.Numeric[FieldUrgency] = 0.9
	a, _ := Compile(rec)
	b, _ := Compile(rec)
	if a != b {
		t.Fatalf("non-deterministic compile: %+v vs %+v", a, b)
	}
}

func TestCompileWeightedCombination(t *testing.T) {
	rec := makeRecord("p1", 0)
	rec.Numeric[FieldDigitalLiteracy] = 1
	p, err := Compile(rec)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// 0.5*1 + 0.2*0 + 0.3*(1-0) = 0.8 → 0.2 + 0.8*0.8
	want := 0.2 + 0.8*0.8
	if math.Abs(p.CognitiveCapacity-want) > 1e-9 {
		t.Fatalf("cognitive capacity = %f, want %f", p.CognitiveCapacity, want)
	}
}

func TestCompileMobileRaisesFatigue(t *testing.T) {
	desk := makeRecord("p1", 0.5)
	mob := makeRecord("p1", 0.5)
	mob.Categorical[FieldDevice] = "mobile"

	a, _ := Compile(desk)
	b, _ := Compile(mob)
	if b.FatigueRate <= a.FatigueRate {
		t.Fatalf("expected mobile fatigue %f > desktop %f", b.FatigueRate, a.FatigueRate)
	}
}

func TestCompileValidation(t *testing.T) {
	cases := []struct {
		name  string
		mut   func(*Record)
		field string
	}{
		{"missing id", func(r *Record) { r.ID = "" }, "id"},
		{"separator in id", func(r *Record) { r.ID = "p/1" }, "id"},
		{"missing numeric", func(r *Record) { delete(r.Numeric, FieldUrgency) }, FieldUrgency},
		{"out of domain", func(r *Record) { r.Numeric[FieldGoalClarity] = 1.5 }, FieldGoalClarity},
		{"negative", func(r *Record) { r.Numeric[FieldTimePressure] = -0.1 }, FieldTimePressure},
		{"nan", func(r *Record) { r.Numeric[FieldPrivacyConcern] = math.NaN() }, FieldPrivacyConcern},
		{"missing archetype", func(r *Record) { delete(r.Categorical, FieldArchetype) }, FieldArchetype},
		{"unknown archetype", func(r *Record) { r.Categorical[FieldArchetype] = "wizard" }, FieldArchetype},
		{"unknown device", func(r *Record) { r.Categorical[FieldDevice] = "watch" }, FieldDevice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := makeRecord("p1", 0.5)
			tc.mut(&rec)
			_, err := Compile(rec)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("field = %s, want %s", verr.Field, tc.field)
			}
		})
	}
}

func TestCompilerMemoizes(t *testing.T) {
	c := NewCompiler()
	rec := makeRecord("p1", 0.4)
	first, err := c.Compile(rec)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// Same ID with different fields returns the cached result.
	rec2 := makeRecord("p1", 0.9)
	second, _ := c.Compile(rec2)
	if first != second {
		t.Fatal("expected memoized priors for the same persona ID")
	}

	bad := makeRecord("p2", 2)
	if _, err := c.Compile(bad); err == nil {
		t.Fatal("expected validation error")
	}
	if _, ok := c.cache["p2"]; ok {
		t.Fatal("failed compilation must not be cached")
	}
}

func TestRangeNormalize(t *testing.T) {
	r := Range{1, 3}
	if got := r.Normalize(2); got != 0.5 {
		t.Fatalf("Normalize(2) = %f, want 0.5", got)
	}
	if got := r.Normalize(5); got != 1 {
		t.Fatalf("Normalize(5) = %f, want 1", got)
	}
}
