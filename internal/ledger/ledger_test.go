package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/funnel-sim/internal/engine"
	"github.com/danielpatrickdp/funnel-sim/internal/funnel"
	"github.com/danielpatrickdp/funnel-sim/internal/persona"
	"github.com/danielpatrickdp/funnel-sim/internal/policy"
	"github.com/danielpatrickdp/funnel-sim/internal/state"
	"github.com/danielpatrickdp/funnel-sim/internal/trajectory"
)

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func oneStep() []funnel.Step {
	return []funnel.Step{{Name: "checkout", CognitiveDemand: 0.4, EffortDemand: 0.4, RiskSignal: 0.6, IntentMismatch: 0.6}}
}

func priors(level float64) persona.Priors {
	return persona.Priors{
		CognitiveCapacity:  persona.CognitiveCapacityRange.Lerp(level),
		FatigueRate:        0.2,
		RiskTolerance:      level,
		LossAversion:       1.5,
		EffortTolerance:    0.5,
		TrustBaseline:      0.5,
		DiscountRate:       0.2,
		ControlNeed:        0.5,
		MotivationStrength: persona.MotivationStrengthRange.Lerp(level),
	}
}

// decisionTrace seals a one-step trace for persona id with the given outcome.
func decisionTrace(t *testing.T, id string, level float64, cont bool, margin float64, dominant string, hour int) trajectory.Trace {
	t.Helper()
	before := state.CognitiveState{Energy: level, PerceivedRisk: 0.1, PerceivedEffort: 0.1, PerceivedValue: 0.5, PerceivedControl: 0.5}
	after := before
	after.PerceivedRisk = 0.4
	rec := trajectory.StepRecord{
		Index:    0,
		StepName: "checkout",
		Before:   before,
		After:    after,
		Decision: engine.Decision{Continue: cont, Mode: policy.ModeDeterministic, Margin: margin, Advantage: margin},
	}
	out := trajectory.Outcome{Completed: cont, DroppedAt: -1}
	if !cont {
		out.DroppedAt = 0
		rec.Attribution = engine.Attribution{Dominant: dominant}
	}
	tr, err := trajectory.Seal(trajectory.Trace{
		PersonaID:     id,
		VariantID:     "fresh_high_energy",
		Priors:        priors(level),
		PolicyVersion: "v1",
		ObservedAt:    t0.Add(time.Duration(hour) * time.Hour),
		StepCount:     1,
		Records:       []trajectory.StepRecord{rec},
		Outcome:       out,
	})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return tr
}

func fixtureTraces(t *testing.T) []trajectory.Trace {
	return []trajectory.Trace{
		// coherent high class: all continue with equal margins
		decisionTrace(t, "a1", 0.9, true, 0.3, "", 1),
		decisionTrace(t, "a2", 0.9, true, 0.3, "", 2),
		decisionTrace(t, "a3", 0.95, true, 0.3, "", 3),
		// split low class: half continue, half drop
		decisionTrace(t, "b1", 0.1, true, 0.1, "", 4),
		decisionTrace(t, "b2", 0.1, true, 0.1, "", 5),
		decisionTrace(t, "b3", 0.1, false, -0.1, engine.LabelEffort, 6),
		decisionTrace(t, "b4", 0.1, false, -0.1, engine.LabelEffort, 7),
		// coherent mid class: repeated loss-aversion drops
		decisionTrace(t, "c1", 0.5, false, -0.2, engine.LabelLossAversion, 8),
		decisionTrace(t, "c2", 0.5, false, -0.2, engine.LabelLossAversion, 9),
		decisionTrace(t, "c3", 0.5, false, -0.2, engine.LabelLossAversion, 10),
	}
}

func derive(t *testing.T, traces []trajectory.Trace) Derivation {
	t.Helper()
	d, err := Derive(DeriveInput{Traces: traces, Steps: oneStep(), Params: policy.DefaultParams(), PolicyVersion: "v1"})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	return d
}

func byKind(d Derivation, k Kind) []Assertion {
	var out []Assertion
	for _, a := range d.Assertions {
		if a.Kind == k {
			out = append(out, a)
		}
	}
	return out
}

func TestSameBandsSameClass(t *testing.T) {
	s := state.CognitiveState{Energy: 0.8}
	a := ClassOf(priors(0.9), s)
	b := ClassOf(priors(0.95), state.CognitiveState{Energy: 0.85})
	if a.Key() != b.Key() {
		t.Fatalf("keys differ: %s vs %s", a.Key(), b.Key())
	}
	if c := ClassOf(priors(0.1), s); c.Key() == a.Key() {
		t.Fatal("different bands share a key")
	}
	if a.Key() != "risk=high|capacity=high|motivation=high|energy=high" {
		t.Fatalf("key = %s", a.Key())
	}
}

func TestDeriveExcludesIncoherentClass(t *testing.T) {
	d := derive(t, fixtureTraces(t))

	boundaries := byKind(d, KindBoundary)
	if len(boundaries) != 2 {
		t.Fatalf("expected 2 boundary assertions, got %d", len(boundaries))
	}
	for _, b := range boundaries {
		if b.ClassKey == ClassOf(priors(0.1), state.CognitiveState{Energy: 0.1}).Key() {
			t.Fatal("incoherent class produced a boundary assertion")
		}
		if b.PolicyVersion != "v1" {
			t.Fatalf("assertion not stamped: %+v", b)
		}
	}
	if len(d.Excluded) != 1 || d.Excluded[0].Classes != 1 || d.Excluded[0].Decisions != 4 {
		t.Fatalf("excluded = %+v", d.Excluded)
	}
	var found bool
	for _, c := range d.Classes {
		if c.Members == 4 {
			found = true
			if c.Eligible || c.Coherence >= policy.DefaultParams().CoherenceThreshold {
				t.Fatalf("split class = %+v", c)
			}
		}
	}
	if !found {
		t.Fatal("split class missing from classes")
	}
}

func TestDeriveBoundaryAndPrecedent(t *testing.T) {
	d := derive(t, fixtureTraces(t))
	midKey := ClassOf(priors(0.5), state.CognitiveState{Energy: 0.5}).Key()

	var mid *Assertion
	for _, b := range byKind(d, KindBoundary) {
		if b.ClassKey == midKey {
			mid = &b
		}
	}
	if mid == nil {
		t.Fatal("no boundary for mid class")
	}
	if mid.Boundary.Majority != outcomeDrop || mid.Boundary.Rejected != 3 || len(mid.Boundary.Counterexamples) != 0 {
		t.Fatalf("mid boundary = %+v", mid.Boundary)
	}
	if mid.Boundary.Forces[ForceIntentMismatch] != 3 || mid.Boundary.Forces[ForceRiskSpike] != 3 {
		t.Fatalf("forces = %v", mid.Boundary.Forces)
	}

	precedents := byKind(d, KindPrecedent)
	if len(precedents) != 1 {
		t.Fatalf("expected 1 precedent, got %d", len(precedents))
	}
	p := precedents[0]
	if p.Precedent.Pattern != "drop:"+engine.LabelLossAversion || p.Precedent.Occurrences != 3 || !p.Precedent.Stable {
		t.Fatalf("precedent = %+v", p.Precedent)
	}
	if !p.FirstObserved.Equal(t0.Add(8*time.Hour)) || !p.LastObserved.Equal(t0.Add(10*time.Hour)) {
		t.Fatalf("observed span %v..%v", p.FirstObserved, p.LastObserved)
	}
}

func TestDeriveDensity(t *testing.T) {
	d := derive(t, fixtureTraces(t))
	dens := byKind(d, KindDensity)
	if len(dens) != 1 {
		t.Fatalf("expected 1 density assertion, got %d", len(dens))
	}
	got := dens[0].Density
	if got.Reached != 10 || got.Rejected != 5 || got.RejectionRate != 0.5 || !got.RejectionsObserved || !got.Terminal {
		t.Fatalf("density = %+v", got)
	}
}

func TestDeriveDeterministic(t *testing.T) {
	traces := fixtureTraces(t)
	a, err := json.Marshal(derive(t, traces))
	if err != nil {
		t.Fatal(err)
	}
	shuffled := append([]trajectory.Trace(nil), traces...)
	rand.New(rand.NewPCG(1, 2)).Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	b, err := json.Marshal(derive(t, shuffled))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("derivation depends on trace order")
	}
}

func TestDeriveOrderIgnoresSeparatorInIDs(t *testing.T) {
	rekey := func(tr trajectory.Trace, personaID, variantID string) trajectory.Trace {
		tr.PersonaID, tr.VariantID = personaID, variantID
		sealed, err := trajectory.Seal(tr)
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		return sealed
	}
	x := rekey(decisionTrace(t, "x", 0.5, false, -0.2, engine.LabelLossAversion, 1), "a/b", "c")
	y := rekey(decisionTrace(t, "y", 0.5, false, -0.2, engine.LabelLossAversion, 1), "a", "b/c")
	z := decisionTrace(t, "z", 0.5, false, -0.2, engine.LabelLossAversion, 1)

	a, err := json.Marshal(derive(t, []trajectory.Trace{x, y, z}))
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(derive(t, []trajectory.Trace{z, y, x}))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("derivation depends on input order when ids share a key")
	}
}

func TestDeriveRejectsDuplicateTrace(t *testing.T) {
	traces := fixtureTraces(t)
	traces = append(traces, traces[0])
	if _, err := Derive(DeriveInput{Traces: traces, Steps: oneStep(), Params: policy.DefaultParams(), PolicyVersion: "v1"}); err == nil {
		t.Fatal("expected error for duplicate trace")
	}
}

func TestDeriveRejectsBadTraces(t *testing.T) {
	traces := fixtureTraces(t)

	tampered := append([]trajectory.Trace(nil), traces...)
	tampered[0].Records = append([]trajectory.StepRecord(nil), tampered[0].Records...)
	tampered[0].Records[0].Decision.Continue = false
	if _, err := Derive(DeriveInput{Traces: tampered, Steps: oneStep(), Params: policy.DefaultParams(), PolicyVersion: "v1"}); !errors.Is(err, trajectory.ErrTampered) {
		t.Fatalf("expected ErrTampered, got %v", err)
	}
	if _, err := Derive(DeriveInput{Traces: traces, Steps: oneStep(), Params: policy.DefaultParams(), PolicyVersion: "v2"}); err == nil {
		t.Fatal("expected policy mismatch error")
	}
	if _, err := Derive(DeriveInput{Traces: traces, Steps: oneStep(), Params: policy.DefaultParams()}); err == nil {
		t.Fatal("expected error for empty policy version")
	}
}

func TestDeriveFromSimulatedPanel(t *testing.T) {
	recs := make([]persona.Record, 8)
	for i := range recs {
		recs[i] = persona.Record{
			ID:          fmt.Sprintf("p%d", i),
			Numeric:     map[string]float64{},
			Categorical: map[string]string{persona.FieldArchetype: persona.Archetypes[i%len(persona.Archetypes)]},
		}
		for j, f := range persona.RequiredNumeric {
			recs[i].Numeric[f] = float64((i*3+j)%10) / 10
		}
	}
	panel, errs := trajectory.BuildPanel(recs, state.DefaultVariants())
	if len(errs) > 0 {
		t.Fatalf("BuildPanel: %v", errs)
	}
	steps := []funnel.Step{
		{Name: "landing", CognitiveDemand: 0.2, EffortDemand: 0.1, ValueSignal: 0.6},
		{Name: "payment", CognitiveDemand: 0.5, EffortDemand: 0.4, RiskSignal: 0.8, Irreversible: true},
	}
	results, err := trajectory.RunPanel(context.Background(), panel, steps, policy.DefaultParams(), trajectory.Options{PolicyVersion: "v1", ObservedAt: t0})
	if err != nil {
		t.Fatalf("RunPanel: %v", err)
	}
	d, err := Derive(DeriveInput{Traces: trajectory.Traces(results), Steps: steps, Params: policy.DefaultParams(), PolicyVersion: "v1"})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if len(byKind(d, KindDensity)) != len(steps) {
		t.Fatalf("expected one density assertion per step")
	}
	for i := 1; i < len(d.Assertions); i++ {
		if d.Assertions[i-1].StepIndex > d.Assertions[i].StepIndex {
			t.Fatal("assertions not sorted by step")
		}
	}
}

func TestCoherence(t *testing.T) {
	if c := Coherence([]float64{0.2, 0.2}, nil, 2, 0); c != 1 {
		t.Fatalf("uniform class = %v", c)
	}
	if c := Coherence([]float64{0.1, -0.1}, []string{"x"}, 1, 1); c > 0.5 {
		t.Fatalf("split class = %v", c)
	}
	if c := Coherence(nil, nil, 0, 0); c != 0 {
		t.Fatalf("empty class = %v", c)
	}
	mixed := Coherence([]float64{-0.2, -0.2}, []string{"a", "b"}, 0, 2)
	if mixed != 0.875 {
		t.Fatalf("mixed dominant = %v", mixed)
	}
}

func TestForces(t *testing.T) {
	rec := trajectory.StepRecord{
		Before: state.CognitiveState{PerceivedRisk: 0.1},
		After:  state.CognitiveState{Energy: 0.2, PerceivedRisk: 0.35, PerceivedEffort: 0.75},
	}
	got := Forces(rec, funnel.Step{IntentMismatch: 0.5})
	want := []string{ForceCognitiveFatigue, ForceEffortOverload, ForceIntentMismatch, ForceRiskSpike}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("Forces = %v, want %v", got, want)
	}
	if got := Forces(trajectory.StepRecord{After: state.CognitiveState{Energy: 0.9}}, funnel.Step{}); len(got) != 0 {
		t.Fatalf("expected no forces, got %v", got)
	}
}

func TestValidateTraces(t *testing.T) {
	reg := policy.NewMemoryRegistry()
	v, _, err := reg.Resolve(policy.DefaultDefinition())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	traces := fixtureTraces(t)[:3]
	for i := range traces {
		traces[i].PolicyVersion = v.ID
	}
	if err := ValidateTraces(traces, reg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	traces[1].PolicyVersion = "v9"
	err = ValidateTraces(traces, reg)
	var ie *IntegrityError
	if !errors.As(err, &ie) || len(ie.Orphans) != 1 || ie.Orphans[0].PolicyVersion != "v9" {
		t.Fatalf("expected one orphan, got %v", err)
	}
	if !errors.Is(err, ErrIntegrity) {
		t.Fatal("IntegrityError should match ErrIntegrity")
	}
}

// #region store-tests
func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func rawBodies(t *testing.T, s *Store) []string {
	t.Helper()
	rows, err := s.DB().Query(`SELECT body FROM ledger_assertions ORDER BY seq`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			t.Fatalf("scan: %v", err)
		}
		out = append(out, b)
	}
	return out
}

func TestStoreAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	d := derive(t, fixtureTraces(t))
	first, rest := d.Assertions[:2], d.Assertions[2:]

	n, err := s.Append(ctx, first)
	if err != nil || n != 2 {
		t.Fatalf("Append = %d, %v", n, err)
	}
	before := rawBodies(t, s)

	n, err = s.Append(ctx, rest)
	if err != nil || n != len(rest) {
		t.Fatalf("Append rest = %d, %v", n, err)
	}
	after := rawBodies(t, s)
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("row %d changed after a later append", i)
		}
	}

	n, err = s.Append(ctx, d.Assertions)
	if err != nil || n != 0 {
		t.Fatalf("re-append = %d, %v", n, err)
	}
	if c, _ := s.Count(ctx); c != len(d.Assertions) {
		t.Fatalf("Count = %d, want %d", c, len(d.Assertions))
	}
}

func TestStoreRejectsUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	d := derive(t, fixtureTraces(t))
	if _, err := s.Append(ctx, d.Assertions); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.DB().Exec(`UPDATE ledger_assertions SET kind = 'x'`); err == nil {
		t.Fatal("expected UPDATE to be rejected")
	}
	if _, err := s.DB().Exec(`DELETE FROM ledger_assertions`); err == nil {
		t.Fatal("expected DELETE to be rejected")
	}
	if c, _ := s.Count(ctx); c != len(d.Assertions) {
		t.Fatalf("Count = %d after rejected writes", c)
	}
}

func TestStoreIntegrity(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	d := derive(t, fixtureTraces(t))
	if _, err := s.Append(ctx, d.Assertions[:1]); err != nil {
		t.Fatalf("Append: %v", err)
	}

	forged := d.Assertions[0]
	forged.Supporting += 100
	batch := []Assertion{d.Assertions[1], forged}
	if _, err := s.Append(ctx, batch); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
	if c, _ := s.Count(ctx); c != 1 {
		t.Fatalf("failed append left %d rows", c)
	}
}

func TestStoreList(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	d := derive(t, fixtureTraces(t))
	if _, err := s.Append(ctx, d.Assertions); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := s.List(ctx, "v1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != len(d.Assertions) {
		t.Fatalf("List returned %d", len(got))
	}
	for i := range got {
		id, err := AssertionID(got[i])
		if err != nil || id != got[i].ID || id != d.Assertions[i].ID {
			t.Fatalf("assertion %d does not round-trip: %v", i, err)
		}
	}
	none, err := s.List(ctx, "v7")
	if err != nil || len(none) != 0 {
		t.Fatalf("List(v7) = %d, %v", len(none), err)
	}
}

// #endregion store-tests
