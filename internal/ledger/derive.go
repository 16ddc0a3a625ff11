package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/funnel-sim/internal/funnel"
	"github.com/danielpatrickdp/funnel-sim/internal/policy"
	"github.com/danielpatrickdp/funnel-sim/internal/trajectory"
)

// assertionNamespace scopes the name-based assertion ids.
var assertionNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("funnel-sim/ledger/assertion"))

// stablePrecedentShare is the share of a class's drops a pattern needs to
// count as stable.
const stablePrecedentShare = 0.5

const (
	outcomeContinue = "continue"
	outcomeDrop     = "drop"
)

// #region derive-input
// DeriveInput is everything one derive pass reads. Traces must be sealed and
// produced under PolicyVersion.
type DeriveInput struct {
	Traces        []trajectory.Trace
	Steps         []funnel.Step
	Params        policy.Params
	PolicyVersion string
}

type decision struct {
	ref      TraceRef
	observed time.Time
	rec      trajectory.StepRecord
	forces   []string
}

type group struct {
	bands   Bands
	members []decision
}

// #endregion derive-input

// #region derive
// Derive groups every decision into (step, class) buckets and emits boundary
// and precedent assertions for coherent classes plus one density assertion
// per step. Output order and bytes depend only on the input content.
func Derive(in DeriveInput) (Derivation, error) {
	if in.PolicyVersion == "" {
		return Derivation{}, fmt.Errorf("derive: empty policy version")
	}
	if err := funnel.Validate(in.Steps); err != nil {
		return Derivation{}, fmt.Errorf("derive: %w", err)
	}
	traces := append([]trajectory.Trace(nil), in.Traces...)
	for _, tr := range traces {
		if err := checkTrace(tr, in); err != nil {
			return Derivation{}, fmt.Errorf("derive: %w", err)
		}
	}
	sort.SliceStable(traces, func(i, j int) bool {
		if traces[i].PersonaID != traces[j].PersonaID {
			return traces[i].PersonaID < traces[j].PersonaID
		}
		return traces[i].VariantID < traces[j].VariantID
	})
	for i := 1; i < len(traces); i++ {
		if traces[i].PersonaID == traces[i-1].PersonaID && traces[i].VariantID == traces[i-1].VariantID {
			return Derivation{}, fmt.Errorf("derive: duplicate trace %s", traces[i].Key())
		}
	}

	lastRejection := -1
	for _, tr := range traces {
		if tr.Dropped() {
			lastRejection = max(lastRejection, tr.Outcome.DroppedAt)
		}
	}

	out := Derivation{PolicyVersion: in.PolicyVersion}
	for i, step := range in.Steps {
		groups := map[string]*group{}
		var all []decision
		for _, tr := range traces {
			if !tr.Reached(i) {
				continue
			}
			rec := tr.Records[i]
			d := decision{
				ref:      TraceRef{PersonaID: tr.PersonaID, VariantID: tr.VariantID},
				observed: tr.ObservedAt.UTC(),
				rec:      rec,
				forces:   Forces(rec, step),
			}
			bands := ClassOf(tr.Priors, rec.Before)
			g, ok := groups[bands.Key()]
			if !ok {
				g = &group{bands: bands}
				groups[bands.Key()] = g
			}
			g.members = append(g.members, d)
			all = append(all, d)
		}

		keys := make([]string, 0, len(groups))
		for k := range groups {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		excluded := Excluded{StepIndex: i, StepName: step.Name}
		for _, k := range keys {
			g := groups[k]
			cls, as := classAssertions(i, step.Name, k, g, in.Params)
			out.Classes = append(out.Classes, cls)
			if !cls.Eligible {
				excluded.Classes++
				excluded.Decisions += cls.Members
				continue
			}
			for _, a := range as {
				a.PolicyVersion = in.PolicyVersion
				out.Assertions = append(out.Assertions, a)
			}
		}
		out.Excluded = append(out.Excluded, excluded)

		dens := densityAssertion(i, step.Name, all, i == lastRejection)
		dens.PolicyVersion = in.PolicyVersion
		out.Assertions = append(out.Assertions, dens)
	}

	sortAssertions(out.Assertions)
	for i := range out.Assertions {
		id, err := AssertionID(out.Assertions[i])
		if err != nil {
			return Derivation{}, fmt.Errorf("derive: %w", err)
		}
		out.Assertions[i].ID = id
	}
	return out, nil
}

func checkTrace(tr trajectory.Trace, in DeriveInput) error {
	if err := tr.Verify(); err != nil {
		return err
	}
	if tr.PolicyVersion != in.PolicyVersion {
		return fmt.Errorf("trace %s: policy %q, deriving under %q", tr.Key(), tr.PolicyVersion, in.PolicyVersion)
	}
	if tr.StepCount != len(in.Steps) || len(tr.Records) > len(in.Steps) {
		return fmt.Errorf("trace %s: %d steps, deriving over %d", tr.Key(), tr.StepCount, len(in.Steps))
	}
	for i, r := range tr.Records {
		if r.StepName != in.Steps[i].Name {
			return fmt.Errorf("trace %s: step %d is %q, want %q", tr.Key(), i, r.StepName, in.Steps[i].Name)
		}
	}
	return nil
}

// #endregion derive

// #region class-assertions
func classAssertions(index int, name, key string, g *group, p policy.Params) (PersonaClass, []Assertion) {
	var accepted, rejected []decision
	margins := make([]float64, 0, len(g.members))
	var dominants []string
	for _, d := range g.members {
		margins = append(margins, d.rec.Decision.Advantage)
		if d.rec.Decision.Continue {
			accepted = append(accepted, d)
		} else {
			rejected = append(rejected, d)
			dominants = append(dominants, d.rec.Attribution.Dominant)
		}
	}
	coherence := Coherence(margins, dominants, len(accepted), len(rejected))
	cls := PersonaClass{
		StepIndex: index,
		Key:       key,
		Bands:     g.bands,
		Coherence: coherence,
		Members:   len(g.members),
		Eligible:  coherence >= p.CoherenceThreshold,
	}
	if !cls.Eligible {
		return cls, nil
	}

	majority, minority, label := accepted, rejected, outcomeContinue
	if len(rejected) > len(accepted) {
		majority, minority, label = rejected, accepted, outcomeDrop
	}
	counter := make([]TraceRef, 0, len(minority))
	for _, d := range minority {
		counter = append(counter, d.ref)
	}
	forces := map[string]int{}
	for _, d := range g.members {
		for _, f := range d.forces {
			forces[f]++
		}
	}
	if len(forces) == 0 {
		forces = nil
	}
	first, last := span(g.members)
	as := []Assertion{{
		Kind:            KindBoundary,
		StepIndex:       index,
		StepName:        name,
		ClassKey:        key,
		Supporting:      len(majority),
		Counterexamples: len(minority),
		Coherence:       coherence,
		FirstObserved:   first,
		LastObserved:    last,
		Boundary: &Boundary{
			Accepted:        len(accepted),
			Rejected:        len(rejected),
			Majority:        label,
			Counterexamples: counter,
			Forces:          forces,
		},
	}}

	byLabel := map[string][]decision{}
	for _, d := range rejected {
		byLabel[d.rec.Attribution.Dominant] = append(byLabel[d.rec.Attribution.Dominant], d)
	}
	labels := make([]string, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		ds := byLabel[l]
		if len(ds) < p.MinPrecedentCount {
			continue
		}
		first, last := span(ds)
		as = append(as, Assertion{
			Kind:            KindPrecedent,
			StepIndex:       index,
			StepName:        name,
			ClassKey:        key,
			Supporting:      len(ds),
			Counterexamples: len(g.members) - len(ds),
			Coherence:       coherence,
			FirstObserved:   first,
			LastObserved:    last,
			Precedent: &Precedent{
				Pattern:     outcomeDrop + ":" + l,
				Occurrences: len(ds),
				Stable:      float64(len(ds))/float64(len(rejected)) >= stablePrecedentShare,
			},
		})
	}
	return cls, as
}

func densityAssertion(index int, name string, all []decision, terminal bool) Assertion {
	rejected := 0
	for _, d := range all {
		if !d.rec.Decision.Continue {
			rejected++
		}
	}
	rate := 0.0
	if len(all) > 0 {
		rate = float64(rejected) / float64(len(all))
	}
	first, last := span(all)
	return Assertion{
		Kind:            KindDensity,
		StepIndex:       index,
		StepName:        name,
		Supporting:      len(all),
		Counterexamples: 0,
		Coherence:       1,
		FirstObserved:   first,
		LastObserved:    last,
		Density: &Density{
			Reached:            len(all),
			Rejected:           rejected,
			RejectionRate:      rate,
			RejectionsObserved: rejected > 0,
			Terminal:           terminal,
		},
	}
}

func span(ds []decision) (first, last time.Time) {
	for i, d := range ds {
		if i == 0 || d.observed.Before(first) {
			first = d.observed
		}
		if i == 0 || d.observed.After(last) {
			last = d.observed
		}
	}
	return first, last
}

// #endregion class-assertions

// #region ordering
var kindRank = map[Kind]int{KindBoundary: 0, KindPrecedent: 1, KindDensity: 2}

func sortAssertions(as []Assertion) {
	sort.SliceStable(as, func(i, j int) bool {
		a, b := as[i], as[j]
		if a.StepIndex != b.StepIndex {
			return a.StepIndex < b.StepIndex
		}
		if a.Kind != b.Kind {
			return kindRank[a.Kind] < kindRank[b.Kind]
		}
		if a.ClassKey != b.ClassKey {
			return a.ClassKey < b.ClassKey
		}
		return pattern(a) < pattern(b)
	})
}

func pattern(a Assertion) string {
	if a.Precedent == nil {
		return ""
	}
	return a.Precedent.Pattern
}

// AssertionID is the name-based UUID of an assertion's content with the id
// field blanked.
func AssertionID(a Assertion) (string, error) {
	a.ID = ""
	body, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("marshal assertion: %w", err)
	}
	return uuid.NewSHA1(assertionNamespace, body).String(), nil
}

// #endregion ordering
