package trajectory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/funnel-sim/internal/funnel"
	"github.com/danielpatrickdp/funnel-sim/internal/persona"
	"github.com/danielpatrickdp/funnel-sim/internal/policy"
	"github.com/danielpatrickdp/funnel-sim/internal/state"
)

func probabilistic() policy.Params {
	p := policy.DefaultParams()
	p.Mode = policy.ModeProbabilistic
	return p
}

func TestRunPanelIndependentOfWorkers(t *testing.T) {
	panel := testPanel(t, 12)
	opts := Options{Seed: 9, PolicyVersion: "v1", ObservedAt: observed}

	var digests []string
	for _, workers := range []int{1, 4, 16} {
		opts.Workers = workers
		results, err := RunPanel(context.Background(), panel, testSteps(), probabilistic(), opts)
		if err != nil {
			t.Fatalf("workers=%d: %v", workers, err)
		}
		if len(results) != len(panel.Personas)*len(panel.Variants) {
			t.Fatalf("workers=%d: %d results", workers, len(results))
		}
		for i, r := range results {
			if r.Err != nil {
				t.Fatalf("workers=%d %s/%s: %v", workers, r.PersonaID, r.VariantID, r.Err)
			}
			if digests == nil || len(digests) <= i {
				digests = append(digests, r.Trace.Digest)
				continue
			}
			if digests[i] != r.Trace.Digest {
				t.Fatalf("workers=%d: result %d differs", workers, i)
			}
		}
	}
}

func TestRunPanelOrdered(t *testing.T) {
	panel := testPanel(t, 5)
	results, err := RunPanel(context.Background(), panel, testSteps(), policy.DefaultParams(), Options{Workers: 3})
	if err != nil {
		t.Fatalf("RunPanel: %v", err)
	}
	for i := 1; i < len(results); i++ {
		a, b := results[i-1], results[i]
		if a.PersonaID > b.PersonaID || (a.PersonaID == b.PersonaID && a.VariantID >= b.VariantID) {
			t.Fatalf("results out of order at %d: %s/%s then %s/%s", i, a.PersonaID, a.VariantID, b.PersonaID, b.VariantID)
		}
	}
}

func TestRunPanelRejectsInvalidPanel(t *testing.T) {
	panel := testPanel(t, 3)
	panel.Personas[1].Priors.CognitiveCapacity = 5

	results, err := RunPanel(context.Background(), panel, testSteps(), policy.DefaultParams(), Options{})
	if err == nil {
		t.Fatal("expected panel validation to reject out-of-range priors")
	}
	if results != nil {
		t.Fatal("expected no results from an invalid panel")
	}
}

func TestRunPanelRejectsInvalidSteps(t *testing.T) {
	panel := testPanel(t, 2)
	steps := testSteps()
	steps[1].Name = steps[0].Name
	_, err := RunPanel(context.Background(), panel, steps, policy.DefaultParams(), Options{})
	var ve *funnel.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *funnel.ValidationError, got %v", err)
	}
}

func TestRunPanelCancelled(t *testing.T) {
	panel := testPanel(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := RunPanel(ctx, panel, testSteps(), policy.DefaultParams(), Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPriorsIdenticalAcrossVariants(t *testing.T) {
	panel := testPanel(t, 3)
	results, err := RunPanel(context.Background(), panel, testSteps(), policy.DefaultParams(), Options{})
	if err != nil {
		t.Fatalf("RunPanel: %v", err)
	}
	byPersona := map[string]persona.Priors{}
	for _, tr := range Traces(results) {
		if p, ok := byPersona[tr.PersonaID]; ok && p != tr.Priors {
			t.Fatalf("persona %s priors differ between variants", tr.PersonaID)
		}
		byPersona[tr.PersonaID] = tr.Priors
	}
}

func TestBuildPanelReportsBadRecords(t *testing.T) {
	recs := testRecords(3)
	recs = append(recs, recs[0])
	delete(recs[1].Numeric, persona.FieldUrgency)

	panel, errs := BuildPanel(recs, state.DefaultVariants())
	if len(panel.Personas) != 2 {
		t.Fatalf("expected 2 personas, got %d", len(panel.Personas))
	}
	if len(errs) != 2 {
		t.Fatalf("expected 2 unit errors, got %v", errs)
	}
	var ve *persona.ValidationError
	if !errors.As(errs[0], &ve) || ve.PersonaID != recs[1].ID {
		t.Fatalf("first error = %v", errs[0])
	}
	if errs[1].PersonaID != recs[0].ID {
		t.Fatalf("duplicate not reported: %v", errs[1])
	}
}

func TestPanelSaveLoad(t *testing.T) {
	panel := testPanel(t, 4)
	path := filepath.Join(t.TempDir(), "panel.json")
	if err := SavePanel(path, panel); err != nil {
		t.Fatalf("SavePanel: %v", err)
	}
	got, err := LoadPanel(path)
	if err != nil {
		t.Fatalf("LoadPanel: %v", err)
	}
	if len(got.Personas) != len(panel.Personas) || len(got.Variants) != len(panel.Variants) {
		t.Fatalf("panel shape changed: %d/%d", len(got.Personas), len(got.Variants))
	}
	for i := range panel.Personas {
		if got.Personas[i] != panel.Personas[i] {
			t.Fatalf("persona %d changed: %+v vs %+v", i, got.Personas[i], panel.Personas[i])
		}
	}
}

func TestPanelValidate(t *testing.T) {
	if err := (Panel{}).Validate(); err == nil {
		t.Fatal("expected error for empty panel")
	}
	panel := testPanel(t, 2)
	panel.Variants = append(panel.Variants, panel.Variants[0])
	if err := panel.Validate(); err == nil {
		t.Fatal("expected error for duplicate variant")
	}

	panel = testPanel(t, 2)
	panel.Personas[0].ID = "p/00"
	if err := panel.Validate(); err == nil {
		t.Fatal("expected error for separator in persona id")
	}
	panel = testPanel(t, 2)
	panel.Variants[0].ID = "fresh/high"
	if err := panel.Validate(); err == nil {
		t.Fatal("expected error for separator in variant id")
	}
}
