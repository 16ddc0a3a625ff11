package policy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultDefinitionValid(t *testing.T) {
	if err := DefaultDefinition().Validate(); err != nil {
		t.Fatalf("default definition invalid: %v", err)
	}
}

func TestHashStable(t *testing.T) {
	a, err := DefaultDefinition().Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, _ := DefaultDefinition().Hash()
	if a != b {
		t.Fatalf("hash not stable: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "sha256:") {
		t.Fatalf("unexpected hash format %s", a)
	}
}

func TestHashIgnoresMeta(t *testing.T) {
	d1 := DefaultDefinition()
	d2 := DefaultDefinition()
	d2.Meta = Meta{CreatedBy: "calibrator", Source: "calibration", Note: "run 7", CreatedAt: time.Now()}
	h1, _ := d1.Hash()
	h2, _ := d2.Hash()
	if h1 != h2 {
		t.Fatal("metadata must not affect the content hash")
	}
}

func TestHashChangesWithContent(t *testing.T) {
	base, _ := DefaultDefinition().Hash()

	cases := []struct {
		name string
		mut  func(*Definition)
	}{
		{"param", func(d *Definition) { d.Params.RiskWeight = 0.31 }},
		{"bound", func(d *Definition) { d.Bounds["risk_weight"] = Range{0, 2.5} }},
		{"engine", func(d *Definition) { d.Engine.Version = "1.0.1" }},
		{"archetype bias", func(d *Definition) { d.Params.ArchetypeBias["skeptic"] = -0.1 }},
		{"threshold", func(d *Definition) { d.Params.DominanceThreshold = 0.45 }},
		{"mode", func(d *Definition) { d.Params.Mode = ModeProbabilistic }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := DefaultDefinition()
			tc.mut(&d)
			h, err := d.Hash()
			if err != nil {
				t.Fatalf("Hash: %v", err)
			}
			if h == base {
				t.Fatal("expected hash to change")
			}
		})
	}
}

func TestValidateRejectsOutOfBounds(t *testing.T) {
	d := DefaultDefinition()
	d.Params.Steepness = 50
	if err := d.Validate(); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}

	d = DefaultDefinition()
	d.Params.ArchetypeBias["impulsive"] = 0.9
	if err := d.Validate(); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds for archetype bias, got %v", err)
	}

	d = DefaultDefinition()
	d.Params.Mode = "oracle"
	if err := d.Validate(); err == nil {
		t.Fatal("expected unknown mode error")
	}

	d = DefaultDefinition()
	d.Params.SecondaryThreshold = 0.45
	d.Params.DominanceThreshold = 0.3
	if err := d.Validate(); err == nil {
		t.Fatal("expected threshold ordering error")
	}
}

func TestRegistryResolveReusesIdenticalContent(t *testing.T) {
	r := NewMemoryRegistry()
	v1, created, err := r.Resolve(DefaultDefinition())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !created || v1.ID != "v1" {
		t.Fatalf("expected new v1, got %+v created=%v", v1, created)
	}

	again := DefaultDefinition()
	again.Meta.Note = "second registration"
	v, created, err := r.Resolve(again)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if created || v.ID != "v1" {
		t.Fatalf("expected reuse of v1, got %+v created=%v", v, created)
	}

	changed := DefaultDefinition()
	changed.Params.EffortWeight = 0.4
	v2, created, err := r.Resolve(changed)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !created || v2.ID != "v2" || v2.Number != 2 {
		t.Fatalf("expected new v2, got %+v", v2)
	}
	if got := r.List(); len(got) != 2 || got[0].ID != "v1" || got[1].ID != "v2" {
		t.Fatalf("unexpected list %+v", got)
	}
}

func TestRegistryResolveRejectsInvalid(t *testing.T) {
	r := NewMemoryRegistry()
	d := DefaultDefinition()
	d.Params.NoiseScale = -1
	if _, _, err := r.Resolve(d); err == nil {
		t.Fatal("expected validation error")
	}
	if len(r.List()) != 0 {
		t.Fatal("invalid definition must not be registered")
	}
}

func TestRegistryGetIsolatesCaller(t *testing.T) {
	r := NewMemoryRegistry()
	d := DefaultDefinition()
	v, _, _ := r.Resolve(d)
	d.Params.ArchetypeBias["skeptic"] = 0.3 // caller mutates its copy after registering

	rec, err := r.Get(v.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Definition.Params.ArchetypeBias["skeptic"] != -0.08 {
		t.Fatal("registry content changed through caller's map")
	}
	if _, err := r.Get("v9"); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
}

func TestFileRegistryPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	r, err := OpenRegistry(dir)
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	def := DefaultDefinition()
	def.Meta.CreatedAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	v1, _, err := r.Resolve(def)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	first, err := os.ReadFile(filepath.Join(dir, "v1.yaml"))
	if err != nil {
		t.Fatalf("read v1: %v", err)
	}

	changed := DefaultDefinition()
	changed.Params.Mode = ModeProbabilistic
	if _, _, err := r.Resolve(changed); err != nil {
		t.Fatalf("Resolve v2: %v", err)
	}

	// Appending v2 leaves v1's bytes untouched.
	after, _ := os.ReadFile(filepath.Join(dir, "v1.yaml"))
	if string(first) != string(after) {
		t.Fatal("v1 file rewritten by later registration")
	}

	reopened, err := OpenRegistry(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	v, created, err := reopened.Resolve(DefaultDefinition())
	if err != nil {
		t.Fatalf("Resolve after reopen: %v", err)
	}
	if created || v.ID != v1.ID || v.Hash != v1.Hash {
		t.Fatalf("expected reuse of %s across processes, got %+v created=%v", v1.ID, v, created)
	}
	third := DefaultDefinition()
	third.Params.HighValueBonus = 0.2
	v3, _, _ := reopened.Resolve(third)
	if v3.ID != "v3" {
		t.Fatalf("expected numbering to continue at v3, got %s", v3.ID)
	}
}

func TestFileRegistryNeverOverwritesConcurrentWriter(t *testing.T) {
	dir := t.TempDir()
	a, err := OpenRegistry(dir)
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	b, err := OpenRegistry(dir)
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	if _, _, err := a.Resolve(DefaultDefinition()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	first, err := os.ReadFile(filepath.Join(dir, "v1.yaml"))
	if err != nil {
		t.Fatalf("read v1: %v", err)
	}

	// b opened before a wrote, so it also mints v1.
	other := DefaultDefinition()
	other.Params.Mode = ModeProbabilistic
	if _, _, err := b.Resolve(other); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity for a taken version file, got %v", err)
	}
	after, _ := os.ReadFile(filepath.Join(dir, "v1.yaml"))
	if string(first) != string(after) {
		t.Fatal("v1 file overwritten by a second writer")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected only v1.yaml left in dir, found %d entries", len(entries))
	}
}

func TestFileRegistryDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	r, _ := OpenRegistry(dir)
	if _, _, err := r.Resolve(DefaultDefinition()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	path := filepath.Join(dir, "v1.yaml")
	data, _ := os.ReadFile(path)
	tampered := strings.Replace(string(data), "risk_weight: 0.3", "risk_weight: 0.9", 1)
	if tampered == string(data) {
		t.Fatal("test setup: replacement did not apply")
	}
	os.WriteFile(path, []byte(tampered), 0o644)

	if _, err := OpenRegistry(dir); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
}

func TestLoadDefinition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibrated.yaml")
	body := "params:\n  mode: probabilistic\n  steepness: 8\nmeta:\n  source: calibration\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	def, err := LoadDefinition(path)
	if err != nil {
		t.Fatalf("LoadDefinition: %v", err)
	}
	if def.Params.Mode != ModeProbabilistic || def.Params.Steepness != 8 {
		t.Fatalf("file values not applied: %+v", def.Params)
	}
	if def.Params.RiskWeight != DefaultParams().RiskWeight || def.Engine != EngineIdentity {
		t.Fatal("defaults lost for fields absent from the file")
	}

	os.WriteFile(path, []byte("params:\n  steepness: 500\n"), 0o644)
	if _, err := LoadDefinition(path); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
}
