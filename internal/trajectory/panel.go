package trajectory

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/danielpatrickdp/funnel-sim/internal/persona"
	"github.com/danielpatrickdp/funnel-sim/internal/state"
)

// #region panel-types
// PanelPersona is a compiled persona on the fixed panel.
type PanelPersona struct {
	ID        string         `json:"id"`
	Archetype string         `json:"archetype"`
	Priors    persona.Priors `json:"priors"`
}

// Panel is the fixed N personas x K variants grid reused verbatim across
// experiments. It is generated once and persisted; never regenerated
// mid-comparison.
type Panel struct {
	Personas []PanelPersona  `json:"personas"`
	Variants []state.Variant `json:"variants"`
}

// Pair is one persona x variant cell of the panel.
type Pair struct {
	Persona PanelPersona
	Variant state.Variant
}

// Key returns "<persona>/<variant>".
func (p Pair) Key() string {
	return p.Persona.ID + persona.IDSeparator + p.Variant.ID
}

// UnitError reports a failure scoped to one persona or pair.
type UnitError struct {
	PersonaID string
	VariantID string
	Err       error
}

func (e UnitError) Error() string {
	if e.VariantID == "" {
		return fmt.Sprintf("persona %s: %v", e.PersonaID, e.Err)
	}
	return fmt.Sprintf("%s/%s: %v", e.PersonaID, e.VariantID, e.Err)
}

func (e UnitError) Unwrap() error { return e.Err }

// #endregion panel-types

// #region build
// BuildPanel compiles raw records once. Invalid or duplicate records are
// reported per persona and left off the panel; they never abort the build.
func BuildPanel(records []persona.Record, variants []state.Variant) (Panel, []UnitError) {
	compiler := persona.NewCompiler()
	var errs []UnitError
	seen := make(map[string]bool, len(records))
	panel := Panel{Variants: append([]state.Variant(nil), variants...)}

	for _, rec := range records {
		if seen[rec.ID] {
			errs = append(errs, UnitError{PersonaID: rec.ID, Err: fmt.Errorf("duplicate persona id")})
			continue
		}
		priors, err := compiler.Compile(rec)
		if err != nil {
			errs = append(errs, UnitError{PersonaID: rec.ID, Err: err})
			continue
		}
		seen[rec.ID] = true
		panel.Personas = append(panel.Personas, PanelPersona{
			ID:        rec.ID,
			Archetype: rec.Categorical[persona.FieldArchetype],
			Priors:    priors,
		})
	}
	panel.sort()
	return panel, errs
}

func (p *Panel) sort() {
	sort.Slice(p.Personas, func(i, j int) bool { return p.Personas[i].ID < p.Personas[j].ID })
	sort.Slice(p.Variants, func(i, j int) bool { return p.Variants[i].ID < p.Variants[j].ID })
}

// Pairs returns every persona x variant cell ordered by (persona id, variant id).
func (p Panel) Pairs() []Pair {
	pairs := make([]Pair, 0, len(p.Personas)*len(p.Variants))
	for _, per := range p.Personas {
		for _, v := range p.Variants {
			pairs = append(pairs, Pair{Persona: per, Variant: v})
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].Persona.ID != pairs[j].Persona.ID {
			return pairs[i].Persona.ID < pairs[j].Persona.ID
		}
		return pairs[i].Variant.ID < pairs[j].Variant.ID
	})
	return pairs
}

// Validate checks unique ids and in-range traits and states.
func (p Panel) Validate() error {
	if len(p.Personas) == 0 || len(p.Variants) == 0 {
		return fmt.Errorf("panel needs at least one persona and one variant")
	}
	ids := make(map[string]bool, len(p.Personas))
	for _, per := range p.Personas {
		if per.ID == "" || ids[per.ID] {
			return fmt.Errorf("panel persona id %q empty or duplicate", per.ID)
		}
		if strings.Contains(per.ID, persona.IDSeparator) {
			return fmt.Errorf("panel persona id %q contains %q", per.ID, persona.IDSeparator)
		}
		ids[per.ID] = true
		if !per.Priors.Within() {
			return fmt.Errorf("panel persona %s: priors out of range", per.ID)
		}
	}
	vids := make(map[string]bool, len(p.Variants))
	for _, v := range p.Variants {
		if v.ID == "" || vids[v.ID] {
			return fmt.Errorf("panel variant id %q empty or duplicate", v.ID)
		}
		if strings.Contains(v.ID, persona.IDSeparator) {
			return fmt.Errorf("panel variant id %q contains %q", v.ID, persona.IDSeparator)
		}
		vids[v.ID] = true
		if !v.Initial.Within() {
			return fmt.Errorf("panel variant %s: initial state out of bounds", v.ID)
		}
	}
	return nil
}

// #endregion build

// #region persistence
// SavePanel writes the panel as JSON.
func SavePanel(path string, p Panel) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal panel: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write panel %s: %w", path, err)
	}
	return nil
}

// LoadPanel reads and validates a persisted panel.
func LoadPanel(path string) (Panel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Panel{}, fmt.Errorf("read panel %s: %w", path, err)
	}
	var p Panel
	if err := json.Unmarshal(data, &p); err != nil {
		return Panel{}, fmt.Errorf("parse panel %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Panel{}, fmt.Errorf("panel %s: %w", path, err)
	}
	p.sort()
	return p, nil
}

// LoadPersonas reads raw persona records from a JSON file.
func LoadPersonas(path string) ([]persona.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read personas %s: %w", path, err)
	}
	var recs []persona.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("parse personas %s: %w", path, err)
	}
	return recs, nil
}

// #endregion persistence
