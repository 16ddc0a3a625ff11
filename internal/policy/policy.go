// Package policy versions the engine parameters that produce each decision.
// A policy's version id is derived from a content hash, so identical content
// always resolves to the same version.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
)

// #region bounds
// DefaultBounds returns the admissible range of every bounded parameter.
func DefaultBounds() map[string]Range {
	return map[string]Range{
		"cognitive_weight":           {0, 2},
		"effort_weight":              {0, 2},
		"risk_weight":                {0, 2},
		"value_weight":               {0, 2},
		"reassurance_weight":         {0, 2},
		"mismatch_weight":            {0, 2},
		"irreversibility_multiplier": {1, 3},
		"personal_data_multiplier":   {1, 3},
		"steepness":                  {0.5, 20},
		"min_continue_prob":          {0, 0.2},
		"persistence_weight":         {0, 1},
		"high_value_threshold":       {0, 1},
		"high_value_bonus":           {0, 1},
		"noise_scale":                {0, 0.5},
		"archetype_bias":             {-0.5, 0.5},
		"dominance_threshold":        {0.2, 0.9},
		"secondary_threshold":        {0.05, 0.5},
		"coherence_threshold":        {0, 1},
		"min_precedent_count":        {1, 100},
	}
}

// DefaultDefinition returns a definition with the engine defaults.
func DefaultDefinition() Definition {
	return Definition{
		Engine: EngineIdentity,
		Bounds: DefaultBounds(),
		Params: DefaultParams(),
		Meta:   Meta{Source: "defaults"},
	}
}

// named lists every bounded scalar parameter by its bound key.
func (p Params) named() []struct {
	key string
	v   float64
} {
	return []struct {
		key string
		v   float64
	}{
		{"cognitive_weight", p.CognitiveWeight},
		{"effort_weight", p.EffortWeight},
		{"risk_weight", p.RiskWeight},
		{"value_weight", p.ValueWeight},
		{"reassurance_weight", p.ReassuranceWeight},
		{"mismatch_weight", p.MismatchWeight},
		{"irreversibility_multiplier", p.IrreversibilityMultiplier},
		{"personal_data_multiplier", p.PersonalDataMultiplier},
		{"steepness", p.Steepness},
		{"min_continue_prob", p.MinContinueProb},
		{"persistence_weight", p.PersistenceWeight},
		{"high_value_threshold", p.HighValueThreshold},
		{"high_value_bonus", p.HighValueBonus},
		{"noise_scale", p.NoiseScale},
		{"dominance_threshold", p.DominanceThreshold},
		{"secondary_threshold", p.SecondaryThreshold},
		{"coherence_threshold", p.CoherenceThreshold},
		{"min_precedent_count", float64(p.MinPrecedentCount)},
	}
}

// #endregion bounds

// #region validate
// Validate checks the definition: known mode, every parameter inside its
// bound, and secondary threshold not above the dominance threshold.
func (d Definition) Validate() error {
	if d.Engine.Name == "" || d.Engine.Version == "" {
		return fmt.Errorf("engine identity incomplete")
	}
	if err := d.Params.ValidateAgainst(d.Bounds); err != nil {
		return err
	}
	return nil
}

// ValidateAgainst checks params against the given bounds. Parameters without
// a bound are unconstrained.
func (p Params) ValidateAgainst(bounds map[string]Range) error {
	if p.Mode != ModeDeterministic && p.Mode != ModeProbabilistic {
		return fmt.Errorf("unknown mode %q", p.Mode)
	}
	for _, n := range p.named() {
		if math.IsNaN(n.v) {
			return fmt.Errorf("%s: %w: NaN", n.key, ErrOutOfBounds)
		}
		r, ok := bounds[n.key]
		if !ok {
			continue
		}
		if n.v < r.Lo || n.v > r.Hi {
			return fmt.Errorf("%s=%v: %w [%v,%v]", n.key, n.v, ErrOutOfBounds, r.Lo, r.Hi)
		}
	}
	if r, ok := bounds["archetype_bias"]; ok {
		for _, k := range slices.Sorted(maps.Keys(p.ArchetypeBias)) {
			v := p.ArchetypeBias[k]
			if v < r.Lo || v > r.Hi {
				return fmt.Errorf("archetype_bias[%s]=%v: %w [%v,%v]", k, v, ErrOutOfBounds, r.Lo, r.Hi)
			}
		}
	}
	if p.SecondaryThreshold > p.DominanceThreshold {
		return fmt.Errorf("secondary threshold %v above dominance threshold %v", p.SecondaryThreshold, p.DominanceThreshold)
	}
	return nil
}

// #endregion validate

// #region hash
// hashContent is the hashed portion of a definition. Meta is excluded.
type hashContent struct {
	Engine Engine           `json:"engine"`
	Bounds map[string]Range `json:"bounds"`
	Params Params           `json:"params"`
}

// CanonicalContent returns the canonical bytes the hash is computed over.
// encoding/json emits struct fields in declaration order and map keys sorted,
// so the output is stable across processes. Nil and empty maps hash alike.
func (d Definition) CanonicalContent() ([]byte, error) {
	c := hashContent{Engine: d.Engine, Bounds: d.Bounds, Params: d.Params}
	if c.Bounds == nil {
		c.Bounds = map[string]Range{}
	}
	if c.Params.ArchetypeBias == nil {
		c.Params.ArchetypeBias = map[string]float64{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal policy content: %w", err)
	}
	return b, nil
}

// Hash returns "sha256:<hex>" over the canonical content.
func (d Definition) Hash() (string, error) {
	b, err := d.CanonicalContent()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// #endregion hash
