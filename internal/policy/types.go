package policy

import (
	"errors"
	"time"
)

// #region mode
// Mode selects the StateEngine decision strategy. The two strategies are
// mutually exclusive.
type Mode string

const (
	ModeDeterministic Mode = "deterministic"
	ModeProbabilistic Mode = "probabilistic"
)

// #endregion mode

// #region params
// Params is the explicit parameter object threaded into every engine call.
// It is never global: concurrent runs under different policies each carry
// their own copy.
type Params struct {
	Mode Mode `json:"mode" yaml:"mode"`

	// Cost and yield weights.
	CognitiveWeight   float64 `json:"cognitive_weight" yaml:"cognitive_weight"`
	EffortWeight      float64 `json:"effort_weight" yaml:"effort_weight"`
	RiskWeight        float64 `json:"risk_weight" yaml:"risk_weight"`
	ValueWeight       float64 `json:"value_weight" yaml:"value_weight"`
	ReassuranceWeight float64 `json:"reassurance_weight" yaml:"reassurance_weight"`
	MismatchWeight    float64 `json:"mismatch_weight" yaml:"mismatch_weight"`

	IrreversibilityMultiplier float64 `json:"irreversibility_multiplier" yaml:"irreversibility_multiplier"`
	PersonalDataMultiplier    float64 `json:"personal_data_multiplier" yaml:"personal_data_multiplier"`

	// Probabilistic strategy.
	Steepness          float64            `json:"steepness" yaml:"steepness"`
	MinContinueProb    float64            `json:"min_continue_prob" yaml:"min_continue_prob"`
	PersistenceWeight  float64            `json:"persistence_weight" yaml:"persistence_weight"`
	HighValueThreshold float64            `json:"high_value_threshold" yaml:"high_value_threshold"`
	HighValueBonus     float64            `json:"high_value_bonus" yaml:"high_value_bonus"`
	NoiseScale         float64            `json:"noise_scale" yaml:"noise_scale"`
	ArchetypeBias      map[string]float64 `json:"archetype_bias" yaml:"archetype_bias"`

	// Attribution and ledger thresholds.
	DominanceThreshold float64 `json:"dominance_threshold" yaml:"dominance_threshold"`
	SecondaryThreshold float64 `json:"secondary_threshold" yaml:"secondary_threshold"`
	CoherenceThreshold float64 `json:"coherence_threshold" yaml:"coherence_threshold"`
	MinPrecedentCount  int     `json:"min_precedent_count" yaml:"min_precedent_count"`
}

// DefaultParams returns the uncalibrated engine defaults.
func DefaultParams() Params {
	return Params{
		Mode: ModeDeterministic,

		CognitiveWeight:   0.35,
		EffortWeight:      0.30,
		RiskWeight:        0.30,
		ValueWeight:       0.25,
		ReassuranceWeight: 0.20,
		MismatchWeight:    0.15,

		IrreversibilityMultiplier: 1.5,
		PersonalDataMultiplier:    1.2,

		Steepness:          6.0,
		MinContinueProb:    0.02,
		PersistenceWeight:  0.10,
		HighValueThreshold: 0.20,
		HighValueBonus:     0.10,
		NoiseScale:         0.05,
		ArchetypeBias: map[string]float64{
			"pragmatist": 0,
			"explorer":   0.05,
			"skeptic":    -0.08,
			"impulsive":  0.08,
			"cautious":   -0.05,
		},

		DominanceThreshold: 0.40,
		SecondaryThreshold: 0.20,
		CoherenceThreshold: 0.60,
		MinPrecedentCount:  3,
	}
}

// Clone returns a deep copy.
func (p Params) Clone() Params {
	cp := p
	if p.ArchetypeBias != nil {
		cp.ArchetypeBias = make(map[string]float64, len(p.ArchetypeBias))
		for k, v := range p.ArchetypeBias {
			cp.ArchetypeBias[k] = v
		}
	}
	return cp
}

// #endregion params

// #region definition
// Range is a closed interval for a parameter bound.
type Range struct {
	Lo float64 `json:"lo" yaml:"lo"`
	Hi float64 `json:"hi" yaml:"hi"`
}

// Engine identifies the decision engine a policy was written for.
type Engine struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

// Meta is creation metadata. It is excluded from the content hash.
type Meta struct {
	CreatedBy string    `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	Source    string    `json:"source,omitempty" yaml:"source,omitempty"` // "defaults" | "calibration"
	Note      string    `json:"note,omitempty" yaml:"note,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Definition is an immutable policy snapshot.
type Definition struct {
	Engine Engine           `json:"engine" yaml:"engine"`
	Bounds map[string]Range `json:"bounds" yaml:"bounds"`
	Params Params           `json:"params" yaml:"params"`
	Meta   Meta             `json:"meta" yaml:"meta"`
}

// EngineIdentity is the identity of the engine in this module.
var EngineIdentity = Engine{Name: "funnel-sim/state-engine", Version: "1.0.0"}

// #endregion definition

// #region version
// Version is a registered policy version.
type Version struct {
	ID     string `json:"id" yaml:"id"` // "v1", "v2", ...
	Number int    `json:"number" yaml:"number"`
	Hash   string `json:"hash" yaml:"hash"`
}

// Record is a Version together with the definition it names.
type Record struct {
	Version    Version    `yaml:"version"`
	Definition Definition `yaml:"definition"`
}

// #endregion version

// #region errors
var (
	// ErrIntegrity reports a registry whose stored content does not match its hash,
	// or a hash collision between differing definitions.
	ErrIntegrity = errors.New("policy integrity violation")
	// ErrVersionNotFound reports an unknown version ID.
	ErrVersionNotFound = errors.New("policy version not found")
	// ErrOutOfBounds reports a parameter outside its declared bound.
	ErrOutOfBounds = errors.New("parameter out of bounds")
)

// #endregion errors
