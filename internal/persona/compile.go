package persona

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
)

// #region blend-table
// term contributes weight*field (or weight*(1-field) when inverted) to a trait blend.
type term struct {
	field  string
	weight float64
	invert bool
}

// Blend weights per trait. Each trait's weights sum to 1.
var (
	cognitiveCapacityBlend = []term{
		{FieldDigitalLiteracy, 0.5, false},
		{FieldGoalClarity, 0.2, false},
		{FieldTimePressure, 0.3, true},
	}
	fatigueRateBlend = []term{
		{FieldTimePressure, 0.5, false},
		{FieldDigitalLiteracy, 0.3, true},
		{FieldUrgency, 0.2, true},
	}
	riskToleranceBlend = []term{
		{FieldFinancialLiteracy, 0.3, false},
		{FieldIncomeStability, 0.3, false},
		{FieldPriorBadExperience, 0.4, true},
	}
	lossAversionBlend = []term{
		{FieldIncomeStability, 0.4, true},
		{FieldPriorBadExperience, 0.4, false},
		{FieldFinancialLiteracy, 0.2, true},
	}
	effortToleranceBlend = []term{
		{FieldUrgency, 0.4, false},
		{FieldGoalClarity, 0.3, false},
		{FieldTimePressure, 0.3, true},
	}
	trustBaselineBlend = []term{
		{FieldBrandFamiliarity, 0.5, false},
		{FieldPriorBadExperience, 0.3, true},
		{FieldPrivacyConcern, 0.2, true},
	}
	discountRateBlend = []term{
		{FieldUrgency, 0.5, false},
		{FieldTimePressure, 0.3, false},
		{FieldGoalClarity, 0.2, true},
	}
	controlNeedBlend = []term{
		{FieldPrivacyConcern, 0.5, false},
		{FieldPriorBadExperience, 0.3, false},
		{FieldDigitalLiteracy, 0.2, true},
	}
	motivationStrengthBlend = []term{
		{FieldGoalClarity, 0.4, false},
		{FieldUrgency, 0.4, false},
		{FieldBrandFamiliarity, 0.2, false},
	}
)

// mobileFatigueBoost is added to the fatigue blend for mobile personas.
const mobileFatigueBoost = 0.1

// #endregion blend-table

// #region compile
// Compile derives Priors from a raw record. It is pure and rejects records with
// missing or out-of-domain fields.
func Compile(rec Record) (Priors, error) {
	if err := Validate(rec); err != nil {
		return Priors{}, err
	}

	fatigue := blend(rec.Numeric, fatigueRateBlend)
	if rec.Categorical[FieldDevice] == "mobile" {
		fatigue += mobileFatigueBoost
	}

	return Priors{
		CognitiveCapacity:  trait(CognitiveCapacityRange, blend(rec.Numeric, cognitiveCapacityBlend)),
		FatigueRate:        trait(FatigueRateRange, fatigue),
		RiskTolerance:      trait(RiskToleranceRange, blend(rec.Numeric, riskToleranceBlend)),
		LossAversion:       trait(LossAversionRange, blend(rec.Numeric, lossAversionBlend)),
		EffortTolerance:    trait(EffortToleranceRange, blend(rec.Numeric, effortToleranceBlend)),
		TrustBaseline:      trait(TrustBaselineRange, blend(rec.Numeric, trustBaselineBlend)),
		DiscountRate:       trait(DiscountRateRange, blend(rec.Numeric, discountRateBlend)),
		ControlNeed:        trait(ControlNeedRange, blend(rec.Numeric, controlNeedBlend)),
		MotivationStrength: trait(MotivationStrengthRange, blend(rec.Numeric, motivationStrengthBlend)),
	}, nil
}

// Validate checks a raw record against the declared field domains.
func Validate(rec Record) error {
	if rec.ID == "" {
		return &ValidationError{PersonaID: "<empty>", Field: "id", Reason: "missing"}
	}
	if strings.Contains(rec.ID, IDSeparator) {
		return &ValidationError{PersonaID: rec.ID, Field: "id", Reason: fmt.Sprintf("contains %q", IDSeparator)}
	}
	for _, f := range RequiredNumeric {
		v, ok := rec.Numeric[f]
		if !ok {
			return &ValidationError{PersonaID: rec.ID, Field: f, Reason: "missing"}
		}
		if math.IsNaN(v) || v < 0 || v > 1 {
			return &ValidationError{PersonaID: rec.ID, Field: f, Reason: fmt.Sprintf("value %v outside [0,1]", v)}
		}
	}
	arch, ok := rec.Categorical[FieldArchetype]
	if !ok {
		return &ValidationError{PersonaID: rec.ID, Field: FieldArchetype, Reason: "missing"}
	}
	if !slices.Contains(Archetypes, arch) {
		return &ValidationError{PersonaID: rec.ID, Field: FieldArchetype, Reason: fmt.Sprintf("unknown archetype %q", arch)}
	}
	if dev, ok := rec.Categorical[FieldDevice]; ok && !slices.Contains(Devices, dev) {
		return &ValidationError{PersonaID: rec.ID, Field: FieldDevice, Reason: fmt.Sprintf("unknown device %q", dev)}
	}
	return nil
}

// #endregion compile

// #region compiler
// Compiler memoizes Compile by persona ID. Safe for concurrent use.
type Compiler struct {
	mu    sync.Mutex
	cache map[string]Priors
}

// NewCompiler returns an empty memoizing compiler.
func NewCompiler() *Compiler {
	return &Compiler{cache: make(map[string]Priors)}
}

// Compile returns the cached priors for rec.ID, compiling on first use.
// Failed compilations are not cached.
func (c *Compiler) Compile(rec Record) (Priors, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.cache[rec.ID]; ok {
		return p, nil
	}
	p, err := Compile(rec)
	if err != nil {
		return Priors{}, err
	}
	c.cache[rec.ID] = p
	return p, nil
}

// #endregion compiler

// #region helpers
func blend(fields map[string]float64, terms []term) float64 {
	var sum float64
	for _, t := range terms {
		v := fields[t.field]
		if t.invert {
			v = 1 - v
		}
		sum += t.weight * v
	}
	return sum
}

func trait(r Range, t float64) float64 {
	return r.Clamp(r.Lerp(clamp01(t)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers
