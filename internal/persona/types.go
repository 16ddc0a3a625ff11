package persona

import "fmt"

// #region record
// Record is a raw persona as supplied by the dataset loader. Numeric fields
// are expected in [0,1]; categorical fields take values from a closed set.
type Record struct {
	ID          string             `json:"id"`
	Numeric     map[string]float64 `json:"numeric"`
	Categorical map[string]string  `json:"categorical"`
}

// #endregion record

// IDSeparator joins persona and variant ids in pair keys; ids may not contain it.
const IDSeparator = "/"

// #region raw-fields
const (
	FieldDigitalLiteracy    = "digital_literacy"
	FieldFinancialLiteracy  = "financial_literacy"
	FieldIncomeStability    = "income_stability"
	FieldUrgency            = "urgency"
	FieldBrandFamiliarity   = "brand_familiarity"
	FieldPrivacyConcern     = "privacy_concern"
	FieldTimePressure       = "time_pressure"
	FieldPriorBadExperience = "prior_bad_experience"
	FieldGoalClarity        = "goal_clarity"

	FieldArchetype = "archetype"
	FieldDevice    = "device"
)

// RequiredNumeric lists the numeric fields every record must carry.
var RequiredNumeric = []string{
	FieldDigitalLiteracy,
	FieldFinancialLiteracy,
	FieldIncomeStability,
	FieldUrgency,
	FieldBrandFamiliarity,
	FieldPrivacyConcern,
	FieldTimePressure,
	FieldPriorBadExperience,
	FieldGoalClarity,
}

// Archetypes is the closed set of behavioural archetypes.
var Archetypes = []string{"pragmatist", "explorer", "skeptic", "impulsive", "cautious"}

// Devices is the closed set of device categories. Records without a device
// are treated as desktop.
var Devices = []string{"desktop", "mobile"}

// #endregion raw-fields

// #region range
// Range is a closed interval [Lo, Hi].
type Range struct {
	Lo float64 `json:"lo" yaml:"lo"`
	Hi float64 `json:"hi" yaml:"hi"`
}

// Clamp pins v into the range.
func (r Range) Clamp(v float64) float64 {
	if v < r.Lo {
		return r.Lo
	}
	if v > r.Hi {
		return r.Hi
	}
	return v
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Lo && v <= r.Hi
}

// Lerp maps t in [0,1] onto the range.
func (r Range) Lerp(t float64) float64 {
	return r.Lo + (r.Hi-r.Lo)*t
}

// Normalize maps v in the range back onto [0,1].
func (r Range) Normalize(v float64) float64 {
	if r.Hi == r.Lo {
		return 0
	}
	return (r.Clamp(v) - r.Lo) / (r.Hi - r.Lo)
}

// #endregion range

// #region priors
// Priors are the latent behavioural traits of a persona. They are derived once
// and never change across initial-state variants.
type Priors struct {
	CognitiveCapacity  float64 `json:"cognitive_capacity"`
	FatigueRate        float64 `json:"fatigue_rate"`
	RiskTolerance      float64 `json:"risk_tolerance"`
	LossAversion       float64 `json:"loss_aversion"`
	EffortTolerance    float64 `json:"effort_tolerance"`
	TrustBaseline      float64 `json:"trust_baseline"`
	DiscountRate       float64 `json:"discount_rate"`
	ControlNeed        float64 `json:"control_need"`
	MotivationStrength float64 `json:"motivation_strength"`
}

// Trait ranges.
var (
	CognitiveCapacityRange  = Range{0.2, 1.0}
	FatigueRateRange        = Range{0.05, 0.5}
	RiskToleranceRange      = Range{0.0, 1.0}
	LossAversionRange       = Range{1.0, 3.0}
	EffortToleranceRange    = Range{0.1, 1.0}
	TrustBaselineRange      = Range{0.0, 1.0}
	DiscountRateRange       = Range{0.05, 0.6}
	ControlNeedRange        = Range{0.0, 1.0}
	MotivationStrengthRange = Range{0.1, 1.0}
)

// Within reports whether every trait lies inside its declared range.
func (p Priors) Within() bool {
	return CognitiveCapacityRange.Contains(p.CognitiveCapacity) &&
		FatigueRateRange.Contains(p.FatigueRate) &&
		RiskToleranceRange.Contains(p.RiskTolerance) &&
		LossAversionRange.Contains(p.LossAversion) &&
		EffortToleranceRange.Contains(p.EffortTolerance) &&
		TrustBaselineRange.Contains(p.TrustBaseline) &&
		DiscountRateRange.Contains(p.DiscountRate) &&
		ControlNeedRange.Contains(p.ControlNeed) &&
		MotivationStrengthRange.Contains(p.MotivationStrength)
}

// #endregion priors

// #region validation-error
// ValidationError reports a missing or out-of-domain raw field.
type ValidationError struct {
	PersonaID string
	Field     string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("persona %s: field %s: %s", e.PersonaID, e.Field, e.Reason)
}

// #endregion validation-error
