package domain

import "math"

// RiskFactorType names an independent risk assessor
type RiskFactorType string

const (
	FactorAmount   RiskFactorType = "amount"
	FactorVelocity RiskFactorType = "velocity"
	FactorTime     RiskFactorType = "time"
	FactorMerchant RiskFactorType = "merchant"
	FactorLocation RiskFactorType = "location"
	FactorUser     RiskFactorType = "user"
)

// RiskLevel buckets a composite score
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "MINIMAL"
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// LevelForScore maps a 0-100 score onto a risk level
func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 40:
		return RiskMedium
	case score >= 20:
		return RiskLow
	default:
		return RiskMinimal
	}
}

// RiskAction is what the risk checker decided
type RiskAction string

const (
	ActionApprove RiskAction = "approve"
	ActionMonitor RiskAction = "monitor"
	ActionReview  RiskAction = "review"
	ActionBlock   RiskAction = "block"
)

func (a RiskAction) severity() int {
	switch a {
	case ActionBlock:
		return 3
	case ActionReview:
		return 2
	case ActionMonitor:
		return 1
	default:
		return 0
	}
}

// AtLeast returns the more severe of a and floor
func (a RiskAction) AtLeast(floor RiskAction) RiskAction {
	if floor.severity() > a.severity() {
		return floor
	}
	return a
}

// ActionForScore maps a composite score onto an action
func ActionForScore(score float64) RiskAction {
	switch {
	case score >= 80:
		return ActionBlock
	case score >= 60:
		return ActionReview
	case score >= 40:
		return ActionMonitor
	default:
		return ActionApprove
	}
}

// RiskFactor is one scored assessor output
type RiskFactor struct {
	Type    RiskFactorType
	Score   float64
	Weight  float64
	Reason  string
	Details map[string]any
}

// Contribution is the factor's weighted share of the composite
func (f RiskFactor) Contribution() float64 {
	return f.Score * f.Weight
}

// RiskAssessment is the transient output of a risk check
type RiskAssessment struct {
	Factors []RiskFactor
	Score   float64
	Level   RiskLevel
}

// NewRiskAssessment computes the capped weighted composite of factors
func NewRiskAssessment(factors []RiskFactor) RiskAssessment {
	var total float64
	for _, f := range factors {
		total += f.Contribution()
	}
	total = math.Min(100, math.Max(0, total))
	total = math.Round(total*100) / 100
	return RiskAssessment{
		Factors: factors,
		Score:   total,
		Level:   LevelForScore(total),
	}
}

// Factor returns the factor of the given type
func (a RiskAssessment) Factor(t RiskFactorType) (RiskFactor, bool) {
	for _, f := range a.Factors {
		if f.Type == t {
			return f, true
		}
	}
	return RiskFactor{}, false
}
