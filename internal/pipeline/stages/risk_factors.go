package stages

import (
	"math"
	"regexp"
	"slices"
	"strings"
	"time"

	"paypipe/internal/config"
	"paypipe/internal/pipeline/domain"

	"github.com/shopspring/decimal"
)

// Flat scores of the triggered factors
const (
	mediumAmountScore       = 25
	highAmountBaseScore     = 50
	offHoursScore           = 30
	weekendScore            = 20
	suspiciousMerchantScore = 60
	blockedLocationScore    = 80
	missingAccountScore     = 50
	inactiveAccountScore    = 70
	newAccountScore         = 40
)

// riskRules holds the thresholds every factor is scored against
type riskRules struct {
	highValue     decimal.Decimal
	mediumValue   decimal.Decimal
	maxCount      int
	maxAmount     decimal.Decimal
	offStart      int
	offEnd        int
	location      *time.Location
	newAccountAge time.Duration
	patterns      []*regexp.Regexp
	blocked       []string
	weights       config.RiskWeights
}

func newRiskRules(cfg config.RiskConfig) (riskRules, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return riskRules{}, err
	}
	patterns := make([]*regexp.Regexp, 0, len(cfg.SuspiciousMerchantPatterns))
	for _, p := range cfg.SuspiciousMerchantPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return riskRules{}, err
		}
		patterns = append(patterns, re)
	}
	blocked := make([]string, 0, len(cfg.BlockedCountries))
	for _, c := range cfg.BlockedCountries {
		blocked = append(blocked, strings.ToUpper(strings.TrimSpace(c)))
	}
	return riskRules{
		highValue:     decimal.NewFromFloat(cfg.HighValueAmount),
		mediumValue:   decimal.NewFromFloat(cfg.MediumValueAmount),
		maxCount:      cfg.VelocityMaxCount,
		maxAmount:     decimal.NewFromFloat(cfg.VelocityMaxAmount),
		offStart:      cfg.OffHoursStart,
		offEnd:        cfg.OffHoursEnd,
		location:      loc,
		newAccountAge: cfg.NewAccountAge,
		patterns:      patterns,
		blocked:       blocked,
		weights:       cfg.Weights,
	}, nil
}

// amountFactor scales with how far the amount exceeds the high-value
// threshold and is non-decreasing in amount
func (r riskRules) amountFactor(amount decimal.Decimal) domain.RiskFactor {
	f := domain.RiskFactor{
		Type:    domain.FactorAmount,
		Weight:  r.weights.Amount,
		Details: map[string]any{"amount": amount.String(), "highValue": r.highValue.String()},
	}
	switch {
	case amount.GreaterThan(r.highValue):
		excess, _ := amount.Sub(r.highValue).Div(r.highValue).Float64()
		f.Score = math.Min(100, highAmountBaseScore+50*excess)
		f.Reason = "amount exceeds high-value threshold"
	case amount.GreaterThanOrEqual(r.mediumValue):
		f.Score = mediumAmountScore
		f.Reason = "amount in medium-value band"
	}
	return f
}

// velocityFactor scores the account's trailing-window activity against the ceilings
func (r riskRules) velocityFactor(activity domain.Activity) domain.RiskFactor {
	f := domain.RiskFactor{
		Type:   domain.FactorVelocity,
		Weight: r.weights.Velocity,
		Details: map[string]any{
			"count":     activity.Count,
			"total":     activity.Total.String(),
			"maxCount":  r.maxCount,
			"maxAmount": r.maxAmount.String(),
		},
	}
	countRatio := float64(activity.Count) / float64(r.maxCount)
	amountRatio, _ := activity.Total.Div(r.maxAmount).Float64()
	if countRatio >= 1 || amountRatio >= 1 {
		f.Score = math.Min(100, 50*countRatio+50*amountRatio)
		f.Reason = "transaction velocity ceiling reached"
	}
	return f
}

// accountlessVelocityFactor scores zero; without an account there is no
// history that belongs to the payer
func (r riskRules) accountlessVelocityFactor() domain.RiskFactor {
	return domain.RiskFactor{
		Type:    domain.FactorVelocity,
		Weight:  r.weights.Velocity,
		Details: map[string]any{"insufficientData": true},
	}
}

// timeFactor flags off-hours and weekend activity in the configured timezone
func (r riskRules) timeFactor(now time.Time) domain.RiskFactor {
	local := now.In(r.location)
	f := domain.RiskFactor{
		Type:    domain.FactorTime,
		Weight:  r.weights.Time,
		Details: map[string]any{"localTime": local.Format(time.RFC3339)},
	}
	var reasons []string
	if r.inOffHours(local.Hour()) {
		f.Score += offHoursScore
		reasons = append(reasons, "off-hours")
	}
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		f.Score += weekendScore
		reasons = append(reasons, "weekend")
	}
	f.Reason = strings.Join(reasons, ", ")
	return f
}

func (r riskRules) inOffHours(hour int) bool {
	switch {
	case r.offStart == r.offEnd:
		return false
	case r.offStart < r.offEnd:
		return hour >= r.offStart && hour < r.offEnd
	default:
		return hour >= r.offStart || hour < r.offEnd
	}
}

func (r riskRules) merchantFactor(merchantID, merchantName string) domain.RiskFactor {
	f := domain.RiskFactor{
		Type:    domain.FactorMerchant,
		Weight:  r.weights.Merchant,
		Details: map[string]any{"merchantId": merchantID},
	}
	for _, re := range r.patterns {
		if re.MatchString(merchantID) || (merchantName != "" && re.MatchString(merchantName)) {
			f.Score = suspiciousMerchantScore
			f.Reason = "merchant matches suspicious pattern"
			f.Details["pattern"] = re.String()
			break
		}
	}
	return f
}

func (r riskRules) locationFactor(location string) domain.RiskFactor {
	country := strings.ToUpper(strings.TrimSpace(location))
	f := domain.RiskFactor{
		Type:    domain.FactorLocation,
		Weight:  r.weights.Location,
		Details: map[string]any{"location": country},
	}
	if country != "" && slices.Contains(r.blocked, country) {
		f.Score = blockedLocationScore
		f.Reason = "location in blocked-country set"
	}
	return f
}

// userFactor takes the highest of the account signals. A missing account is
// an elevated signal rather than an error.
func (r riskRules) userFactor(account *domain.Account, now time.Time) domain.RiskFactor {
	f := domain.RiskFactor{
		Type:    domain.FactorUser,
		Weight:  r.weights.User,
		Details: map[string]any{},
	}
	if account == nil {
		f.Score = missingAccountScore
		f.Reason = "account not found"
		f.Details["insufficientData"] = true
		return f
	}

	f.Details["accountId"] = account.ID
	f.Details["status"] = string(account.Status)
	age := now.Sub(account.CreatedAt)
	if age < r.newAccountAge {
		f.Score = newAccountScore
		f.Reason = "new account"
		f.Details["ageHours"] = math.Floor(age.Hours())
	}
	if account.Status != domain.AccountActive && inactiveAccountScore > f.Score {
		f.Score = inactiveAccountScore
		f.Reason = "account not active"
	}
	return f
}
