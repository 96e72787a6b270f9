package stages

import (
	"context"
	"time"

	"paypipe/internal/config"
	"paypipe/internal/errors"
	"paypipe/internal/logging"
	"paypipe/internal/pipeline/domain"
	"paypipe/internal/pipeline/ports"

	"github.com/shopspring/decimal"
)

// RiskChecker scores a transaction from six independent factors and
// blocks or flags it by the composite score.
//
// The composite is sum(score*weight) over amount, velocity, time, merchant,
// location and user, capped at 100. Merchant and location carry separate
// weights. A transaction above the high-value threshold is flagged for review
// at minimum, whatever its composite.
type RiskChecker struct {
	baseStage
	rules    riskRules
	window   time.Duration
	base     string
	txns     ports.TransactionStore
	accounts ports.AccountLookup
	clock    ports.Clock
	logger   *logging.Logger
}

// NewRiskChecker creates the risk scoring stage
func NewRiskChecker(cfg config.RiskConfig, baseCurrency string, deps Dependencies) (*RiskChecker, error) {
	if deps.Transactions == nil || deps.Accounts == nil {
		return nil, errors.Configuration("risk checker requires a transaction store and an account lookup")
	}
	rules, err := newRiskRules(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfiguration, "invalid risk configuration")
	}
	return &RiskChecker{
		baseStage: baseStage{
			name:        config.StageRiskChecker,
			version:     "2.0.0",
			description: "Scores transaction risk and blocks or flags risky transactions",
		},
		rules:    rules,
		window:   cfg.VelocityWindow,
		base:     baseCurrency,
		txns:     deps.Transactions,
		accounts: deps.Accounts,
		clock:    deps.clock(),
		logger:   deps.logger("risk"),
	}, nil
}

func (r *RiskChecker) IsEnabled(_ domain.Transaction, pctx *domain.ProcessingContext) bool {
	return !pctx.Bool(domain.KeySkipRiskCheck)
}

// IsCritical is true for high-value transactions regardless of the score
func (r *RiskChecker) IsCritical(txn domain.Transaction, _ *domain.ProcessingContext) bool {
	return txn.Amount.GreaterThan(r.rules.highValue)
}

// scoredAmount prefers the converted amount once it is in the base currency
func (r *RiskChecker) scoredAmount(txn domain.Transaction) decimal.Decimal {
	if txn.ConvertedAmount != nil && txn.ConvertedCurrency == r.base {
		return *txn.ConvertedAmount
	}
	return txn.Amount
}

// Assess computes the risk assessment without acting on it
func (r *RiskChecker) Assess(ctx context.Context, txn domain.Transaction, pctx *domain.ProcessingContext) (domain.RiskAssessment, error) {
	now := r.clock.Now()

	velocity := r.rules.accountlessVelocityFactor()
	if txn.AccountID != "" {
		activity, err := r.txns.RecentActivity(ctx, txn.AccountID, now.Add(-r.window))
		if err != nil {
			return domain.RiskAssessment{}, errors.Wrap(err, errors.ErrorTypeExternal, "failed to query recent activity")
		}
		velocity = r.rules.velocityFactor(activity)
	}

	account, err := r.lookupAccount(ctx, txn.AccountID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}

	factors := []domain.RiskFactor{
		r.rules.amountFactor(r.scoredAmount(txn)),
		velocity,
		r.rules.timeFactor(now),
		r.rules.merchantFactor(txn.MerchantID, txn.MerchantName),
		r.rules.locationFactor(pctx.String(domain.KeyLocation)),
		r.rules.userFactor(account, now),
	}
	return domain.NewRiskAssessment(factors), nil
}

// lookupAccount returns nil without error when the account does not exist
func (r *RiskChecker) lookupAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	if accountID == "" {
		return nil, nil
	}
	account, err := r.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			r.logger.Warn("%v", errors.InsufficientData("account "+accountID+" not found, scoring as elevated risk"))
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeExternal, "failed to look up account")
	}
	return &account, nil
}

// Decide maps an assessment onto an action for txn
func (r *RiskChecker) Decide(txn domain.Transaction, assessment domain.RiskAssessment) domain.RiskAction {
	action := domain.ActionForScore(assessment.Score)
	if txn.Amount.GreaterThan(r.rules.highValue) {
		action = action.AtLeast(domain.ActionReview)
	}
	return action
}

func (r *RiskChecker) Process(ctx context.Context, txn domain.Transaction, pctx *domain.ProcessingContext) (*domain.StageResult, error) {
	assessment, err := r.Assess(ctx, txn, pctx)
	if err != nil {
		return nil, err
	}
	action := r.Decide(txn, assessment)

	r.logger.Info("txn=%s score=%.2f level=%s action=%s", txn.ID, assessment.Score, assessment.Level, action)

	result := &domain.StageResult{
		Success: true,
		Action:  string(action),
		Payload: map[string]any{
			"score":   assessment.Score,
			"level":   string(assessment.Level),
			"action":  string(action),
			"factors": factorSummaries(assessment.Factors),
		},
		ContextPatch: (&domain.ContextPatch{}).
			Set(domain.KeyRiskScore, assessment.Score).
			Set(domain.KeyRiskLevel, string(assessment.Level)).
			Set(domain.KeyRiskAction, string(action)),
	}

	status, review := statusForAction(action)
	if status == "" {
		return result, nil
	}

	metadata := map[string]any{
		"riskScore": assessment.Score,
		"riskLevel": string(assessment.Level),
	}
	if review != "" {
		metadata["riskReview"] = review
	}
	if err := r.txns.UpdateStatus(ctx, txn.ID, status, metadata); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeExternal, "failed to persist risk decision")
	}

	patch := (&domain.TransactionPatch{}).WithStatus(status)
	for k, v := range metadata {
		patch.WithMetadata(k, v)
	}
	result.TransactionPatch = patch
	return result, nil
}

func statusForAction(action domain.RiskAction) (domain.TransactionStatus, string) {
	switch action {
	case domain.ActionBlock:
		return domain.StatusBlocked, ""
	case domain.ActionReview:
		return domain.StatusFlagged, "manual"
	case domain.ActionMonitor:
		return domain.StatusFlagged, "monitoring"
	default:
		return "", ""
	}
}

func factorSummaries(factors []domain.RiskFactor) []map[string]any {
	out := make([]map[string]any, 0, len(factors))
	for _, f := range factors {
		out = append(out, map[string]any{
			"type":    string(f.Type),
			"score":   f.Score,
			"weight":  f.Weight,
			"reason":  f.Reason,
			"details": f.Details,
		})
	}
	return out
}
