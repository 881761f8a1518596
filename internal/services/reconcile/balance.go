package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/corefin/verity/internal/metrics"
	"github.com/corefin/verity/internal/models"
)

// SyncBalance reconciles a broker balance snapshot into the ledger and loads
// the strategy's share into the portfolio.
//
// A nil snapshot means the broker is unavailable and the sync is skipped.
// With no ledger the snapshot simply overwrites the portfolio. Otherwise the
// first sync of a broker account bootstraps its default and strategy rows,
// and later syncs fold capital drift (dividends, fees, manual trades) into
// the default row. Either way the portfolio balance is reloaded from the
// committed strategy row, never taken from the broker directly.
func (s *Service) SyncBalance(ctx context.Context, broker *models.AccountBalance, pf *models.Portfolio) error {
	if broker == nil {
		s.logger.Debug().Msg("Broker balance unavailable, skipping sync")
		metrics.SyncTotal.WithLabelValues("balance", metrics.OutcomeUnavailable).Inc()
		return nil
	}

	if s.ledger == nil {
		snapshot := *broker
		pf.AccountBalance = &snapshot
		metrics.SyncTotal.WithLabelValues("balance", metrics.OutcomeApplied).Inc()
		return nil
	}

	rows, err := s.ledger.BalanceStore().ListByBroker(ctx, s.identity)
	if err != nil {
		metrics.SyncTotal.WithLabelValues("balance", metrics.OutcomeError).Inc()
		return fmt.Errorf("failed to list balances: %w", err)
	}

	outcome := metrics.OutcomeApplied
	if len(rows) == 0 {
		err = s.bootstrapBalance(ctx, broker, pf.AccountBalance)
	} else {
		var wrote bool
		wrote, err = s.rebalanceDefault(ctx, broker, rows)
		if !wrote {
			outcome = metrics.OutcomeNoop
		}
	}
	if err != nil {
		metrics.SyncTotal.WithLabelValues("balance", metrics.OutcomeError).Inc()
		return err
	}

	committed, err := s.LoadBalance(ctx)
	if err != nil {
		metrics.SyncTotal.WithLabelValues("balance", metrics.OutcomeError).Inc()
		return fmt.Errorf("failed to reload strategy balance: %w", err)
	}
	if committed == nil {
		metrics.SyncTotal.WithLabelValues("balance", metrics.OutcomeError).Inc()
		return models.Consistencyf("strategy %s (%s) has no balance row after sync", s.strategy.Account, s.strategy.Version)
	}
	pf.AccountBalance = committed.Balance()

	metrics.SyncTotal.WithLabelValues("balance", outcome).Inc()
	return nil
}

// bootstrapBalance creates the first two rows of a broker account: the
// default bucket holding whatever the strategy does not claim, and the
// strategy's own row seeded from the portfolio. Account ids come from the
// table-wide maxima so concurrent broker accounts never collide.
func (s *Service) bootstrapBalance(ctx context.Context, broker, strategyBal *models.AccountBalance) error {
	maxBroker, maxStrategy, err := s.ledger.BalanceStore().MaxAccountIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to allocate account ids: %w", err)
	}
	brokerAccountID := maxBroker + 1
	strategyAccountID := maxStrategy + 1

	defaultCash := broker.Cash.Sub(strategyBal.Cash)
	defaultPower := broker.Power.Sub(strategyBal.Power)
	if defaultCash.IsNegative() {
		return models.Consistencyf("strategy %s (%s) cash %s exceeds broker cash %s",
			s.strategy.Account, s.strategy.Version, strategyBal.Cash, broker.Cash)
	}
	if defaultPower.IsNegative() {
		return models.Consistencyf("strategy %s (%s) power %s exceeds broker power %s",
			s.strategy.Account, s.strategy.Version, strategyBal.Power, broker.Power)
	}

	now := time.Now()
	defaultRow := &models.BalanceRecord{
		BrokerName:          s.identity.BrokerName,
		BrokerEnvironment:   s.identity.BrokerEnvironment,
		BrokerAccountID:     brokerAccountID,
		BrokerAccount:       s.identity.BrokerAccount,
		StrategyAccountID:   strategyAccountID,
		StrategyAccount:     models.DefaultStrategyAccount,
		StrategyVersion:     models.DefaultStrategyVersion,
		StrategyVersionDesc: "manual trading",
		StrategyStatus:      "active",
		Cash:                defaultCash,
		Power:               defaultPower,
		MaxPowerShort:       decimal.NewFromInt(-1),
		NetCashPower:        decimal.NewFromInt(-1),
		UpdateTime:          now,
		Remark:              "N/A",
	}
	if err := s.ledger.BalanceStore().Insert(ctx, defaultRow); err != nil {
		return fmt.Errorf("failed to insert default balance row: %w", err)
	}

	strategyRow := &models.BalanceRecord{
		BrokerName:          s.identity.BrokerName,
		BrokerEnvironment:   s.identity.BrokerEnvironment,
		BrokerAccountID:     brokerAccountID,
		BrokerAccount:       s.identity.BrokerAccount,
		StrategyAccountID:   strategyAccountID + 1,
		StrategyAccount:     s.strategy.Account,
		StrategyVersion:     s.strategy.Version,
		StrategyVersionDesc: "",
		StrategyStatus:      "active",
		Cash:                strategyBal.Cash,
		Power:               strategyBal.Power,
		MaxPowerShort:       decimal.NewFromInt(-1),
		NetCashPower:        decimal.NewFromInt(-1),
		UpdateTime:          now,
		Remark:              "N/A",
	}
	if err := s.ledger.BalanceStore().Insert(ctx, strategyRow); err != nil {
		return fmt.Errorf("failed to insert strategy balance row: %w", err)
	}

	s.logger.Info().
		Int64("broker_account_id", brokerAccountID).
		Str("default_cash", defaultCash.String()).
		Str("default_power", defaultPower.String()).
		Str("strategy_cash", strategyBal.Cash.String()).
		Str("strategy", s.strategy.Account).
		Msg("Bootstrapped ledger balance rows")
	return nil
}

// rebalanceDefault folds the difference between the broker totals and the sum
// of all ledger rows into the default row. Both fields are validated before
// either is written, so a violation leaves the ledger untouched.
func (s *Service) rebalanceDefault(ctx context.Context, broker *models.AccountBalance, rows []*models.BalanceRecord) (bool, error) {
	var def *models.BalanceRecord
	totalCash := decimal.Zero
	totalPower := decimal.Zero
	for _, row := range rows {
		totalCash = totalCash.Add(row.Cash)
		totalPower = totalPower.Add(row.Power)
		if row.IsDefault() {
			if def != nil {
				return false, models.Consistencyf("broker account %s has more than one default balance row", s.identity.BrokerAccount)
			}
			def = row
		}
	}
	if def == nil {
		return false, models.Consistencyf("broker account %s has no default balance row", s.identity.BrokerAccount)
	}

	deltaCash := broker.Cash.Sub(totalCash)
	deltaPower := broker.Power.Sub(totalPower)
	newCash := def.Cash.Add(deltaCash)
	newPower := def.Power.Add(deltaPower)

	// Validate both fields before writing either one.
	if newCash.IsNegative() {
		return false, models.Consistencyf("default cash would become negative: current %s, delta %s", def.Cash, deltaCash)
	}
	if newPower.IsNegative() {
		return false, models.Consistencyf("default power would become negative: current %s, delta %s", def.Power, deltaPower)
	}

	fields := make(map[string]decimal.Decimal, 2)
	if !deltaCash.IsZero() {
		fields["cash"] = newCash
	}
	if !deltaPower.IsZero() {
		fields["power"] = newPower
	}
	if len(fields) == 0 {
		return false, nil
	}

	if err := s.ledger.BalanceStore().UpdateFields(ctx, def.ID, fields); err != nil {
		return false, fmt.Errorf("failed to update default balance row: %w", err)
	}

	s.logger.Info().
		Str("balance_id", def.ID).
		Str("delta_cash", deltaCash.String()).
		Str("delta_power", deltaPower.String()).
		Msg("Folded broker drift into default balance")
	return true, nil
}
