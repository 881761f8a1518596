package reconcile

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/corefin/verity/internal/metrics"
	"github.com/corefin/verity/internal/models"
)

// SyncPositions reconciles a broker position snapshot into the ledger and
// loads the strategy's own holdings into the portfolio.
//
// Every non-default ledger row is a claim subtracted from the snapshot; what
// remains belongs to the default bucket, whose rows are rewritten in place of
// the previous ones. A nil snapshot means the broker is unavailable and the
// sync is skipped; an empty slice is a real report of no holdings. Balance
// rows must already exist, so SyncBalance runs first.
func (s *Service) SyncPositions(ctx context.Context, brokerPositions []*models.PositionData, pf *models.Portfolio) error {
	if brokerPositions == nil {
		s.logger.Debug().Msg("Broker positions unavailable, skipping sync")
		metrics.SyncTotal.WithLabelValues("position", metrics.OutcomeUnavailable).Inc()
		return nil
	}

	if s.ledger == nil {
		book := models.NewPosition()
		for _, bp := range brokerPositions {
			if err := book.Update(bp, models.OffsetOpen); err != nil {
				metrics.SyncTotal.WithLabelValues("position", metrics.OutcomeError).Inc()
				return err
			}
		}
		pf.Position = book
		metrics.SyncTotal.WithLabelValues("position", metrics.OutcomeApplied).Inc()
		return nil
	}

	if err := s.syncPositionsLedger(ctx, brokerPositions, pf); err != nil {
		metrics.SyncTotal.WithLabelValues("position", metrics.OutcomeError).Inc()
		return err
	}
	metrics.SyncTotal.WithLabelValues("position", metrics.OutcomeApplied).Inc()
	return nil
}

func (s *Service) syncPositionsLedger(ctx context.Context, brokerPositions []*models.PositionData, pf *models.Portfolio) error {
	balances, err := s.ledger.BalanceStore().ListByBroker(ctx, s.identity)
	if err != nil {
		return fmt.Errorf("failed to list balances: %w", err)
	}
	if len(balances) == 0 {
		return models.Consistencyf("no balance rows for broker account %s, balance must sync first", s.identity.BrokerAccount)
	}

	var defaultID, strategyID string
	balanceIDs := make([]string, 0, len(balances))
	for _, row := range balances {
		balanceIDs = append(balanceIDs, row.ID)
		if row.IsDefault() {
			if defaultID != "" {
				return models.Consistencyf("broker account %s has more than one default balance row", s.identity.BrokerAccount)
			}
			defaultID = row.ID
		}
		if row.StrategyAccount == s.strategy.Account && row.StrategyVersion == s.strategy.Version {
			strategyID = row.ID
		}
	}
	if defaultID == "" {
		return models.Consistencyf("broker account %s has no default balance row", s.identity.BrokerAccount)
	}
	if strategyID == "" {
		return models.Consistencyf("strategy %s (%s) has no balance row", s.strategy.Account, s.strategy.Version)
	}

	rows, err := s.ledger.PositionStore().ListByBalanceIDs(ctx, balanceIDs)
	if err != nil {
		return fmt.Errorf("failed to list positions: %w", err)
	}

	// First position sync of this broker account: no rows claim anything, so
	// the whole snapshot belongs to the default bucket and the strategy
	// starts flat.
	if len(rows) == 0 {
		for _, bp := range brokerPositions {
			if err := s.ledger.PositionStore().Insert(ctx, models.NewPositionRecord(defaultID, bp)); err != nil {
				return fmt.Errorf("failed to insert default position: %w", err)
			}
		}
		pf.Position = models.NewPosition()
		s.logger.Info().
			Int("count", len(brokerPositions)).
			Msg("Attributed initial broker positions to default bucket")
		return nil
	}

	remainder, err := s.subtractAttributed(brokerPositions, rows, defaultID)
	if err != nil {
		return err
	}

	// Rewrite the default bucket with the remainder, dropping entries that
	// were fully claimed.
	if _, err := s.ledger.PositionStore().DeleteByBalanceID(ctx, defaultID); err != nil {
		return fmt.Errorf("failed to clear default positions: %w", err)
	}
	inserted := 0
	for _, pd := range remainder {
		if !pd.Quantity.IsPositive() {
			continue
		}
		if err := s.ledger.PositionStore().Insert(ctx, models.NewPositionRecord(defaultID, pd)); err != nil {
			return fmt.Errorf("failed to insert default position: %w", err)
		}
		inserted++
	}

	book, err := s.LoadPositions(ctx, strategyID)
	if err != nil {
		return fmt.Errorf("failed to reload strategy positions: %w", err)
	}
	if book == nil {
		book = models.NewPosition()
	}
	pf.Position = book

	s.logger.Info().
		Int("default_positions", inserted).
		Int("strategy_positions", book.Len()).
		Msg("Reconciled broker positions")
	return nil
}

// subtractAttributed removes every non-default ledger claim from the broker
// snapshot and returns what remains for the default bucket. Claims match
// broker entries on (security code, direction). A claim exceeding the broker
// holding, including any nonzero claim on a security the broker no longer
// reports, breaks conservation and is fatal.
func (s *Service) subtractAttributed(brokerPositions []*models.PositionData, rows []*models.PositionRecord, defaultID string) ([]*models.PositionData, error) {
	remainder := make([]*models.PositionData, 0, len(brokerPositions))
	for _, bp := range brokerPositions {
		cp := *bp
		remainder = append(remainder, &cp)
	}

	for _, row := range rows {
		if row.BalanceID == defaultID {
			continue
		}
		claim, err := row.Data()
		if err != nil {
			return nil, err
		}

		var match *models.PositionData
		for _, rem := range remainder {
			if rem.Security.Code == claim.Security.Code && rem.Direction == claim.Direction {
				match = rem
				break
			}
		}

		brokerQty := decimal.Zero
		if match != nil {
			brokerQty = match.Quantity
		}
		quantity := brokerQty.Sub(claim.Quantity)
		if quantity.IsNegative() {
			return nil, models.Consistencyf("ledger claims %s of %s %s but broker holds %s",
				claim.Quantity, claim.Security.Code, claim.Direction, brokerQty)
		}
		if match == nil {
			// A zero claim on an unreported security subtracts nothing.
			continue
		}

		if quantity.IsPositive() {
			match.HoldingPrice = match.HoldingPrice.Mul(match.Quantity).
				Sub(claim.HoldingPrice.Mul(claim.Quantity)).
				Div(quantity)
		} else {
			match.HoldingPrice = sentinelPrice
		}
		match.Quantity = quantity
		match.UpdateTime = claim.UpdateTime
	}
	return remainder, nil
}
