// Package reconcile aligns the in-memory portfolio with the broker account
// and the ledger. The broker reports one aggregate account; the ledger
// attributes its capital and positions to strategies, with everything
// unclaimed held by the default bucket.
package reconcile

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/corefin/verity/internal/common"
	"github.com/corefin/verity/internal/interfaces"
	"github.com/corefin/verity/internal/models"
)

// sentinelPrice marks a remainder whose quantity reached zero, so its holding
// price is undefined. Such entries exist only in memory and are never written
// to the ledger.
var sentinelPrice = decimal.NewFromInt(-1)

// Service reconciles one strategy's portfolio against a broker account.
type Service struct {
	ledger   interfaces.LedgerStore
	identity models.BrokerIdentity
	strategy models.StrategyKey
	logger   *common.Logger
}

// NewService creates a reconciler. A nil ledger disables attribution: broker
// snapshots then overwrite the portfolio directly, which is the backtest
// behavior.
func NewService(ledger interfaces.LedgerStore, identity models.BrokerIdentity, strategy models.StrategyKey, logger *common.Logger) *Service {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Service{
		ledger:   ledger,
		identity: identity,
		strategy: strategy,
		logger:   logger,
	}
}

// LoadBalance returns the strategy's ledger balance row, nil when absent.
func (s *Service) LoadBalance(ctx context.Context) (*models.BalanceRecord, error) {
	return s.ledger.BalanceStore().Find(ctx, s.identity, s.strategy)
}

// LoadPositions rebuilds a Position book from the ledger rows owned by one
// balance row. Returns nil when the row owns no positions.
func (s *Service) LoadPositions(ctx context.Context, balanceID string) (*models.Position, error) {
	rows, err := s.ledger.PositionStore().ListByBalanceID(ctx, balanceID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	book := models.NewPosition()
	for _, row := range rows {
		pd, err := row.Data()
		if err != nil {
			return nil, err
		}
		if err := book.Update(pd, models.OffsetOpen); err != nil {
			return nil, err
		}
	}
	return book, nil
}
