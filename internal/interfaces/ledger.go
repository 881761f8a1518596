// Package interfaces defines the ledger and broker contracts for Verity
package interfaces

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/corefin/verity/internal/models"
)

// LedgerStore is the durable record of strategy balances and positions. One
// store represents one connection; callers that must not share a connection
// (the persistence keeper) open their own via Session. Single operations are
// atomic; multi-step sequences are not transactional.
type LedgerStore interface {
	BalanceStore() BalanceStore
	PositionStore() PositionStore

	// Session opens an independent connection to the same ledger.
	Session(ctx context.Context) (LedgerStore, error)

	Close() error
}

// BalanceStore manages rows of the balance table. Selects with no match
// return empty results, never errors.
type BalanceStore interface {
	// ListByBroker returns every row of one broker account, default included.
	ListByBroker(ctx context.Context, identity models.BrokerIdentity) ([]*models.BalanceRecord, error)

	// Find returns the unique row for the strategy key, or nil when absent.
	// More than one match is a fatal consistency violation.
	Find(ctx context.Context, identity models.BrokerIdentity, key models.StrategyKey) (*models.BalanceRecord, error)

	// MaxAccountIDs returns the highest broker and strategy account ids across
	// the whole table, zero when the table is empty.
	MaxAccountIDs(ctx context.Context) (brokerID int64, strategyID int64, err error)

	// Insert writes a new row, assigning rec.ID when empty.
	Insert(ctx context.Context, rec *models.BalanceRecord) error

	// UpdateFields writes only the named money fields of one row. Field names
	// follow the table columns: cash, power, max_power_short, net_cash_power.
	UpdateFields(ctx context.Context, recordID string, fields map[string]decimal.Decimal) error
}

// PositionStore manages rows of the position table.
type PositionStore interface {
	ListByBalanceID(ctx context.Context, balanceID string) ([]*models.PositionRecord, error)
	ListByBalanceIDs(ctx context.Context, balanceIDs []string) ([]*models.PositionRecord, error)

	// Insert writes a new row, assigning rec.ID when empty.
	Insert(ctx context.Context, rec *models.PositionRecord) error

	// DeleteByBalanceID removes every row owned by one balance row and
	// returns how many were removed.
	DeleteByBalanceID(ctx context.Context, balanceID string) (int, error)
}
