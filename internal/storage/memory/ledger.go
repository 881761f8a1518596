// Package memory implements the ledger in process memory. It backs tests and
// ephemeral runs; nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/corefin/verity/internal/common"
	"github.com/corefin/verity/internal/interfaces"
	"github.com/corefin/verity/internal/metrics"
	"github.com/corefin/verity/internal/models"
)

// Store holds both ledger tables behind one mutex. All reads return copies so
// callers can never mutate stored rows in place.
type Store struct {
	logger *common.Logger

	mu        sync.RWMutex
	balances  map[string]*models.BalanceRecord
	positions map[string]*models.PositionRecord

	balanceStore  *BalanceStore
	positionStore *PositionStore
}

// NewStore creates an empty in-memory ledger.
func NewStore(logger *common.Logger) *Store {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	s := &Store{
		logger:    logger,
		balances:  make(map[string]*models.BalanceRecord),
		positions: make(map[string]*models.PositionRecord),
	}
	s.balanceStore = &BalanceStore{s: s}
	s.positionStore = &PositionStore{s: s}
	return s
}

func (s *Store) BalanceStore() interfaces.BalanceStore {
	return s.balanceStore
}

func (s *Store) PositionStore() interfaces.PositionStore {
	return s.positionStore
}

// Session returns the store itself: the mutex already makes concurrent use
// safe, so no separate connection exists to open.
func (s *Store) Session(ctx context.Context) (interfaces.LedgerStore, error) {
	return s, nil
}

func (s *Store) Close() error {
	return nil
}

// BalanceStore implements interfaces.BalanceStore on the shared maps.
type BalanceStore struct {
	s *Store
}

func (b *BalanceStore) ListByBroker(ctx context.Context, identity models.BrokerIdentity) ([]*models.BalanceRecord, error) {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()

	var rows []*models.BalanceRecord
	for _, rec := range b.s.balances {
		if matchesIdentity(rec, identity) {
			rows = append(rows, cloneBalance(rec))
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].StrategyAccountID < rows[j].StrategyAccountID
	})
	return rows, nil
}

func (b *BalanceStore) Find(ctx context.Context, identity models.BrokerIdentity, key models.StrategyKey) (*models.BalanceRecord, error) {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()

	var found *models.BalanceRecord
	matches := 0
	for _, rec := range b.s.balances {
		if matchesIdentity(rec, identity) && rec.StrategyAccount == key.Account && rec.StrategyVersion == key.Version {
			found = rec
			matches++
		}
	}
	if matches > 1 {
		return nil, models.Consistencyf("%d balance rows for strategy %s (%s), want one", matches, key.Account, key.Version)
	}
	if found == nil {
		return nil, nil
	}
	return cloneBalance(found), nil
}

func (b *BalanceStore) MaxAccountIDs(ctx context.Context) (int64, int64, error) {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()

	var maxBroker, maxStrategy int64
	for _, rec := range b.s.balances {
		if rec.BrokerAccountID > maxBroker {
			maxBroker = rec.BrokerAccountID
		}
		if rec.StrategyAccountID > maxStrategy {
			maxStrategy = rec.StrategyAccountID
		}
	}
	return maxBroker, maxStrategy, nil
}

func (b *BalanceStore) Insert(ctx context.Context, rec *models.BalanceRecord) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()[:8]
	}
	if rec.UpdateTime.IsZero() {
		rec.UpdateTime = time.Now()
	}
	b.s.balances[rec.ID] = cloneBalance(rec)
	metrics.LedgerWrites.WithLabelValues("balance", "insert").Inc()
	return nil
}

func (b *BalanceStore) UpdateFields(ctx context.Context, recordID string, fields map[string]decimal.Decimal) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	rec, ok := b.s.balances[recordID]
	if !ok {
		return fmt.Errorf("balance row %s not found", recordID)
	}
	for field := range fields {
		switch field {
		case "cash", "power", "max_power_short", "net_cash_power":
		default:
			return fmt.Errorf("unknown balance field: %s", field)
		}
	}
	for field, value := range fields {
		switch field {
		case "cash":
			rec.Cash = value
		case "power":
			rec.Power = value
		case "max_power_short":
			rec.MaxPowerShort = value
		case "net_cash_power":
			rec.NetCashPower = value
		}
	}
	if len(fields) > 0 {
		rec.UpdateTime = time.Now()
		metrics.LedgerWrites.WithLabelValues("balance", "update").Inc()
	}
	return nil
}

// PositionStore implements interfaces.PositionStore on the shared maps.
type PositionStore struct {
	s *Store
}

func (p *PositionStore) ListByBalanceID(ctx context.Context, balanceID string) ([]*models.PositionRecord, error) {
	return p.ListByBalanceIDs(ctx, []string{balanceID})
}

func (p *PositionStore) ListByBalanceIDs(ctx context.Context, balanceIDs []string) ([]*models.PositionRecord, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()

	wanted := make(map[string]bool, len(balanceIDs))
	for _, id := range balanceIDs {
		wanted[id] = true
	}

	var rows []*models.PositionRecord
	for _, rec := range p.s.positions {
		if wanted[rec.BalanceID] {
			rows = append(rows, clonePosition(rec))
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].SecurityCode != rows[j].SecurityCode {
			return rows[i].SecurityCode < rows[j].SecurityCode
		}
		return rows[i].Direction < rows[j].Direction
	})
	return rows, nil
}

func (p *PositionStore) Insert(ctx context.Context, rec *models.PositionRecord) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()[:8]
	}
	if rec.UpdateTime.IsZero() {
		rec.UpdateTime = time.Now()
	}
	p.s.positions[rec.ID] = clonePosition(rec)
	metrics.LedgerWrites.WithLabelValues("position", "insert").Inc()
	return nil
}

func (p *PositionStore) DeleteByBalanceID(ctx context.Context, balanceID string) (int, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	deleted := 0
	for id, rec := range p.s.positions {
		if rec.BalanceID == balanceID {
			delete(p.s.positions, id)
			deleted++
		}
	}
	if deleted > 0 {
		metrics.LedgerWrites.WithLabelValues("position", "delete").Inc()
	}
	return deleted, nil
}

func matchesIdentity(rec *models.BalanceRecord, identity models.BrokerIdentity) bool {
	return rec.BrokerName == identity.BrokerName &&
		rec.BrokerEnvironment == identity.BrokerEnvironment &&
		rec.BrokerAccount == identity.BrokerAccount
}

func cloneBalance(rec *models.BalanceRecord) *models.BalanceRecord {
	cp := *rec
	return &cp
}

func clonePosition(rec *models.PositionRecord) *models.PositionRecord {
	cp := *rec
	return &cp
}

// Compile-time checks
var (
	_ interfaces.LedgerStore   = (*Store)(nil)
	_ interfaces.BalanceStore  = (*BalanceStore)(nil)
	_ interfaces.PositionStore = (*PositionStore)(nil)
)
