package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/corefin/verity/internal/interfaces"
	"github.com/corefin/verity/internal/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testIdentity() models.BrokerIdentity {
	return models.BrokerIdentity{
		BrokerName:        "paper",
		BrokerEnvironment: "SIMULATE",
		BrokerAccount:     "acct-1",
	}
}

func testStrategy() models.StrategyKey {
	return models.StrategyKey{Account: "momentum", Version: "2.1"}
}

func newTestService(store interfaces.LedgerStore) *Service {
	return NewService(store, testIdentity(), testStrategy(), nil)
}

func pos(code string, direction models.Direction, price, qty string) *models.PositionData {
	return &models.PositionData{
		Security:     models.Security{Code: code, Name: code + " Inc"},
		Direction:    direction,
		HoldingPrice: dec(price),
		Quantity:     dec(qty),
		UpdateTime:   time.Now(),
	}
}

func brokerBalance(cash, power string) *models.AccountBalance {
	return &models.AccountBalance{
		Cash:          dec(cash),
		Power:         dec(power),
		MaxPowerShort: dec("-1"),
		NetCashPower:  dec("-1"),
	}
}

// bootstrapLedger runs a first balance sync so tests start from the standard
// two-row layout: default {700, 1500} and momentum {300, 500} out of broker
// {1000, 2000}.
func bootstrapLedger(t *testing.T, store interfaces.LedgerStore) (*Service, *models.Portfolio) {
	t.Helper()

	svc := newTestService(store)
	pf := models.NewPortfolio(dec("300"))
	pf.AccountBalance.Power = dec("500")

	require.NoError(t, svc.SyncBalance(context.Background(), brokerBalance("1000", "2000"), pf))
	return svc, pf
}

func findBalance(t *testing.T, store interfaces.LedgerStore, account, version string) *models.BalanceRecord {
	t.Helper()

	rec, err := store.BalanceStore().Find(context.Background(), testIdentity(), models.StrategyKey{
		Account: account,
		Version: version,
	})
	require.NoError(t, err)
	return rec
}

// countingLedger wraps a LedgerStore and counts write operations, so tests
// can assert that a repeated sync writes nothing.
type countingLedger struct {
	inner  interfaces.LedgerStore
	writes int
}

func (c *countingLedger) BalanceStore() interfaces.BalanceStore {
	return &countingBalances{BalanceStore: c.inner.BalanceStore(), ledger: c}
}

func (c *countingLedger) PositionStore() interfaces.PositionStore {
	return &countingPositions{PositionStore: c.inner.PositionStore(), ledger: c}
}

func (c *countingLedger) Session(ctx context.Context) (interfaces.LedgerStore, error) {
	return c, nil
}

func (c *countingLedger) Close() error {
	return c.inner.Close()
}

type countingBalances struct {
	interfaces.BalanceStore
	ledger *countingLedger
}

func (c *countingBalances) Insert(ctx context.Context, rec *models.BalanceRecord) error {
	c.ledger.writes++
	return c.BalanceStore.Insert(ctx, rec)
}

func (c *countingBalances) UpdateFields(ctx context.Context, recordID string, fields map[string]decimal.Decimal) error {
	c.ledger.writes++
	return c.BalanceStore.UpdateFields(ctx, recordID, fields)
}

type countingPositions struct {
	interfaces.PositionStore
	ledger *countingLedger
}

func (c *countingPositions) Insert(ctx context.Context, rec *models.PositionRecord) error {
	c.ledger.writes++
	return c.PositionStore.Insert(ctx, rec)
}

func (c *countingPositions) DeleteByBalanceID(ctx context.Context, balanceID string) (int, error) {
	c.ledger.writes++
	return c.PositionStore.DeleteByBalanceID(ctx, balanceID)
}

var _ interfaces.LedgerStore = (*countingLedger)(nil)
