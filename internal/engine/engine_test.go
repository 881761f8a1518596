package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corefin/verity/internal/models"
	"github.com/corefin/verity/internal/storage/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testIdentity() models.BrokerIdentity {
	return models.BrokerIdentity{
		BrokerName:        "stub",
		BrokerEnvironment: "SIMULATE",
		BrokerAccount:     "acct-1",
	}
}

// stubGateway is a scriptable broker for engine tests.
type stubGateway struct {
	mode      models.TradeMode
	balance   *models.AccountBalance
	positions []*models.PositionData
	orders    map[string]*models.Order
	closed    bool
}

func newStubGateway(mode models.TradeMode) *stubGateway {
	return &stubGateway{mode: mode, orders: make(map[string]*models.Order)}
}

func (g *stubGateway) Name() string                { return "stub" }
func (g *stubGateway) TradeMode() models.TradeMode { return g.mode }

func (g *stubGateway) GetBrokerBalance(ctx context.Context) (*models.AccountBalance, error) {
	return g.balance, nil
}

func (g *stubGateway) GetBrokerPosition(ctx context.Context, security models.Security, direction models.Direction) (*models.PositionData, error) {
	for _, pd := range g.positions {
		if pd.Security.Code == security.Code && pd.Direction == direction {
			return pd, nil
		}
	}
	return nil, nil
}

func (g *stubGateway) GetAllBrokerPositions(ctx context.Context) ([]*models.PositionData, error) {
	return g.positions, nil
}

func (g *stubGateway) PlaceOrder(ctx context.Context, order *models.Order) (string, error) {
	order.ID = fmt.Sprintf("ord-%d", len(g.orders)+1)
	g.orders[order.ID] = order
	return order.ID, nil
}

func (g *stubGateway) CancelOrder(ctx context.Context, orderID string) error {
	order, ok := g.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	order.Status = models.OrderStatusCancelled
	return nil
}

func (g *stubGateway) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, ok := g.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	return order, nil
}

func (g *stubGateway) FindDeals(ctx context.Context, orderID string) ([]*models.Deal, error) {
	return nil, nil
}

func (g *stubGateway) Close() error {
	g.closed = true
	return nil
}

func TestEngine_SyncBootstrapsLedger(t *testing.T) {
	store := memory.NewStore(nil)
	gw := newStubGateway(models.TradeModeSimulate)
	gw.balance = models.NewAccountBalance(dec("1000"))
	gw.balance.Power = dec("2000")
	gw.positions = []*models.PositionData{{
		Security:     models.Security{Code: "AAPL", Name: "AAPL Inc"},
		Direction:    models.DirectionLong,
		HoldingPrice: dec("10"),
		Quantity:     dec("100"),
		UpdateTime:   time.Now(),
	}}
	ctx := context.Background()

	eng := New(gw, testIdentity(), WithLedger(store))
	require.NoError(t, eng.InitPortfolio("momentum", "2.1", dec("300")))
	require.NoError(t, eng.SyncBrokerBalance(ctx))
	require.NoError(t, eng.SyncBrokerPositions(ctx))

	// The strategy sees only its own share.
	assert.Equal(t, "300", eng.Balance().Cash.String())
	assert.Equal(t, "300", eng.Balance().Power.String())
	assert.Empty(t, eng.AllPositions())

	// The default bucket absorbed the rest.
	def, err := store.BalanceStore().Find(ctx, testIdentity(), models.StrategyKey{
		Account: models.DefaultStrategyAccount,
		Version: models.DefaultStrategyVersion,
	})
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "700", def.Cash.String())
	assert.Equal(t, "1700", def.Power.String())

	rows, err := store.PositionStore().ListByBalanceID(ctx, def.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "100", rows[0].Quantity.String())
}

func TestEngine_BacktestDropsLedger(t *testing.T) {
	store := memory.NewStore(nil)
	gw := newStubGateway(models.TradeModeBacktest)
	gw.balance = models.NewAccountBalance(dec("1000"))
	ctx := context.Background()

	eng := New(gw, testIdentity(), WithLedger(store))
	require.NoError(t, eng.InitPortfolio("momentum", "2.1", dec("300")))
	require.NoError(t, eng.SyncBrokerBalance(ctx))

	// The snapshot replaced the portfolio directly.
	assert.Equal(t, "1000", eng.Balance().Cash.String())

	rows, err := store.BalanceStore().ListByBroker(ctx, testIdentity())
	require.NoError(t, err)
	assert.Empty(t, rows)

	// No keeper either.
	require.NoError(t, eng.Start(ctx))
	eng.Stop()
	assert.True(t, gw.closed)
}

func TestEngine_InitPortfolioRejectsDefaultKey(t *testing.T) {
	gw := newStubGateway(models.TradeModeSimulate)
	eng := New(gw, testIdentity(), WithLedger(memory.NewStore(nil)))

	err := eng.InitPortfolio(models.DefaultStrategyAccount, models.DefaultStrategyVersion, dec("300"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestEngine_InitPortfolioRejectsNegativeCash(t *testing.T) {
	gw := newStubGateway(models.TradeModeSimulate)
	eng := New(gw, testIdentity())

	require.Error(t, eng.InitPortfolio("momentum", "2.1", dec("-10")))
}

func TestEngine_SyncRequiresInit(t *testing.T) {
	gw := newStubGateway(models.TradeModeSimulate)
	eng := New(gw, testIdentity())

	require.Error(t, eng.SyncBrokerBalance(context.Background()))
	require.Error(t, eng.SyncBrokerPositions(context.Background()))
	require.Error(t, eng.Start(context.Background()))
}

func TestEngine_StartStopRunsKeeper(t *testing.T) {
	store := memory.NewStore(nil)
	gw := newStubGateway(models.TradeModeSimulate)
	gw.balance = models.NewAccountBalance(dec("1000"))
	gw.balance.Power = dec("2000")
	ctx := context.Background()

	eng := New(gw, testIdentity(), WithLedger(store), WithPersistInterval(10*time.Millisecond))
	require.NoError(t, eng.InitPortfolio("momentum", "2.1", dec("300")))
	require.NoError(t, eng.SyncBrokerBalance(ctx))
	require.NoError(t, eng.Start(ctx))

	// Simulate a fill draining strategy cash.
	eng.Balance().Cash = dec("120")

	key := models.StrategyKey{Account: "momentum", Version: "2.1"}
	assert.Eventually(t, func() bool {
		rec, err := store.BalanceStore().Find(ctx, testIdentity(), key)
		return err == nil && rec != nil && rec.Cash.Equal(dec("120"))
	}, time.Second, 5*time.Millisecond)

	eng.Stop()
	assert.True(t, gw.closed)
}

func TestEngine_LedgerReadBack(t *testing.T) {
	store := memory.NewStore(nil)
	gw := newStubGateway(models.TradeModeSimulate)
	gw.balance = models.NewAccountBalance(dec("1000"))
	gw.balance.Power = dec("2000")
	gw.positions = []*models.PositionData{{
		Security:     models.Security{Code: "AAPL", Name: "AAPL Inc"},
		Direction:    models.DirectionLong,
		HoldingPrice: dec("10"),
		Quantity:     dec("100"),
		UpdateTime:   time.Now(),
	}}
	ctx := context.Background()

	eng := New(gw, testIdentity(), WithLedger(store))
	require.NoError(t, eng.InitPortfolio("momentum", "2.1", dec("300")))
	require.NoError(t, eng.SyncBrokerBalance(ctx))

	rec, err := eng.LedgerBalance(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "300", rec.Cash.String())

	// Attribute part of the broker holding to the strategy, then read it back.
	require.NoError(t, store.PositionStore().Insert(ctx, &models.PositionRecord{
		BalanceID:    rec.ID,
		SecurityCode: "AAPL",
		SecurityName: "AAPL Inc",
		Direction:    string(models.DirectionLong),
		HoldingPrice: dec("8"),
		Quantity:     dec("40"),
		UpdateTime:   time.Now(),
	}))
	require.NoError(t, eng.SyncBrokerPositions(ctx))

	book, err := eng.LedgerPositions(ctx)
	require.NoError(t, err)
	require.NotNil(t, book)
	held := book.Get(models.Security{Code: "AAPL"}, models.DirectionLong)
	require.NotNil(t, held)
	assert.Equal(t, "40", held.Quantity.String())

	// The in-memory book matches what the ledger attributes.
	inMem := eng.Position(models.Security{Code: "AAPL"}, models.DirectionLong)
	require.NotNil(t, inMem)
	assert.Equal(t, "40", inMem.Quantity.String())
}

func TestEngine_LedgerReadBackWithoutLedger(t *testing.T) {
	gw := newStubGateway(models.TradeModeBacktest)
	eng := New(gw, testIdentity())
	require.NoError(t, eng.InitPortfolio("momentum", "2.1", dec("300")))

	rec, err := eng.LedgerBalance(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)

	book, err := eng.LedgerPositions(context.Background())
	require.NoError(t, err)
	assert.Nil(t, book)
}

func TestEngine_OrderPassThrough(t *testing.T) {
	gw := newStubGateway(models.TradeModeSimulate)
	eng := New(gw, testIdentity())
	ctx := context.Background()

	id, err := eng.SubmitOrder(ctx, OrderRequest{
		Security:  models.Security{Code: "AAPL", Name: "AAPL Inc"},
		Price:     dec("10"),
		Quantity:  dec("5"),
		Direction: models.DirectionLong,
		Offset:    models.OffsetOpen,
		OrderType: models.OrderTypeLimit,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	order, err := eng.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusSubmitted, order.Status)
	assert.Equal(t, "5", order.Quantity.String())

	require.NoError(t, eng.CancelOrder(ctx, id))
	order, err = eng.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)

	_, err = eng.GetOrder(ctx, "missing")
	require.Error(t, err)
}
