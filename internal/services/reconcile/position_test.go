package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corefin/verity/internal/interfaces"
	"github.com/corefin/verity/internal/models"
	"github.com/corefin/verity/internal/storage/memory"
)

func insertClaim(t *testing.T, store interfaces.LedgerStore, balanceID string, pd *models.PositionData) {
	t.Helper()
	require.NoError(t, store.PositionStore().Insert(context.Background(), models.NewPositionRecord(balanceID, pd)))
}

func listPositions(t *testing.T, store interfaces.LedgerStore, balanceID string) []*models.PositionRecord {
	t.Helper()
	rows, err := store.PositionStore().ListByBalanceID(context.Background(), balanceID)
	require.NoError(t, err)
	return rows
}

func TestSyncPositions_FirstSyncGoesToDefault(t *testing.T) {
	store := memory.NewStore(nil)
	svc, pf := bootstrapLedger(t, store)
	ctx := context.Background()

	snapshot := []*models.PositionData{
		pos("AAPL", models.DirectionLong, "10", "100"),
		pos("MSFT", models.DirectionLong, "20", "50"),
	}
	require.NoError(t, svc.SyncPositions(ctx, snapshot, pf))

	def := findBalance(t, store, models.DefaultStrategyAccount, models.DefaultStrategyVersion)
	rows := listPositions(t, store, def.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, "AAPL", rows[0].SecurityCode)
	assert.Equal(t, "100", rows[0].Quantity.String())
	assert.Equal(t, "MSFT", rows[1].SecurityCode)

	// The strategy held nothing before its first sync.
	assert.Equal(t, 0, pf.Position.Len())
}

func TestSyncPositions_WeightedRemainderPrice(t *testing.T) {
	store := memory.NewStore(nil)
	svc, pf := bootstrapLedger(t, store)
	ctx := context.Background()

	strat := findBalance(t, store, "momentum", "2.1")
	insertClaim(t, store, strat.ID, pos("AAPL", models.DirectionLong, "8", "40"))

	snapshot := []*models.PositionData{pos("AAPL", models.DirectionLong, "10", "100")}
	require.NoError(t, svc.SyncPositions(ctx, snapshot, pf))

	def := findBalance(t, store, models.DefaultStrategyAccount, models.DefaultStrategyVersion)
	rows := listPositions(t, store, def.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, "60", rows[0].Quantity.String())
	// (100*10 - 40*8) / 60
	assert.Equal(t, "11.33", rows[0].HoldingPrice.Round(2).String())

	held := pf.Position.Get(models.Security{Code: "AAPL"}, models.DirectionLong)
	require.NotNil(t, held)
	assert.Equal(t, "40", held.Quantity.String())
	assert.Equal(t, "8", held.HoldingPrice.String())
}

func TestSyncPositions_FullyClaimedDropsDefaultRow(t *testing.T) {
	store := memory.NewStore(nil)
	svc, pf := bootstrapLedger(t, store)
	ctx := context.Background()

	strat := findBalance(t, store, "momentum", "2.1")
	insertClaim(t, store, strat.ID, pos("AAPL", models.DirectionLong, "10", "100"))

	snapshot := []*models.PositionData{pos("AAPL", models.DirectionLong, "10", "100")}
	require.NoError(t, svc.SyncPositions(ctx, snapshot, pf))

	def := findBalance(t, store, models.DefaultStrategyAccount, models.DefaultStrategyVersion)
	assert.Empty(t, listPositions(t, store, def.ID))

	held := pf.Position.Get(models.Security{Code: "AAPL"}, models.DirectionLong)
	require.NotNil(t, held)
	assert.Equal(t, "100", held.Quantity.String())
}

func TestSyncPositions_MatchesOnDirection(t *testing.T) {
	store := memory.NewStore(nil)
	svc, pf := bootstrapLedger(t, store)
	ctx := context.Background()

	strat := findBalance(t, store, "momentum", "2.1")
	insertClaim(t, store, strat.ID, pos("AAPL", models.DirectionShort, "10", "5"))

	snapshot := []*models.PositionData{
		pos("AAPL", models.DirectionLong, "10", "100"),
		pos("AAPL", models.DirectionShort, "10", "20"),
	}
	require.NoError(t, svc.SyncPositions(ctx, snapshot, pf))

	def := findBalance(t, store, models.DefaultStrategyAccount, models.DefaultStrategyVersion)
	rows := listPositions(t, store, def.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, string(models.DirectionLong), rows[0].Direction)
	assert.Equal(t, "100", rows[0].Quantity.String())
	assert.Equal(t, string(models.DirectionShort), rows[1].Direction)
	assert.Equal(t, "15", rows[1].Quantity.String())
}

func TestSyncPositions_OverclaimFatal(t *testing.T) {
	store := memory.NewStore(nil)
	svc, pf := bootstrapLedger(t, store)
	ctx := context.Background()

	strat := findBalance(t, store, "momentum", "2.1")
	insertClaim(t, store, strat.ID, pos("AAPL", models.DirectionLong, "10", "150"))

	snapshot := []*models.PositionData{pos("AAPL", models.DirectionLong, "10", "100")}
	err := svc.SyncPositions(ctx, snapshot, pf)
	require.Error(t, err)
	assert.True(t, models.IsConsistency(err))

	// The claim was detected before any rewrite, so the ledger is untouched.
	assert.Len(t, listPositions(t, store, strat.ID), 1)
	def := findBalance(t, store, models.DefaultStrategyAccount, models.DefaultStrategyVersion)
	assert.Empty(t, listPositions(t, store, def.ID))
}

func TestSyncPositions_UnbackedClaimFatal(t *testing.T) {
	store := memory.NewStore(nil)
	svc, pf := bootstrapLedger(t, store)
	ctx := context.Background()

	strat := findBalance(t, store, "momentum", "2.1")
	insertClaim(t, store, strat.ID, pos("TSLA", models.DirectionLong, "200", "10"))

	// The broker no longer reports any TSLA.
	snapshot := []*models.PositionData{pos("AAPL", models.DirectionLong, "10", "100")}
	err := svc.SyncPositions(ctx, snapshot, pf)
	require.Error(t, err)
	assert.True(t, models.IsConsistency(err))
}

func TestSyncPositions_ZeroClaimOnUnreportedSecurity(t *testing.T) {
	store := memory.NewStore(nil)
	svc, pf := bootstrapLedger(t, store)
	ctx := context.Background()

	strat := findBalance(t, store, "momentum", "2.1")
	insertClaim(t, store, strat.ID, pos("TSLA", models.DirectionLong, "200", "0"))

	snapshot := []*models.PositionData{pos("AAPL", models.DirectionLong, "10", "100")}
	require.NoError(t, svc.SyncPositions(ctx, snapshot, pf))

	def := findBalance(t, store, models.DefaultStrategyAccount, models.DefaultStrategyVersion)
	rows := listPositions(t, store, def.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, "100", rows[0].Quantity.String())
	assert.Equal(t, "10", rows[0].HoldingPrice.String())
}

func TestSyncPositions_CorruptDirectionFatal(t *testing.T) {
	store := memory.NewStore(nil)
	svc, pf := bootstrapLedger(t, store)
	ctx := context.Background()

	strat := findBalance(t, store, "momentum", "2.1")
	require.NoError(t, store.PositionStore().Insert(ctx, &models.PositionRecord{
		BalanceID:    strat.ID,
		SecurityCode: "AAPL",
		Direction:    "SIDEWAYS",
		HoldingPrice: dec("10"),
		Quantity:     dec("5"),
	}))

	snapshot := []*models.PositionData{pos("AAPL", models.DirectionLong, "10", "100")}
	err := svc.SyncPositions(ctx, snapshot, pf)
	require.Error(t, err)
	assert.True(t, models.IsConsistency(err))
}

func TestSyncPositions_NilSnapshotSkips(t *testing.T) {
	store := memory.NewStore(nil)
	svc, pf := bootstrapLedger(t, store)
	ctx := context.Background()

	require.NoError(t, svc.SyncPositions(ctx, nil, pf))

	def := findBalance(t, store, models.DefaultStrategyAccount, models.DefaultStrategyVersion)
	assert.Empty(t, listPositions(t, store, def.ID))
	assert.Equal(t, 0, pf.Position.Len())
}

func TestSyncPositions_EmptySnapshotIsReal(t *testing.T) {
	store := memory.NewStore(nil)
	svc, pf := bootstrapLedger(t, store)
	ctx := context.Background()

	// An empty slice is a genuine report of no holdings, not an outage.
	require.NoError(t, svc.SyncPositions(ctx, []*models.PositionData{}, pf))
	assert.Equal(t, 0, pf.Position.Len())
}

func TestSyncPositions_NoLedgerLoadsBroker(t *testing.T) {
	svc := NewService(nil, testIdentity(), testStrategy(), nil)
	ctx := context.Background()

	pf := models.NewPortfolio(dec("300"))
	snapshot := []*models.PositionData{
		pos("AAPL", models.DirectionLong, "10", "100"),
		pos("MSFT", models.DirectionLong, "20", "50"),
	}
	require.NoError(t, svc.SyncPositions(ctx, snapshot, pf))

	assert.Equal(t, 2, pf.Position.Len())
	held := pf.Position.Get(models.Security{Code: "MSFT"}, models.DirectionLong)
	require.NotNil(t, held)
	assert.Equal(t, "50", held.Quantity.String())
}

func TestSyncPositions_RequiresBalanceRows(t *testing.T) {
	store := memory.NewStore(nil)
	svc := newTestService(store)
	ctx := context.Background()

	pf := models.NewPortfolio(dec("300"))
	snapshot := []*models.PositionData{pos("AAPL", models.DirectionLong, "10", "100")}

	err := svc.SyncPositions(ctx, snapshot, pf)
	require.Error(t, err)
	assert.True(t, models.IsConsistency(err))
}

func TestSyncPositions_ConservationAcrossStrategies(t *testing.T) {
	store := memory.NewStore(nil)
	svc, pf := bootstrapLedger(t, store)
	ctx := context.Background()

	// A second strategy shares the broker account.
	other := &models.BalanceRecord{
		BrokerName:        "paper",
		BrokerEnvironment: "SIMULATE",
		BrokerAccountID:   1,
		BrokerAccount:     "acct-1",
		StrategyAccountID: 3,
		StrategyAccount:   "meanrev",
		StrategyVersion:   "1.0",
		Cash:              dec("0"),
		Power:             dec("0"),
		MaxPowerShort:     dec("-1"),
		NetCashPower:      dec("-1"),
	}
	require.NoError(t, store.BalanceStore().Insert(ctx, other))

	strat := findBalance(t, store, "momentum", "2.1")
	insertClaim(t, store, strat.ID, pos("AAPL", models.DirectionLong, "9", "30"))
	insertClaim(t, store, other.ID, pos("AAPL", models.DirectionLong, "12", "20"))

	snapshot := []*models.PositionData{pos("AAPL", models.DirectionLong, "10", "100")}
	require.NoError(t, svc.SyncPositions(ctx, snapshot, pf))

	def := findBalance(t, store, models.DefaultStrategyAccount, models.DefaultStrategyVersion)
	rows := listPositions(t, store, def.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, "50", rows[0].Quantity.String())
	// (100*10 - 30*9 - 20*12) / 50
	assert.Equal(t, "9.8", rows[0].HoldingPrice.Round(2).String())

	// Quantities across every bucket still sum to the broker total.
	all, err := store.PositionStore().ListByBalanceIDs(ctx, []string{def.ID, strat.ID, other.ID})
	require.NoError(t, err)
	total := dec("0")
	for _, row := range all {
		total = total.Add(row.Quantity)
	}
	assert.Equal(t, "100", total.String())

	// The portfolio carries only this strategy's claim.
	held := pf.Position.Get(models.Security{Code: "AAPL"}, models.DirectionLong)
	require.NotNil(t, held)
	assert.Equal(t, "30", held.Quantity.String())
}

func TestSyncPositions_ResyncIsStable(t *testing.T) {
	store := memory.NewStore(nil)
	svc, pf := bootstrapLedger(t, store)
	ctx := context.Background()

	strat := findBalance(t, store, "momentum", "2.1")
	insertClaim(t, store, strat.ID, pos("AAPL", models.DirectionLong, "8", "40"))

	snapshot := []*models.PositionData{pos("AAPL", models.DirectionLong, "10", "100")}
	require.NoError(t, svc.SyncPositions(ctx, snapshot, pf))
	require.NoError(t, svc.SyncPositions(ctx, snapshot, pf))

	def := findBalance(t, store, models.DefaultStrategyAccount, models.DefaultStrategyVersion)
	rows := listPositions(t, store, def.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, "60", rows[0].Quantity.String())
	assert.Equal(t, "11.33", rows[0].HoldingPrice.Round(2).String())

	held := pf.Position.Get(models.Security{Code: "AAPL"}, models.DirectionLong)
	require.NotNil(t, held)
	assert.Equal(t, "40", held.Quantity.String())
}
