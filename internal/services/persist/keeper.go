// Package persist runs the background keeper that writes the in-memory
// portfolio back to the strategy's ledger rows at a fixed cadence. The keeper
// owns a dedicated ledger session so its writes never share a connection with
// on-demand syncs.
package persist

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/corefin/verity/internal/common"
	"github.com/corefin/verity/internal/interfaces"
	"github.com/corefin/verity/internal/metrics"
	"github.com/corefin/verity/internal/models"
)

// DefaultInterval is the keeper cadence when none is configured.
const DefaultInterval = 5 * time.Second

// Keeper periodically persists the portfolio balance and position book. It
// only ever touches the strategy's own rows; the default bucket belongs to
// the reconciler.
type Keeper struct {
	ledger    interfaces.LedgerStore
	identity  models.BrokerIdentity
	strategy  models.StrategyKey
	portfolio *models.Portfolio
	interval  time.Duration
	logger    *common.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKeeper creates a keeper for one strategy's portfolio. A non-positive
// interval falls back to DefaultInterval.
func NewKeeper(
	ledger interfaces.LedgerStore,
	identity models.BrokerIdentity,
	strategy models.StrategyKey,
	portfolio *models.Portfolio,
	interval time.Duration,
	logger *common.Logger,
) *Keeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Keeper{
		ledger:    ledger,
		identity:  identity,
		strategy:  strategy,
		portfolio: portfolio,
		interval:  interval,
		logger:    logger,
	}
}

// Start opens the keeper's ledger session and launches the loop. Calling it
// again stops any existing loop first.
func (k *Keeper) Start(ctx context.Context) error {
	if k.cancel != nil {
		k.Stop()
	}

	session, err := k.ledger.Session(ctx)
	if err != nil {
		return fmt.Errorf("failed to open ledger session: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	k.cancel = cancel

	k.safeGo("keeper", func() {
		defer func() {
			if err := session.Close(); err != nil {
				k.logger.Warn().Err(err).Msg("Failed to close keeper ledger session")
			}
		}()
		k.run(ctx, session)
	})

	k.logger.Info().
		Str("interval", k.interval.String()).
		Str("strategy", k.strategy.Account).
		Msg("Persistence keeper started")
	return nil
}

// Stop cancels the loop and waits for any in-flight tick to finish.
func (k *Keeper) Stop() {
	if k.cancel != nil {
		k.cancel()
		k.cancel = nil
	}
	k.wg.Wait()
	k.logger.Info().Msg("Persistence keeper stopped")
}

// safeGo launches a goroutine with panic recovery and logging.
func (k *Keeper) safeGo(name string, fn func()) {
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				k.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in persistence keeper")
			}
		}()
		fn()
	}()
}

// run ticks immediately, then at every interval until the context is done.
// An unexpected store error ends the loop rather than retrying blind.
func (k *Keeper) run(ctx context.Context, session interfaces.LedgerStore) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	if err := k.tick(ctx, session); err != nil {
		k.logger.Error().Err(err).Msg("Persistence tick failed, stopping keeper")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := k.tick(ctx, session); err != nil {
				k.logger.Error().Err(err).Msg("Persistence tick failed, stopping keeper")
				return
			}
		}
	}
}

// tick persists one balance diff and one position rewrite. A missing strategy
// row means the first balance sync has not run yet; the tick is skipped, not
// failed.
func (k *Keeper) tick(ctx context.Context, session interfaces.LedgerStore) error {
	metrics.PersistTicks.Inc()

	rec, err := session.BalanceStore().Find(ctx, k.identity, k.strategy)
	if err != nil {
		return fmt.Errorf("failed to find strategy balance: %w", err)
	}
	if rec == nil {
		metrics.PersistSkips.Inc()
		k.logger.Info().
			Str("strategy", k.strategy.Account).
			Msg("No ledger balance row yet, skipping persistence tick")
		return nil
	}

	if err := k.persistBalance(ctx, session, rec); err != nil {
		return err
	}
	if err := k.persistPositions(ctx, session, rec.ID); err != nil {
		return err
	}

	metrics.PersistLastTick.SetToCurrentTime()
	return nil
}

// persistBalance writes only the fields whose in-memory value drifted from
// the ledger row, in a single update.
func (k *Keeper) persistBalance(ctx context.Context, session interfaces.LedgerStore, rec *models.BalanceRecord) error {
	bal := k.portfolio.AccountBalance

	fields := make(map[string]decimal.Decimal, 4)
	if !bal.Cash.Equal(rec.Cash) {
		fields["cash"] = bal.Cash
	}
	if !bal.Power.Equal(rec.Power) {
		fields["power"] = bal.Power
	}
	if !bal.MaxPowerShort.Equal(rec.MaxPowerShort) {
		fields["max_power_short"] = bal.MaxPowerShort
	}
	if !bal.NetCashPower.Equal(rec.NetCashPower) {
		fields["net_cash_power"] = bal.NetCashPower
	}
	if len(fields) == 0 {
		return nil
	}

	if err := session.BalanceStore().UpdateFields(ctx, rec.ID, fields); err != nil {
		return fmt.Errorf("failed to persist balance: %w", err)
	}
	k.logger.Debug().
		Int("fields", len(fields)).
		Msg("Persisted balance diff")
	return nil
}

// persistPositions rewrites the strategy's position rows from the in-memory
// book. DeleteByBalanceID is a no-op when no rows exist yet. Zero-quantity
// entries are never written.
func (k *Keeper) persistPositions(ctx context.Context, session interfaces.LedgerStore, balanceID string) error {
	if _, err := session.PositionStore().DeleteByBalanceID(ctx, balanceID); err != nil {
		return fmt.Errorf("failed to clear persisted positions: %w", err)
	}
	for _, pd := range k.portfolio.Position.All() {
		if !pd.Quantity.IsPositive() {
			continue
		}
		if err := session.PositionStore().Insert(ctx, models.NewPositionRecord(balanceID, pd)); err != nil {
			return fmt.Errorf("failed to persist position: %w", err)
		}
	}
	return nil
}
