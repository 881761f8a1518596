// Package engine wires one broker gateway, one strategy portfolio, an
// optional ledger, and the persistence keeper behind a single facade. The
// caller syncs on demand (startup, reconnect); the keeper persists in the
// background.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/corefin/verity/internal/common"
	"github.com/corefin/verity/internal/interfaces"
	"github.com/corefin/verity/internal/models"
	"github.com/corefin/verity/internal/services/persist"
	"github.com/corefin/verity/internal/services/reconcile"
)

// Engine drives reconciliation for one strategy on one broker account.
type Engine struct {
	gateway  interfaces.BrokerGateway
	ledger   interfaces.LedgerStore
	identity models.BrokerIdentity
	logger   *common.Logger

	persistInterval time.Duration

	strategy   models.StrategyKey
	portfolio  *models.Portfolio
	reconciler *reconcile.Service
	keeper     *persist.Keeper
}

// Option configures the engine.
type Option func(*Engine)

// WithLedger attaches a ledger store. Dropped when the gateway's trade mode
// is not persistent.
func WithLedger(ledger interfaces.LedgerStore) Option {
	return func(e *Engine) {
		e.ledger = ledger
	}
}

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPersistInterval sets the keeper cadence.
func WithPersistInterval(interval time.Duration) Option {
	return func(e *Engine) {
		e.persistInterval = interval
	}
}

// New creates an engine around one gateway. A BACKTEST engine always runs
// ledger-less, even when a ledger is supplied.
func New(gateway interfaces.BrokerGateway, identity models.BrokerIdentity, opts ...Option) *Engine {
	e := &Engine{
		gateway:         gateway,
		identity:        identity,
		persistInterval: persist.DefaultInterval,
		logger:          common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.ledger != nil && !gateway.TradeMode().Persistent() {
		e.logger.Info().
			Str("trade_mode", string(gateway.TradeMode())).
			Msg("Trade mode does not persist, dropping ledger")
		e.ledger = nil
	}
	return e
}

// InitPortfolio seeds the strategy's in-memory portfolio and prepares the
// reconciler and keeper for its ledger rows. Must run before any sync. The
// default bucket's identity is reserved for unattributed capital.
func (e *Engine) InitPortfolio(strategyAccount, strategyVersion string, initialCash decimal.Decimal) error {
	if strategyAccount == models.DefaultStrategyAccount && strategyVersion == models.DefaultStrategyVersion {
		return fmt.Errorf("strategy %s (%s) is reserved for the default bucket", strategyAccount, strategyVersion)
	}
	if initialCash.IsNegative() {
		return fmt.Errorf("initial cash is negative: %s", initialCash)
	}

	e.strategy = models.StrategyKey{Account: strategyAccount, Version: strategyVersion}
	e.portfolio = models.NewPortfolio(initialCash)
	e.reconciler = reconcile.NewService(e.ledger, e.identity, e.strategy, e.logger)
	if e.ledger != nil {
		e.keeper = persist.NewKeeper(e.ledger, e.identity, e.strategy, e.portfolio, e.persistInterval, e.logger)
	}

	e.logger.Info().
		Str("strategy", strategyAccount).
		Str("version", strategyVersion).
		Str("initial_cash", initialCash.String()).
		Bool("ledger", e.ledger != nil).
		Msg("Portfolio initialized")
	return nil
}

// Start launches the persistence keeper when a ledger is attached.
func (e *Engine) Start(ctx context.Context) error {
	if e.portfolio == nil {
		return fmt.Errorf("portfolio not initialized")
	}
	if e.keeper == nil {
		e.logger.Info().Msg("No ledger attached, persistence keeper not started")
		return nil
	}
	return e.keeper.Start(ctx)
}

// Stop stops the keeper and closes the gateway. The ledger store stays open;
// its owner closes it.
func (e *Engine) Stop() {
	if e.keeper != nil {
		e.keeper.Stop()
	}
	if err := e.gateway.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to close broker gateway")
	}
	e.logger.Info().Msg("Engine stopped")
}

// SyncBrokerBalance pulls the broker balance snapshot and reconciles it into
// the ledger and portfolio.
func (e *Engine) SyncBrokerBalance(ctx context.Context) error {
	if e.portfolio == nil {
		return fmt.Errorf("portfolio not initialized")
	}
	snapshot, err := e.gateway.GetBrokerBalance(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch broker balance: %w", err)
	}
	return e.reconciler.SyncBalance(ctx, snapshot, e.portfolio)
}

// SyncBrokerPositions pulls the broker position snapshot and reconciles it
// into the ledger and portfolio. Balance rows must exist, so
// SyncBrokerBalance runs first.
func (e *Engine) SyncBrokerPositions(ctx context.Context) error {
	if e.portfolio == nil {
		return fmt.Errorf("portfolio not initialized")
	}
	snapshot, err := e.gateway.GetAllBrokerPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch broker positions: %w", err)
	}
	return e.reconciler.SyncPositions(ctx, snapshot, e.portfolio)
}

// Balance returns the strategy's in-memory balance, nil before InitPortfolio.
func (e *Engine) Balance() *models.AccountBalance {
	if e.portfolio == nil {
		return nil
	}
	return e.portfolio.AccountBalance
}

// Position returns the held entry for (security, direction), nil when flat.
func (e *Engine) Position(security models.Security, direction models.Direction) *models.PositionData {
	if e.portfolio == nil {
		return nil
	}
	return e.portfolio.Position.Get(security, direction)
}

// AllPositions returns the in-memory book in stable order.
func (e *Engine) AllPositions() []*models.PositionData {
	if e.portfolio == nil {
		return nil
	}
	return e.portfolio.Position.All()
}

// BrokerBalance fetches the live broker snapshot without reconciling it.
func (e *Engine) BrokerBalance(ctx context.Context) (*models.AccountBalance, error) {
	return e.gateway.GetBrokerBalance(ctx)
}

// BrokerPosition fetches one live broker position without reconciling it.
func (e *Engine) BrokerPosition(ctx context.Context, security models.Security, direction models.Direction) (*models.PositionData, error) {
	return e.gateway.GetBrokerPosition(ctx, security, direction)
}

// AllBrokerPositions fetches the live broker position snapshot.
func (e *Engine) AllBrokerPositions(ctx context.Context) ([]*models.PositionData, error) {
	return e.gateway.GetAllBrokerPositions(ctx)
}

// LedgerBalance reads the strategy's committed balance row. Nil without a
// ledger or before the first sync.
func (e *Engine) LedgerBalance(ctx context.Context) (*models.BalanceRecord, error) {
	if e.ledger == nil {
		return nil, nil
	}
	return e.reconciler.LoadBalance(ctx)
}

// LedgerPositions rebuilds the strategy's committed position book. Nil
// without a ledger, before the first sync, or when the strategy holds
// nothing.
func (e *Engine) LedgerPositions(ctx context.Context) (*models.Position, error) {
	if e.ledger == nil {
		return nil, nil
	}
	rec, err := e.reconciler.LoadBalance(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return e.reconciler.LoadPositions(ctx, rec.ID)
}

// OrderRequest carries the caller-supplied fields of a new order.
type OrderRequest struct {
	Security  models.Security
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Direction models.Direction
	Offset    models.Offset
	OrderType models.OrderType
}

// SubmitOrder builds an order from the request and places it at the broker.
// Pure pass-through; fills reach the portfolio only through a later sync.
func (e *Engine) SubmitOrder(ctx context.Context, req OrderRequest) (string, error) {
	now := time.Now()
	order := &models.Order{
		Security:   req.Security,
		Price:      req.Price,
		Quantity:   req.Quantity,
		Direction:  req.Direction,
		Offset:     req.Offset,
		OrderType:  req.OrderType,
		Status:     models.OrderStatusSubmitted,
		CreateTime: now,
		UpdateTime: now,
	}
	id, err := e.gateway.PlaceOrder(ctx, order)
	if err != nil {
		return "", fmt.Errorf("failed to place order: %w", err)
	}
	return id, nil
}

// CancelOrder cancels an order at the broker.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	return e.gateway.CancelOrder(ctx, orderID)
}

// GetOrder returns the broker's view of an order.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return e.gateway.GetOrder(ctx, orderID)
}

// FindDeals returns the executions of an order.
func (e *Engine) FindDeals(ctx context.Context, orderID string) ([]*models.Deal, error) {
	return e.gateway.FindDeals(ctx, orderID)
}
