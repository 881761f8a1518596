// Package paper implements a simulated broker gateway for development and
// tests. Orders fill immediately and in full at their order price; margin is
// not modelled, so every open consumes cash and every close returns it.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/corefin/verity/internal/common"
	"github.com/corefin/verity/internal/interfaces"
	"github.com/corefin/verity/internal/models"
)

// DefaultInitialCash is the broker-side cash when none is configured.
var DefaultInitialCash = decimal.NewFromInt(100000)

// Gateway is an in-process broker. It owns a broker-side balance and
// position book, the way a real venue would.
type Gateway struct {
	mode   models.TradeMode
	logger *common.Logger

	mu      sync.Mutex
	balance *models.AccountBalance
	book    *models.Position
	orders  map[string]*models.Order
	deals   map[string][]*models.Deal
}

// Option configures the gateway.
type Option func(*Gateway)

// WithTradeMode sets the trade mode reported to the engine.
func WithTradeMode(mode models.TradeMode) Option {
	return func(g *Gateway) {
		g.mode = mode
	}
}

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithInitialCash sets the broker-side starting cash and buying power.
func WithInitialCash(cash decimal.Decimal) Option {
	return func(g *Gateway) {
		g.balance = models.NewAccountBalance(cash)
	}
}

// WithPositions seeds broker-side holdings that predate the engine, as if
// another participant had traded the account.
func WithPositions(positions ...*models.PositionData) Option {
	return func(g *Gateway) {
		for _, pd := range positions {
			// Seeding ignores book errors; a negative seed is a test bug.
			_ = g.book.Update(pd, models.OffsetOpen)
		}
	}
}

// NewGateway creates a paper broker. Defaults: SIMULATE mode, silent logger,
// DefaultInitialCash, empty book.
func NewGateway(opts ...Option) *Gateway {
	g := &Gateway{
		mode:    models.TradeModeSimulate,
		logger:  common.NewSilentLogger(),
		balance: models.NewAccountBalance(DefaultInitialCash),
		book:    models.NewPosition(),
		orders:  make(map[string]*models.Order),
		deals:   make(map[string][]*models.Deal),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns the venue name.
func (g *Gateway) Name() string {
	return "paper"
}

// TradeMode returns the configured execution environment.
func (g *Gateway) TradeMode() models.TradeMode {
	return g.mode
}

// GetBrokerBalance returns a copy of the broker-side balance. A paper broker
// is always reachable, so this never reports unavailability.
func (g *Gateway) GetBrokerBalance(ctx context.Context) (*models.AccountBalance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	snapshot := *g.balance
	return &snapshot, nil
}

// GetBrokerPosition returns the broker-side holding for (security,
// direction), nil when flat.
func (g *Gateway) GetBrokerPosition(ctx context.Context, security models.Security, direction models.Direction) (*models.PositionData, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.book.Get(security, direction), nil
}

// GetAllBrokerPositions returns the broker-side book. An account holding
// nothing returns an empty slice, never nil; a paper broker has no outages.
func (g *Gateway) GetAllBrokerPositions(ctx context.Context) ([]*models.PositionData, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.book.All(), nil
}

// PlaceOrder accepts the order, fills it immediately at its price, and
// applies the fill to the broker-side balance and book. Orders the account
// cannot support end FAILED; the order id is returned either way.
func (g *Gateway) PlaceOrder(ctx context.Context, order *models.Order) (string, error) {
	if order == nil {
		return "", fmt.Errorf("order is nil")
	}
	if !order.Quantity.IsPositive() {
		return "", fmt.Errorf("order quantity must be positive, got %s", order.Quantity)
	}
	if !order.Price.IsPositive() {
		return "", fmt.Errorf("order price must be positive, got %s", order.Price)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	order.ID = uuid.New().String()[:8]
	order.Status = models.OrderStatusSubmitted
	order.UpdateTime = time.Now()
	g.orders[order.ID] = order

	if err := g.fill(order); err != nil {
		order.Status = models.OrderStatusFailed
		order.UpdateTime = time.Now()
		g.logger.Debug().
			Str("order_id", order.ID).
			Str("security", order.Security.Code).
			Err(err).
			Msg("Paper order rejected")
		return order.ID, nil
	}

	g.logger.Debug().
		Str("order_id", order.ID).
		Str("security", order.Security.Code).
		Str("quantity", order.Quantity.String()).
		Str("price", order.Price.String()).
		Msg("Paper order filled")
	return order.ID, nil
}

// fill applies one full execution at order price. Called under the mutex.
func (g *Gateway) fill(order *models.Order) error {
	cost := order.Price.Mul(order.Quantity)
	now := time.Now()

	pd := &models.PositionData{
		Security:     order.Security,
		Direction:    order.Direction,
		HoldingPrice: order.Price,
		Quantity:     order.Quantity,
		UpdateTime:   now,
	}

	switch order.Offset {
	case models.OffsetOpen:
		if g.balance.Cash.LessThan(cost) {
			return fmt.Errorf("insufficient cash: have %s, need %s", g.balance.Cash, cost)
		}
		if err := g.book.Update(pd, models.OffsetOpen); err != nil {
			return err
		}
		g.balance.Cash = g.balance.Cash.Sub(cost)
		g.balance.Power = g.balance.Power.Sub(cost)
	case models.OffsetClose:
		if err := g.book.Update(pd, models.OffsetClose); err != nil {
			return err
		}
		g.balance.Cash = g.balance.Cash.Add(cost)
		g.balance.Power = g.balance.Power.Add(cost)
	default:
		return fmt.Errorf("unknown offset %q", order.Offset)
	}

	order.Status = models.OrderStatusFilled
	order.FilledAvgPrice = order.Price
	order.FilledQuantity = order.Quantity
	order.UpdateTime = now

	g.deals[order.ID] = append(g.deals[order.ID], &models.Deal{
		ID:        uuid.New().String()[:8],
		OrderID:   order.ID,
		Security:  order.Security,
		Direction: order.Direction,
		Offset:    order.Offset,
		Price:     order.Price,
		Quantity:  order.Quantity,
		DealTime:  now,
	})
	return nil
}

// CancelOrder cancels a resting order. Paper fills are immediate, so there is
// never anything to cancel.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	order, ok := g.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	if order.Status != models.OrderStatusSubmitted {
		return fmt.Errorf("order %s is %s, cannot cancel", orderID, order.Status)
	}
	order.Status = models.OrderStatusCancelled
	order.UpdateTime = time.Now()
	return nil
}

// GetOrder returns a copy of the order.
func (g *Gateway) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	order, ok := g.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	cp := *order
	return &cp, nil
}

// FindDeals returns copies of the order's executions, oldest first.
func (g *Gateway) FindDeals(ctx context.Context, orderID string) ([]*models.Deal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	deals := g.deals[orderID]
	out := make([]*models.Deal, 0, len(deals))
	for _, d := range deals {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

// Close releases nothing; a paper broker holds no connection.
func (g *Gateway) Close() error {
	return nil
}

var _ interfaces.BrokerGateway = (*Gateway)(nil)
