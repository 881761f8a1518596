// Package throttle decorates a broker gateway with request rate limiting,
// for venues that enforce API quotas.
package throttle

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/corefin/verity/internal/interfaces"
	"github.com/corefin/verity/internal/models"
)

// DefaultRateLimit is the requests-per-second cap when none is configured.
const DefaultRateLimit = 5

// Gateway forwards every broker call through a rate limiter. Local calls
// (Name, TradeMode, Close) are never throttled.
type Gateway struct {
	inner   interfaces.BrokerGateway
	limiter *rate.Limiter
}

// Option configures the gateway.
type Option func(*Gateway)

// WithRateLimit sets the requests-per-second cap.
func WithRateLimit(requestsPerSecond int) Option {
	return func(g *Gateway) {
		g.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithLimiter replaces the limiter wholesale, for custom burst shapes.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(g *Gateway) {
		if limiter != nil {
			g.limiter = limiter
		}
	}
}

// NewGateway wraps inner with a rate limiter.
func NewGateway(inner interfaces.BrokerGateway, opts ...Option) *Gateway {
	g := &Gateway{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns the wrapped venue's name.
func (g *Gateway) Name() string {
	return g.inner.Name()
}

// TradeMode returns the wrapped venue's execution environment.
func (g *Gateway) TradeMode() models.TradeMode {
	return g.inner.TradeMode()
}

// GetBrokerBalance forwards after a limiter wait.
func (g *Gateway) GetBrokerBalance(ctx context.Context) (*models.AccountBalance, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return g.inner.GetBrokerBalance(ctx)
}

// GetBrokerPosition forwards after a limiter wait.
func (g *Gateway) GetBrokerPosition(ctx context.Context, security models.Security, direction models.Direction) (*models.PositionData, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return g.inner.GetBrokerPosition(ctx, security, direction)
}

// GetAllBrokerPositions forwards after a limiter wait.
func (g *Gateway) GetAllBrokerPositions(ctx context.Context) ([]*models.PositionData, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return g.inner.GetAllBrokerPositions(ctx)
}

// PlaceOrder forwards after a limiter wait.
func (g *Gateway) PlaceOrder(ctx context.Context, order *models.Order) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return g.inner.PlaceOrder(ctx, order)
}

// CancelOrder forwards after a limiter wait.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return g.inner.CancelOrder(ctx, orderID)
}

// GetOrder forwards after a limiter wait.
func (g *Gateway) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return g.inner.GetOrder(ctx, orderID)
}

// FindDeals forwards after a limiter wait.
func (g *Gateway) FindDeals(ctx context.Context, orderID string) ([]*models.Deal, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return g.inner.FindDeals(ctx, orderID)
}

// Close closes the wrapped venue.
func (g *Gateway) Close() error {
	return g.inner.Close()
}

var _ interfaces.BrokerGateway = (*Gateway)(nil)
