package interfaces

import (
	"context"

	"github.com/corefin/verity/internal/models"
)

// BrokerGateway is the capability surface of one trading venue connection.
// Snapshot calls return nil with a nil error when the broker cannot answer
// right now; the reconciler treats nil as "unavailable", never as zero
// capital or zero positions.
type BrokerGateway interface {
	Name() string
	TradeMode() models.TradeMode

	GetBrokerBalance(ctx context.Context) (*models.AccountBalance, error)
	GetBrokerPosition(ctx context.Context, security models.Security, direction models.Direction) (*models.PositionData, error)
	GetAllBrokerPositions(ctx context.Context) ([]*models.PositionData, error)

	// Order pass-through. Direct delegation, no reconciliation logic.
	PlaceOrder(ctx context.Context, order *models.Order) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	FindDeals(ctx context.Context, orderID string) ([]*models.Deal, error)

	Close() error
}
