package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order at the broker.
type OrderStatus string

const (
	OrderStatusSubmitted  OrderStatus = "SUBMITTED"
	OrderStatusPartFilled OrderStatus = "PART_FILLED"
	OrderStatusFilled     OrderStatus = "FILLED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusFailed     OrderStatus = "FAILED"
)

// Order is a request to trade one security, passed through to the broker
// gateway without reconciliation logic.
type Order struct {
	ID             string          `json:"id"`
	Security       Security        `json:"security"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	Direction      Direction       `json:"direction"`
	Offset         Offset          `json:"offset"`
	OrderType      OrderType       `json:"order_type"`
	Status         OrderStatus     `json:"status"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	CreateTime     time.Time       `json:"create_time"`
	UpdateTime     time.Time       `json:"update_time"`
}

// Deal is one execution of an order.
type Deal struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Security  Security        `json:"security"`
	Direction Direction       `json:"direction"`
	Offset    Offset          `json:"offset"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	DealTime  time.Time       `json:"deal_time"`
}
