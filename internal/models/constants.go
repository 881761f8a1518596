// Package models defines the account, position, and order types shared across
// the reconciliation engine.
package models

import "fmt"

// Direction is the side of a holding or order.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionNet   Direction = "NET"
)

// ParseDirection maps a ledger direction string to a Direction. An unknown
// value indicates ledger corruption and is a fatal consistency violation.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionLong, DirectionShort, DirectionNet:
		return Direction(s), nil
	}
	return "", Consistencyf("unknown direction %q", s)
}

// Offset distinguishes opening trades from closing ones.
type Offset string

const (
	OffsetOpen  Offset = "OPEN"
	OffsetClose Offset = "CLOSE"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// TradeMode is the execution environment of the engine. Ledger persistence is
// only active in SIMULATE and LIVETRADE; backtests never touch the ledger.
type TradeMode string

const (
	TradeModeBacktest  TradeMode = "BACKTEST"
	TradeModeSimulate  TradeMode = "SIMULATE"
	TradeModeLivetrade TradeMode = "LIVETRADE"
)

// ParseTradeMode validates a configured trade mode string.
func ParseTradeMode(s string) (TradeMode, error) {
	switch TradeMode(s) {
	case TradeModeBacktest, TradeModeSimulate, TradeModeLivetrade:
		return TradeMode(s), nil
	}
	return "", fmt.Errorf("unknown trade mode %q (supported: BACKTEST, SIMULATE, LIVETRADE)", s)
}

// Persistent reports whether the mode persists state to the ledger.
func (m TradeMode) Persistent() bool {
	return m == TradeModeSimulate || m == TradeModeLivetrade
}
