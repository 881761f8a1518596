package models

import "github.com/shopspring/decimal"

// Portfolio is the strategy's in-memory view of its own capital and holdings.
// The reconciler replaces its fields wholesale whenever a broker-derived
// snapshot supersedes them.
type Portfolio struct {
	AccountBalance *AccountBalance
	Position       *Position
}

// NewPortfolio seeds a portfolio with initial strategy cash and an empty book.
func NewPortfolio(initialCash decimal.Decimal) *Portfolio {
	return &Portfolio{
		AccountBalance: NewAccountBalance(initialCash),
		Position:       NewPosition(),
	}
}
