package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PositionData is a held quantity of one security in one direction. Quantity
// is never negative; a zero-quantity entry is deleted rather than persisted.
type PositionData struct {
	Security     Security        `json:"security"`
	Direction    Direction       `json:"direction"`
	HoldingPrice decimal.Decimal `json:"holding_price"`
	Quantity     decimal.Decimal `json:"quantity"`
	UpdateTime   time.Time       `json:"update_time"`
}

// PositionKey identifies one entry in a Position book.
type PositionKey struct {
	Code      string
	Direction Direction
}

// Position is the book of holdings keyed by (security code, direction).
type Position struct {
	holdings map[PositionKey]*PositionData
}

// NewPosition returns an empty book.
func NewPosition() *Position {
	return &Position{holdings: make(map[PositionKey]*PositionData)}
}

// Update applies pd to the book. An OPEN offset adds to an existing entry,
// blending the holding price quantity-weighted, or creates the entry. A CLOSE
// offset reduces the entry, removing it at zero; closing more than is held or
// closing a missing entry is a fatal consistency violation.
func (p *Position) Update(pd *PositionData, offset Offset) error {
	if pd.Quantity.IsNegative() {
		return Consistencyf("position quantity is negative: %s %s %s",
			pd.Quantity, pd.Security.Code, pd.Direction)
	}

	key := PositionKey{Code: pd.Security.Code, Direction: pd.Direction}
	held, ok := p.holdings[key]

	switch offset {
	case OffsetOpen:
		if !ok {
			cp := *pd
			p.holdings[key] = &cp
			return nil
		}
		quantity := held.Quantity.Add(pd.Quantity)
		if quantity.IsZero() {
			delete(p.holdings, key)
			return nil
		}
		held.HoldingPrice = held.HoldingPrice.Mul(held.Quantity).
			Add(pd.HoldingPrice.Mul(pd.Quantity)).
			Div(quantity)
		held.Quantity = quantity
		held.UpdateTime = pd.UpdateTime
		return nil

	case OffsetClose:
		if !ok {
			return Consistencyf("close of %s %s without a holding",
				pd.Security.Code, pd.Direction)
		}
		quantity := held.Quantity.Sub(pd.Quantity)
		if quantity.IsNegative() {
			return Consistencyf("close of %s exceeds held %s for %s %s",
				pd.Quantity, held.Quantity, pd.Security.Code, pd.Direction)
		}
		if quantity.IsZero() {
			delete(p.holdings, key)
			return nil
		}
		held.Quantity = quantity
		held.UpdateTime = pd.UpdateTime
		return nil
	}
	return Consistencyf("unknown offset %q", offset)
}

// Get returns a copy of the entry for (security, direction), or nil.
func (p *Position) Get(security Security, direction Direction) *PositionData {
	held, ok := p.holdings[PositionKey{Code: security.Code, Direction: direction}]
	if !ok {
		return nil
	}
	cp := *held
	return &cp
}

// All returns copies of every entry, ordered by security code then direction.
func (p *Position) All() []*PositionData {
	out := make([]*PositionData, 0, len(p.holdings))
	for _, held := range p.holdings {
		cp := *held
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Security.Code != out[j].Security.Code {
			return out[i].Security.Code < out[j].Security.Code
		}
		return out[i].Direction < out[j].Direction
	})
	return out
}

// Len returns the number of entries in the book.
func (p *Position) Len() int {
	return len(p.holdings)
}

// PositionRecord is one row of the ledger position table. Every row belongs to
// exactly one balance row via BalanceID.
type PositionRecord struct {
	ID           string          `json:"id"`
	BalanceID    string          `json:"balance_id"`
	SecurityCode string          `json:"security_code"`
	SecurityName string          `json:"security_name"`
	Direction    string          `json:"direction"`
	HoldingPrice decimal.Decimal `json:"holding_price"`
	Quantity     decimal.Decimal `json:"quantity"`
	UpdateTime   time.Time       `json:"update_time"`
}

// NewPositionRecord builds a row for pd owned by the given balance row.
func NewPositionRecord(balanceID string, pd *PositionData) *PositionRecord {
	return &PositionRecord{
		BalanceID:    balanceID,
		SecurityCode: pd.Security.Code,
		SecurityName: pd.Security.Name,
		Direction:    string(pd.Direction),
		HoldingPrice: pd.HoldingPrice,
		Quantity:     pd.Quantity,
		UpdateTime:   pd.UpdateTime,
	}
}

// Data converts the row to an in-memory PositionData, validating the stored
// direction string.
func (r *PositionRecord) Data() (*PositionData, error) {
	direction, err := ParseDirection(r.Direction)
	if err != nil {
		return nil, err
	}
	return &PositionData{
		Security:     Security{Code: r.SecurityCode, Name: r.SecurityName},
		Direction:    direction,
		HoldingPrice: r.HoldingPrice,
		Quantity:     r.Quantity,
		UpdateTime:   r.UpdateTime,
	}, nil
}
