package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// The default bucket absorbs all broker capital and positions not attributed
// to a named strategy, modelling manual trading and other strategies sharing
// the same physical broker account.
const (
	DefaultStrategyAccount = "default"
	DefaultStrategyVersion = "1.0"
)

// AccountBalance is the capital state of one (broker account, strategy
// account, strategy version) tuple. Cash and Power must never go negative;
// MaxPowerShort and NetCashPower are -1 when the broker does not report them.
type AccountBalance struct {
	Cash          decimal.Decimal `json:"cash"`
	Power         decimal.Decimal `json:"power"`
	MaxPowerShort decimal.Decimal `json:"max_power_short"`
	NetCashPower  decimal.Decimal `json:"net_cash_power"`
}

// NewAccountBalance returns a balance with cash and buying power both set to
// initialCash and the short-power fields unset.
func NewAccountBalance(initialCash decimal.Decimal) *AccountBalance {
	return &AccountBalance{
		Cash:          initialCash,
		Power:         initialCash,
		MaxPowerShort: decimal.NewFromInt(-1),
		NetCashPower:  decimal.NewFromInt(-1),
	}
}

// Validate enforces the non-negativity invariant on cash and power.
func (b *AccountBalance) Validate() error {
	if b.Cash.IsNegative() {
		return Consistencyf("cash is negative: %s", b.Cash)
	}
	if b.Power.IsNegative() {
		return Consistencyf("power is negative: %s", b.Power)
	}
	return nil
}

// BrokerIdentity names one physical broker account in the ledger. It is
// supplied once at startup and stays immutable for the engine's lifetime.
// BrokerEnvironment follows the trade mode so simulated and live rows never
// mix.
type BrokerIdentity struct {
	BrokerName        string `json:"broker_name"`
	BrokerEnvironment string `json:"broker_environment"`
	BrokerAccount     string `json:"broker_account"`
}

// StrategyKey identifies one strategy's balance row within a broker account.
type StrategyKey struct {
	Account string `json:"account"`
	Version string `json:"version"`
}

// BalanceRecord is one row of the ledger balance table. BrokerAccountID groups
// every row sharing a physical broker account; StrategyAccountID is unique per
// row. The default row (account "default", version "1.0") is unique per
// BrokerAccountID.
type BalanceRecord struct {
	ID                  string          `json:"id"`
	BrokerName          string          `json:"broker_name"`
	BrokerEnvironment   string          `json:"broker_environment"`
	BrokerAccountID     int64           `json:"broker_account_id"`
	BrokerAccount       string          `json:"broker_account"`
	StrategyAccountID   int64           `json:"strategy_account_id"`
	StrategyAccount     string          `json:"strategy_account"`
	StrategyVersion     string          `json:"strategy_version"`
	StrategyVersionDesc string          `json:"strategy_version_desc"`
	StrategyStatus      string          `json:"strategy_status"`
	Cash                decimal.Decimal `json:"cash"`
	Power               decimal.Decimal `json:"power"`
	MaxPowerShort       decimal.Decimal `json:"max_power_short"`
	NetCashPower        decimal.Decimal `json:"net_cash_power"`
	UpdateTime          time.Time       `json:"update_time"`
	Remark              string          `json:"remark"`
}

// IsDefault reports whether the row is its broker account's default bucket.
func (r *BalanceRecord) IsDefault() bool {
	return r.StrategyAccount == DefaultStrategyAccount && r.StrategyVersion == DefaultStrategyVersion
}

// Balance returns the row's capital fields as an AccountBalance.
func (r *BalanceRecord) Balance() *AccountBalance {
	return &AccountBalance{
		Cash:          r.Cash,
		Power:         r.Power,
		MaxPowerShort: r.MaxPowerShort,
		NetCashPower:  r.NetCashPower,
	}
}
