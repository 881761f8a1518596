package surrealdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/corefin/verity/internal/common"
	"github.com/corefin/verity/internal/interfaces"
	"github.com/corefin/verity/internal/metrics"
	"github.com/corefin/verity/internal/models"
)

// balanceSelectFields lists the fields to select from balance, aliasing
// balance_id to id for struct mapping.
const balanceSelectFields = "balance_id AS id, broker_name, broker_environment, broker_account_id, broker_account, " +
	"strategy_account_id, strategy_account, strategy_version, strategy_version_desc, strategy_status, " +
	"cash, power, max_power_short, net_cash_power, update_time, remark"

// allowedBalanceFields are the columns UpdateFields may touch.
var allowedBalanceFields = map[string]bool{
	"cash":            true,
	"power":           true,
	"max_power_short": true,
	"net_cash_power":  true,
}

// balanceRow is the wire shape of a balance record. Money travels as strings
// so the stored rows stay readable and keep exact decimal precision.
type balanceRow struct {
	ID                  string    `json:"id"`
	BrokerName          string    `json:"broker_name"`
	BrokerEnvironment   string    `json:"broker_environment"`
	BrokerAccountID     int64     `json:"broker_account_id"`
	BrokerAccount       string    `json:"broker_account"`
	StrategyAccountID   int64     `json:"strategy_account_id"`
	StrategyAccount     string    `json:"strategy_account"`
	StrategyVersion     string    `json:"strategy_version"`
	StrategyVersionDesc string    `json:"strategy_version_desc"`
	StrategyStatus      string    `json:"strategy_status"`
	Cash                string    `json:"cash"`
	Power               string    `json:"power"`
	MaxPowerShort       string    `json:"max_power_short"`
	NetCashPower        string    `json:"net_cash_power"`
	UpdateTime          time.Time `json:"update_time"`
	Remark              string    `json:"remark"`
}

func (r *balanceRow) toRecord() (*models.BalanceRecord, error) {
	cash, err := decimal.NewFromString(r.Cash)
	if err != nil {
		return nil, fmt.Errorf("balance %s: invalid cash %q: %w", r.ID, r.Cash, err)
	}
	power, err := decimal.NewFromString(r.Power)
	if err != nil {
		return nil, fmt.Errorf("balance %s: invalid power %q: %w", r.ID, r.Power, err)
	}
	maxPowerShort, err := decimal.NewFromString(r.MaxPowerShort)
	if err != nil {
		return nil, fmt.Errorf("balance %s: invalid max_power_short %q: %w", r.ID, r.MaxPowerShort, err)
	}
	netCashPower, err := decimal.NewFromString(r.NetCashPower)
	if err != nil {
		return nil, fmt.Errorf("balance %s: invalid net_cash_power %q: %w", r.ID, r.NetCashPower, err)
	}

	return &models.BalanceRecord{
		ID:                  r.ID,
		BrokerName:          r.BrokerName,
		BrokerEnvironment:   r.BrokerEnvironment,
		BrokerAccountID:     r.BrokerAccountID,
		BrokerAccount:       r.BrokerAccount,
		StrategyAccountID:   r.StrategyAccountID,
		StrategyAccount:     r.StrategyAccount,
		StrategyVersion:     r.StrategyVersion,
		StrategyVersionDesc: r.StrategyVersionDesc,
		StrategyStatus:      r.StrategyStatus,
		Cash:                cash,
		Power:               power,
		MaxPowerShort:       maxPowerShort,
		NetCashPower:        netCashPower,
		UpdateTime:          r.UpdateTime,
		Remark:              r.Remark,
	}, nil
}

// BalanceStore implements interfaces.BalanceStore using SurrealDB.
type BalanceStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewBalanceStore creates a new BalanceStore.
func NewBalanceStore(db *surrealdb.DB, logger *common.Logger) *BalanceStore {
	return &BalanceStore{db: db, logger: logger}
}

func (s *BalanceStore) ListByBroker(ctx context.Context, identity models.BrokerIdentity) ([]*models.BalanceRecord, error) {
	sql := "SELECT " + balanceSelectFields + " FROM balance" +
		" WHERE broker_name = $broker_name AND broker_environment = $broker_environment AND broker_account = $broker_account" +
		" ORDER BY strategy_account_id ASC"
	vars := map[string]any{
		"broker_name":        identity.BrokerName,
		"broker_environment": identity.BrokerEnvironment,
		"broker_account":     identity.BrokerAccount,
	}
	return s.queryBalances(ctx, sql, vars)
}

func (s *BalanceStore) Find(ctx context.Context, identity models.BrokerIdentity, key models.StrategyKey) (*models.BalanceRecord, error) {
	sql := "SELECT " + balanceSelectFields + " FROM balance" +
		" WHERE broker_name = $broker_name AND broker_environment = $broker_environment AND broker_account = $broker_account" +
		" AND strategy_account = $strategy_account AND strategy_version = $strategy_version"
	vars := map[string]any{
		"broker_name":        identity.BrokerName,
		"broker_environment": identity.BrokerEnvironment,
		"broker_account":     identity.BrokerAccount,
		"strategy_account":   key.Account,
		"strategy_version":   key.Version,
	}

	rows, err := s.queryBalances(ctx, sql, vars)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if len(rows) > 1 {
		return nil, models.Consistencyf("%d balance rows for strategy %s (%s), want one", len(rows), key.Account, key.Version)
	}
	return rows[0], nil
}

func (s *BalanceStore) MaxAccountIDs(ctx context.Context) (int64, int64, error) {
	sql := "SELECT math::max(broker_account_id) AS max_broker, math::max(strategy_account_id) AS max_strategy FROM balance GROUP ALL"

	type maxResult struct {
		MaxBroker   int64 `json:"max_broker"`
		MaxStrategy int64 `json:"max_strategy"`
	}

	results, err := surrealdb.Query[[]maxResult](ctx, s.db, sql, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get max account ids: %w", err)
	}

	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		r := (*results)[0].Result[0]
		return r.MaxBroker, r.MaxStrategy, nil
	}
	return 0, 0, nil
}

func (s *BalanceStore) Insert(ctx context.Context, rec *models.BalanceRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()[:8]
	}
	if rec.UpdateTime.IsZero() {
		rec.UpdateTime = time.Now()
	}

	sql := `UPSERT $rid SET
		balance_id = $balance_id, broker_name = $broker_name, broker_environment = $broker_environment,
		broker_account_id = $broker_account_id, broker_account = $broker_account,
		strategy_account_id = $strategy_account_id, strategy_account = $strategy_account,
		strategy_version = $strategy_version, strategy_version_desc = $strategy_version_desc,
		strategy_status = $strategy_status, cash = $cash, power = $power,
		max_power_short = $max_power_short, net_cash_power = $net_cash_power,
		update_time = $update_time, remark = $remark`
	vars := map[string]any{
		"rid":                   surrealmodels.NewRecordID("balance", rec.ID),
		"balance_id":            rec.ID,
		"broker_name":           rec.BrokerName,
		"broker_environment":    rec.BrokerEnvironment,
		"broker_account_id":     rec.BrokerAccountID,
		"broker_account":        rec.BrokerAccount,
		"strategy_account_id":   rec.StrategyAccountID,
		"strategy_account":      rec.StrategyAccount,
		"strategy_version":      rec.StrategyVersion,
		"strategy_version_desc": rec.StrategyVersionDesc,
		"strategy_status":       rec.StrategyStatus,
		"cash":                  rec.Cash.String(),
		"power":                 rec.Power.String(),
		"max_power_short":       rec.MaxPowerShort.String(),
		"net_cash_power":        rec.NetCashPower.String(),
		"update_time":           rec.UpdateTime,
		"remark":                rec.Remark,
	}

	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[any](ctx, s.db, sql, vars)
		if err == nil {
			metrics.LedgerWrites.WithLabelValues("balance", "insert").Inc()
			return nil
		}
		if attempt == 3 {
			return fmt.Errorf("failed to insert balance after retries: %w", err)
		}
	}
	return nil
}

func (s *BalanceStore) UpdateFields(ctx context.Context, recordID string, fields map[string]decimal.Decimal) error {
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for field := range fields {
		if !allowedBalanceFields[field] {
			return fmt.Errorf("unknown balance field: %s", field)
		}
		keys = append(keys, field)
	}
	sort.Strings(keys)

	assignments := make([]string, 0, len(keys)+1)
	vars := map[string]any{
		"rid":         surrealmodels.NewRecordID("balance", recordID),
		"update_time": time.Now(),
	}
	for i, field := range keys {
		param := fmt.Sprintf("v%d", i)
		assignments = append(assignments, fmt.Sprintf("%s = $%s", field, param))
		vars[param] = fields[field].String()
	}
	assignments = append(assignments, "update_time = $update_time")

	sql := "UPDATE $rid SET " + strings.Join(assignments, ", ")
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to update balance fields: %w", err)
	}
	metrics.LedgerWrites.WithLabelValues("balance", "update").Inc()
	return nil
}

// queryBalances runs a query and maps the rows to BalanceRecords.
func (s *BalanceStore) queryBalances(ctx context.Context, sql string, vars map[string]any) ([]*models.BalanceRecord, error) {
	results, err := surrealdb.Query[[]balanceRow](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}

	var records []*models.BalanceRecord
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			rec, err := (*results)[0].Result[i].toRecord()
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

// Compile-time check
var _ interfaces.BalanceStore = (*BalanceStore)(nil)
