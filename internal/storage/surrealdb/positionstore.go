package surrealdb

import (
	"context"
	"fmt"
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

// positionSelectFields lists the fields to select from position, aliasing
// position_id to id for struct mapping.
const positionSelectFields = "position_id AS id, balance_id, security_code, security_name, direction, holding_price, quantity, update_time"

// positionRow is the wire shape of a position record, money as strings.
type positionRow struct {
	ID           string    `json:"id"`
	BalanceID    string    `json:"balance_id"`
	SecurityCode string    `json:"security_code"`
	SecurityName string    `json:"security_name"`
	Direction    string    `json:"direction"`
	HoldingPrice string    `json:"holding_price"`
	Quantity     string    `json:"quantity"`
	UpdateTime   time.Time `json:"update_time"`
}

func (r *positionRow) toRecord() (*models.PositionRecord, error) {
	price, err := decimal.NewFromString(r.HoldingPrice)
	if err != nil {
		return nil, fmt.Errorf("position %s: invalid holding_price %q: %w", r.ID, r.HoldingPrice, err)
	}
	quantity, err := decimal.NewFromString(r.Quantity)
	if err != nil {
		return nil, fmt.Errorf("position %s: invalid quantity %q: %w", r.ID, r.Quantity, err)
	}

	return &models.PositionRecord{
		ID:           r.ID,
		BalanceID:    r.BalanceID,
		SecurityCode: r.SecurityCode,
		SecurityName: r.SecurityName,
		Direction:    r.Direction,
		HoldingPrice: price,
		Quantity:     quantity,
		UpdateTime:   r.UpdateTime,
	}, nil
}

// PositionStore implements interfaces.PositionStore using SurrealDB.
type PositionStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(db *surrealdb.DB, logger *common.Logger) *PositionStore {
	return &PositionStore{db: db, logger: logger}
}

func (s *PositionStore) ListByBalanceID(ctx context.Context, balanceID string) ([]*models.PositionRecord, error) {
	sql := "SELECT " + positionSelectFields + " FROM position WHERE balance_id = $balance_id ORDER BY security_code ASC, direction ASC"
	vars := map[string]any{"balance_id": balanceID}
	return s.queryPositions(ctx, sql, vars)
}

func (s *PositionStore) ListByBalanceIDs(ctx context.Context, balanceIDs []string) ([]*models.PositionRecord, error) {
	if len(balanceIDs) == 0 {
		return nil, nil
	}
	sql := "SELECT " + positionSelectFields + " FROM position WHERE balance_id IN $balance_ids ORDER BY security_code ASC, direction ASC"
	vars := map[string]any{"balance_ids": balanceIDs}
	return s.queryPositions(ctx, sql, vars)
}

func (s *PositionStore) Insert(ctx context.Context, rec *models.PositionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()[:8]
	}
	if rec.UpdateTime.IsZero() {
		rec.UpdateTime = time.Now()
	}

	sql := `UPSERT $rid SET
		position_id = $position_id, balance_id = $balance_id, security_code = $security_code,
		security_name = $security_name, direction = $direction, holding_price = $holding_price,
		quantity = $quantity, update_time = $update_time`
	vars := map[string]any{
		"rid":           surrealmodels.NewRecordID("position", rec.ID),
		"position_id":   rec.ID,
		"balance_id":    rec.BalanceID,
		"security_code": rec.SecurityCode,
		"security_name": rec.SecurityName,
		"direction":     rec.Direction,
		"holding_price": rec.HoldingPrice.String(),
		"quantity":      rec.Quantity.String(),
		"update_time":   rec.UpdateTime,
	}

	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[any](ctx, s.db, sql, vars)
		if err == nil {
			metrics.LedgerWrites.WithLabelValues("position", "insert").Inc()
			return nil
		}
		if attempt == 3 {
			return fmt.Errorf("failed to insert position after retries: %w", err)
		}
	}
	return nil
}

func (s *PositionStore) DeleteByBalanceID(ctx context.Context, balanceID string) (int, error) {
	// Count first; SurrealDB DELETE doesn't return how many rows it removed.
	countSQL := "SELECT count() AS cnt FROM position WHERE balance_id = $balance_id GROUP ALL"
	vars := map[string]any{"balance_id": balanceID}

	type countResult struct {
		Cnt int `json:"cnt"`
	}

	results, err := surrealdb.Query[[]countResult](ctx, s.db, countSQL, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to count positions: %w", err)
	}

	count := 0
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		count = (*results)[0].Result[0].Cnt
	}
	if count == 0 {
		return 0, nil
	}

	deleteSQL := "DELETE FROM position WHERE balance_id = $balance_id"
	if _, err := surrealdb.Query[any](ctx, s.db, deleteSQL, vars); err != nil {
		return 0, fmt.Errorf("failed to delete positions: %w", err)
	}
	metrics.LedgerWrites.WithLabelValues("position", "delete").Inc()
	return count, nil
}

// queryPositions runs a query and maps the rows to PositionRecords.
func (s *PositionStore) queryPositions(ctx context.Context, sql string, vars map[string]any) ([]*models.PositionRecord, error) {
	results, err := surrealdb.Query[[]positionRow](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}

	var records []*models.PositionRecord
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
var _ interfaces.PositionStore = (*PositionStore)(nil)
