// Package surrealdb implements the ledger store on SurrealDB.
package surrealdb

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/corefin/verity/internal/common"
	"github.com/corefin/verity/internal/interfaces"
)

// Store implements interfaces.LedgerStore using SurrealDB.
type Store struct {
	db     *surrealdb.DB
	logger *common.Logger
	config *common.StorageConfig

	balanceStore  *BalanceStore
	positionStore *PositionStore
}

// NewStore creates a LedgerStore connected to SurrealDB.
func NewStore(logger *common.Logger, config *common.StorageConfig) (*Store, error) {
	return newStore(context.Background(), logger, config)
}

func newStore(ctx context.Context, logger *common.Logger, config *common.StorageConfig) (*Store, error) {
	// Connect to SurrealDB
	db, err := surrealdb.New(config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	// Sign in
	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Username,
		"pass": config.Password,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	// Select namespace and database
	if err := db.Use(ctx, config.Namespace, config.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	// Define tables to ensure they exist (SurrealDB v3 errors on querying non-existent tables)
	for _, table := range []string{"balance", "position"} {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}

	s := &Store{
		db:     db,
		logger: logger,
		config: config,
	}
	s.balanceStore = NewBalanceStore(db, logger)
	s.positionStore = NewPositionStore(db, logger)

	logger.Info().
		Str("address", config.Address).
		Str("namespace", config.Namespace).
		Str("database", config.Database).
		Msg("SurrealDB ledger store initialized")

	return s, nil
}

func (s *Store) BalanceStore() interfaces.BalanceStore {
	return s.balanceStore
}

func (s *Store) PositionStore() interfaces.PositionStore {
	return s.positionStore
}

// Session opens a dedicated connection to the same namespace and database.
// The persistence keeper uses this so its periodic writes never contend with
// the reconciler's connection.
func (s *Store) Session(ctx context.Context) (interfaces.LedgerStore, error) {
	return newStore(ctx, s.logger, s.config)
}

func (s *Store) Close() error {
	s.db.Close(context.Background())
	return nil
}

// Compile-time check
var _ interfaces.LedgerStore = (*Store)(nil)
