// Package storage selects the ledger backend from configuration.
package storage

import (
	"fmt"

	"github.com/corefin/verity/internal/common"
	"github.com/corefin/verity/internal/interfaces"
	"github.com/corefin/verity/internal/storage/memory"
	"github.com/corefin/verity/internal/storage/surrealdb"
)

// Driver constants.
const (
	DriverSurrealDB = "surrealdb"
	DriverMemory    = "memory"
)

// NewLedgerStore creates a ledger store based on the configuration.
// Supported drivers: "surrealdb" (default), "memory".
func NewLedgerStore(logger *common.Logger, config *common.StorageConfig) (interfaces.LedgerStore, error) {
	driver := config.Driver
	if driver == "" {
		driver = DriverSurrealDB
	}

	switch driver {
	case DriverSurrealDB:
		return surrealdb.NewStore(logger, config)

	case DriverMemory:
		return memory.NewStore(logger), nil

	default:
		return nil, fmt.Errorf("unknown storage driver: %s (supported: surrealdb, memory)", driver)
	}
}
