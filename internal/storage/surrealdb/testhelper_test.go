package surrealdb

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/corefin/verity/internal/common"
	tcommon "github.com/corefin/verity/tests/common"
)

// testStore starts the shared SurrealDB container and returns a connected
// Store using a unique database name per test to ensure isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	sc := tcommon.StartSurrealDB(t)

	// Sanitize t.Name() because subtests produce names like "Test/subtest"
	// and SurrealDB rejects "/" in database names.
	sanitized := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dbName := fmt.Sprintf("t_%s_%d", sanitized, time.Now().UnixNano()%100000)

	cfg := &common.StorageConfig{
		Driver:    "surrealdb",
		Address:   sc.Address(),
		Namespace: "verity_test",
		Database:  dbName,
		Username:  "root",
		Password:  "root",
	}

	store, err := NewStore(testLogger(), cfg)
	if err != nil {
		t.Fatalf("connect to SurrealDB: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// testLogger returns a silent logger for tests.
func testLogger() *common.Logger {
	return common.NewSilentLogger()
}
