package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"placecraft/internal/persistence/indexdb"
)

// openRuntimeIndex selects the optional read-model backend. The index never
// affects authority decisions; it only answers offline queries.
func openRuntimeIndex(worldDir string, disableDB bool, logger *log.Logger) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("PC_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(worldDir, "index", "world.sqlite")
		logger.Printf("index backend: sqlite at %s", dbPath)
		return indexdb.OpenSQLite(dbPath)
	default:
		return nil, fmt.Errorf("unsupported PC_INDEX_BACKEND: %s", backend)
	}
}
