// Package store persists the pipeline's entities in a single sqlite file.
// Complex nested values (signals, factors, vectors, evidence) are kept as
// JSON text columns; everything queried on gets its own column.
package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/harunnryd/mihari/internal/config"
)

const defaultBusyTimeout = 5 * time.Second

type Store struct {
	db *sql.DB
}

// Open creates the parent directory, opens the database, applies pragmas,
// and runs migrations. Safe to call on an existing file.
func Open(cfg config.StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	busy := defaultBusyTimeout
	if cfg.BusyTimeout != "" {
		if d, err := time.ParseDuration(cfg.BusyTimeout); err == nil && d > 0 {
			busy = d
		}
	}

	dsn := fmt.Sprintf("file:%s?%s", cfg.Path, url.Values{
		"_pragma": []string{
			fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()),
			"journal_mode(WAL)",
			"foreign_keys(1)",
			"synchronous(NORMAL)",
		},
	}.Encode())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY between the scheduler
	// loop and CLI invocations sharing the process.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }
