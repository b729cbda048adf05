// Package database implements the persistence façade (§4.H): two
// operations, LoadRegistered and StoreRegistered, over SQLite or MySQL,
// uniform behind the Database interface. LoadRegistered queries the backend
// directly on every call; there is no in-process read cache. Writes are
// serialized onto a single background goroutine (queue.go), and
// StoreRegistered waits for that goroutine to report the write's outcome,
// so both operations block their caller for the duration of the I/O.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Kind selects which registered-record table a Load/Store call targets.
type Kind string

const (
	KindNick      Kind = "nick"
	KindChannel   Kind = "channel"
	KindOperator  Kind = "operator"
)

// Record is the persisted shape of a registered nick, channel or operator.
// Only the fields relevant to Kind are populated; the rest are zero.
type Record struct {
	Key         string // nick or channel name, casefolded
	Password    string // argon2-encoded, nick/operator records only
	Mask        string // operator source mask
	Topic       string // channel records only
	Modes       string // serialized mode string
	RegisteredAt time.Time
}

// ErrNotFound is returned by LoadRegistered when no record exists for key.
var ErrNotFound = fmt.Errorf("database: record not found")

// Database is the uniform adapter over the two supported SQL backends.
// Every method may block on I/O and must be called off the dispatcher's
// synchronous critical sections (§5: "every other operation ... is
// synchronous and non-suspending").
type Database interface {
	Close() error

	LoadRegistered(ctx context.Context, kind Kind, key string) (*Record, error)
	StoreRegistered(ctx context.Context, kind Kind, rec *Record) error
	DeleteRegistered(ctx context.Context, kind Kind, key string) error
	ListRegistered(ctx context.Context, kind Kind) ([]Record, error)

	Stats(ctx context.Context) (*Stats, error)
}

// MetricsCollectorDatabase is implemented by backends that expose
// Prometheus instrumentation (query latency, retry counts).
type MetricsCollectorDatabase interface {
	Database
	RegisterMetrics(r prometheus.Registerer) error
}

type Stats struct {
	RegisteredNicks    int64
	RegisteredChannels int64
	RegisteredOperators int64
}

// Open opens a backend by driver name. "sqlite" and "sqlite3" are accepted
// as synonyms (Open Question in SPEC_FULL.md/DESIGN.md).
func Open(driver, source string) (Database, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(source)
	case "mysql":
		return openMySQL(source)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}
}
