/*
Package database provides the SQL connection handling, the schema
migrations and the meddler tooling shared by the historydb (accounts) and
l2db (mempool) packages.

The custom meddler types registered here map NUMERIC columns to *big.Int
fields, so that balances and amounts are never truncated through float or
int64 conversions on their way in or out of PostgreSQL.
*/
package database

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"os"
	"time"

	"zkrollup-node/common"
	"zkrollup-node/log"

	"github.com/gobuffalo/packr/v2"
	"github.com/jmoiron/sqlx"

	// driver for postgres DB
	_ "github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/russross/meddler"
	"golang.org/x/sync/semaphore"
)

func init() {
	meddler.Default = meddler.PostgreSQL
	meddler.Register("bigint", BigIntMeddler{})
	meddler.Register("bigintnull", BigIntNullMeddler{})
	meddler.Register("utctime", UTCTimeMeddler{})
}

// migrations of the schema, embedded in the binary
var migrations = &migrate.PackrMigrationSource{
	Box: packr.New("zkrollup-migrations", "./migrations"),
}

// InitSQLDB runs the migrations and returns the postgres connection
func InitSQLDB(url string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", url)
	if err != nil {
		return nil, common.Wrap(fmt.Errorf("can not connect to database: %w", err))
	}
	if err := MigrationsUp(db.DB); err != nil {
		return nil, common.Wrap(err)
	}
	return db, nil
}

// InitTestSQLDB connects to the test database, configured through the
// standard PG* environment variables, and runs the migrations
func InitTestSQLDB() (*sqlx.DB, error) {
	url := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		envOr("PGUSER", "hermez"),
		envOr("PGPASSWORD", "yourpasswordhere"),
		envOr("PGHOST", "localhost"),
		envOr("PGPORT", "5432"),
		envOr("PGDATABASE", "hermez"),
	)
	return InitSQLDB(url)
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// MigrationsUp applies all the pending migrations
func MigrationsUp(db *sql.DB) error {
	nMigrations, err := migrate.Exec(db, "postgres", migrations, migrate.Up)
	if err != nil {
		return common.Wrap(err)
	}
	if nMigrations > 0 {
		log.Infof("applied %d migrations", nMigrations)
	}
	return nil
}

// MigrationsDown reverts migrations to leave the last `nLeft` applied.
// Used by tests to wipe the schema.
func MigrationsDown(db *sql.DB, nLeft uint) error {
	nCurrent, err := migrate.ExecMax(db, "postgres", migrations, migrate.Down, 0)
	if err != nil {
		return common.Wrap(err)
	}
	log.Infof("reverted %d migrations, %d left", nCurrent, nLeft)
	return nil
}

// APIConnectionController is used to limit the SQL open connections used
// by the API handlers, so that API load can not starve the coordinator
type APIConnectionController struct {
	smphr   *semaphore.Weighted
	timeout time.Duration
}

// NewAPIConnectionController initializes an APIConnectionController
func NewAPIConnectionController(maxConnections int, timeout time.Duration) *APIConnectionController {
	return &APIConnectionController{
		smphr:   semaphore.NewWeighted(int64(maxConnections)),
		timeout: timeout,
	}
}

// Acquire reserves a connection slot, waiting up to the configured timeout
func (acc *APIConnectionController) Acquire() (context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(context.Background(), acc.timeout)
	if err := acc.smphr.Acquire(ctx, 1); err != nil {
		cancel()
		return nil, common.Wrap(err)
	}
	return cancel, nil
}

// Release frees a connection slot
func (acc *APIConnectionController) Release() {
	acc.smphr.Release(1)
}

// BigIntMeddler encodes or decodes a *big.Int field to or from a NUMERIC
// column represented as a decimal string
type BigIntMeddler struct{}

// PreRead is called before a Scan operation
func (b BigIntMeddler) PreRead(fieldAddr interface{}) (interface{}, error) {
	return new(string), nil
}

// PostRead is called after a Scan operation
func (b BigIntMeddler) PostRead(fieldPtr, scanTarget interface{}) error {
	ptr := scanTarget.(*string)
	if ptr == nil {
		return common.Wrap(fmt.Errorf("BigIntMeddler.PostRead: nil pointer"))
	}
	field := fieldPtr.(**big.Int)
	var ok bool
	*field, ok = new(big.Int).SetString(*ptr, 10)
	if !ok {
		return common.Wrap(fmt.Errorf("big.Int.SetString failed on %q", *ptr))
	}
	return nil
}

// PreWrite is called before an Insert or Update operation
func (b BigIntMeddler) PreWrite(field interface{}) (interface{}, error) {
	bi, ok := field.(*big.Int)
	if !ok || bi == nil {
		return nil, common.Wrap(fmt.Errorf("BigIntMeddler.PreWrite: nil *big.Int"))
	}
	return bi.String(), nil
}

// BigIntNullMeddler is like BigIntMeddler but tolerates NULL columns and
// nil fields
type BigIntNullMeddler struct{}

// PreRead is called before a Scan operation
func (b BigIntNullMeddler) PreRead(fieldAddr interface{}) (interface{}, error) {
	return &sql.NullString{}, nil
}

// PostRead is called after a Scan operation
func (b BigIntNullMeddler) PostRead(fieldPtr, scanTarget interface{}) error {
	ns := scanTarget.(*sql.NullString)
	field := fieldPtr.(**big.Int)
	if !ns.Valid {
		*field = nil
		return nil
	}
	var ok bool
	*field, ok = new(big.Int).SetString(ns.String, 10)
	if !ok {
		return common.Wrap(fmt.Errorf("big.Int.SetString failed on %q", ns.String))
	}
	return nil
}

// PreWrite is called before an Insert or Update operation
func (b BigIntNullMeddler) PreWrite(field interface{}) (interface{}, error) {
	bi, ok := field.(*big.Int)
	if !ok || bi == nil {
		return nil, nil
	}
	return bi.String(), nil
}

// UTCTimeMeddler stores time.Time fields as UTC timestamps
type UTCTimeMeddler struct{}

// PreRead is called before a Scan operation
func (u UTCTimeMeddler) PreRead(fieldAddr interface{}) (interface{}, error) {
	return new(time.Time), nil
}

// PostRead is called after a Scan operation
func (u UTCTimeMeddler) PostRead(fieldPtr, scanTarget interface{}) error {
	t := scanTarget.(*time.Time)
	field := fieldPtr.(*time.Time)
	*field = t.UTC()
	return nil
}

// PreWrite is called before an Insert or Update operation
func (u UTCTimeMeddler) PreWrite(field interface{}) (interface{}, error) {
	t, ok := field.(time.Time)
	if !ok {
		return nil, common.Wrap(fmt.Errorf("UTCTimeMeddler.PreWrite: not a time.Time"))
	}
	return t.UTC(), nil
}
