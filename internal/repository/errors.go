// Package repository holds the SQL access layer.  Sentinel errors below
// let the service and handlers tell expected misses and conflicts apart
// from storage failures.
package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a booking lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrCitizenNotFound is returned by the citizen directory for unknown ids.
var ErrCitizenNotFound = errors.New("citizen not found")

// ErrConflict signals a unique constraint violation, for example a
// second booking carrying an idempotency key the citizen already used.
var ErrConflict = errors.New("conflict")

// ErrSlotContention means the lazy creation of a slot counter kept losing
// to concurrent creators.  The enclosing transaction should be rolled
// back and retried.
var ErrSlotContention = errors.New("slot counter contention")

// MySQL server error numbers we branch on.
const (
	mysqlDuplicateEntry  = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// DBTX is the subset of database/sql used by read helpers.  Both *sql.DB
// and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// IsDuplicateKey reports a unique or primary key violation.  The message
// check covers the SQLite driver used by tests.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDuplicateEntry
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsRetryable reports errors after which the server has rolled the
// transaction back, so running it again cannot double apply anything.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSlotContention) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDeadlock || me.Number == mysqlLockWaitTimeout
	}
	return false
}
