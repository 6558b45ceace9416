package database

import (
	"context"
	"database/sql"
	"errors"
)

// ErrCommit wraps a failed COMMIT.  When it is returned the transaction
// may or may not have been applied by the server.
var ErrCommit = errors.New("commit failed")

// WithTx begins a transaction, runs fn with it and commits when fn
// returns nil.  The transaction is rolled back when fn returns an error
// or panics; panics are rethrown.  A commit error is wrapped with
// ErrCommit so callers can tell it apart from a rolled back attempt.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	if cerr := tx.Commit(); cerr != nil {
		committed = true // Rollback after a failed Commit is a no-op
		return errors.Join(ErrCommit, cerr)
	}
	committed = true
	return nil
}
