package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/ration-booking/internal/model"
)

// ReasonFull is the ReserveResult reason when a slot has no room left.
const ReasonFull = "FULL"

// SlotRepo is the slot registry.  It owns the slot_counters table and is
// the only writer of reserved_count.
type SlotRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewSlotRepo returns a new SlotRepo bound to the given database.
func NewSlotRepo(db *sql.DB) *SlotRepo {
	return &SlotRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// DB exposes the underlying handle so callers can open transactions that
// span the registry and the booking store.
func (r *SlotRepo) DB() *sql.DB { return r.db }

// ReserveResult is the outcome of TryReserveTx.  ReservedCount and
// Capacity describe the counter as seen by the attempt.
type ReserveResult struct {
	OK            bool
	Reason        string
	ReservedCount int
	Capacity      int
}

const (
	reserveSQL = `UPDATE slot_counters SET reserved_count = reserved_count + 1, updated_at = ? WHERE slot_key = ? AND reserved_count < capacity`
	counterSQL = `SELECT reserved_count, capacity FROM slot_counters WHERE slot_key = ?`
	createSQL  = `INSERT INTO slot_counters (slot_key, shop_code, slot_date, slot_index, reserved_count, capacity, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
)

// TryReserveTx takes one place in the slot identified by key inside tx.
//
// The increment is a single conditional UPDATE, so the storage engine's
// row lock orders concurrent attempts on the same key and the ceiling is
// checked against the latest committed count.  A missing counter is
// created with reserved_count = 1; if another transaction creates it
// first the insert fails with a duplicate key and the UPDATE runs once
// more.  capacity applies only when the counter is created; afterwards
// the stored capacity is authoritative.  Values below 1 fall back to
// model.DefaultSlotCapacity.
//
// A full slot is reported through the result, not as an error.  Errors
// are storage failures and the caller must roll tx back.
func (r *SlotRepo) TryReserveTx(ctx context.Context, tx *sql.Tx, key model.SlotKey, capacity int) (ReserveResult, error) {
	if capacity < 1 {
		capacity = model.DefaultSlotCapacity
	}
	k := key.String()
	for attempt := 0; attempt < 2; attempt++ {
		now := r.now()
		res, err := tx.ExecContext(ctx, reserveSQL, now, k)
		if err != nil {
			return ReserveResult{}, fmt.Errorf("reserve %s: %w", k, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return ReserveResult{}, fmt.Errorf("reserve %s: %w", k, err)
		}

		reserved, stored, err := readCounter(ctx, tx, k)
		switch {
		case n == 1 && err == nil:
			return ReserveResult{OK: true, ReservedCount: reserved, Capacity: stored}, nil
		case n == 1:
			return ReserveResult{}, fmt.Errorf("read counter %s: %w", k, err)
		case err == nil:
			return ReserveResult{OK: false, Reason: ReasonFull, ReservedCount: reserved, Capacity: stored}, nil
		case !errors.Is(err, sql.ErrNoRows):
			return ReserveResult{}, fmt.Errorf("read counter %s: %w", k, err)
		}

		// first booking for this key
		_, err = tx.ExecContext(ctx, createSQL, k, key.ShopCode, key.Date, key.Index, 1, capacity, now, now)
		if err == nil {
			return ReserveResult{OK: true, ReservedCount: 1, Capacity: capacity}, nil
		}
		if !IsDuplicateKey(err) {
			return ReserveResult{}, fmt.Errorf("create counter %s: %w", k, err)
		}
	}
	return ReserveResult{}, fmt.Errorf("%s: %w", k, ErrSlotContention)
}

func readCounter(ctx context.Context, q DBTX, key string) (reserved, capacity int, err error) {
	err = q.QueryRowContext(ctx, counterSQL, key).Scan(&reserved, &capacity)
	return reserved, capacity, err
}

// GetCounts returns reserved counts for keys.  Keys without a counter
// map to 0.  The read is advisory; TryReserveTx alone decides.
func (r *SlotRepo) GetCounts(ctx context.Context, keys []model.SlotKey) (map[string]int, error) {
	counters, err := r.GetCounters(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(keys))
	for _, k := range keys {
		out[k.String()] = 0
	}
	for _, c := range counters {
		out[c.Key] = c.ReservedCount
	}
	return out, nil
}

const counterColumns = `slot_key, shop_code, slot_date, slot_index, reserved_count, capacity, updated_at`

// GetCounters loads the stored counters among keys.  Keys that were never
// reserved are simply absent from the result.
func (r *SlotRepo) GetCounters(ctx context.Context, keys []model.SlotKey) ([]model.SlotCounter, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(keys))
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		placeholders[i] = "?"
		args[i] = k.String()
	}
	q := `SELECT ` + counterColumns + ` FROM slot_counters WHERE slot_key IN (` + strings.Join(placeholders, ", ") + `) ORDER BY slot_index`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCounters(rows)
}

// SlotFilter narrows ListCounters.  Empty fields do not filter.
type SlotFilter struct {
	ShopCode string
	Date     string
	Limit    int
}

// ListCounters returns stored counters ordered by date, shop and slot.
func (r *SlotRepo) ListCounters(ctx context.Context, f SlotFilter) ([]model.SlotCounter, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.ShopCode != "" {
		where = append(where, "shop_code = ?")
		args = append(args, f.ShopCode)
	}
	if f.Date != "" {
		where = append(where, "slot_date = ?")
		args = append(args, f.Date)
	}
	q := `SELECT ` + counterColumns + ` FROM slot_counters`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY slot_date, shop_code, slot_index`
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	q += ` LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCounters(rows)
}

func scanCounters(rows *sql.Rows) ([]model.SlotCounter, error) {
	var out []model.SlotCounter
	for rows.Next() {
		var c model.SlotCounter
		if err := rows.Scan(&c.Key, &c.ShopCode, &c.Date, &c.SlotIndex, &c.ReservedCount, &c.Capacity, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.TimeSlot = model.SlotLabel(c.SlotIndex)
		out = append(out, c)
	}
	return out, rows.Err()
}
