package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/ration-booking/internal/model"
)

// BookingRepo persists bookings and their item lines.  Bookings are
// always addressed through their owning citizen.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, citizen_id, shop_code, slot_key, booking_date, slot_index, time_slot, payment_method, payment_status, total_amount, status, verification_payload, verify_url, transaction_id, created_at`

// CreateTx inserts b inside tx.  idempotencyKey may be empty.  A repeated
// (citizen, idempotency key) pair yields ErrConflict.  Items are written
// separately with CreateItemsBulkTx.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking, idempotencyKey string) error {
	const q = `INSERT INTO bookings (` + bookingColumns + `, idempotency_key) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var idem interface{}
	if idempotencyKey != "" {
		idem = idempotencyKey
	}
	_, err := tx.ExecContext(ctx, q,
		b.ID, b.CitizenID, b.ShopCode, b.SlotKey, b.Date, b.SlotIndex, b.TimeSlot,
		b.PaymentMethod, b.PaymentStatus, b.TotalAmount, b.Status,
		b.VerificationPayload, b.VerifyURL, b.TransactionID, b.CreatedAt, idem,
	)
	if IsDuplicateKey(err) {
		return ErrConflict
	}
	return err
}

// CreateItemsBulkTx inserts all item lines of a booking in one
// statement, numbering them in slice order.  An empty slice is a no-op.
func (r *BookingRepo) CreateItemsBulkTx(ctx context.Context, tx *sql.Tx, bookingID string, items []model.BookingItem) error {
	if len(items) == 0 {
		return nil
	}
	query := `INSERT INTO booking_items (booking_id, position, name, quantity, unit, unit_price) VALUES `
	args := make([]interface{}, 0, len(items)*6)
	for i, it := range items {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?)"
		args = append(args, bookingID, i, it.Name, it.Quantity, it.Unit, it.UnitPrice)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// GetForCitizen loads a booking with its items.  ErrNotFound is returned
// when the id does not exist or belongs to another citizen.
func (r *BookingRepo) GetForCitizen(ctx context.Context, citizenID, bookingID string) (*model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ? AND citizen_id = ?`
	return getBooking(ctx, r.db, q, bookingID, citizenID)
}

// FindByIdempotencyKeyTx returns the booking a citizen created earlier
// with key, or ErrNotFound.
func (r *BookingRepo) FindByIdempotencyKeyTx(ctx context.Context, tx *sql.Tx, citizenID, key string) (*model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE citizen_id = ? AND idempotency_key = ?`
	return getBooking(ctx, tx, q, citizenID, key)
}

// FindByIdempotencyKey is FindByIdempotencyKeyTx outside a transaction.
func (r *BookingRepo) FindByIdempotencyKey(ctx context.Context, citizenID, key string) (*model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE citizen_id = ? AND idempotency_key = ?`
	return getBooking(ctx, r.db, q, citizenID, key)
}

func getBooking(ctx context.Context, q DBTX, query string, args ...interface{}) (*model.Booking, error) {
	var (
		b     model.Booking
		txnID sql.NullString
	)
	err := q.QueryRowContext(ctx, query, args...).Scan(
		&b.ID, &b.CitizenID, &b.ShopCode, &b.SlotKey, &b.Date, &b.SlotIndex, &b.TimeSlot,
		&b.PaymentMethod, &b.PaymentStatus, &b.TotalAmount, &b.Status,
		&b.VerificationPayload, &b.VerifyURL, &txnID, &b.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if txnID.Valid {
		s := txnID.String
		b.TransactionID = &s
	}
	items, err := itemsFor(ctx, q, b.ID)
	if err != nil {
		return nil, fmt.Errorf("items of %s: %w", b.ID, err)
	}
	b.Items = items
	return &b, nil
}

func itemsFor(ctx context.Context, q DBTX, bookingID string) ([]model.BookingItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name, quantity, unit, unit_price FROM booking_items WHERE booking_id = ? ORDER BY position`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []model.BookingItem{}
	for rows.Next() {
		var it model.BookingItem
		if err := rows.Scan(&it.Name, &it.Quantity, &it.Unit, &it.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
