// Package dbtest opens throwaway SQLite databases carrying the real
// schema so repository and service tests run without a MySQL server.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/iliyamo/ration-booking/internal/database"
	"github.com/iliyamo/ration-booking/internal/model"
)

// Open returns a migrated SQLite database in a per-test directory.  The
// pool is limited to one connection, so whole transactions run one after
// another.  Tests that need the atomicity of a single statement must pin
// the SQL with sqlmock instead.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ration.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(context.Background(), db, "sqlite3", nil))
	return db
}

// SeedCitizen inserts c and its entitlement rows.
func SeedCitizen(t *testing.T, db *sql.DB, c model.Citizen) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO citizens (id, name, shop_code, district, card_type) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.ShopCode, c.District, c.CardType)
	require.NoError(t, err)
	for name, a := range c.Entitlement {
		_, err := db.Exec(`INSERT INTO citizen_entitlements (citizen_id, item_name, quantity, unit) VALUES (?, ?, ?, ?)`,
			c.ID, name, a.Quantity, a.Unit)
		require.NoError(t, err)
	}
}

// SeedCounter writes a slot counter row directly.
func SeedCounter(t *testing.T, db *sql.DB, key model.SlotKey, reserved, capacity int) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO slot_counters (slot_key, shop_code, slot_date, slot_index, reserved_count, capacity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		key.String(), key.ShopCode, key.Date, key.Index, reserved, capacity)
	require.NoError(t, err)
}

// ReservedCount reads the counter for key, zero when absent.
func ReservedCount(t *testing.T, db *sql.DB, key model.SlotKey) int {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT reserved_count FROM slot_counters WHERE slot_key = ?`, key.String()).Scan(&n)
	if err == sql.ErrNoRows {
		return 0
	}
	require.NoError(t, err)
	return n
}

// CountBookings counts booking rows for key.
func CountBookings(t *testing.T, db *sql.DB, key model.SlotKey) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM bookings WHERE slot_key = ?`, key.String()).Scan(&n))
	return n
}
