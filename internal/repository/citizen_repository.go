package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/ration-booking/internal/model"
)

// CitizenRepo reads the citizen directory.  Profiles and entitlements are
// maintained by the card management system; this service never writes
// them.
type CitizenRepo struct {
	db *sql.DB
}

// NewCitizenRepo returns a new CitizenRepo bound to the given database.
func NewCitizenRepo(db *sql.DB) *CitizenRepo { return &CitizenRepo{db: db} }

// GetCitizen loads a profile with its raw (not normalized) entitlement.
func (r *CitizenRepo) GetCitizen(ctx context.Context, id string) (*model.Citizen, error) {
	const q = `SELECT id, name, shop_code, district, card_type FROM citizens WHERE id = ?`
	var c model.Citizen
	err := r.db.QueryRowContext(ctx, q, id).Scan(&c.ID, &c.Name, &c.ShopCode, &c.District, &c.CardType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCitizenNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT item_name, quantity, unit FROM citizen_entitlements WHERE citizen_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	c.Entitlement = model.Entitlement{}
	for rows.Next() {
		var (
			name string
			a    model.Allotment
		)
		if err := rows.Scan(&name, &a.Quantity, &a.Unit); err != nil {
			return nil, err
		}
		c.Entitlement[name] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &c, nil
}
