package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stowbox/rental-backend/internal/models"
)

// BoxRepository handles box and location lookups
type BoxRepository struct {
	db *sqlx.DB
}

// NewBoxRepository creates a new BoxRepository
func NewBoxRepository(db *sqlx.DB) *BoxRepository {
	return &BoxRepository{db: db}
}

// GetBoxByID retrieves a box with its location and distributor, returning nil if not found
func (r *BoxRepository) GetBoxByID(ctx context.Context, id uuid.UUID) (*models.Box, error) {
	var box models.Box
	query := `
		SELECT b.id, b.stand_id, s.location_id, l.distributor_user_id, b.model, b.status, b.created_at
		FROM boxes b
		JOIN stands s ON s.id = b.stand_id
		JOIN locations l ON l.id = s.location_id
		WHERE b.id = $1`

	err := r.db.GetContext(ctx, &box, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get box: %w", err)
	}

	return &box, nil
}

// ListActiveBoxIDs returns the ids of active boxes of a model at a location
func (r *BoxRepository) ListActiveBoxIDs(ctx context.Context, locationID uuid.UUID, model models.BoxModel) ([]uuid.UUID, error) {
	ids := []uuid.UUID{}
	query := `
		SELECT b.id
		FROM boxes b
		JOIN stands s ON s.id = b.stand_id
		WHERE s.location_id = $1 AND b.model = $2 AND b.status = $3
		ORDER BY b.id`

	err := r.db.SelectContext(ctx, &ids, query, locationID, model, models.BoxStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list boxes: %w", err)
	}

	return ids, nil
}

// GetLocationByID retrieves a location, returning nil if not found
func (r *BoxRepository) GetLocationByID(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	var location models.Location
	err := r.db.GetContext(ctx, &location, `SELECT id, name, address, distributor_user_id, created_at FROM locations WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get location: %w", err)
	}
	return &location, nil
}
