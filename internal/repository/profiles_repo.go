package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"storeops-hvac/internal/domain"
)

// ProfilesRepository reads policy profiles.
type ProfilesRepository interface {
	GetProfile(ctx context.Context, profileID string) (*domain.Profile, error)
}

// PostgresProfilesRepository implements ProfilesRepository over the
// profiles table.
type PostgresProfilesRepository struct {
	db *sql.DB
}

// NewPostgresProfilesRepository creates the profiles repository.
func NewPostgresProfilesRepository(db *sql.DB) *PostgresProfilesRepository {
	return &PostgresProfilesRepository{db: db}
}

var _ ProfilesRepository = (*PostgresProfilesRepository)(nil)

// GetProfile fetches one profile. Returns (nil, nil) when absent; a zone
// pointing at a deleted profile falls back to its own override fields.
func (r *PostgresProfilesRepository) GetProfile(ctx context.Context, profileID string) (*domain.Profile, error) {
	var p domain.Profile
	var features sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT profile_id, org_id, profile_name, is_global,
			occupied_heat_f, occupied_cool_f, unoccupied_heat_f, unoccupied_cool_f,
			occupied_hvac_mode, occupied_fan_mode, unoccupied_hvac_mode, unoccupied_fan_mode,
			features
		FROM profiles WHERE profile_id = $1`,
		profileID,
	).Scan(
		&p.ProfileID, &p.OrgID, &p.ProfileName, &p.IsGlobal,
		&p.OccupiedHeatF, &p.OccupiedCoolF, &p.UnoccupiedHeatF, &p.UnoccupiedCoolF,
		&p.OccupiedMode, &p.OccupiedFan, &p.UnoccupiedMode, &p.UnoccupiedFan,
		&features,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if features.Valid && features.String != "" {
		if err := json.Unmarshal([]byte(features.String), &p.Features); err != nil {
			return nil, fmt.Errorf("failed to unmarshal profile features: %w", err)
		}
	}
	p.Features = p.Features.Normalize()
	return &p, nil
}
