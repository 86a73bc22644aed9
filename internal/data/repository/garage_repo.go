package repository

import (
	"context"
	"errors"
	"fmt"

	"roadside-dispatch/internal/data/entity"
	"roadside-dispatch/pkg/database"
	"roadside-dispatch/pkg/geo"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type GarageRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Garage, error)
	FindByOwnerID(ctx context.Context, ownerID uuid.UUID) (*entity.Garage, error)
	// FindActiveInBox is an index-backed prefilter; callers still check the exact radius.
	FindActiveInBox(ctx context.Context, box geo.Box) ([]*entity.Garage, error)
	IncrementCompletedJobs(ctx context.Context, id uuid.UUID) error
}

type garageRepository struct {
	db  database.Querier
	log *zap.Logger
}

func NewGarageRepository(db database.Querier, log *zap.Logger) GarageRepository {
	return &garageRepository{
		db:  db,
		log: log.With(zap.String("repository", "garage")),
	}
}

const garageColumns = `id, owner_id, name, phone, address, lat, lng, is_active, completed_jobs, created_at, updated_at`

func scanGarage(row pgx.Row) (*entity.Garage, error) {
	var garage entity.Garage
	err := row.Scan(
		&garage.ID,
		&garage.OwnerID,
		&garage.Name,
		&garage.Phone,
		&garage.Address,
		&garage.Location.Lat,
		&garage.Location.Lng,
		&garage.IsActive,
		&garage.CompletedJobs,
		&garage.CreatedAt,
		&garage.UpdatedAt,
	)
	return &garage, err
}

func (r *garageRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Garage, error) {
	query := `SELECT ` + garageColumns + ` FROM garages WHERE id = $1`

	garage, err := scanGarage(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find garage by ID",
			zap.Error(err),
			zap.String("garage_id", id.String()),
		)
		return nil, fmt.Errorf("find garage by ID %s: %w", id, err)
	}

	return garage, nil
}

func (r *garageRepository) FindByOwnerID(ctx context.Context, ownerID uuid.UUID) (*entity.Garage, error) {
	query := `SELECT ` + garageColumns + ` FROM garages WHERE owner_id = $1 ORDER BY created_at LIMIT 1`

	garage, err := scanGarage(r.db.QueryRow(ctx, query, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find garage by owner",
			zap.Error(err),
			zap.String("owner_id", ownerID.String()),
		)
		return nil, fmt.Errorf("find garage by owner %s: %w", ownerID, err)
	}

	return garage, nil
}

func (r *garageRepository) FindActiveInBox(ctx context.Context, box geo.Box) ([]*entity.Garage, error) {
	// a box crossing the antimeridian wraps, so the longitude test becomes an OR
	lngClause := `lng BETWEEN $3 AND $4`
	if box.CrossesAntimeridian() {
		lngClause = `(lng >= $3 OR lng <= $4)`
	}

	query := `
		SELECT ` + garageColumns + `
		FROM garages
		WHERE is_active = true
		  AND lat BETWEEN $1 AND $2
		  AND ` + lngClause

	rows, err := r.db.Query(ctx, query, box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)
	if err != nil {
		r.log.Error("Failed to query garages in box",
			zap.Error(err),
			zap.Float64("min_lat", box.MinLat),
			zap.Float64("max_lat", box.MaxLat),
		)
		return nil, fmt.Errorf("find active garages in box: %w", err)
	}
	defer rows.Close()

	var garages []*entity.Garage
	for rows.Next() {
		garage, err := scanGarage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan garage: %w", err)
		}
		garages = append(garages, garage)
	}

	return garages, rows.Err()
}

func (r *garageRepository) IncrementCompletedJobs(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE garages
		SET completed_jobs = completed_jobs + 1, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		r.log.Error("Failed to increment completed jobs",
			zap.Error(err),
			zap.String("garage_id", id.String()),
		)
		return fmt.Errorf("increment completed jobs for garage %s: %w", id, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("garage %s not found", id)
	}

	return nil
}
