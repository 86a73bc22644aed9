package repository

import (
	"context"
	"errors"
	"fmt"

	"roadside-dispatch/internal/data/entity"
	"roadside-dispatch/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type IntegrationRepository interface {
	FindActiveByOwner(ctx context.Context, ownerType entity.RecipientType, ownerID uuid.UUID) (*entity.Integration, error)
	// AppendLog stores entry and evicts everything but the newest keep entries.
	AppendLog(ctx context.Context, entry *entity.DeliveryLog, keep int) error
	ListLogs(ctx context.Context, integrationID uuid.UUID) ([]*entity.DeliveryLog, error)
}

type integrationRepository struct {
	db  database.Querier
	log *zap.Logger
}

func NewIntegrationRepository(db database.Querier, log *zap.Logger) IntegrationRepository {
	return &integrationRepository{
		db:  db,
		log: log.With(zap.String("repository", "integration")),
	}
}

func (r *integrationRepository) FindActiveByOwner(ctx context.Context, ownerType entity.RecipientType, ownerID uuid.UUID) (*entity.Integration, error) {
	query := `
		SELECT id, owner_type, owner_id, webhook_url, secret, payload_format, is_active, created_at, updated_at
		FROM integrations
		WHERE owner_type = $1 AND owner_id = $2 AND is_active = true
	`

	var in entity.Integration
	err := r.db.QueryRow(ctx, query, ownerType, ownerID).Scan(
		&in.ID,
		&in.OwnerType,
		&in.OwnerID,
		&in.WebhookURL,
		&in.Secret,
		&in.PayloadFormat,
		&in.IsActive,
		&in.CreatedAt,
		&in.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find integration",
			zap.Error(err),
			zap.String("owner_type", string(ownerType)),
			zap.String("owner_id", ownerID.String()),
		)
		return nil, fmt.Errorf("find integration for %s %s: %w", ownerType, ownerID, err)
	}

	return &in, nil
}

func (r *integrationRepository) AppendLog(ctx context.Context, entry *entity.DeliveryLog, keep int) error {
	insert := `
		INSERT INTO integration_delivery_logs
		    (integration_id, event, status_code, latency_ms, success, response_excerpt, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err := r.db.QueryRow(ctx, insert,
		entry.IntegrationID,
		entry.Event,
		entry.StatusCode,
		entry.LatencyMS,
		entry.Success,
		entry.ResponseExcerpt,
		entry.Error,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		r.log.Error("Failed to append delivery log",
			zap.Error(err),
			zap.String("integration_id", entry.IntegrationID.String()),
		)
		return fmt.Errorf("append delivery log for %s: %w", entry.IntegrationID, err)
	}

	trim := `
		DELETE FROM integration_delivery_logs
		WHERE integration_id = $1
		  AND id NOT IN (
		      SELECT id FROM integration_delivery_logs
		      WHERE integration_id = $1
		      ORDER BY id DESC
		      LIMIT $2
		  )
	`

	if _, err := r.db.Exec(ctx, trim, entry.IntegrationID, keep); err != nil {
		r.log.Error("Failed to trim delivery log",
			zap.Error(err),
			zap.String("integration_id", entry.IntegrationID.String()),
		)
		return fmt.Errorf("trim delivery log for %s: %w", entry.IntegrationID, err)
	}

	return nil
}

func (r *integrationRepository) ListLogs(ctx context.Context, integrationID uuid.UUID) ([]*entity.DeliveryLog, error) {
	query := `
		SELECT id, integration_id, event, status_code, latency_ms, success,
		       COALESCE(response_excerpt, ''), COALESCE(error, ''), created_at
		FROM integration_delivery_logs
		WHERE integration_id = $1
		ORDER BY id DESC
	`

	rows, err := r.db.Query(ctx, query, integrationID)
	if err != nil {
		r.log.Error("Failed to list delivery logs", zap.Error(err))
		return nil, fmt.Errorf("list delivery logs for %s: %w", integrationID, err)
	}
	defer rows.Close()

	var logs []*entity.DeliveryLog
	for rows.Next() {
		var l entity.DeliveryLog
		if err := rows.Scan(
			&l.ID,
			&l.IntegrationID,
			&l.Event,
			&l.StatusCode,
			&l.LatencyMS,
			&l.Success,
			&l.ResponseExcerpt,
			&l.Error,
			&l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery log: %w", err)
		}
		logs = append(logs, &l)
	}

	return logs, rows.Err()
}
