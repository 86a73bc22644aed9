package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roadside-dispatch/internal/data/entity"
	"roadside-dispatch/pkg/database"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type PaymentRepository interface {
	Create(ctx context.Context, payment *entity.Payment) error
	FindByTransactionID(ctx context.Context, transactionID string) (*entity.Payment, error)

	// MarkSuccess and MarkFailed only move a pending payment; the first
	// writer wins and later callers get false.
	MarkSuccess(ctx context.Context, transactionID string, validationID, method *string, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, transactionID string, validationID *string, reason string, now time.Time) (bool, error)
}

type paymentRepository struct {
	db  database.Querier
	log *zap.Logger
}

func NewPaymentRepository(db database.Querier, log *zap.Logger) PaymentRepository {
	return &paymentRepository{
		db:  db,
		log: log.With(zap.String("repository", "payment")),
	}
}

func (r *paymentRepository) Create(ctx context.Context, payment *entity.Payment) error {
	query := `
		INSERT INTO payments (id, booking_id, user_id, transaction_id, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Exec(ctx, query,
		payment.ID,
		payment.BookingID,
		payment.UserID,
		payment.TransactionID,
		payment.Amount,
		payment.Currency,
		payment.Status,
		payment.CreatedAt,
		payment.UpdatedAt,
	)

	if err != nil {
		r.log.Error("Failed to create payment",
			zap.Error(err),
			zap.String("booking_id", payment.BookingID.String()),
			zap.String("transaction_id", payment.TransactionID),
		)
		return fmt.Errorf("create payment %s: %w", payment.TransactionID, err)
	}

	return nil
}

func (r *paymentRepository) FindByTransactionID(ctx context.Context, transactionID string) (*entity.Payment, error) {
	query := `
		SELECT id, booking_id, user_id, transaction_id, amount, currency, status,
		       validation_id, method, error_message, paid_at, created_at, updated_at
		FROM payments
		WHERE transaction_id = $1
	`

	var payment entity.Payment
	err := r.db.QueryRow(ctx, query, transactionID).Scan(
		&payment.ID,
		&payment.BookingID,
		&payment.UserID,
		&payment.TransactionID,
		&payment.Amount,
		&payment.Currency,
		&payment.Status,
		&payment.ValidationID,
		&payment.Method,
		&payment.ErrorMessage,
		&payment.PaidAt,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find payment by transaction ID",
			zap.Error(err),
			zap.String("transaction_id", transactionID),
		)
		return nil, fmt.Errorf("find payment by transaction ID %s: %w", transactionID, err)
	}

	return &payment, nil
}

func (r *paymentRepository) MarkSuccess(ctx context.Context, transactionID string, validationID, method *string, now time.Time) (bool, error) {
	query := `
		UPDATE payments
		SET status = 'success', validation_id = $2, method = $3, paid_at = $4, updated_at = $4
		WHERE transaction_id = $1 AND status = 'pending'
	`

	result, err := r.db.Exec(ctx, query, transactionID, validationID, method, now)
	if err != nil {
		r.log.Error("Failed to mark payment success",
			zap.Error(err),
			zap.String("transaction_id", transactionID),
		)
		return false, fmt.Errorf("mark payment %s success: %w", transactionID, err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *paymentRepository) MarkFailed(ctx context.Context, transactionID string, validationID *string, reason string, now time.Time) (bool, error) {
	query := `
		UPDATE payments
		SET status = 'failed', validation_id = COALESCE($2, validation_id), error_message = $3, updated_at = $4
		WHERE transaction_id = $1 AND status = 'pending'
	`

	result, err := r.db.Exec(ctx, query, transactionID, validationID, reason, now)
	if err != nil {
		r.log.Error("Failed to mark payment failed",
			zap.Error(err),
			zap.String("transaction_id", transactionID),
		)
		return false, fmt.Errorf("mark payment %s failed: %w", transactionID, err)
	}

	return result.RowsAffected() == 1, nil
}
