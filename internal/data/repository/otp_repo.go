package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roadside-dispatch/internal/data/entity"
	"roadside-dispatch/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type OTPRepository interface {
	// Upsert replaces the code for the phase unless it is already verified.
	// It reports false when a verified record blocked the write.
	Upsert(ctx context.Context, otp *entity.BookingOTP) (bool, error)
	Find(ctx context.Context, bookingID uuid.UUID, phase entity.OTPPhase) (*entity.BookingOTP, error)
	FindByBooking(ctx context.Context, bookingID uuid.UUID) ([]*entity.BookingOTP, error)

	// RegisterFailedAttempt bumps attempts by one while the record still holds
	// codeHash, is unverified and below maxAttempts. ok is false when the guard
	// failed (locked, verified or regenerated meanwhile).
	RegisterFailedAttempt(ctx context.Context, bookingID uuid.UUID, phase entity.OTPPhase, codeHash string, maxAttempts int) (attempts int, ok bool, err error)
	// MarkVerified flips verified under the same guard plus expiry.
	MarkVerified(ctx context.Context, bookingID uuid.UUID, phase entity.OTPPhase, codeHash string, maxAttempts int, now time.Time) (bool, error)
}

type otpRepository struct {
	db  database.Querier
	log *zap.Logger
}

func NewOTPRepository(db database.Querier, log *zap.Logger) OTPRepository {
	return &otpRepository{
		db:  db,
		log: log.With(zap.String("repository", "otp")),
	}
}

const otpColumns = `booking_id, phase, code_hash, expires_at, verified, verified_at, attempts, created_at, updated_at`

func scanOTP(row pgx.Row) (*entity.BookingOTP, error) {
	var otp entity.BookingOTP
	err := row.Scan(
		&otp.BookingID,
		&otp.Phase,
		&otp.CodeHash,
		&otp.ExpiresAt,
		&otp.Verified,
		&otp.VerifiedAt,
		&otp.Attempts,
		&otp.CreatedAt,
		&otp.UpdatedAt,
	)
	return &otp, err
}

func (r *otpRepository) Upsert(ctx context.Context, otp *entity.BookingOTP) (bool, error) {
	query := `
		INSERT INTO booking_otps (booking_id, phase, code_hash, expires_at, verified, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, false, 0, $5, $5)
		ON CONFLICT (booking_id, phase) DO UPDATE
		SET code_hash   = EXCLUDED.code_hash,
		    expires_at  = EXCLUDED.expires_at,
		    verified_at = NULL,
		    attempts    = 0,
		    updated_at  = EXCLUDED.updated_at
		WHERE booking_otps.verified = false
	`

	result, err := r.db.Exec(ctx, query,
		otp.BookingID,
		otp.Phase,
		otp.CodeHash,
		otp.ExpiresAt,
		otp.CreatedAt,
	)
	if err != nil {
		r.log.Error("Failed to upsert OTP",
			zap.Error(err),
			zap.String("booking_id", otp.BookingID.String()),
			zap.String("phase", string(otp.Phase)),
		)
		return false, fmt.Errorf("upsert %s OTP for booking %s: %w", otp.Phase, otp.BookingID, err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *otpRepository) Find(ctx context.Context, bookingID uuid.UUID, phase entity.OTPPhase) (*entity.BookingOTP, error) {
	query := `SELECT ` + otpColumns + ` FROM booking_otps WHERE booking_id = $1 AND phase = $2`

	otp, err := scanOTP(r.db.QueryRow(ctx, query, bookingID, phase))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find OTP",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
			zap.String("phase", string(phase)),
		)
		return nil, fmt.Errorf("find %s OTP for booking %s: %w", phase, bookingID, err)
	}

	return otp, nil
}

func (r *otpRepository) FindByBooking(ctx context.Context, bookingID uuid.UUID) ([]*entity.BookingOTP, error) {
	query := `SELECT ` + otpColumns + ` FROM booking_otps WHERE booking_id = $1`

	rows, err := r.db.Query(ctx, query, bookingID)
	if err != nil {
		r.log.Error("Failed to list OTPs", zap.Error(err), zap.String("booking_id", bookingID.String()))
		return nil, fmt.Errorf("list OTPs for booking %s: %w", bookingID, err)
	}
	defer rows.Close()

	var otps []*entity.BookingOTP
	for rows.Next() {
		otp, err := scanOTP(rows)
		if err != nil {
			return nil, fmt.Errorf("scan OTP: %w", err)
		}
		otps = append(otps, otp)
	}

	return otps, rows.Err()
}

func (r *otpRepository) RegisterFailedAttempt(ctx context.Context, bookingID uuid.UUID, phase entity.OTPPhase, codeHash string, maxAttempts int) (int, bool, error) {
	query := `
		UPDATE booking_otps
		SET attempts = attempts + 1, updated_at = NOW()
		WHERE booking_id = $1
		  AND phase = $2
		  AND code_hash = $3
		  AND verified = false
		  AND attempts < $4
		RETURNING attempts
	`

	var attempts int
	err := r.db.QueryRow(ctx, query, bookingID, phase, codeHash, maxAttempts).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		r.log.Error("Failed to register OTP attempt",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
			zap.String("phase", string(phase)),
		)
		return 0, false, fmt.Errorf("register %s OTP attempt for booking %s: %w", phase, bookingID, err)
	}

	return attempts, true, nil
}

func (r *otpRepository) MarkVerified(ctx context.Context, bookingID uuid.UUID, phase entity.OTPPhase, codeHash string, maxAttempts int, now time.Time) (bool, error) {
	query := `
		UPDATE booking_otps
		SET verified = true, verified_at = $5, updated_at = $5
		WHERE booking_id = $1
		  AND phase = $2
		  AND code_hash = $3
		  AND verified = false
		  AND attempts < $4
		  AND expires_at > $5
	`

	result, err := r.db.Exec(ctx, query, bookingID, phase, codeHash, maxAttempts, now)
	if err != nil {
		r.log.Error("Failed to mark OTP verified",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
			zap.String("phase", string(phase)),
		)
		return false, fmt.Errorf("mark %s OTP verified for booking %s: %w", phase, bookingID, err)
	}

	return result.RowsAffected() == 1, nil
}
