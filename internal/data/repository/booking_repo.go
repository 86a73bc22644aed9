package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"roadside-dispatch/internal/data/entity"
	"roadside-dispatch/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// BookingFilter narrows List/Count. Nil fields are ignored.
type BookingFilter struct {
	UserID     *uuid.UUID
	GarageID   *uuid.UUID
	MechanicID *uuid.UUID
	// OpenOnly keeps unassigned, non-terminal bookings (the mechanic job board).
	OpenOnly bool
}

type BookingRepository interface {
	Create(ctx context.Context, booking *entity.Booking) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Booking, error)
	// FindByIDForUpdate row-locks the booking until the surrounding
	// transaction ends. Outside a transaction it behaves like FindByID.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Booking, error)
	List(ctx context.Context, filter BookingFilter, limit, offset int) ([]*entity.Booking, error)
	Count(ctx context.Context, filter BookingFilter) (int64, error)

	// AssignMechanic sets the mechanic only while none is assigned and the
	// booking is open. It reports false when another caller got there first.
	AssignMechanic(ctx context.Context, bookingID, mechanicID uuid.UUID, now time.Time) (bool, error)
	// AssignGarage dispatches a pending booking that has no garage yet and
	// confirms it. It reports false when the booking was already dispatched
	// or has moved on.
	AssignGarage(ctx context.Context, bookingID, garageID uuid.UUID, now time.Time) (bool, error)
	// Save writes the mutable fields of booking only if the stored status still
	// equals expected. It reports false when the row moved on.
	Save(ctx context.Context, booking *entity.Booking, expected entity.BookingStatus) (bool, error)
}

type bookingRepository struct {
	db  database.Querier
	log *zap.Logger
}

func NewBookingRepository(db database.Querier, log *zap.Logger) BookingRepository {
	return &bookingRepository{
		db:  db,
		log: log.With(zap.String("repository", "booking")),
	}
}

const bookingColumns = `
	id, booking_number, user_id, garage_id, assigned_mechanic_id, status,
	vehicle_type, problem_description, address, lat, lng, notes,
	estimated_cost, actual_cost, bill_items,
	payment_transaction_id, payment_amount, payment_method, payment_submitted_at,
	is_payment_submitted, is_payment_approved, is_paid,
	confirmed_at, started_at, completed_at, cancelled_at, created_at, updated_at`

func scanBooking(row pgx.Row) (*entity.Booking, error) {
	var b entity.Booking
	err := row.Scan(
		&b.ID,
		&b.BookingNumber,
		&b.UserID,
		&b.GarageID,
		&b.AssignedMechanicID,
		&b.Status,
		&b.VehicleType,
		&b.ProblemDescription,
		&b.Address,
		&b.Location.Lat,
		&b.Location.Lng,
		&b.Notes,
		&b.EstimatedCost,
		&b.ActualCost,
		&b.BillItems,
		&b.Payment.TransactionID,
		&b.Payment.Amount,
		&b.Payment.Method,
		&b.Payment.SubmittedAt,
		&b.IsPaymentSubmitted,
		&b.IsPaymentApproved,
		&b.IsPaid,
		&b.ConfirmedAt,
		&b.StartedAt,
		&b.CompletedAt,
		&b.CancelledAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	return &b, err
}

func billItems(b *entity.Booking) []entity.BillItem {
	if b.BillItems == nil {
		return []entity.BillItem{}
	}
	return b.BillItems
}

func (r *bookingRepository) Create(ctx context.Context, booking *entity.Booking) error {
	query := `
		INSERT INTO bookings (id, booking_number, user_id, garage_id, status,
		                      vehicle_type, problem_description, address, lat, lng, notes,
		                      bill_items, confirmed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.db.Exec(ctx, query,
		booking.ID,
		booking.BookingNumber,
		booking.UserID,
		booking.GarageID,
		booking.Status,
		booking.VehicleType,
		booking.ProblemDescription,
		booking.Address,
		booking.Location.Lat,
		booking.Location.Lng,
		booking.Notes,
		billItems(booking),
		booking.ConfirmedAt,
		booking.CreatedAt,
		booking.UpdatedAt,
	)

	if err != nil {
		r.log.Error("Failed to create booking",
			zap.Error(err),
			zap.String("booking_number", booking.BookingNumber),
			zap.String("user_id", booking.UserID.String()),
		)
		return fmt.Errorf("create booking %s: %w", booking.BookingNumber, err)
	}

	return nil
}

func (r *bookingRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	return r.findByID(ctx, id, "")
}

func (r *bookingRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	return r.findByID(ctx, id, " FOR UPDATE")
}

func (r *bookingRepository) findByID(ctx context.Context, id uuid.UUID, lock string) (*entity.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1` + lock

	booking, err := scanBooking(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find booking by ID",
			zap.Error(err),
			zap.String("booking_id", id.String()),
		)
		return nil, fmt.Errorf("find booking by ID %s: %w", id, err)
	}

	return booking, nil
}

func buildBookingWhere(filter BookingFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.GarageID != nil {
		add("garage_id = $%d", *filter.GarageID)
	}
	if filter.MechanicID != nil {
		add("assigned_mechanic_id = $%d", *filter.MechanicID)
	}
	if filter.OpenOnly {
		conds = append(conds, "assigned_mechanic_id IS NULL", "status NOT IN ('completed', 'cancelled')")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *bookingRepository) List(ctx context.Context, filter BookingFilter, limit, offset int) ([]*entity.Booking, error) {
	where, args := buildBookingWhere(filter)

	var queryBuilder strings.Builder
	queryBuilder.WriteString(`SELECT ` + bookingColumns + ` FROM bookings`)
	queryBuilder.WriteString(where)
	fmt.Fprintf(&queryBuilder, " ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, queryBuilder.String(), args...)
	if err != nil {
		r.log.Error("Failed to list bookings", zap.Error(err))
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*entity.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			r.log.Error("Failed to scan booking row", zap.Error(err))
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, booking)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}

	return bookings, nil
}

func (r *bookingRepository) Count(ctx context.Context, filter BookingFilter) (int64, error) {
	where, args := buildBookingWhere(filter)

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM bookings`+where, args...).Scan(&total); err != nil {
		r.log.Error("Failed to count bookings", zap.Error(err))
		return 0, fmt.Errorf("count bookings: %w", err)
	}

	return total, nil
}

func (r *bookingRepository) AssignMechanic(ctx context.Context, bookingID, mechanicID uuid.UUID, now time.Time) (bool, error) {
	// the CASE expressions read the pre-update status
	query := `
		UPDATE bookings
		SET assigned_mechanic_id = $2,
		    status       = CASE WHEN status = 'pending' THEN 'confirmed' ELSE status END,
		    confirmed_at = CASE WHEN status = 'pending' THEN COALESCE(confirmed_at, $3) ELSE confirmed_at END,
		    updated_at   = $3
		WHERE id = $1
		  AND assigned_mechanic_id IS NULL
		  AND status NOT IN ('completed', 'cancelled')
	`

	result, err := r.db.Exec(ctx, query, bookingID, mechanicID, now)
	if err != nil {
		r.log.Error("Failed to assign mechanic",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
			zap.String("mechanic_id", mechanicID.String()),
		)
		return false, fmt.Errorf("assign mechanic to booking %s: %w", bookingID, err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *bookingRepository) AssignGarage(ctx context.Context, bookingID, garageID uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE bookings
		SET garage_id = $2,
		    status = 'confirmed',
		    confirmed_at = COALESCE(confirmed_at, $3),
		    updated_at = $3
		WHERE id = $1
		  AND garage_id IS NULL
		  AND status = 'pending'
	`

	result, err := r.db.Exec(ctx, query, bookingID, garageID, now)
	if err != nil {
		r.log.Error("Failed to assign garage",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
			zap.String("garage_id", garageID.String()),
		)
		return false, fmt.Errorf("assign garage to booking %s: %w", bookingID, err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *bookingRepository) Save(ctx context.Context, b *entity.Booking, expected entity.BookingStatus) (bool, error) {
	query := `
		UPDATE bookings
		SET status = $2,
		    notes = $3,
		    estimated_cost = $4,
		    actual_cost = $5,
		    bill_items = $6,
		    payment_transaction_id = $7,
		    payment_amount = $8,
		    payment_method = $9,
		    payment_submitted_at = $10,
		    is_payment_submitted = $11,
		    is_payment_approved = $12,
		    is_paid = $13,
		    confirmed_at = COALESCE(confirmed_at, $14),
		    started_at   = COALESCE(started_at, $15),
		    completed_at = COALESCE(completed_at, $16),
		    cancelled_at = COALESCE(cancelled_at, $17),
		    updated_at = $18
		WHERE id = $1 AND status = $19
	`

	result, err := r.db.Exec(ctx, query,
		b.ID,
		b.Status,
		b.Notes,
		b.EstimatedCost,
		b.ActualCost,
		billItems(b),
		b.Payment.TransactionID,
		b.Payment.Amount,
		b.Payment.Method,
		b.Payment.SubmittedAt,
		b.IsPaymentSubmitted,
		b.IsPaymentApproved,
		b.IsPaid,
		b.ConfirmedAt,
		b.StartedAt,
		b.CompletedAt,
		b.CancelledAt,
		b.UpdatedAt,
		expected,
	)
	if err != nil {
		r.log.Error("Failed to save booking",
			zap.Error(err),
			zap.String("booking_id", b.ID.String()),
			zap.String("status", string(b.Status)),
		)
		return false, fmt.Errorf("save booking %s: %w", b.ID, err)
	}

	return result.RowsAffected() == 1, nil
}
