package repository

import (
	"context"

	"roadside-dispatch/pkg/database"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type Repository struct {
	User         UserRepository
	Session      SessionRepository
	Garage       GarageRepository
	Booking      BookingRepository
	OTP          OTPRepository
	Payment      PaymentRepository
	Integration  IntegrationRepository
	Notification NotificationRepository

	runInTx func(ctx context.Context, fn func(tx *Repository) error) error
}

func NewRepository(db database.PgxIface, log *zap.Logger) *Repository {
	repo := newRepository(db, log)
	repo.runInTx = func(ctx context.Context, fn func(tx *Repository) error) error {
		return database.WithTx(ctx, db, func(tx pgx.Tx) error {
			return fn(newRepository(tx, log))
		})
	}
	return repo
}

func newRepository(q database.Querier, log *zap.Logger) *Repository {
	return &Repository{
		User:         NewUserRepository(q, log),
		Session:      NewSessionRepository(q, log),
		Garage:       NewGarageRepository(q, log),
		Booking:      NewBookingRepository(q, log),
		OTP:          NewOTPRepository(q, log),
		Payment:      NewPaymentRepository(q, log),
		Integration:  NewIntegrationRepository(q, log),
		Notification: NewNotificationRepository(q, log),
	}
}

// WithTx runs fn with repositories bound to one transaction. A Repository
// assembled by hand (tests) runs fn directly against itself.
func (r *Repository) WithTx(ctx context.Context, fn func(tx *Repository) error) error {
	if r.runInTx == nil {
		return fn(r)
	}
	return r.runInTx(ctx, fn)
}
