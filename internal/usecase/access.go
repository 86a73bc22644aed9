package usecase

import (
	"context"
	"errors"

	"roadside-dispatch/internal/data/entity"
	"roadside-dispatch/internal/data/repository"
	"roadside-dispatch/pkg/apperror"

	"github.com/google/uuid"
)

// party is how an actor relates to one booking.
type party int

const (
	partyNone party = iota
	partyRequester
	partyGarageOwner
	// partyGarageStaff is a mechanic of the booking's garage who is not assigned to it.
	partyGarageStaff
	partyMechanic
	partyAdmin
)

// servicer reports whether p works the job on the garage side.
func (p party) servicer() bool {
	return p == partyGarageOwner || p == partyMechanic
}

var errStaleBooking = apperror.Conflict("booking was changed by someone else, reload and try again")

func resolveParty(ctx context.Context, garages repository.GarageRepository, actor entity.Actor, b *entity.Booking) (party, error) {
	switch {
	case actor.IsAdmin():
		return partyAdmin, nil
	case actor.UserID == b.UserID:
		return partyRequester, nil
	}

	switch actor.Role {
	case entity.RoleMechanic:
		if b.AssignedMechanicID != nil && *b.AssignedMechanicID == actor.UserID {
			return partyMechanic, nil
		}
		if actor.BelongsToGarage(b.GarageID) {
			return partyGarageStaff, nil
		}
	case entity.RoleGarage:
		if b.GarageID == nil {
			return partyNone, nil
		}
		garage, err := garages.FindByID(ctx, *b.GarageID)
		if err != nil {
			return partyNone, apperror.Internal("resolve booking garage", err)
		}
		if garage != nil && garage.OwnerID == actor.UserID {
			return partyGarageOwner, nil
		}
	}

	return partyNone, nil
}

func loadBooking(ctx context.Context, bookings repository.BookingRepository, id string) (*entity.Booking, error) {
	bookingID, err := uuid.Parse(id)
	if err != nil {
		return nil, apperror.Validation("invalid booking id %q", id)
	}

	booking, err := bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, apperror.Internal("find booking", err)
	}
	if booking == nil {
		return nil, apperror.NotFound("booking %s not found", id)
	}

	return booking, nil
}

// attachOTPs loads the phase records onto b for display.
func attachOTPs(ctx context.Context, otps repository.OTPRepository, b *entity.Booking) error {
	records, err := otps.FindByBooking(ctx, b.ID)
	if err != nil {
		return apperror.Internal("load booking codes", err)
	}
	for _, otp := range records {
		switch otp.Phase {
		case entity.OTPPhaseStart:
			b.StartOTP = otp
		case entity.OTPPhaseCompletion:
			b.CompletionOTP = otp
		}
	}
	return nil
}

// advanceBooking persists an in-memory transition of b if the stored status is
// still expected. Reaching completed also bumps the garage's job counter, so
// callers run it inside a transaction.
func advanceBooking(ctx context.Context, tx *repository.Repository, b *entity.Booking, expected entity.BookingStatus) error {
	saved, err := tx.Booking.Save(ctx, b, expected)
	if err != nil {
		return err
	}
	if !saved {
		return errStaleBooking
	}

	if b.Status == entity.BookingStatusCompleted && expected != entity.BookingStatusCompleted && b.GarageID != nil {
		if err := tx.Garage.IncrementCompletedJobs(ctx, *b.GarageID); err != nil {
			return err
		}
	}
	return nil
}

// asAppError passes domain errors through and wraps everything else as internal.
func asAppError(message string, err error) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperror.Internal(message, err)
}
