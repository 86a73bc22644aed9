package entity

import (
	"time"

	"github.com/google/uuid"
)

type OTPPhase string

const (
	OTPPhaseStart      OTPPhase = "start"
	OTPPhaseCompletion OTPPhase = "completion"
)

func (p OTPPhase) Valid() bool {
	return p == OTPPhaseStart || p == OTPPhaseCompletion
}

// TargetStatus is the booking status a verified code of this phase unlocks.
func (p OTPPhase) TargetStatus() BookingStatus {
	if p == OTPPhaseCompletion {
		return BookingStatusCompleted
	}
	return BookingStatusInProgress
}

// BookingOTP gates one phase of a booking. Only the bcrypt hash of the code is stored.
type BookingOTP struct {
	BookingID  uuid.UUID  `db:"booking_id"`
	Phase      OTPPhase   `db:"phase"`
	CodeHash   string     `db:"code_hash"`
	ExpiresAt  time.Time  `db:"expires_at"`
	Verified   bool       `db:"verified"`
	VerifiedAt *time.Time `db:"verified_at"`
	Attempts   int        `db:"attempts"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

func (o *BookingOTP) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// Locked reports whether the attempt cap has been reached.
func (o *BookingOTP) Locked(maxAttempts int) bool {
	return !o.Verified && o.Attempts >= maxAttempts
}

func (o *BookingOTP) Remaining(maxAttempts int) int {
	return max(0, maxAttempts-o.Attempts)
}
