package response

import (
	"time"

	"roadside-dispatch/internal/data/entity"
)

// OTPGenerateResponse deliberately carries no code; the requester receives it in-app.
type OTPGenerateResponse struct {
	BookingID string          `json:"bookingId"`
	Type      entity.OTPPhase `json:"type"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

type OTPVerifyResponse struct {
	BookingID string               `json:"bookingId"`
	Type      entity.OTPPhase      `json:"type"`
	Verified  bool                 `json:"verified"`
	Status    entity.BookingStatus `json:"status"`
}

// OTPVerifyFailure is attached to a failed verification.
type OTPVerifyFailure struct {
	AttemptsRemaining int  `json:"attemptsRemaining"`
	Locked            bool `json:"locked"`
}
