package response

import (
	"time"

	"roadside-dispatch/internal/data/entity"
)

type LocationResponse struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// OTPStateResponse exposes an OTP record without its code.
type OTPStateResponse struct {
	ExpiresAt  time.Time  `json:"expiresAt"`
	Verified   bool       `json:"verified"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
	Attempts   int        `json:"attempts"`
}

type PaymentDetailsResponse struct {
	TransactionID *string    `json:"transactionId,omitempty"`
	Amount        *float64   `json:"amount,omitempty"`
	Method        *string    `json:"method,omitempty"`
	SubmittedAt   *time.Time `json:"submittedAt,omitempty"`
}

type BookingResponse struct {
	ID                 string                 `json:"id"`
	BookingNumber      string                 `json:"bookingNumber"`
	UserID             string                 `json:"userId"`
	GarageID           *string                `json:"garageId"`
	AssignedMechanicID *string                `json:"assignedMechanicId"`
	Status             entity.BookingStatus   `json:"status"`
	VehicleType        string                 `json:"vehicleType"`
	ProblemDescription string                 `json:"problemDescription"`
	Address            *string                `json:"address,omitempty"`
	Location           LocationResponse       `json:"location"`
	Notes              *string                `json:"notes,omitempty"`
	EstimatedCost      *float64               `json:"estimatedCost,omitempty"`
	ActualCost         *float64               `json:"actualCost,omitempty"`
	BillItems          []entity.BillItem      `json:"billItems"`
	PaymentDetails     PaymentDetailsResponse `json:"paymentDetails"`
	IsPaymentSubmitted bool                   `json:"isPaymentSubmitted"`
	IsPaymentApproved  bool                   `json:"isPaymentApproved"`
	IsPaid             bool                   `json:"isPaid"`
	StartOTP           *OTPStateResponse      `json:"startOtp,omitempty"`
	CompletionOTP      *OTPStateResponse      `json:"completionOtp,omitempty"`
	// DistanceKm is set when the garage was auto-dispatched.
	DistanceKm  *float64   `json:"distanceKm,omitempty"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Helper converters
func BookingToResponse(b *entity.Booking) BookingResponse {
	resp := BookingResponse{
		ID:                 b.ID.String(),
		BookingNumber:      b.BookingNumber,
		UserID:             b.UserID.String(),
		Status:             b.Status,
		VehicleType:        b.VehicleType,
		ProblemDescription: b.ProblemDescription,
		Address:            b.Address,
		Location:           LocationResponse{Lng: b.Location.Lng, Lat: b.Location.Lat},
		Notes:              b.Notes,
		EstimatedCost:      b.EstimatedCost,
		ActualCost:         b.ActualCost,
		BillItems:          b.BillItems,
		PaymentDetails: PaymentDetailsResponse{
			TransactionID: b.Payment.TransactionID,
			Amount:        b.Payment.Amount,
			Method:        b.Payment.Method,
			SubmittedAt:   b.Payment.SubmittedAt,
		},
		IsPaymentSubmitted: b.IsPaymentSubmitted,
		IsPaymentApproved:  b.IsPaymentApproved,
		IsPaid:             b.IsPaid,
		StartOTP:           otpState(b.StartOTP),
		CompletionOTP:      otpState(b.CompletionOTP),
		ConfirmedAt:        b.ConfirmedAt,
		StartedAt:          b.StartedAt,
		CompletedAt:        b.CompletedAt,
		CancelledAt:        b.CancelledAt,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
	}

	if b.GarageID != nil {
		id := b.GarageID.String()
		resp.GarageID = &id
	}
	if b.AssignedMechanicID != nil {
		id := b.AssignedMechanicID.String()
		resp.AssignedMechanicID = &id
	}
	if resp.BillItems == nil {
		resp.BillItems = []entity.BillItem{}
	}

	return resp
}

func BookingsToResponse(bookings []*entity.Booking) []BookingResponse {
	out := make([]BookingResponse, len(bookings))
	for i, b := range bookings {
		out[i] = BookingToResponse(b)
	}
	return out
}

func otpState(otp *entity.BookingOTP) *OTPStateResponse {
	if otp == nil {
		return nil
	}
	return &OTPStateResponse{
		ExpiresAt:  otp.ExpiresAt,
		Verified:   otp.Verified,
		VerifiedAt: otp.VerifiedAt,
		Attempts:   otp.Attempts,
	}
}

type GarageMatchResponse struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Location       LocationResponse `json:"location"`
	DistanceMeters float64          `json:"distanceMeters"`
	DistanceKm     float64          `json:"distanceKm"`
}

func GarageMatchToResponse(m entity.GarageMatch) GarageMatchResponse {
	return GarageMatchResponse{
		ID:             m.Garage.ID.String(),
		Name:           m.Garage.Name,
		Location:       LocationResponse{Lng: m.Garage.Location.Lng, Lat: m.Garage.Location.Lat},
		DistanceMeters: m.DistanceMeters,
		DistanceKm:     m.DistanceKm,
	}
}
