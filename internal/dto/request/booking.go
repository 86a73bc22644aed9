package request

import (
	"net/url"

	"roadside-dispatch/internal/data/entity"
)

type LocationRequest struct {
	Lng *float64 `json:"lng" validate:"required,longitude"`
	Lat *float64 `json:"lat" validate:"required,latitude"`
}

type CreateBookingRequest struct {
	// UserID lets an admin book on behalf of a requester. Everyone else books for themselves.
	UserID             *string          `json:"userId,omitempty" validate:"omitempty,uuid"`
	GarageID           *string          `json:"garageId,omitempty" validate:"omitempty,uuid"`
	VehicleType        string           `json:"vehicleType" validate:"required,max=50"`
	ProblemDescription string           `json:"problemDescription" validate:"required,min=5,max=2000"`
	Address            *string          `json:"address,omitempty" validate:"omitempty,max=255"`
	Location           *LocationRequest `json:"location" validate:"required"`
	Notes              *string          `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

// AssignGarageRequest dispatches a booking that found no garage at creation.
type AssignGarageRequest struct {
	GarageID string `json:"garageId" validate:"required,uuid"`
}

type BillItemRequest struct {
	Description string  `json:"description" validate:"required,max=255"`
	Quantity    int     `json:"quantity" validate:"required,gt=0"`
	UnitPrice   float64 `json:"unitPrice" validate:"gte=0"`
}

type UpdateStatusRequest struct {
	Status        string            `json:"status" validate:"required"`
	Notes         *string           `json:"notes,omitempty" validate:"omitempty,max=1000"`
	EstimatedCost *float64          `json:"estimatedCost,omitempty" validate:"omitempty,gte=0"`
	BillItems     []BillItemRequest `json:"billItems,omitempty" validate:"omitempty,dive"`
}

func (r *UpdateStatusRequest) Items() []entity.BillItem {
	if len(r.BillItems) == 0 {
		return nil
	}
	items := make([]entity.BillItem, len(r.BillItems))
	for i, item := range r.BillItems {
		items[i] = entity.BillItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		}
	}
	return items
}

// ListBookingsRequest is the GET /bookings query.
type ListBookingsRequest struct {
	UserID string `validate:"required,uuid"`
	Role   string `validate:"omitempty,oneof=user garage mechanic admin"`
	PaginatedRequest
}

func ListBookingsFromQuery(q url.Values) *ListBookingsRequest {
	return &ListBookingsRequest{
		UserID:           q.Get("userId"),
		Role:             q.Get("role"),
		PaginatedRequest: PaginationFromQuery(q),
	}
}
