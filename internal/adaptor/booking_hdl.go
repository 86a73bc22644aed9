package adaptor

import (
	"net/http"
	"strconv"

	"roadside-dispatch/internal/dto/request"
	"roadside-dispatch/internal/usecase"
	"roadside-dispatch/pkg/geo"
	"roadside-dispatch/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type BookingHandler struct {
	service usecase.BookingService
	log     *zap.Logger
}

func NewBookingHandler(service usecase.BookingService, log *zap.Logger) *BookingHandler {
	return &BookingHandler{
		service: service,
		log:     log.With(zap.String("handler", "booking")),
	}
}

// CreateBooking handles POST /bookings
func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}

	var req request.CreateBookingRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	booking, err := h.service.CreateBooking(r.Context(), actor, &req)
	if err != nil {
		handleServiceError(w, h.log, err, "create booking")
		return
	}

	utils.ResponseCreated(w, "Booking created", booking)
}

// ListBookings handles GET /bookings?userId=&role=&page=&per_page=
func (h *BookingHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}

	bookings, err := h.service.ListBookings(r.Context(), actor, request.ListBookingsFromQuery(r.URL.Query()))
	if err != nil {
		handleServiceError(w, h.log, err, "list bookings")
		return
	}

	utils.ResponseSuccess(w, "success", bookings)
}

// NearbyGarages handles GET /bookings/nearby-garages?lng=&lat=&radius=
func (h *BookingHandler) NearbyGarages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	lng, lngErr := strconv.ParseFloat(query.Get("lng"), 64)
	lat, latErr := strconv.ParseFloat(query.Get("lat"), 64)
	if lngErr != nil || latErr != nil {
		utils.ResponseBadRequest(w, "lng and lat query parameters are required", nil)
		return
	}

	radius := 0.0
	if raw := query.Get("radius"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			utils.ResponseBadRequest(w, "radius must be a positive number of meters", nil)
			return
		}
		radius = parsed
	}

	garages, err := h.service.NearbyGarages(r.Context(), geo.Point{Lng: lng, Lat: lat}, radius)
	if err != nil {
		handleServiceError(w, h.log, err, "find nearby garages")
		return
	}

	utils.ResponseSuccess(w, "success", garages)
}

// ListOpenJobs handles GET /bookings/open-jobs (mechanics)
func (h *BookingHandler) ListOpenJobs(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}

	req := request.PaginationFromQuery(r.URL.Query())
	jobs, err := h.service.ListOpenJobs(r.Context(), actor, &req)
	if err != nil {
		handleServiceError(w, h.log, err, "list open jobs")
		return
	}

	utils.ResponseSuccess(w, "success", jobs)
}

// GetBooking handles GET /bookings/{id}
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}

	booking, err := h.service.GetBooking(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, h.log, err, "get booking")
		return
	}

	utils.ResponseSuccess(w, "success", booking)
}

// AcceptJob handles POST /bookings/{id}/accept (mechanics)
func (h *BookingHandler) AcceptJob(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}

	booking, err := h.service.AcceptJob(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, h.log, err, "accept job")
		return
	}

	utils.ResponseSuccess(w, "Job accepted", booking)
}

// AssignGarage handles POST /bookings/{id}/assign-garage
func (h *BookingHandler) AssignGarage(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}

	var req request.AssignGarageRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	booking, err := h.service.AssignGarage(r.Context(), actor, chi.URLParam(r, "id"), &req)
	if err != nil {
		handleServiceError(w, h.log, err, "assign garage")
		return
	}

	utils.ResponseSuccess(w, "Garage assigned", booking)
}

// UpdateStatus handles PATCH /bookings/{id}/status
func (h *BookingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}

	var req request.UpdateStatusRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	booking, err := h.service.UpdateStatus(r.Context(), actor, chi.URLParam(r, "id"), &req)
	if err != nil {
		handleServiceError(w, h.log, err, "update booking status")
		return
	}

	utils.ResponseSuccess(w, "Booking status updated", booking)
}

// ConfirmPayment handles POST /bookings/{id}/payment/confirm
func (h *BookingHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}

	booking, err := h.service.ConfirmPayment(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, h.log, err, "confirm payment")
		return
	}

	utils.ResponseSuccess(w, "Payment confirmed", booking)
}
