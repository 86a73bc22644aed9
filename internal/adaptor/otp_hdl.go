package adaptor

import (
	"net/http"

	"roadside-dispatch/internal/dto/request"
	"roadside-dispatch/internal/usecase"
	"roadside-dispatch/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type OTPHandler struct {
	service usecase.OTPService
	log     *zap.Logger
}

func NewOTPHandler(service usecase.OTPService, log *zap.Logger) *OTPHandler {
	return &OTPHandler{
		service: service,
		log:     log.With(zap.String("handler", "otp")),
	}
}

// Generate handles POST /bookings/{id}/otp/generate
func (h *OTPHandler) Generate(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}

	var req request.GenerateOTPRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	otp, err := h.service.Generate(r.Context(), actor, chi.URLParam(r, "id"), &req)
	if err != nil {
		handleServiceError(w, h.log, err, "generate otp")
		return
	}

	utils.ResponseSuccess(w, "Code sent to the customer", otp)
}

// Verify handles POST /bookings/{id}/otp/verify
func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}

	var req request.VerifyOTPRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	result, err := h.service.Verify(r.Context(), actor, chi.URLParam(r, "id"), &req)
	if err != nil {
		handleServiceError(w, h.log, err, "verify otp")
		return
	}

	utils.ResponseSuccess(w, "Code verified", result)
}
