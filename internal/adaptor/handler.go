package adaptor

import (
	"net/http"

	"roadside-dispatch/internal/data/entity"
	"roadside-dispatch/internal/usecase"
	"roadside-dispatch/pkg/apperror"
	"roadside-dispatch/pkg/middleware"
	"roadside-dispatch/pkg/utils"

	"go.uber.org/zap"
)

type Handler struct {
	Booking *BookingHandler
	OTP     *OTPHandler
	Payment *PaymentHandler
}

func NewHandler(service *usecase.Service, config *utils.Config, log *zap.Logger) *Handler {
	return &Handler{
		Booking: NewBookingHandler(service.Booking, log),
		OTP:     NewOTPHandler(service.OTP, log),
		Payment: NewPaymentHandler(service.Payment, config.App.FrontendURL, log),
	}
}

// handleServiceError maps a service error to its HTTP response. Only internal
// errors are logged at error level; the rest are the caller's fault.
func handleServiceError(w http.ResponseWriter, log *zap.Logger, err error, operation string) {
	appErr, ok := apperror.As(err)
	if !ok {
		appErr = apperror.Internal(operation, err)
	}

	if appErr.Kind == apperror.KindInternal {
		log.Error("Failed to "+operation,
			zap.Error(err),
			zap.String("operation", operation))
	} else {
		log.Warn(operation+" rejected",
			zap.String("kind", appErr.Kind.String()),
			zap.String("reason", appErr.Message),
			zap.String("operation", operation))
	}

	utils.ResponseAppError(w, appErr)
}

// actorOrReject pulls the authenticated caller or answers 401.
func actorOrReject(w http.ResponseWriter, r *http.Request) (entity.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		utils.ResponseUnauthorized(w, "Authentication required")
	}
	return actor, ok
}
