package adaptor

import (
	"net/http"
	"net/url"
	"strings"

	"roadside-dispatch/internal/dto/request"
	"roadside-dispatch/internal/usecase"
	"roadside-dispatch/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	service     usecase.PaymentService
	frontendURL string
	log         *zap.Logger
}

func NewPaymentHandler(service usecase.PaymentService, frontendURL string, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		service:     service,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		log:         log.With(zap.String("handler", "payment")),
	}
}

// Initiate handles POST /bookings/{id}/payment/init
func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}

	checkout, err := h.service.InitiatePayment(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, h.log, err, "initiate payment")
		return
	}

	utils.ResponseCreated(w, "Payment session created", checkout)
}

// IPN handles POST /bookings/payment/ipn. The gateway retries anything but a
// 200, so the answer is 200 whatever happened; failures are only logged.
func (h *PaymentHandler) IPN(w http.ResponseWriter, r *http.Request) {
	n, err := h.notification(r)
	if err != nil {
		h.log.Warn("Unreadable IPN body", zap.Error(err))
		utils.ResponseSuccess(w, "received", nil)
		return
	}

	result, err := h.service.HandleGatewayNotification(r.Context(), usecase.SourceIPN, n)
	if err != nil {
		h.log.Error("IPN processing failed",
			zap.Error(err),
			zap.String("transaction_id", n.TransactionID))
		utils.ResponseSuccess(w, "received", nil)
		return
	}

	utils.ResponseSuccess(w, "received", map[string]string{"outcome": string(result.Outcome)})
}

// Success handles the browser redirect to POST /bookings/payment/success
func (h *PaymentHandler) Success(w http.ResponseWriter, r *http.Request) {
	h.redirect(w, r, usecase.SourceRedirectSuccess)
}

// Fail handles the browser redirect to POST /bookings/payment/fail
func (h *PaymentHandler) Fail(w http.ResponseWriter, r *http.Request) {
	h.redirect(w, r, usecase.SourceRedirectFail)
}

// Cancel handles the browser redirect to POST /bookings/payment/cancel
func (h *PaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.redirect(w, r, usecase.SourceRedirectCancel)
}

// redirect reconciles the callback like an IPN, then sends the browser to the
// frontend page matching the outcome.
func (h *PaymentHandler) redirect(w http.ResponseWriter, r *http.Request, source usecase.NotificationSource) {
	page := "fail"
	query := url.Values{}

	n, err := h.notification(r)
	if err != nil {
		h.log.Warn("Unreadable payment redirect", zap.Error(err), zap.String("source", string(source)))
	} else {
		result, err := h.service.HandleGatewayNotification(r.Context(), source, n)
		switch {
		case err != nil:
			h.log.Error("Payment redirect processing failed",
				zap.Error(err),
				zap.String("source", string(source)),
				zap.String("transaction_id", n.TransactionID))
		case result.Paid():
			page = "success"
		case result.Outcome == usecase.OutcomeDeferred:
			page = "processing"
		}

		if err == nil && result.BookingID != nil {
			query.Set("booking", result.BookingID.String())
		}
		if n.TransactionID != "" {
			query.Set("tran_id", n.TransactionID)
		}
	}

	target := h.frontendURL + "/payment/" + page
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *PaymentHandler) notification(r *http.Request) (*request.GatewayNotification, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return request.GatewayNotificationFromForm(r.Form), nil
}
