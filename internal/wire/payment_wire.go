package wire

import (
	"roadside-dispatch/internal/adaptor"

	"github.com/go-chi/chi/v5"
)

// wirePayment mounts the gateway callbacks under /bookings. They carry no
// session; every callback is validated server-side against the gateway instead.
func wirePayment(r chi.Router, paymentHandler *adaptor.PaymentHandler) {
	// ==================== PUBLIC ROUTES (gateway) ====================
	r.Route("/payment", func(r chi.Router) {
		r.Post("/ipn", paymentHandler.IPN)
		r.Post("/success", paymentHandler.Success)
		r.Post("/fail", paymentHandler.Fail)
		r.Post("/cancel", paymentHandler.Cancel)
	})
}
