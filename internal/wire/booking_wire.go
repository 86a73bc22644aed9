package wire

import (
	"roadside-dispatch/internal/adaptor"
	"roadside-dispatch/internal/data/entity"
	"roadside-dispatch/internal/data/repository"
	"roadside-dispatch/pkg/middleware"
	"roadside-dispatch/pkg/ratelimit"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type otpLimits struct {
	generate *ratelimit.Limiter
	verify   *ratelimit.Limiter
}

func wireBooking(
	r chi.Router,
	handler *adaptor.Handler,
	repo *repository.Repository,
	limits otpLimits,
	log *zap.Logger,
) {
	r.Route("/bookings", func(r chi.Router) {
		wirePayment(r, handler.Payment)

		// ==================== PROTECTED ROUTES (require auth) ====================
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthSession(repo.Session, repo.User, log))
			wireBookingRoutes(r, handler, limits, log)
		})
	})
}

func wireBookingRoutes(r chi.Router, handler *adaptor.Handler, limits otpLimits, log *zap.Logger) {
	bookings := handler.Booking
	otp := handler.OTP

	r.Post("/", bookings.CreateBooking)
	r.Get("/", bookings.ListBookings)
	r.Get("/nearby-garages", bookings.NearbyGarages)

	// Mechanic job board
	r.With(middleware.RequireRole(log, entity.RoleMechanic, entity.RoleAdmin)).
		Get("/open-jobs", bookings.ListOpenJobs)

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", bookings.GetBooking)
		r.With(middleware.RequireRole(log, entity.RoleMechanic)).
			Post("/accept", bookings.AcceptJob)
		r.With(middleware.RequireRole(log, entity.RoleAdmin)).
			Post("/assign-garage", bookings.AssignGarage)
		r.Patch("/status", bookings.UpdateStatus)

		r.With(middleware.RateLimit(limits.generate, middleware.BookingActionKey("otp_generate"), log)).
			Post("/otp/generate", otp.Generate)
		r.With(middleware.RateLimit(limits.verify, middleware.BookingActionKey("otp_verify"), log)).
			Post("/otp/verify", otp.Verify)

		r.Post("/payment/init", handler.Payment.Initiate)
		r.Post("/payment/confirm", bookings.ConfirmPayment)
	})
}
