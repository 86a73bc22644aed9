package usecase

import (
	"roadside-dispatch/internal/data/repository"
	"roadside-dispatch/internal/gateway"
	"roadside-dispatch/internal/webhook"
	"roadside-dispatch/pkg/lock"
	"roadside-dispatch/pkg/metrics"
	"roadside-dispatch/pkg/utils"

	"go.uber.org/zap"
)

type Service struct {
	Matcher GarageMatcher
	Booking BookingService
	OTP     OTPService
	Payment PaymentService
}

// Dependencies are the collaborators the services share. Emitter, Locker and
// Metrics may be left nil.
type Dependencies struct {
	Repo    *repository.Repository
	Config  *utils.Config
	Emitter webhook.Emitter
	Gateway gateway.Gateway
	Locker  lock.Locker
	Metrics *metrics.Metrics
}

func NewService(deps Dependencies, log *zap.Logger) *Service {
	if deps.Locker == nil {
		deps.Locker = lock.NewLocalLocker()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop()
	}

	notifier := newNotifier(deps.Repo, deps.Emitter, log)
	matcher := NewGarageMatcher(deps.Repo.Garage, deps.Config.Dispatch, log)

	return &Service{
		Matcher: matcher,
		Booking: NewBookingService(deps.Repo, matcher, notifier, deps.Metrics, log),
		OTP:     NewOTPService(deps.Repo, deps.Config.OTP, notifier, deps.Metrics, log),
		Payment: NewPaymentService(deps.Repo, deps.Gateway, deps.Locker, deps.Config.Gateway, notifier, deps.Metrics, log),
	}
}
