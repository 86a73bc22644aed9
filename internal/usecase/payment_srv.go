package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"roadside-dispatch/internal/data/entity"
	"roadside-dispatch/internal/data/repository"
	"roadside-dispatch/internal/dto/request"
	"roadside-dispatch/internal/dto/response"
	"roadside-dispatch/internal/gateway"
	"roadside-dispatch/internal/webhook"
	"roadside-dispatch/pkg/apperror"
	"roadside-dispatch/pkg/lock"
	"roadside-dispatch/pkg/metrics"
	"roadside-dispatch/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotificationSource is the gateway channel a callback arrived on.
type NotificationSource string

const (
	SourceIPN             NotificationSource = "ipn"
	SourceRedirectSuccess NotificationSource = "redirect_success"
	SourceRedirectFail    NotificationSource = "redirect_fail"
	SourceRedirectCancel  NotificationSource = "redirect_cancel"
)

// Outcome says what reconciling one notification did.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeFailed             Outcome = "failed"
	OutcomeDuplicate          Outcome = "duplicate"
	OutcomeUnknownTransaction Outcome = "unknown_transaction"
	// OutcomeDeferred leaves the payment pending because the gateway could not
	// be asked; a later delivery settles it.
	OutcomeDeferred Outcome = "deferred"
)

type ReconcileResult struct {
	Outcome       Outcome
	TransactionID string
	BookingID     *uuid.UUID
	Status        entity.PaymentStatus
}

// Paid reports whether the payment ended up successful, now or earlier.
func (r *ReconcileResult) Paid() bool {
	return r.Status == entity.PaymentStatusSuccess
}

type PaymentService interface {
	InitiatePayment(ctx context.Context, actor entity.Actor, bookingID string) (*response.PaymentInitResponse, error)
	// HandleGatewayNotification is safe to call any number of times for the
	// same transaction; only the first decisive call has side effects.
	HandleGatewayNotification(ctx context.Context, source NotificationSource, n *request.GatewayNotification) (*ReconcileResult, error)
}

type paymentService struct {
	repo     *repository.Repository
	gateway  gateway.Gateway
	locker   lock.Locker
	cfg      utils.GatewayConfig
	notifier *notifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

func NewPaymentService(
	repo *repository.Repository,
	gw gateway.Gateway,
	locker lock.Locker,
	cfg utils.GatewayConfig,
	notifier *notifier,
	m *metrics.Metrics,
	log *zap.Logger,
) PaymentService {
	if cfg.Currency == "" {
		cfg.Currency = "BDT"
	}

	return &paymentService{
		repo:     repo,
		gateway:  gw,
		locker:   locker,
		cfg:      cfg,
		notifier: notifier,
		metrics:  m,
		log:      log.With(zap.String("service", "payment")),
		now:      time.Now,
	}
}

// ==================== CHECKOUT ====================

func (s *paymentService) InitiatePayment(ctx context.Context, actor entity.Actor, bookingID string) (*response.PaymentInitResponse, error) {
	booking, err := loadBooking(ctx, s.repo.Booking, bookingID)
	if err != nil {
		return nil, err
	}

	if booking.UserID != actor.UserID {
		return nil, apperror.Forbidden("only the requester can pay for this booking")
	}
	if booking.Status.Terminal() {
		return nil, apperror.Validation("booking is already %s", booking.Status)
	}
	if booking.IsPaid || booking.IsPaymentSubmitted {
		return nil, apperror.Conflict("a payment has already been submitted for this booking")
	}

	amount := booking.PayableAmount()
	if amount <= 0 {
		return nil, apperror.Validation("booking has no amount to pay yet")
	}

	requester, err := s.repo.User.FindByID(ctx, booking.UserID)
	if err != nil {
		return nil, apperror.Internal("load requester", err)
	}
	if requester == nil {
		return nil, apperror.NotFound("requester %s not found", booking.UserID)
	}

	now := s.now()
	payment := &entity.Payment{
		Base:          entity.NewBase(now),
		BookingID:     booking.ID,
		UserID:        booking.UserID,
		TransactionID: utils.GenerateTransactionID(),
		Amount:        amount,
		Currency:      s.cfg.Currency,
		Status:        entity.PaymentStatusPending,
	}
	if err := s.repo.Payment.Create(ctx, payment); err != nil {
		return nil, apperror.Internal("create payment", err)
	}

	base := strings.TrimRight(s.cfg.CallbackBaseURL, "/")
	phone := ""
	if requester.Phone != nil {
		phone = *requester.Phone
	}

	session, err := s.gateway.CreateSession(ctx, gateway.SessionRequest{
		TransactionID: payment.TransactionID,
		Amount:        amount,
		Currency:      payment.Currency,
		CustomerName:  requester.Name,
		CustomerEmail: requester.Email,
		CustomerPhone: phone,
		ProductName:   "Roadside service " + booking.BookingNumber,
		SuccessURL:    base + "/bookings/payment/success",
		FailURL:       base + "/bookings/payment/fail",
		CancelURL:     base + "/bookings/payment/cancel",
		IPNURL:        base + "/bookings/payment/ipn",
	})
	if err != nil {
		s.log.Error("Payment session failed",
			zap.Error(err),
			zap.String("transaction_id", payment.TransactionID),
			zap.String("booking_id", booking.ID.String()),
		)
		if _, markErr := s.repo.Payment.MarkFailed(ctx, payment.TransactionID, nil, utils.Truncate("session: "+err.Error(), 255), s.now()); markErr != nil {
			s.log.Error("Failed to mark abandoned payment", zap.Error(markErr), zap.String("transaction_id", payment.TransactionID))
		}
		return nil, apperror.Internal("payment gateway is unavailable, try again later", err)
	}

	s.log.Info("Payment initiated",
		zap.String("transaction_id", payment.TransactionID),
		zap.String("booking_id", booking.ID.String()),
		zap.Float64("amount", amount),
	)

	return &response.PaymentInitResponse{
		BookingID:     booking.ID.String(),
		TransactionID: payment.TransactionID,
		Amount:        amount,
		Currency:      payment.Currency,
		GatewayURL:    session.GatewayURL,
	}, nil
}

// ==================== RECONCILIATION ====================

func (s *paymentService) HandleGatewayNotification(ctx context.Context, source NotificationSource, n *request.GatewayNotification) (*ReconcileResult, error) {
	if errs := utils.ValidateStruct(n); len(errs) > 0 {
		return nil, apperror.Validation("missing transaction id").WithDetails(errs)
	}

	log := s.log.With(zap.String("transaction_id", n.TransactionID), zap.String("source", string(source)))
	result, err := s.reconcile(ctx, source, n, log)
	if err != nil {
		log.Error("Payment reconciliation failed", zap.Error(err))
		return nil, asAppError("reconcile payment", err)
	}

	s.metrics.RecordPaymentNotification(string(source), string(result.Outcome))
	log.Info("Payment notification handled",
		zap.String("outcome", string(result.Outcome)),
		zap.String("status", string(result.Status)),
	)
	return result, nil
}

func (s *paymentService) reconcile(ctx context.Context, source NotificationSource, n *request.GatewayNotification, log *zap.Logger) (*ReconcileResult, error) {
	payment, err := s.repo.Payment.FindByTransactionID(ctx, n.TransactionID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		// never create a payment from an untrusted callback
		log.Warn("Gateway notification for unknown transaction")
		return &ReconcileResult{Outcome: OutcomeUnknownTransaction, TransactionID: n.TransactionID}, nil
	}
	if payment.Status.Terminal() {
		return duplicate(payment), nil
	}

	unlock, err := s.locker.Lock(ctx, "payment:"+payment.TransactionID)
	if errors.Is(err, lock.ErrNotAcquired) {
		// another delivery holds the transaction and will settle it
		log.Info("Transaction busy, deferring notification")
		return resultFor(payment, OutcomeDeferred), nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock transaction: %w", err)
	}
	defer unlock()

	payment, err = s.repo.Payment.FindByTransactionID(ctx, n.TransactionID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return &ReconcileResult{Outcome: OutcomeUnknownTransaction, TransactionID: n.TransactionID}, nil
	}
	if payment.Status.Terminal() {
		return duplicate(payment), nil
	}

	verdict, err := s.validate(ctx, source, n, payment)
	if err != nil {
		log.Warn("Gateway validation unavailable, payment left pending", zap.Error(err))
		return resultFor(payment, OutcomeDeferred), nil
	}

	if verdict.ok {
		return s.settleSuccess(ctx, payment, verdict, log)
	}
	return s.settleFailure(ctx, payment, verdict, log)
}

type verdict struct {
	ok           bool
	validationID *string
	method       *string
	reason       string
}

// validate asks the gateway about the notification's val_id. The callback's own
// status only ever decides a failure; a success needs the gateway's word.
func (s *paymentService) validate(ctx context.Context, source NotificationSource, n *request.GatewayNotification, payment *entity.Payment) (verdict, error) {
	status := strings.ToUpper(strings.TrimSpace(n.Status))

	if n.ValidationID == "" || !gateway.IsValidStatus(status) {
		reason := "payment was not completed at the gateway"
		switch {
		case source == SourceRedirectCancel || status == "CANCELLED":
			reason = "payment was cancelled"
		case n.Error != "":
			reason = n.Error
		case status != "":
			reason = "gateway reported status " + status
		}
		return verdict{reason: reason}, nil
	}

	v, err := s.gateway.Validate(ctx, n.ValidationID)
	if err != nil {
		return verdict{}, err
	}

	validationID := n.ValidationID
	res := verdict{validationID: &validationID}
	if v.CardType != "" {
		method := v.CardType
		res.method = &method
	}

	if !v.Valid() {
		res.reason = "gateway validation status " + v.Status
		return res, nil
	}
	if v.TransactionID != payment.TransactionID {
		res.reason = "validated transaction does not match"
		return res, nil
	}
	amount, err := v.AmountValue()
	if err != nil || math.Abs(amount-payment.Amount) > 0.01 {
		res.reason = fmt.Sprintf("validated amount %s does not match %.2f", v.Amount, payment.Amount)
		return res, nil
	}

	res.ok = true
	return res, nil
}

func (s *paymentService) settleSuccess(ctx context.Context, payment *entity.Payment, v verdict, log *zap.Logger) (*ReconcileResult, error) {
	now := s.now()

	var (
		won     bool
		booking *entity.Booking
	)
	err := s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		var err error
		won, err = tx.Payment.MarkSuccess(ctx, payment.TransactionID, v.validationID, v.method, now)
		if err != nil || !won {
			return err
		}

		payment.Status = entity.PaymentStatusSuccess
		payment.ValidationID = v.validationID
		payment.Method = v.method
		payment.PaidAt = &now

		booking, err = submitPayment(ctx, tx, payment, now, log)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return &ReconcileResult{
			Outcome:       OutcomeDuplicate,
			TransactionID: payment.TransactionID,
			BookingID:     &payment.BookingID,
			Status:        entity.PaymentStatusSuccess,
		}, nil
	}

	if booking != nil {
		s.metrics.RecordTransition(string(booking.Status))

		title := "Payment received"
		message := fmt.Sprintf("Payment of %.2f %s for booking %s was received and awaits confirmation",
			payment.Amount, payment.Currency, booking.BookingNumber)
		s.notifier.notify(ctx, booking.UserID, booking, entity.NotificationPaymentReceived, title, message)
		if booking.AssignedMechanicID != nil {
			s.notifier.notify(ctx, *booking.AssignedMechanicID, booking, entity.NotificationPaymentReceived, title, message)
		}
		s.notifier.notify(ctx, s.notifier.garageOwner(ctx, booking), booking, entity.NotificationPaymentReceived, title, message)
		s.emitPayment(ctx, booking, payment, EventPaymentReceived)
	}

	return &ReconcileResult{
		Outcome:       OutcomeSuccess,
		TransactionID: payment.TransactionID,
		BookingID:     &payment.BookingID,
		Status:        entity.PaymentStatusSuccess,
	}, nil
}

// maxSubmitAttempts bounds the reload loop in submitPayment.
const maxSubmitAttempts = 3

// submitPayment moves the booking of a settled payment to payment_pending.
// The row stays locked for the rest of the transaction, and a status that
// moved before the save is reloaded and reapplied. It returns nil when the
// booking is gone or closed.
func submitPayment(ctx context.Context, tx *repository.Repository, payment *entity.Payment, now time.Time, log *zap.Logger) (*entity.Booking, error) {
	for attempt := 1; ; attempt++ {
		booking, err := tx.Booking.FindByIDForUpdate(ctx, payment.BookingID)
		if err != nil {
			return nil, err
		}
		if booking == nil || booking.Status.Terminal() {
			log.Warn("Payment settled for a booking that is gone or closed")
			return nil, nil
		}

		expected := booking.Status
		if expected.Precedes(entity.BookingStatusPaymentPending) {
			if err := booking.ApplyStatus(entity.BookingStatusPaymentPending, now); err != nil {
				return nil, err
			}
		}
		booking.MarkPaymentSubmitted(payment, now)

		err = advanceBooking(ctx, tx, booking, expected)
		if !errors.Is(err, errStaleBooking) || attempt == maxSubmitAttempts {
			return booking, err
		}
		log.Info("Booking changed while settling payment, reloading",
			zap.String("booking_id", booking.ID.String()),
			zap.Int("attempt", attempt),
		)
	}
}

func (s *paymentService) settleFailure(ctx context.Context, payment *entity.Payment, v verdict, log *zap.Logger) (*ReconcileResult, error) {
	reason := utils.Truncate(v.reason, 255)

	won, err := s.repo.Payment.MarkFailed(ctx, payment.TransactionID, v.validationID, reason, s.now())
	if err != nil {
		return nil, err
	}
	if !won {
		current, err := s.repo.Payment.FindByTransactionID(ctx, payment.TransactionID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			current = payment
		}
		return duplicate(current), nil
	}

	log.Info("Payment failed", zap.String("reason", reason))
	payment.Status = entity.PaymentStatusFailed
	payment.ErrorMessage = &reason

	// the booking is left as it was so the requester can retry
	booking, err := s.repo.Booking.FindByID(ctx, payment.BookingID)
	if err != nil {
		log.Warn("Could not load booking for failed payment", zap.Error(err))
	}
	if booking != nil {
		s.notifier.notify(ctx, booking.UserID, booking, entity.NotificationPaymentFailed,
			"Payment failed",
			fmt.Sprintf("Payment for booking %s did not go through: %s. You can try again.", booking.BookingNumber, reason),
		)
		s.emitPayment(ctx, booking, payment, EventPaymentFailed)
	}

	return &ReconcileResult{
		Outcome:       OutcomeFailed,
		TransactionID: payment.TransactionID,
		BookingID:     &payment.BookingID,
		Status:        entity.PaymentStatusFailed,
	}, nil
}

type paymentEventData struct {
	Booking       response.BookingResponse `json:"booking"`
	TransactionID string                   `json:"transactionId"`
	Amount        float64                  `json:"amount"`
	Currency      string                   `json:"currency"`
	Status        entity.PaymentStatus     `json:"status"`
	Reason        *string                  `json:"reason,omitempty"`
}

func (s *paymentService) emitPayment(ctx context.Context, booking *entity.Booking, payment *entity.Payment, event string) {
	if s.notifier.emitter == nil {
		return
	}

	bookingID := booking.ID
	ev := webhook.Event{
		Type:      event,
		BookingID: &bookingID,
		Data: paymentEventData{
			Booking:       response.BookingToResponse(booking),
			TransactionID: payment.TransactionID,
			Amount:        payment.Amount,
			Currency:      payment.Currency,
			Status:        payment.Status,
			Reason:        payment.ErrorMessage,
		},
	}
	s.notifier.emitter.Emit(ctx, webhook.UserRecipient(booking.UserID), ev)
	if booking.GarageID != nil {
		s.notifier.emitter.Emit(ctx, webhook.GarageRecipient(*booking.GarageID), ev)
	}
}

func duplicate(p *entity.Payment) *ReconcileResult {
	return resultFor(p, OutcomeDuplicate)
}

func resultFor(p *entity.Payment, outcome Outcome) *ReconcileResult {
	return &ReconcileResult{
		Outcome:       outcome,
		TransactionID: p.TransactionID,
		BookingID:     &p.BookingID,
		Status:        p.Status,
	}
}
