package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"roadside-dispatch/internal/data/entity"
	"roadside-dispatch/internal/dto/request"
	"roadside-dispatch/internal/gateway"
	"roadside-dispatch/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkout puts an in-progress booking with a 1500.00 bill through InitiatePayment.
func (f *fixture) checkout(t *testing.T) (*entity.Booking, string) {
	t.Helper()

	booking := f.seedBooking(entity.BookingStatusInProgress, &f.mechanic.UserID)
	f.store.mu.Lock()
	cost := 1500.0
	f.store.bookings[booking.ID].EstimatedCost = &cost
	f.store.mu.Unlock()

	resp, err := f.svc.Payment.InitiatePayment(context.Background(), f.requester, booking.ID.String())
	require.NoError(t, err)

	f.gateway.mu.Lock()
	f.gateway.validation = &gateway.Validation{
		Status:        "VALID",
		TransactionID: resp.TransactionID,
		Amount:        "1500.00",
		Currency:      "BDT",
		CardType:      "VISA-Dutch Bangla",
	}
	f.gateway.mu.Unlock()

	return booking, resp.TransactionID
}

func paidNotification(txn string) *request.GatewayNotification {
	return &request.GatewayNotification{
		TransactionID: txn,
		ValidationID:  "VAL-" + txn,
		Status:        "VALID",
		Amount:        "1500.00",
		CardType:      "VISA-Dutch Bangla",
	}
}

func (f *fixture) reconcile(source NotificationSource, n *request.GatewayNotification) (*ReconcileResult, error) {
	return f.svc.Payment.HandleGatewayNotification(context.Background(), source, n)
}

// ==================== CHECKOUT ====================

func TestInitiatePayment(t *testing.T) {
	f := newFixture(t)
	booking, txn := f.checkout(t)

	assert.Regexp(t, `^TXN-[0-9A-Z]{12}$`, txn)

	p := f.store.payment(txn)
	require.NotNil(t, p)
	assert.Equal(t, entity.PaymentStatusPending, p.Status)
	assert.Equal(t, 1500.0, p.Amount)
	assert.Equal(t, "BDT", p.Currency)
	assert.Equal(t, booking.ID, p.BookingID)

	require.Len(t, f.gateway.sessions, 1)
	session := f.gateway.sessions[0]
	assert.Equal(t, "https://api.example.com/bookings/payment/ipn", session.IPNURL)
	assert.Equal(t, "https://api.example.com/bookings/payment/success", session.SuccessURL)
	assert.Equal(t, "https://api.example.com/bookings/payment/cancel", session.CancelURL)
	assert.Contains(t, session.ProductName, booking.BookingNumber)
}

func TestInitiatePaymentRejections(t *testing.T) {
	f := newFixture(t)
	booking := f.seedBooking(entity.BookingStatusInProgress, &f.mechanic.UserID)

	_, err := f.svc.Payment.InitiatePayment(context.Background(), f.requester, booking.ID.String())
	requireKind(t, err, apperror.KindValidation)

	_, err = f.svc.Payment.InitiatePayment(context.Background(), f.owner, booking.ID.String())
	requireKind(t, err, apperror.KindForbidden)

	cancelled := f.seedBooking(entity.BookingStatusCancelled, nil)
	_, err = f.svc.Payment.InitiatePayment(context.Background(), f.requester, cancelled.ID.String())
	requireKind(t, err, apperror.KindValidation)
}

func TestInitiatePaymentGatewayDown(t *testing.T) {
	f := newFixture(t)
	booking := f.seedBooking(entity.BookingStatusInProgress, &f.mechanic.UserID)
	f.store.mu.Lock()
	cost := 800.0
	f.store.bookings[booking.ID].EstimatedCost = &cost
	f.store.mu.Unlock()
	f.gateway.err = fmt.Errorf("%w: connection refused", gateway.ErrUnavailable)

	_, err := f.svc.Payment.InitiatePayment(context.Background(), f.requester, booking.ID.String())
	requireKind(t, err, apperror.KindInternal)

	require.Len(t, f.gateway.sessions, 1)
	p := f.store.payment(f.gateway.sessions[0].TransactionID)
	require.NotNil(t, p)
	assert.Equal(t, entity.PaymentStatusFailed, p.Status)
}

// ==================== RECONCILIATION ====================

func TestGatewayNotificationSettlesOnce(t *testing.T) {
	f := newFixture(t)
	booking, txn := f.checkout(t)
	f.gateway.delay = 20 * time.Millisecond

	sources := []NotificationSource{SourceIPN, SourceRedirectSuccess, SourceIPN, SourceRedirectSuccess, SourceIPN, SourceIPN}
	results := make([]*ReconcileResult, len(sources))

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, source := range sources {
		wg.Add(1)
		go func(i int, source NotificationSource) {
			defer wg.Done()
			<-start
			res, err := f.reconcile(source, paidNotification(txn))
			if assert.NoError(t, err) {
				results[i] = res
			}
		}(i, source)
	}
	close(start)
	wg.Wait()

	outcomes := map[Outcome]int{}
	for _, res := range results {
		require.NotNil(t, res)
		assert.True(t, res.Paid())
		outcomes[res.Outcome]++
	}
	assert.Equal(t, 1, outcomes[OutcomeSuccess])
	assert.Equal(t, len(sources)-1, outcomes[OutcomeDuplicate])
	assert.Equal(t, 1, f.gateway.validateCalls())

	p := f.store.payment(txn)
	assert.Equal(t, entity.PaymentStatusSuccess, p.Status)
	require.NotNil(t, p.ValidationID)
	assert.Equal(t, "VAL-"+txn, *p.ValidationID)
	require.NotNil(t, p.Method)
	assert.Equal(t, "VISA-Dutch Bangla", *p.Method)

	stored := f.store.booking(booking.ID)
	assert.Equal(t, entity.BookingStatusPaymentPending, stored.Status)
	assert.True(t, stored.IsPaymentSubmitted)
	assert.False(t, stored.IsPaymentApproved)
	assert.False(t, stored.IsPaid)
	require.NotNil(t, stored.Payment.TransactionID)
	assert.Equal(t, txn, *stored.Payment.TransactionID)

	for _, actor := range []entity.Actor{f.requester, f.mechanic, f.owner} {
		assert.Len(t, f.store.notificationsFor(actor.UserID, entity.NotificationPaymentReceived), 1)
	}
	assert.Equal(t, 2, f.emitter.total(EventPaymentReceived))

	// a late redirect after settlement is still a duplicate
	res, err := f.reconcile(SourceRedirectSuccess, paidNotification(txn))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Equal(t, 1, f.gateway.validateCalls())
}

func TestGatewayNotificationSurvivesConcurrentStatusChange(t *testing.T) {
	f := newFixture(t)
	booking, txn := f.checkout(t)
	f.store.mu.Lock()
	f.store.bookings[booking.ID].Status = entity.BookingStatusEstimateSent
	f.store.mu.Unlock()

	// the mechanic starts work between the settlement read and its write
	var once sync.Once
	f.store.beforeSave = func(id uuid.UUID) {
		once.Do(func() {
			f.store.mu.Lock()
			f.store.bookings[id].Status = entity.BookingStatusInProgress
			f.store.mu.Unlock()
		})
	}

	res, err := f.reconcile(SourceIPN, paidNotification(txn))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)

	assert.Equal(t, entity.PaymentStatusSuccess, f.store.payment(txn).Status)
	stored := f.store.booking(booking.ID)
	assert.Equal(t, entity.BookingStatusPaymentPending, stored.Status)
	assert.True(t, stored.IsPaymentSubmitted)

	for _, actor := range []entity.Actor{f.requester, f.mechanic, f.owner} {
		assert.Len(t, f.store.notificationsFor(actor.UserID, entity.NotificationPaymentReceived), 1)
	}
	assert.Equal(t, 2, f.emitter.total(EventPaymentReceived))
}

func TestGatewayNotificationGivesUpOnBusyBooking(t *testing.T) {
	f := newFixture(t)
	_, txn := f.checkout(t)

	// every save loses, so the reload loop ends with a conflict
	saves := 0
	f.store.beforeSave = func(id uuid.UUID) {
		saves++
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		b := f.store.bookings[id]
		if b.Status == entity.BookingStatusConfirmed {
			b.Status = entity.BookingStatusOnTheWay
		} else {
			b.Status = entity.BookingStatusConfirmed
		}
	}

	_, err := f.reconcile(SourceIPN, paidNotification(txn))
	requireKind(t, err, apperror.KindConflict)
	assert.Equal(t, maxSubmitAttempts, saves)
	assert.Equal(t, 0, f.emitter.total(EventPaymentReceived))
}

func TestGatewayNotificationThenConfirm(t *testing.T) {
	f := newFixture(t)
	booking, txn := f.checkout(t)

	res, err := f.reconcile(SourceIPN, paidNotification(txn))
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, booking.ID, *res.BookingID)

	resp, err := f.svc.Booking.ConfirmPayment(context.Background(), f.mechanic, booking.ID.String())
	require.NoError(t, err)
	assert.Equal(t, entity.BookingStatusCompleted, resp.Status)
	assert.True(t, resp.IsPaid)
}

func TestGatewayNotificationUnknownTransaction(t *testing.T) {
	f := newFixture(t)

	res, err := f.reconcile(SourceIPN, paidNotification("TXN-DOESNOTEXIST"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownTransaction, res.Outcome)
	assert.Nil(t, f.store.payment("TXN-DOESNOTEXIST"))
	assert.Zero(t, f.gateway.validateCalls())

	_, err = f.reconcile(SourceIPN, &request.GatewayNotification{})
	requireKind(t, err, apperror.KindValidation)
}

func TestGatewayNotificationInvalid(t *testing.T) {
	f := newFixture(t)
	booking, txn := f.checkout(t)
	f.gateway.validation.Status = "INVALID_TRANSACTION"

	res, err := f.reconcile(SourceIPN, paidNotification(txn))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	p := f.store.payment(txn)
	assert.Equal(t, entity.PaymentStatusFailed, p.Status)
	require.NotNil(t, p.ErrorMessage)
	assert.Contains(t, *p.ErrorMessage, "INVALID_TRANSACTION")

	stored := f.store.booking(booking.ID)
	assert.Equal(t, entity.BookingStatusInProgress, stored.Status)
	assert.False(t, stored.IsPaymentSubmitted)
	assert.Len(t, f.store.notificationsFor(f.requester.UserID, entity.NotificationPaymentFailed), 1)
	assert.Equal(t, 1, f.emitter.total(EventPaymentFailed)/2)

	// the requester can start a fresh checkout
	_, err = f.svc.Payment.InitiatePayment(context.Background(), f.requester, booking.ID.String())
	require.NoError(t, err)
}

func TestGatewayNotificationAmountMismatch(t *testing.T) {
	f := newFixture(t)
	_, txn := f.checkout(t)
	f.gateway.validation.Amount = "15.00"

	res, err := f.reconcile(SourceIPN, paidNotification(txn))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, *f.store.payment(txn).ErrorMessage, "amount")
}

func TestGatewayNotificationWithoutValidationID(t *testing.T) {
	f := newFixture(t)
	_, txn := f.checkout(t)

	n := paidNotification(txn)
	n.ValidationID = ""
	res, err := f.reconcile(SourceRedirectSuccess, n)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Zero(t, f.gateway.validateCalls())
}

func TestGatewayNotificationCancelled(t *testing.T) {
	f := newFixture(t)
	_, txn := f.checkout(t)

	res, err := f.reconcile(SourceRedirectCancel, &request.GatewayNotification{TransactionID: txn, Status: "CANCELLED"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "payment was cancelled", *f.store.payment(txn).ErrorMessage)
}

func TestGatewayNotificationDeferredWhileGatewayDown(t *testing.T) {
	f := newFixture(t)
	booking, txn := f.checkout(t)
	f.gateway.err = fmt.Errorf("%w: breaker open", gateway.ErrUnavailable)

	res, err := f.reconcile(SourceIPN, paidNotification(txn))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, res.Outcome)
	assert.Equal(t, entity.PaymentStatusPending, f.store.payment(txn).Status)
	assert.Equal(t, entity.BookingStatusInProgress, f.store.booking(booking.ID).Status)

	f.gateway.mu.Lock()
	f.gateway.err = nil
	f.gateway.mu.Unlock()

	res, err = f.reconcile(SourceIPN, paidNotification(txn))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, entity.BookingStatusPaymentPending, f.store.booking(booking.ID).Status)
}

func TestGatewayNotificationForClosedBooking(t *testing.T) {
	f := newFixture(t)
	booking, txn := f.checkout(t)

	f.store.mu.Lock()
	f.store.bookings[booking.ID].Status = entity.BookingStatusCancelled
	f.store.mu.Unlock()

	res, err := f.reconcile(SourceIPN, paidNotification(txn))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, entity.BookingStatusCancelled, f.store.booking(booking.ID).Status)
	assert.Zero(t, f.emitter.total(EventPaymentReceived))
}
