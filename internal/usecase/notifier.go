package usecase

import (
	"context"
	"time"

	"roadside-dispatch/internal/data/entity"
	"roadside-dispatch/internal/data/repository"
	"roadside-dispatch/internal/dto/response"
	"roadside-dispatch/internal/webhook"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outbound webhook event names.
const (
	EventBookingCreated   = "booking.created"
	EventBookingAccepted  = "booking.accepted"
	EventBookingUpdated   = "booking.updated"
	EventBookingStarted   = "booking.started"
	EventBookingCompleted = "booking.completed"
	EventPaymentReceived  = "payment.received"
	EventPaymentFailed    = "payment.failed"
)

// notifier fans lifecycle changes out to in-app notifications and webhooks.
// Every method swallows its failures after logging them.
type notifier struct {
	notifications repository.NotificationRepository
	garages       repository.GarageRepository
	emitter       webhook.Emitter
	log           *zap.Logger
	now           func() time.Time
}

func newNotifier(repo *repository.Repository, emitter webhook.Emitter, log *zap.Logger) *notifier {
	return &notifier{
		notifications: repo.Notification,
		garages:       repo.Garage,
		emitter:       emitter,
		log:           log.With(zap.String("service", "notifier")),
		now:           time.Now,
	}
}

func (n *notifier) notify(ctx context.Context, userID uuid.UUID, b *entity.Booking, typ entity.NotificationType, title, message string) {
	if userID == uuid.Nil {
		return
	}

	bookingID := b.ID
	notification := &entity.Notification{
		BaseSimple: entity.BaseSimple{ID: uuid.New(), CreatedAt: n.now()},
		UserID:     userID,
		BookingID:  &bookingID,
		Type:       typ,
		Title:      title,
		Message:    message,
	}

	if err := n.notifications.Create(context.WithoutCancel(ctx), notification); err != nil {
		n.log.Warn("Failed to store notification",
			zap.Error(err),
			zap.String("user_id", userID.String()),
			zap.String("booking_id", b.ID.String()),
			zap.String("type", string(typ)),
		)
	}
}

// garageOwner resolves the owner of the booking's garage, or uuid.Nil.
func (n *notifier) garageOwner(ctx context.Context, b *entity.Booking) uuid.UUID {
	if b.GarageID == nil {
		return uuid.Nil
	}

	garage, err := n.garages.FindByID(ctx, *b.GarageID)
	if err != nil || garage == nil {
		n.log.Warn("Could not resolve garage owner for notification",
			zap.Error(err),
			zap.String("garage_id", b.GarageID.String()),
		)
		return uuid.Nil
	}
	return garage.OwnerID
}

// emitToParties sends one event per party: the requester and, when set, the garage.
func (n *notifier) emitToParties(ctx context.Context, b *entity.Booking, events ...string) {
	if n.emitter == nil {
		return
	}

	bookingID := b.ID
	data := response.BookingToResponse(b)
	for _, event := range events {
		ev := webhook.Event{Type: event, BookingID: &bookingID, Data: data}
		n.emitter.Emit(ctx, webhook.UserRecipient(b.UserID), ev)
		if b.GarageID != nil {
			n.emitter.Emit(ctx, webhook.GarageRecipient(*b.GarageID), ev)
		}
	}
}
