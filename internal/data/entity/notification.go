package entity

import "github.com/google/uuid"

type NotificationType string

const (
	NotificationBookingCreated   NotificationType = "booking_created"
	NotificationJobAccepted      NotificationType = "job_accepted"
	NotificationStatusUpdated    NotificationType = "status_updated"
	NotificationOTPCode          NotificationType = "otp_code"
	NotificationServiceStarted   NotificationType = "service_started"
	NotificationServiceCompleted NotificationType = "service_completed"
	NotificationPaymentReceived  NotificationType = "payment_received"
	NotificationPaymentFailed    NotificationType = "payment_failed"
	NotificationPaymentConfirmed NotificationType = "payment_confirmed"
)

// Notification is an in-app message shown to a single user.
type Notification struct {
	BaseSimple
	UserID    uuid.UUID        `db:"user_id"`
	BookingID *uuid.UUID       `db:"booking_id"`
	Type      NotificationType `db:"type"`
	Title     string           `db:"title"`
	Message   string           `db:"message"`
	IsRead    bool             `db:"is_read"`
}
