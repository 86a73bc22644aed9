package entity

import (
	"time"

	"github.com/google/uuid"
)

type RecipientType string

const (
	RecipientUser   RecipientType = "user"
	RecipientGarage RecipientType = "garage"
)

// Integration is an outbound webhook target configured by a user or garage.
type Integration struct {
	Base
	OwnerType     RecipientType `db:"owner_type"`
	OwnerID       uuid.UUID     `db:"owner_id"`
	WebhookURL    string        `db:"webhook_url"`
	Secret        string        `db:"secret"`
	PayloadFormat string        `db:"payload_format"`
	IsActive      bool          `db:"is_active"`
}

// DeliveryLog is one entry of an integration's rolling delivery log.
type DeliveryLog struct {
	ID              int64     `db:"id"`
	IntegrationID   uuid.UUID `db:"integration_id"`
	Event           string    `db:"event"`
	StatusCode      int       `db:"status_code"`
	LatencyMS       int64     `db:"latency_ms"`
	Success         bool      `db:"success"`
	ResponseExcerpt string    `db:"response_excerpt"`
	Error           string    `db:"error"`
	CreatedAt       time.Time `db:"created_at"`
}
