package entity

import (
	"roadside-dispatch/pkg/geo"

	"github.com/google/uuid"
)

type Garage struct {
	Base
	OwnerID       uuid.UUID `db:"owner_id"`
	Name          string    `db:"name"`
	Phone         *string   `db:"phone"`
	Address       *string   `db:"address"`
	Location      geo.Point // lat, lng columns
	IsActive      bool      `db:"is_active"`
	CompletedJobs int       `db:"completed_jobs"`
}

// GarageMatch is a garage with its distance from the requester.
type GarageMatch struct {
	Garage         *Garage
	DistanceMeters float64
	DistanceKm     float64
}
