package usecase

import (
	"context"
	"sort"

	"roadside-dispatch/internal/data/entity"
	"roadside-dispatch/internal/data/repository"
	"roadside-dispatch/pkg/apperror"
	"roadside-dispatch/pkg/geo"
	"roadside-dispatch/pkg/utils"

	"go.uber.org/zap"
)

const DefaultDispatchRadiusMeters = 20000

type GarageMatcher interface {
	// FindNearestActive returns active garages within radiusMeters of point,
	// nearest first. A radius <= 0 means the configured default.
	FindNearestActive(ctx context.Context, point geo.Point, radiusMeters float64) ([]entity.GarageMatch, error)
}

type garageMatcher struct {
	garages       repository.GarageRepository
	defaultRadius float64
	log           *zap.Logger
}

func NewGarageMatcher(garages repository.GarageRepository, cfg utils.DispatchConfig, log *zap.Logger) GarageMatcher {
	radius := cfg.RadiusMeters
	if radius <= 0 {
		radius = DefaultDispatchRadiusMeters
	}

	return &garageMatcher{
		garages:       garages,
		defaultRadius: radius,
		log:           log.With(zap.String("service", "matcher")),
	}
}

func (m *garageMatcher) FindNearestActive(ctx context.Context, point geo.Point, radiusMeters float64) ([]entity.GarageMatch, error) {
	if err := point.Validate(); err != nil {
		return nil, apperror.Validation("invalid location: %v", err)
	}
	if radiusMeters <= 0 {
		radiusMeters = m.defaultRadius
	}

	// the box is only a prefilter; containment and order use the exact distance
	candidates, err := m.garages.FindActiveInBox(ctx, geo.BoundingBox(point, radiusMeters))
	if err != nil {
		return nil, apperror.Internal("find nearby garages", err)
	}

	matches := make([]entity.GarageMatch, 0, len(candidates))
	for _, garage := range candidates {
		d := geo.HaversineMeters(point, garage.Location)
		if d > radiusMeters {
			continue
		}
		matches = append(matches, entity.GarageMatch{
			Garage:         garage,
			DistanceMeters: d,
			DistanceKm:     utils.RoundTo(d/1000, 2),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].DistanceMeters != matches[j].DistanceMeters {
			return matches[i].DistanceMeters < matches[j].DistanceMeters
		}
		return matches[i].Garage.ID.String() < matches[j].Garage.ID.String()
	})

	m.log.Debug("Garage match",
		zap.Float64("lng", point.Lng),
		zap.Float64("lat", point.Lat),
		zap.Float64("radius_m", radiusMeters),
		zap.Int("candidates", len(candidates)),
		zap.Int("matches", len(matches)),
	)

	return matches, nil
}
