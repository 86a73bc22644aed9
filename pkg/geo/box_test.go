package geo_test

import (
	"testing"

	"roadside-dispatch/pkg/geo"
	"roadside-dispatch/pkg/geo/geotest"

	"github.com/stretchr/testify/assert"
)

func TestBoundingBoxContainsCircle(t *testing.T) {
	center := geo.Point{Lng: 90.4125, Lat: 23.8103}
	box := geo.BoundingBox(center, 20000)

	for bearing := 0.0; bearing < 360; bearing += 15 {
		edge := geotest.Destination(center, bearing, 19999)
		assert.True(t, box.Contains(edge), "bearing %.0f should be inside the box", bearing)
	}

	far := geotest.Destination(center, 90, 60000)
	assert.False(t, box.Contains(far))
}
