package database

import (
	"road_anomaly_reconciler/internal/domain/report"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// distanceMeters is the great-circle distance between two lat/lon points.
func distanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	return geo.DistanceHaversine(orb.Point{lon1, lat1}, orb.Point{lon2, lat2})
}

// searchBound returns the lat/lon rectangle enclosing the query circle.
// It is used as a cheap prefilter before the exact distance check.
func searchBound(q report.NearbyQuery) orb.Bound {
	return geo.NewBoundAroundPoint(orb.Point{q.Longitude, q.Latitude}, q.RadiusMeters)
}
