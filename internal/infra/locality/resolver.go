package locality

import (
	"strings"

	"road_anomaly_reconciler/internal/infra/config"

	"github.com/paulmach/orb"
)

type area struct {
	name  string
	bound orb.Bound
}

// Resolver assigns a locality name to a coordinate using configured
// bounding boxes. The first matching box wins; otherwise the default is used.
type Resolver struct {
	areas    []area
	fallback string
}

func NewResolver(cfg config.LocalityConfig) *Resolver {
	r := &Resolver{fallback: strings.ToLower(strings.TrimSpace(cfg.Default))}
	for _, b := range cfg.Bounds {
		r.areas = append(r.areas, area{
			name: strings.ToLower(b.Name),
			bound: orb.Bound{
				Min: orb.Point{b.MinLon, b.MinLat},
				Max: orb.Point{b.MaxLon, b.MaxLat},
			},
		})
	}
	return r
}

func (r *Resolver) Assign(latitude, longitude float64) string {
	p := orb.Point{longitude, latitude}
	for _, a := range r.areas {
		if a.bound.Contains(p) {
			return a.name
		}
	}
	return r.fallback
}
