package services

import (
	"context"
	"fmt"

	"github.com/civicaudit/report-server/internal/geo"
	"github.com/civicaudit/report-server/internal/models"
	"github.com/civicaudit/report-server/internal/store"
)

// DefaultDuplicateRadius is how close an active same-category report must be
// to count as the same issue, in meters
const DefaultDuplicateRadius = 500.0

// DuplicateDetector finds an existing active report for the same issue
type DuplicateDetector struct {
	store  store.ReportStore
	radius float64
}

// NewDuplicateDetector creates a detector; radius <= 0 uses the default
func NewDuplicateDetector(s store.ReportStore, radius float64) *DuplicateDetector {
	if radius <= 0 {
		radius = DefaultDuplicateRadius
	}
	return &DuplicateDetector{store: s, radius: radius}
}

// Find returns the nearest Pending or Verified report of the same category
// within the radius, with its distance, or nil when there is none.
func (d *DuplicateDetector) Find(ctx context.Context, category string, lat, lng float64) (*models.Report, float64, error) {
	candidates, err := d.store.FindActiveByCategory(ctx, category, geo.BoundingBox(lat, lng, d.radius))
	if err != nil {
		return nil, 0, fmt.Errorf("find duplicate candidates: %w", err)
	}

	var (
		best     *models.Report
		bestDist float64
	)
	for _, r := range candidates {
		dist := geo.Haversine(lat, lng, r.Location.Lat(), r.Location.Lng())
		if dist > d.radius {
			continue
		}
		if best == nil || dist < bestDist {
			best, bestDist = r, dist
		}
	}
	return best, bestDist, nil
}
