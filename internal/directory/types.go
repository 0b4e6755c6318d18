// Package directory provides read-only access to the professional directory.
// The dispatch engine consumes Candidate projections; it never mutates them.
package directory

import (
	"context"

	"tradedispatch_backend/platform/geo"

	"github.com/google/uuid"
)

// Candidate is the read-only projection of a professional used for ranking.
// AvgResponseMinutes and CompletionRate are nil until the professional has
// enough history.
type Candidate struct {
	ID                 uuid.UUID
	Name               string
	Email              string
	Phone              string
	Location           geo.Point
	ServiceRadiusKm    float64
	AvgResponseMinutes *float64
	CompletionRate     *float64
	TotalCompleted     int
	OpenJobs           int
}

// Source lists eligible professionals for a service category. Implementations
// pre-filter by a coarse radius; the selector applies the exact great-circle
// check and ranking.
type Source interface {
	ListEligibleProfessionals(ctx context.Context, category string, center geo.Point, radiusKm float64, excludeIDs []uuid.UUID) ([]Candidate, error)
}
