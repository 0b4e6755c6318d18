// Package selector ranks eligible professionals for one job.
package selector

import (
	"context"
	"sort"
	"strings"

	"tradedispatch_backend/internal/directory"
	"tradedispatch_backend/platform/geo"

	"github.com/google/uuid"
)

// RankedCandidate pairs a directory candidate with its job-specific score.
// Scores are never cached across jobs: the distance input is job-specific.
type RankedCandidate struct {
	directory.Candidate
	DistanceKm float64
	Score      float64
}

// Result is the outcome of one selection pass. An empty Candidates slice is a
// legitimate result (the sequencer escalates on it), never an error.
type Result struct {
	Candidates []RankedCandidate
}

// Empty reports whether no eligible candidates were found.
func (r Result) Empty() bool { return len(r.Candidates) == 0 }

// IDs returns the ranked candidate identifiers in order.
func (r Result) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(r.Candidates))
	for i, c := range r.Candidates {
		ids[i] = c.ID
	}
	return ids
}

// Selector produces ranked, deduplicated candidate lists.
type Selector struct {
	source directory.Source
}

// New creates a selector over the given directory source.
func New(source directory.Source) *Selector {
	return &Selector{source: source}
}

// Select queries the directory for professionals offering the category,
// keeps those within radiusKm of the job (and whose own service area covers
// the job), scores each survivor, and returns the top maxCandidates ordered
// by descending score. Ties break by ascending distance, then by candidate
// identifier, so the result is deterministic for identical inputs.
func (s *Selector) Select(ctx context.Context, category string, center geo.Point, radiusKm float64, maxCandidates int, excludeIDs []uuid.UUID) (Result, error) {
	pool, err := s.source.ListEligibleProfessionals(ctx, category, center, radiusKm, excludeIDs)
	if err != nil {
		return Result{}, err
	}

	seen := make(map[uuid.UUID]bool, len(pool))
	ranked := make([]RankedCandidate, 0, len(pool))
	for _, candidate := range pool {
		if seen[candidate.ID] {
			continue
		}
		seen[candidate.ID] = true

		distance := geo.DistanceKm(center.Lat, center.Lng, candidate.Location.Lat, candidate.Location.Lng)
		if distance > radiusKm {
			continue
		}
		if candidate.ServiceRadiusKm > 0 && distance > candidate.ServiceRadiusKm {
			continue
		}

		ranked = append(ranked, RankedCandidate{
			Candidate:  candidate,
			DistanceKm: distance,
			Score:      geo.RankingScore(distance, candidate.AvgResponseMinutes, candidate.CompletionRate, candidate.TotalCompleted),
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].DistanceKm != ranked[j].DistanceKm {
			return ranked[i].DistanceKm < ranked[j].DistanceKm
		}
		return strings.Compare(ranked[i].ID.String(), ranked[j].ID.String()) < 0
	})

	if maxCandidates > 0 && len(ranked) > maxCandidates {
		ranked = ranked[:maxCandidates]
	}

	return Result{Candidates: ranked}, nil
}
