// Package geo provides coordinate and candidate-ranking math for dispatch.
// This is part of the platform layer and contains no business logic beyond
// the scoring formula, which dispatch ordering depends on.
package geo

import "math"

const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DistanceKm returns the great-circle distance between two coordinates using
// the haversine formula on a mean Earth radius of 6371 km. Symmetric, and
// zero for identical points.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// WithinRadius reports whether point lies within radiusKm of center.
// The boundary is inclusive.
func WithinRadius(center, point Point, radiusKm float64) bool {
	return DistanceKm(center.Lat, center.Lng, point.Lat, point.Lng) <= radiusKm
}

// Ranking weights. The weighted sum stays in [0,1] because each component is
// capped at 1 before weighting. Changing any weight or cap changes dispatch
// order; treat these as frozen.
const (
	weightDistance   = 0.40
	weightResponse   = 0.30
	weightCompletion = 0.20
	weightExperience = 0.10

	distanceFalloffKm  = 50.0
	responseFalloffMin = 30.0
	experienceCapJobs  = 100.0

	// neutralComponent is used when response time or completion rate is unknown.
	neutralComponent = 0.5
)

// RankingScore computes the composite suitability score for one candidate
// against one job. distanceKm is the candidate's distance from the job
// location. avgResponseMinutes and completionRate may be nil when the
// professional has no history; both default to a neutral 0.5 component.
func RankingScore(distanceKm float64, avgResponseMinutes *float64, completionRate *float64, totalCompleted int) float64 {
	distance := math.Max(0, 1-distanceKm/distanceFalloffKm)

	response := neutralComponent
	if avgResponseMinutes != nil {
		response = math.Max(0, 1-*avgResponseMinutes/responseFalloffMin)
	}

	completion := neutralComponent
	if completionRate != nil {
		completion = *completionRate
	}

	experience := math.Min(1, float64(totalCompleted)/experienceCapJobs)

	return weightDistance*distance +
		weightResponse*response +
		weightCompletion*completion +
		weightExperience*experience
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}
