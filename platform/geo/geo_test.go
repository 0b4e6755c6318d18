package geo

import (
	"math"
	"testing"
)

func floatPtr(v float64) *float64 { return &v }

func TestDistanceKmIdenticalPointsIsZero(t *testing.T) {
	if d := DistanceKm(43.65, -79.38, 43.65, -79.38); d != 0 {
		t.Fatalf("expected zero distance for identical points, got %f", d)
	}
}

func TestDistanceKmSymmetric(t *testing.T) {
	a := DistanceKm(43.65, -79.38, 45.42, -75.69)
	b := DistanceKm(45.42, -75.69, 43.65, -79.38)
	if math.Abs(a-b) > 1e-9 {
		t.Fatalf("distance not symmetric: %f vs %f", a, b)
	}
}

func TestDistanceKmKnownValue(t *testing.T) {
	// Toronto to Ottawa is roughly 350 km.
	d := DistanceKm(43.65, -79.38, 45.42, -75.69)
	if d < 340 || d > 365 {
		t.Fatalf("Toronto-Ottawa distance out of expected range: %f", d)
	}
}

func TestWithinRadiusBoundaryInclusive(t *testing.T) {
	center := Point{Lat: 43.65, Lng: -79.38}
	if !WithinRadius(center, center, 0) {
		t.Fatal("point at zero distance should be within zero radius")
	}

	point := Point{Lat: 43.70, Lng: -79.38}
	d := DistanceKm(center.Lat, center.Lng, point.Lat, point.Lng)
	if !WithinRadius(center, point, d) {
		t.Fatal("point exactly at radius should be included")
	}
	if WithinRadius(center, point, d-0.001) {
		t.Fatal("point just outside radius should be excluded")
	}
}

func TestRankingScoreAllComponentsMaxed(t *testing.T) {
	score := RankingScore(0, floatPtr(5), floatPtr(1.0), 100)
	// distance 1*0.4 + response (1-5/30)*0.3 + completion 1*0.2 + experience 1*0.1
	want := 0.4 + 0.3*(1-5.0/30.0) + 0.2 + 0.1
	if math.Abs(score-want) > 1e-9 {
		t.Fatalf("score = %f, want %f", score, want)
	}

	// With instant response the score reaches the full 1.0.
	if s := RankingScore(0, floatPtr(0), floatPtr(1.0), 100); math.Abs(s-1.0) > 1e-9 {
		t.Fatalf("fully maxed score = %f, want 1.0", s)
	}
}

func TestRankingScoreBounds(t *testing.T) {
	cases := []struct {
		name       string
		distanceKm float64
		response   *float64
		completion *float64
		completed  int
	}{
		{"worst", 500, floatPtr(600), floatPtr(0), 0},
		{"best", 0, floatPtr(0), floatPtr(1), 1000},
		{"unknown history", 10, nil, nil, 0},
		{"mid", 25, floatPtr(15), floatPtr(0.5), 50},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score := RankingScore(tc.distanceKm, tc.response, tc.completion, tc.completed)
			if score < 0 || score > 1 {
				t.Fatalf("score %f out of [0,1]", score)
			}
		})
	}
}

func TestRankingScoreMonotonicInDistance(t *testing.T) {
	prev := math.Inf(1)
	for _, d := range []float64{0, 5, 10, 25, 49, 50, 80} {
		score := RankingScore(d, floatPtr(10), floatPtr(0.8), 40)
		if score > prev {
			t.Fatalf("score increased with distance at %f km", d)
		}
		prev = score
	}
}

func TestRankingScoreMonotonicInCompletionRate(t *testing.T) {
	prev := -1.0
	for _, rate := range []float64{0, 0.25, 0.5, 0.75, 1} {
		score := RankingScore(10, floatPtr(10), floatPtr(rate), 40)
		if score <= prev {
			t.Fatalf("score did not increase with completion rate %f", rate)
		}
		prev = score
	}
}

func TestRankingScoreNeutralDefaults(t *testing.T) {
	unknown := RankingScore(10, nil, nil, 40)
	known := RankingScore(10, floatPtr(15), floatPtr(0.5), 40)
	// avgResponse of 15 min gives the same 0.5 component as the neutral default.
	if math.Abs(unknown-known) > 1e-9 {
		t.Fatalf("neutral defaults mismatch: %f vs %f", unknown, known)
	}
}

func TestRankingScoreExperienceCapped(t *testing.T) {
	atCap := RankingScore(10, floatPtr(10), floatPtr(0.8), 100)
	overCap := RankingScore(10, floatPtr(10), floatPtr(0.8), 10000)
	if atCap != overCap {
		t.Fatalf("experience component should cap at 100 jobs: %f vs %f", atCap, overCap)
	}
}
