package selector

import (
	"context"
	"testing"

	"tradedispatch_backend/internal/directory"
	"tradedispatch_backend/platform/geo"

	"github.com/google/uuid"
)

type fakeSource struct {
	candidates []directory.Candidate
	err        error
	gotExclude []uuid.UUID
}

func (f *fakeSource) ListEligibleProfessionals(_ context.Context, _ string, _ geo.Point, _ float64, excludeIDs []uuid.UUID) ([]directory.Candidate, error) {
	f.gotExclude = excludeIDs
	return f.candidates, f.err
}

func floatPtr(v float64) *float64 { return &v }

var jobCenter = geo.Point{Lat: 43.65, Lng: -79.38}

func candidateAt(id uuid.UUID, lat, lng float64, completed int) directory.Candidate {
	return directory.Candidate{
		ID:             id,
		Location:       geo.Point{Lat: lat, Lng: lng},
		CompletionRate: floatPtr(0.9),
		TotalCompleted: completed,
	}
}

func TestSelectOrdersByScoreDescending(t *testing.T) {
	near := candidateAt(uuid.New(), 43.66, -79.38, 80)
	far := candidateAt(uuid.New(), 43.90, -79.38, 80)

	src := &fakeSource{candidates: []directory.Candidate{far, near}}
	result, err := New(src).Select(context.Background(), "plumbing", jobCenter, 50, 10, nil)
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if len(result.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(result.Candidates))
	}
	if result.Candidates[0].ID != near.ID {
		t.Fatal("nearer candidate should rank first")
	}
	if result.Candidates[0].Score < result.Candidates[1].Score {
		t.Fatal("candidates not sorted by descending score")
	}
}

func TestSelectFiltersByRadius(t *testing.T) {
	inside := candidateAt(uuid.New(), 43.66, -79.38, 10)
	outside := candidateAt(uuid.New(), 45.42, -75.69, 10) // ~350 km away

	src := &fakeSource{candidates: []directory.Candidate{inside, outside}}
	result, err := New(src).Select(context.Background(), "plumbing", jobCenter, 25, 10, nil)
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].ID != inside.ID {
		t.Fatal("candidate outside radius should be filtered out")
	}
}

func TestSelectRespectsCandidateServiceRadius(t *testing.T) {
	c := candidateAt(uuid.New(), 43.75, -79.38, 10) // ~11 km from job
	c.ServiceRadiusKm = 5

	src := &fakeSource{candidates: []directory.Candidate{c}}
	result, err := New(src).Select(context.Background(), "plumbing", jobCenter, 50, 10, nil)
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if !result.Empty() {
		t.Fatal("candidate whose service area excludes the job should be filtered")
	}
}

func TestSelectDeduplicates(t *testing.T) {
	c := candidateAt(uuid.New(), 43.66, -79.38, 10)
	src := &fakeSource{candidates: []directory.Candidate{c, c}}

	result, err := New(src).Select(context.Background(), "plumbing", jobCenter, 50, 10, nil)
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("expected deduplicated result, got %d entries", len(result.Candidates))
	}
}

func TestSelectTopN(t *testing.T) {
	candidates := make([]directory.Candidate, 0, 5)
	for i := 0; i < 5; i++ {
		candidates = append(candidates, candidateAt(uuid.New(), 43.66, -79.38, i*10))
	}
	src := &fakeSource{candidates: candidates}

	result, err := New(src).Select(context.Background(), "plumbing", jobCenter, 50, 3, nil)
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if len(result.Candidates) != 3 {
		t.Fatalf("expected top 3, got %d", len(result.Candidates))
	}
}

func TestSelectTieBreaksDeterministic(t *testing.T) {
	// Identical coordinates and history give identical scores; ordering must
	// fall back to the candidate identifier.
	a := candidateAt(uuid.MustParse("00000000-0000-0000-0000-00000000000a"), 43.66, -79.38, 10)
	b := candidateAt(uuid.MustParse("00000000-0000-0000-0000-00000000000b"), 43.66, -79.38, 10)

	for _, order := range [][]directory.Candidate{{a, b}, {b, a}} {
		src := &fakeSource{candidates: order}
		result, err := New(src).Select(context.Background(), "plumbing", jobCenter, 50, 10, nil)
		if err != nil {
			t.Fatalf("Select returned error: %v", err)
		}
		if result.Candidates[0].ID != a.ID {
			t.Fatal("tie break by identifier should be stable regardless of input order")
		}
	}
}

func TestSelectEmptyPoolIsNotAnError(t *testing.T) {
	src := &fakeSource{}
	result, err := New(src).Select(context.Background(), "roofing", jobCenter, 50, 10, nil)
	if err != nil {
		t.Fatalf("empty pool must not be an error, got %v", err)
	}
	if !result.Empty() {
		t.Fatal("expected empty result")
	}
}
