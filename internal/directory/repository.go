package directory

import (
	"context"
	"fmt"
	"math"

	"tradedispatch_backend/platform/geo"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads professionals from the directory tables.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new directory repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// latDegreeKm is the north-south span of one degree of latitude. Used only
// for the coarse bounding-box pre-filter; the selector does the exact check.
const latDegreeKm = 111.0

// boundingBox returns the degree deltas spanning radiusKm around the center.
// A degree of longitude shrinks with cos(lat), so the east-west delta widens
// away from the equator; past 89° the box covers the full longitude range
// rather than dividing by a vanishing cosine. The box may over-select, never
// under-select: the selector re-checks with the haversine distance.
func boundingBox(center geo.Point, radiusKm float64) (latDelta, lngDelta float64) {
	latDelta = radiusKm / latDegreeKm
	cos := math.Cos(center.Lat * math.Pi / 180)
	if center.Lat > 89 || center.Lat < -89 || cos <= 0 {
		return latDelta, 180
	}
	return latDelta, radiusKm / (latDegreeKm * cos)
}

// ListEligibleProfessionals returns active professionals offering the category
// whose registered location falls inside a bounding box around the job.
func (r *Repository) ListEligibleProfessionals(ctx context.Context, category string, center geo.Point, radiusKm float64, excludeIDs []uuid.UUID) ([]Candidate, error) {
	latDelta, lngDelta := boundingBox(center, radiusKm)

	query := `
		SELECT p.id, p.name, p.email, p.phone, p.lat, p.lng, p.service_radius_km,
			p.avg_response_minutes, p.completion_rate, p.total_completed, p.open_jobs
		FROM professionals p
		JOIN professional_categories pc ON pc.professional_id = p.id
		WHERE pc.category = $1
			AND p.active
			AND p.lat BETWEEN $2 AND $3
			AND p.lng BETWEEN $4 AND $5
			AND NOT (p.id = ANY($6))
		ORDER BY p.id`

	rows, err := r.pool.Query(ctx, query,
		category,
		center.Lat-latDelta, center.Lat+latDelta,
		center.Lng-lngDelta, center.Lng+lngDelta,
		excludeIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible professionals: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Email, &c.Phone, &c.Location.Lat, &c.Location.Lng,
			&c.ServiceRadiusKm, &c.AvgResponseMinutes, &c.CompletionRate,
			&c.TotalCompleted, &c.OpenJobs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan professional: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read professionals: %w", err)
	}

	return candidates, nil
}

// GetContact returns name, email and phone for one professional, used by the
// notification module when relaying offers.
func (r *Repository) GetContact(ctx context.Context, id uuid.UUID) (name, email, phoneNumber string, err error) {
	query := `SELECT name, email, phone FROM professionals WHERE id = $1`
	if err := r.pool.QueryRow(ctx, query, id).Scan(&name, &email, &phoneNumber); err != nil {
		if err == pgx.ErrNoRows {
			return "", "", "", fmt.Errorf("professional %s not found", id)
		}
		return "", "", "", fmt.Errorf("failed to read professional contact: %w", err)
	}
	return name, email, phoneNumber, nil
}

var _ Source = (*Repository)(nil)
