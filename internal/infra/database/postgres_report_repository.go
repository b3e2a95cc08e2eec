// internal/infra/database/postgres_report_repository.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"road_anomaly_reconciler/internal/domain/report"

	"github.com/google/uuid"
	"github.com/lib/pq" // For pq.Array and pq.Error
)

// Mean Earth radius used by orb's haversine, kept identical so SQL and Go agree.
const earthRadiusMeters = 6378137.0

const reportColumns = `id, anomaly_type, latitude, longitude, altitude, accuracy_m,
       captured_at, reported_at, notified_at, locality, media_reference, likely_anomaly, sensor_features`

type PostgresReportRepository struct {
	db *sql.DB
}

func NewPostgresReportRepository(db *sql.DB) *PostgresReportRepository {
	return &PostgresReportRepository{db: db}
}

func (r *PostgresReportRepository) Save(ctx context.Context, rep *report.Report) (string, error) {
	if rep.ID == "" {
		rep.ID = uuid.NewString()
	}
	features, err := json.Marshal(rep.Features)
	if err != nil {
		return "", fmt.Errorf("error encoding sensor features: %w: %w", report.ErrStoreRejected, err)
	}

	query := `INSERT INTO road_reports (` + reportColumns + `)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = r.db.ExecContext(ctx, query,
		rep.ID, rep.AnomalyType, rep.Location.Latitude, rep.Location.Longitude,
		rep.Location.Altitude, rep.Location.AccuracyMeters,
		rep.CapturedAt, rep.ReportedAt, rep.NotifiedAt,
		rep.Locality, rep.MediaReference, rep.LikelyAnomaly, features,
	)
	if err != nil {
		return "", classifyPostgresError("error saving report", err)
	}
	return rep.ID, nil
}

// FindNearby prefilters on the bounding box of the search circle (served by
// the lat/lon index) and then applies the exact haversine distance.
func (r *PostgresReportRepository) FindNearby(ctx context.Context, q report.NearbyQuery) ([]*report.Report, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("error finding nearby reports: %w: %w", report.ErrStoreRejected, err)
	}
	bound := searchBound(q)

	var since sql.NullTime
	if !q.ReportedSince.IsZero() {
		since = sql.NullTime{Time: q.ReportedSince, Valid: true}
	}

	query := `SELECT ` + reportColumns + ` FROM (
                SELECT *, 2 * $1::float8 * asin(LEAST(1, sqrt(
                       power(sin(radians(latitude - $2) / 2), 2) +
                       cos(radians($2)) * cos(radians(latitude)) *
                       power(sin(radians(longitude - $3) / 2), 2)))) AS distance_m
                  FROM road_reports
                 WHERE latitude BETWEEN $4 AND $5
                   AND longitude BETWEEN $6 AND $7
                   AND ($8::timestamptz IS NULL OR reported_at >= $8)
                   AND (NOT $9 OR notified_at IS NULL)
              ) nearby
              WHERE distance_m <= $10
              ORDER BY captured_at DESC, id
              LIMIT $11`
	rows, err := r.db.QueryContext(ctx, query,
		earthRadiusMeters, q.Latitude, q.Longitude,
		bound.Min.Lat(), bound.Max.Lat(), bound.Min.Lon(), bound.Max.Lon(),
		since, q.PendingOnly, q.RadiusMeters, q.EffectiveLimit(),
	)
	if err != nil {
		return nil, classifyPostgresError("error finding nearby reports", err)
	}
	defer rows.Close()

	return scanReports(rows, "error finding nearby reports")
}

func (r *PostgresReportRepository) FindSince(ctx context.Context, q report.SinceQuery) ([]*report.Report, error) {
	query := `SELECT ` + reportColumns + `
               FROM road_reports
               WHERE reported_at >= $1 AND (NOT $2 OR notified_at IS NULL)
               ORDER BY reported_at, id`
	rows, err := r.db.QueryContext(ctx, query, q.ReportedSince, q.PendingOnly)
	if err != nil {
		return nil, classifyPostgresError("error finding reports since", err)
	}
	defer rows.Close()

	return scanReports(rows, "error finding reports since")
}

// MarkNotified stamps every pending report in ids with a single statement.
// Reports that were already notified keep their original timestamp.
func (r *PostgresReportRepository) MarkNotified(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `UPDATE road_reports
               SET notified_at = $1
               WHERE id = ANY($2) AND notified_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, at, pq.Array(ids))
	if err != nil {
		return 0, classifyPostgresError("error marking reports notified", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classifyPostgresError("error reading affected rows", err)
	}
	return n, nil
}

func (r *PostgresReportRepository) ListByLocality(ctx context.Context, q report.LocalityQuery) ([]*report.Report, error) {
	var limit sql.NullInt64
	if q.Limit > 0 {
		limit = sql.NullInt64{Int64: int64(q.Limit), Valid: true}
	}
	query := `SELECT ` + reportColumns + `
               FROM road_reports
               WHERE lower(locality) = lower($1)
               ORDER BY reported_at DESC, id
               LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, q.Locality, limit)
	if err != nil {
		return nil, classifyPostgresError("error listing reports by locality", err)
	}
	defer rows.Close()

	return scanReports(rows, "error listing reports by locality")
}

func (r *PostgresReportRepository) SummarizeLocalities(ctx context.Context) ([]report.LocalitySummary, error) {
	query := `SELECT locality, COUNT(*), COUNT(notified_at), MAX(reported_at),
                     COALESCE(AVG((sensor_features->'accel'->'z'->>'range')::float8), 0)
               FROM road_reports
               GROUP BY locality
               ORDER BY locality`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classifyPostgresError("error summarizing localities", err)
	}
	defer rows.Close()

	var summaries []report.LocalitySummary
	for rows.Next() {
		var s report.LocalitySummary
		if err := rows.Scan(&s.Locality, &s.TotalReports, &s.NotifiedReports, &s.LatestReportedAt, &s.AverageSeverity); err != nil {
			return nil, classifyPostgresError("error scanning locality summary", err)
		}
		summaries = append(summaries, s)
	}
	if err = rows.Err(); err != nil {
		return nil, classifyPostgresError("error iterating locality summaries", err)
	}
	return summaries, nil
}

func scanReports(rows *sql.Rows, op string) ([]*report.Report, error) {
	var reports []*report.Report
	for rows.Next() {
		var (
			rep        report.Report
			notifiedAt sql.NullTime
			features   []byte
		)
		if err := rows.Scan(
			&rep.ID, &rep.AnomalyType, &rep.Location.Latitude, &rep.Location.Longitude,
			&rep.Location.Altitude, &rep.Location.AccuracyMeters,
			&rep.CapturedAt, &rep.ReportedAt, &notifiedAt,
			&rep.Locality, &rep.MediaReference, &rep.LikelyAnomaly, &features,
		); err != nil {
			return nil, classifyPostgresError(op+": scan", err)
		}
		if notifiedAt.Valid {
			t := notifiedAt.Time
			rep.NotifiedAt = &t
		}
		if err := json.Unmarshal(features, &rep.Features); err != nil {
			return nil, fmt.Errorf("%s: decode sensor features for %s: %w", op, rep.ID, err)
		}
		reports = append(reports, &rep)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgresError(op+": iterate", err)
	}
	return reports, nil
}

// classifyPostgresError maps integrity and data errors (SQLSTATE classes 22
// and 23) to ErrStoreRejected and everything else to ErrStoreUnavailable.
func classifyPostgresError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23":
			return fmt.Errorf("%s: %w: %w", op, report.ErrStoreRejected, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, report.ErrStoreUnavailable, err)
}
