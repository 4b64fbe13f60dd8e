package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/i474232898/ski-conditions/internal/resort"
)

var _ resort.Store = (*Store)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

// stamp re-encodes a timestamp in the layout's own format so stored values
// of one layout compare consistently. Unparseable input is kept as is.
func stamp(sc schema, ts string) string {
	if ts == "" {
		return ""
	}
	t, err := resort.ParseTimestamp(ts)
	if err != nil {
		return ts
	}
	return sc.FormatTime(t)
}

func nullTime(sc schema, t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return sc.FormatTime(t)
}

func parseNullTime(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	t, err := resort.ParseTimestamp(ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func scanResort(row rowScanner, extra ...any) (resort.Resort, error) {
	var (
		r                    resort.Resort
		lastUpdated, created sql.NullString
	)
	dest := []any{
		&r.ID, &r.Name, &r.Location, &r.State, &r.Region,
		&r.Latitude, &r.Longitude, &r.LiftsTotal, &r.TrailsTotal,
		&r.WebsiteURL, &lastUpdated, &created,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return resort.Resort{}, err
	}
	r.LastUpdated = parseNullTime(lastUpdated)
	r.CreatedAt = parseNullTime(created)
	return r, nil
}

// reportRow scans report columns that may be NULL when outer-joined.
type reportRow struct {
	date                    sql.NullString
	base, s24, s48, s7d     sql.NullFloat64
	lifts, trails           sql.NullInt64
	conditions, source, raw sql.NullString
	created                 sql.NullString
}

func (rr *reportRow) dest() []any {
	return []any{
		&rr.date, &rr.base, &rr.s24, &rr.s48, &rr.s7d,
		&rr.lifts, &rr.trails, &rr.conditions, &rr.source, &rr.raw, &rr.created,
	}
}

func (rr *reportRow) report(resortID string) *resort.SnowReport {
	if !rr.date.Valid {
		return nil
	}
	rep := &resort.SnowReport{
		ResortID:    resortID,
		ReportDate:  rr.date.String,
		BaseDepthIn: rr.base.Float64,
		Snowfall24h: rr.s24.Float64,
		Snowfall48h: rr.s48.Float64,
		Snowfall7d:  rr.s7d.Float64,
		LiftsOpen:   int(rr.lifts.Int64),
		TrailsOpen:  int(rr.trails.Int64),
		Conditions:  rr.conditions.String,
		Source:      rr.source.String,
		CreatedAt:   rr.created.String,
	}
	if rr.raw.Valid && rr.raw.String != "" {
		rep.RawPayload = []byte(rr.raw.String)
	}
	return rep
}

// GetResort returns a resort by slug.
func (s *Store) GetResort(ctx context.Context, id string) (resort.Resort, error) {
	_, q, err := s.resolved(ctx)
	if err != nil {
		return resort.Resort{}, err
	}
	r, err := scanResort(s.db.QueryRowContext(ctx, q.getResort, id))
	if errors.Is(err, sql.ErrNoRows) {
		return resort.Resort{}, fmt.Errorf("resort %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return resort.Resort{}, fmt.Errorf("get resort: %w", err)
	}
	return r, nil
}

// ListResorts returns resorts most recently updated first; placeholders that
// were never fetched come last. limit <= 0 returns all.
func (s *Store) ListResorts(ctx context.Context, limit int) ([]resort.Resort, error) {
	_, q, err := s.resolved(ctx)
	if err != nil {
		return nil, err
	}

	var rows *sql.Rows
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, q.listResortsLimit, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, q.listResorts)
	}
	if err != nil {
		return nil, fmt.Errorf("query resorts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []resort.Resort
	for rows.Next() {
		r, err := scanResort(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resort: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertPlaceholder adds r unless a resort with the same slug exists. It
// reports whether a row was inserted.
func (s *Store) InsertPlaceholder(ctx context.Context, r resort.Resort) (bool, error) {
	sc, q, err := s.resolved(ctx)
	if err != nil {
		return false, err
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := s.db.ExecContext(ctx, q.insertPlaceholder,
		r.ID, r.Name, r.Location, r.State, r.Region, r.Latitude, r.Longitude,
		r.LiftsTotal, r.TrailsTotal, r.WebsiteURL, nullTime(sc, r.LastUpdated), sc.FormatTime(created),
	)
	if err != nil {
		return false, fmt.Errorf("insert placeholder %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// LatestReport returns the newest snow report of a resort.
func (s *Store) LatestReport(ctx context.Context, resortID string) (resort.SnowReport, error) {
	_, q, err := s.resolved(ctx)
	if err != nil {
		return resort.SnowReport{}, err
	}
	var rr reportRow
	err = s.db.QueryRowContext(ctx, q.latestReport, resortID).Scan(rr.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return resort.SnowReport{}, fmt.Errorf("report for %s: %w", resortID, ErrNotFound)
	}
	if err != nil {
		return resort.SnowReport{}, fmt.Errorf("latest report: %w", err)
	}
	return *rr.report(resortID), nil
}

// ListLatestReports returns every resort of region (a region name or a state
// code; "" for all) with its newest report, which is nil when none exists.
func (s *Store) ListLatestReports(ctx context.Context, region string) ([]resort.ResortReport, error) {
	_, q, err := s.resolved(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q.listLatestReports, region, region, region)
	if err != nil {
		return nil, fmt.Errorf("query latest reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []resort.ResortReport
	for rows.Next() {
		var rr reportRow
		r, err := scanResort(rows, rr.dest()...)
		if err != nil {
			return nil, fmt.Errorf("scan latest report: %w", err)
		}
		out = append(out, resort.ResortReport{Resort: r, Report: rr.report(r.ID)})
	}
	return out, rows.Err()
}

// ListForecasts returns the forecast days of a resort within [from, to],
// both YYYY-MM-DD, ordered by date.
func (s *Store) ListForecasts(ctx context.Context, resortID, from, to string) ([]resort.Forecast, error) {
	_, q, err := s.resolved(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q.listForecasts, resortID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query forecasts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []resort.Forecast{}
	for rows.Next() {
		f := resort.Forecast{ResortID: resortID}
		if err := rows.Scan(&f.ForecastDate, &f.SnowfallIn, &f.TempHighF, &f.TempLowF,
			&f.Conditions, &f.SnowProbability, &f.WindMph, &f.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan forecast: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// LatestForecastFetch returns the newest fetched_at among a resort's forecast
// rows. Values are compared as parsed times since legacy rows may mix formats.
func (s *Store) LatestForecastFetch(ctx context.Context, resortID string) (string, error) {
	_, q, err := s.resolved(ctx)
	if err != nil {
		return "", err
	}
	rows, err := s.db.QueryContext(ctx, q.forecastFetches, resortID)
	if err != nil {
		return "", fmt.Errorf("query forecast fetches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		latest time.Time
		raw    string
	)
	for rows.Next() {
		var ts string
		if err := rows.Scan(&ts); err != nil {
			return "", fmt.Errorf("scan fetched_at: %w", err)
		}
		t, err := resort.ParseTimestamp(ts)
		if err != nil {
			continue
		}
		if raw == "" || t.After(latest) {
			latest, raw = t, ts
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if raw == "" {
		return "", fmt.Errorf("forecasts for %s: %w", resortID, ErrNotFound)
	}
	return raw, nil
}

// SaveRefresh upserts the resort, its report and its forecast days in one
// transaction. Concurrent refreshes of one resort resolve last-write-wins.
func (s *Store) SaveRefresh(ctx context.Context, r resort.Resort, report resort.SnowReport, forecasts []resort.Forecast) error {
	sc, q, err := s.resolved(ctx)
	if err != nil {
		return err
	}

	created := r.CreatedAt
	if created.IsZero() {
		created = r.LastUpdated
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, q.upsertResort,
			r.ID, r.Name, r.Location, r.State, r.Region, r.Latitude, r.Longitude,
			r.LiftsTotal, r.TrailsTotal, r.WebsiteURL, nullTime(sc, r.LastUpdated), sc.FormatTime(created),
		); err != nil {
			return fmt.Errorf("upsert resort: %w", err)
		}

		var raw any
		if len(report.RawPayload) > 0 {
			raw = string(report.RawPayload)
		}
		if _, err := tx.ExecContext(ctx, q.upsertReport,
			r.ID, report.ReportDate, report.BaseDepthIn, report.Snowfall24h, report.Snowfall48h,
			report.Snowfall7d, report.LiftsOpen, report.TrailsOpen, report.Conditions, report.Source,
			raw, stamp(sc, report.CreatedAt),
		); err != nil {
			return fmt.Errorf("upsert report: %w", err)
		}

		for _, f := range forecasts {
			if _, err := tx.ExecContext(ctx, q.upsertForecast,
				r.ID, f.ForecastDate, f.SnowfallIn, f.TempHighF, f.TempLowF, f.Conditions,
				f.SnowProbability, f.WindMph, stamp(sc, f.FetchedAt),
			); err != nil {
				return fmt.Errorf("upsert forecast %s: %w", f.ForecastDate, err)
			}
		}
		return nil
	})
}
