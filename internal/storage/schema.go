package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Mode identifies a table layout.
type Mode int

const (
	// ModeA is the current layout: ski_ prefixed tables keyed by resort_id.
	ModeA Mode = iota + 1
	// ModeB is the legacy layout: unprefixed tables keyed by resort_slug,
	// timestamps written without a zone.
	ModeB
)

func (m Mode) String() string {
	switch m {
	case ModeA:
		return "current"
	case ModeB:
		return "legacy"
	default:
		return "unknown"
	}
}

// schema yields the names a layout uses.
type schema interface {
	Mode() Mode
	Resorts() string
	SnowReports() string
	Forecasts() string
	Subscriptions() string
	Notifications() string
	// ResortPK is the primary key column of the resorts table.
	ResortPK() string
	// ResortKey is the column child tables reference a resort by.
	ResortKey() string
	FormatTime(t time.Time) string
}

type modeASchema struct{}

func (modeASchema) Mode() Mode            { return ModeA }
func (modeASchema) Resorts() string       { return "ski_resorts" }
func (modeASchema) SnowReports() string   { return "ski_snow_reports" }
func (modeASchema) Forecasts() string     { return "ski_forecasts" }
func (modeASchema) Subscriptions() string { return "ski_alert_subscriptions" }
func (modeASchema) Notifications() string { return "ski_alert_notifications" }
func (modeASchema) ResortPK() string      { return "id" }
func (modeASchema) ResortKey() string     { return "resort_id" }

func (modeASchema) FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z07:00")
}

type modeBSchema struct{}

func (modeBSchema) Mode() Mode            { return ModeB }
func (modeBSchema) Resorts() string       { return "resorts" }
func (modeBSchema) SnowReports() string   { return "snow_reports" }
func (modeBSchema) Forecasts() string     { return "forecasts" }
func (modeBSchema) Subscriptions() string { return "alert_subscriptions" }
func (modeBSchema) Notifications() string { return "alert_notifications" }
func (modeBSchema) ResortPK() string      { return "slug" }
func (modeBSchema) ResortKey() string     { return "resort_slug" }

// FormatTime writes UTC wall time with no zone, as the legacy writers did.
func (modeBSchema) FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000000")
}

// ResolveSchemaMode detects which layout the database uses. The current
// layout is probed first, then the legacy one; when neither exists the
// current layout is chosen so migrations can create it. A successful result
// is kept for the life of the Store. Probe errors other than a missing table
// are returned and not kept, so the next call probes again.
func (s *Store) ResolveSchemaMode(ctx context.Context) (Mode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schema != nil {
		return s.schema.Mode(), nil
	}

	sc, err := s.detect(ctx)
	if err != nil {
		return 0, err
	}

	s.schema = sc
	s.q = buildQueries(sc, s.driver)
	s.metrics.SetSchemaMode(sc.Mode().String())
	s.log.Info().Str("mode", sc.Mode().String()).Str("resorts_table", sc.Resorts()).Msg("schema mode resolved")
	return sc.Mode(), nil
}

func (s *Store) detect(ctx context.Context) (schema, error) {
	for _, sc := range []schema{modeASchema{}, modeBSchema{}} {
		err := s.probeTable(ctx, sc.Resorts())
		if err == nil {
			return sc, nil
		}
		if !isRelationNotFound(err) {
			return nil, fmt.Errorf("probe %s: %w", sc.Resorts(), err)
		}
	}
	return modeASchema{}, nil
}

func (s *Store) probeTable(ctx context.Context, table string) error {
	rows, err := s.probe.QueryContext(ctx, "SELECT 1 FROM "+table+" LIMIT 1")
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
	}
	return rows.Err()
}

// isRelationNotFound reports whether err means the queried table does not
// exist: SQLSTATE 42P01 on Postgres, "no such table" on SQLite.
func isRelationNotFound(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	return strings.Contains(strings.ToLower(err.Error()), "no such table")
}

// resolved returns the query set of the detected layout, detecting it first
// when needed.
func (s *Store) resolved(ctx context.Context) (schema, *queries, error) {
	if _, err := s.ResolveSchemaMode(ctx); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schema, s.q, nil
}
