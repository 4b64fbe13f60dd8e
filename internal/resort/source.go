package resort

import (
	"context"
	"errors"
)

var (
	// ErrResortNotFound is returned by a source that has no data for the
	// requested resort. The chain treats it like any other source failure.
	ErrResortNotFound = errors.New("resort not found at source")

	// ErrAllSourcesExhausted is returned when every configured source failed.
	ErrAllSourcesExhausted = errors.New("all sources exhausted")

	// ErrNoRecord is returned by stores when a row does not exist.
	ErrNoRecord = errors.New("record not found")
)

// Query identifies a resort to fetch from an upstream source.
type Query struct {
	Name      string
	StateHint string
}

// Source is a single upstream provider of resort snapshots.
type Source interface {
	Name() string
	Fetch(ctx context.Context, q Query) (Snapshot, error)
}

// RankingSource is implemented by sources that can produce a regional top-N.
type RankingSource interface {
	FetchTopByRegion(ctx context.Context, region string, limit int) ([]Ranked, error)
}

// CatalogSource is implemented by sources that can list the resorts of a region.
type CatalogSource interface {
	ListCatalog(ctx context.Context, region string) ([]CatalogEntry, error)
}

// QuestionAnswerer is implemented by sources that answer free-form questions.
type QuestionAnswerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

// ResortReport pairs a resort with its most recent snow report, if any.
type ResortReport struct {
	Resort Resort
	Report *SnowReport
}

// Store is the persistence contract the service relies on.
type Store interface {
	GetResort(ctx context.Context, id string) (Resort, error)
	ListResorts(ctx context.Context, limit int) ([]Resort, error)
	InsertPlaceholder(ctx context.Context, r Resort) (bool, error)

	LatestReport(ctx context.Context, resortID string) (SnowReport, error)
	ListLatestReports(ctx context.Context, region string) ([]ResortReport, error)

	ListForecasts(ctx context.Context, resortID, from, to string) ([]Forecast, error)
	LatestForecastFetch(ctx context.Context, resortID string) (string, error)

	// SaveRefresh persists one successful fetch atomically.
	SaveRefresh(ctx context.Context, r Resort, report SnowReport, forecasts []Forecast) error
}

// AlertChecker evaluates alert subscriptions after new forecasts are stored.
type AlertChecker interface {
	CheckResort(ctx context.Context, resortID string) (int, error)
}
