package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/i474232898/ski-conditions/internal/common"
	"github.com/i474232898/ski-conditions/internal/metrics"
	"github.com/i474232898/ski-conditions/internal/resort"
)

// DefaultEntityTimeout bounds the refresh of a single resort.
const DefaultEntityTimeout = 2 * time.Minute

// Refresher is the part of the resort service the orchestrator drives.
type Refresher interface {
	ListResorts(ctx context.Context, limit int) ([]resort.Resort, error)
	Refresh(ctx context.Context, r resort.Resort) (resort.View, error)
	AddPlaceholder(ctx context.Context, r resort.Resort) (bool, error)
}

// Locator resolves coordinates for a newly discovered resort.
type Locator interface {
	Locate(ctx context.Context, name, state string) (lat, lon float64, err error)
}

// Result counts the outcome of a refresh sweep.
type Result struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// DiscoveryResult counts the outcome of a catalog discovery run.
type DiscoveryResult struct {
	Regions  int `json:"regions"`
	Found    int `json:"found"`
	Added    int `json:"added"`
	Geocoded int `json:"geocoded"`
}

// Orchestrator refreshes and discovers resorts in the background.
type Orchestrator struct {
	svc           Refresher
	catalogs      []resort.CatalogSource
	locator       Locator
	clock         clockwork.Clock
	entityTimeout time.Duration
	log           zerolog.Logger
	metrics       *metrics.Metrics
}

type OrchestratorOption func(*Orchestrator)

func WithCatalogs(c []resort.CatalogSource) OrchestratorOption {
	return func(o *Orchestrator) { o.catalogs = c }
}

// WithLocator enables geocoding of discovered resorts.
func WithLocator(l Locator) OrchestratorOption {
	return func(o *Orchestrator) { o.locator = l }
}

func WithClock(c clockwork.Clock) OrchestratorOption {
	return func(o *Orchestrator) { o.clock = c }
}

func WithEntityTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.entityTimeout = d }
}

func WithLogger(l zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = l }
}

func WithMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

func NewOrchestrator(svc Refresher, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		svc:           svc,
		clock:         clockwork.NewRealClock(),
		entityTimeout: DefaultEntityTimeout,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RefreshAll refreshes up to limit resorts (0 means all), most recently
// updated first, one at a time with delay between them. A failing resort is
// logged and counted and the sweep continues. Cancelling ctx stops the sweep
// between resorts; the resort in flight runs to completion under its own
// timeout.
func (o *Orchestrator) RefreshAll(ctx context.Context, limit int, delay time.Duration) (Result, error) {
	resorts, err := o.svc.ListResorts(ctx, limit)
	if err != nil {
		return Result{}, fmt.Errorf("list resorts: %w", err)
	}

	res := Result{Total: len(resorts)}
	start := o.clock.Now()
	o.log.Info().Int("total", res.Total).Dur("delay", delay).Msg("refresh sweep started")

	for i, r := range resorts {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
			case <-o.clock.After(delay):
			}
		}
		if ctx.Err() != nil {
			o.log.Warn().Int("done", i).Int("total", res.Total).Msg("refresh sweep interrupted")
			break
		}

		if err := o.refreshOne(ctx, r); err != nil {
			res.Failed++
			o.metrics.RefreshEntity(false)
			o.log.Error().Err(err).Str("resort", r.ID).Msg("refresh failed")
			continue
		}
		res.Success++
		o.metrics.RefreshEntity(true)
	}

	o.log.Info().
		Int("total", res.Total).
		Int("success", res.Success).
		Int("failed", res.Failed).
		Dur("elapsed", o.clock.Since(start)).
		Msg("refresh sweep finished")
	return res, nil
}

func (o *Orchestrator) refreshOne(ctx context.Context, r resort.Resort) error {
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.entityTimeout)
	defer cancel()
	_, err := o.svc.Refresh(ectx, r)
	return err
}

// Discover lists the resorts of each region from every catalog source and
// adds the unknown ones as placeholders. Coordinates are filled in when a
// locator is configured.
func (o *Orchestrator) Discover(ctx context.Context, regions []string) (DiscoveryResult, error) {
	var res DiscoveryResult
	if len(o.catalogs) == 0 {
		return res, resort.ErrUnsupported
	}

	existing, err := o.svc.ListResorts(ctx, 0)
	if err != nil {
		return res, fmt.Errorf("list resorts: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, r := range existing {
		known[r.ID] = true
	}

	var errs []error
	for _, region := range regions {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if !resort.KnownRegion(region) {
			errs = append(errs, fmt.Errorf("unknown region %q", region))
			continue
		}
		res.Regions++

		for _, cat := range o.catalogs {
			entries, err := cat.ListCatalog(ctx, region)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", region, err))
				continue
			}
			res.Found += len(entries)
			for _, e := range entries {
				added, located, err := o.addEntry(ctx, region, e, known)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if added {
					res.Added++
				}
				if located {
					res.Geocoded++
				}
			}
		}
	}

	o.metrics.AddDiscovered(res.Added)
	o.log.Info().
		Int("regions", res.Regions).
		Int("found", res.Found).
		Int("added", res.Added).
		Int("geocoded", res.Geocoded).
		Msg("discovery finished")
	return res, errors.Join(errs...)
}

// DiscoverAndRefresh adds placeholders for the regions' unknown resorts and
// then refreshes, so a fresh database fills on the first sweep. Discovery
// errors are logged; the sweep runs regardless.
func (o *Orchestrator) DiscoverAndRefresh(ctx context.Context, regions []string, limit int, delay time.Duration) (Result, error) {
	if len(regions) > 0 {
		if _, err := o.Discover(ctx, regions); err != nil {
			o.log.Warn().Err(err).Strs("regions", regions).Msg("discovery before refresh failed")
		}
	}
	return o.RefreshAll(ctx, limit, delay)
}

func (o *Orchestrator) addEntry(ctx context.Context, region string, e resort.CatalogEntry, known map[string]bool) (bool, bool, error) {
	id := common.Slugify(e.Name)
	if id == "" || known[id] {
		return false, false, nil
	}

	state := resort.NormalizeState(e.State)
	r := resort.Resort{
		ID:        id,
		Name:      e.Name,
		Location:  e.Location,
		State:     state,
		Region:    resort.RegionOf(state),
		CreatedAt: o.clock.Now().UTC(),
	}
	if r.Region == "" {
		r.Region = region
	}

	located := false
	if o.locator != nil {
		lat, lon, err := o.locator.Locate(ctx, e.Name, state)
		if err != nil {
			o.log.Debug().Err(err).Str("resort", id).Msg("geocoding failed")
		} else {
			r.Latitude, r.Longitude, located = lat, lon, true
		}
	}

	added, err := o.svc.AddPlaceholder(ctx, r)
	if err != nil {
		return false, false, fmt.Errorf("add %s: %w", id, err)
	}
	known[id] = true
	return added, located && added, nil
}
