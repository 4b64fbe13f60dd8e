package resort

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/i474232898/ski-conditions/internal/cache"
	"github.com/i474232898/ski-conditions/internal/common"
	"github.com/i474232898/ski-conditions/internal/metrics"
)

// Config holds the staleness bounds of the service.
type Config struct {
	ResortTTL    time.Duration // snow report freshness
	ForecastTTL  time.Duration // forecast freshness, by fetch time
	MemoryTTL    time.Duration // aggregate queries in the cache tier
	ForecastDays int           // how many days ahead a lookup returns
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ResortTTL:    time.Hour,
		ForecastTTL:  3 * time.Hour,
		MemoryTTL:    10 * time.Minute,
		ForecastDays: 10,
	}
}

// Service serves resort data with bounded staleness: cache tier, then store,
// then the source chain.
type Service struct {
	store   Store
	chain   *Chain
	cache   cache.Tier
	cfg     Config
	clock   clockwork.Clock
	fresh   *Evaluator
	alerts  AlertChecker
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock sets the time source.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithMetrics attaches Prometheus instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithAlertChecker runs alert matching after every successful refresh.
func WithAlertChecker(a AlertChecker) Option {
	return func(s *Service) { s.alerts = a }
}

// NewService creates a new Service.
func NewService(store Store, chain *Chain, tier cache.Tier, cfg Config, opts ...Option) *Service {
	s := &Service{
		store: store,
		chain: chain,
		cache: tier,
		cfg:   cfg,
		clock: clockwork.NewRealClock(),
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.ForecastDays <= 0 {
		s.cfg.ForecastDays = DefaultConfig().ForecastDays
	}
	s.fresh = NewEvaluator(s.clock)
	return s
}

// SetAlertChecker attaches the alert engine once it has been built.
func (s *Service) SetAlertChecker(a AlertChecker) {
	s.alerts = a
}

// Chain exposes the source chain, e.g. for discovery.
func (s *Service) Chain() *Chain {
	return s.chain
}

// GetResort returns a resort with its latest report and upcoming forecasts.
// A fresh report is served from the store; otherwise, or when force is set,
// the resort is refreshed through the source chain. Unknown slugs are looked
// up upstream by a name derived from the slug and created on success.
func (s *Service) GetResort(ctx context.Context, id string, force bool) (View, error) {
	id = common.Slugify(id)
	if id == "" {
		return View{}, fmt.Errorf("resort id: %w", ErrNoRecord)
	}

	r, err := s.store.GetResort(ctx, id)
	switch {
	case errors.Is(err, ErrNoRecord):
		s.metrics.CacheResult("store", "miss")
		return s.Refresh(ctx, Resort{ID: id, Name: NameFromSlug(id)})
	case err != nil:
		return View{}, fmt.Errorf("load resort %s: %w", id, err)
	}

	if !force {
		view, ok, err := s.fromStore(ctx, r)
		if err != nil {
			return View{}, err
		}
		if ok {
			return view, nil
		}
	}
	return s.Refresh(ctx, r)
}

func (s *Service) fromStore(ctx context.Context, r Resort) (View, bool, error) {
	rep, err := s.store.LatestReport(ctx, r.ID)
	if errors.Is(err, ErrNoRecord) {
		s.metrics.CacheResult("store", "miss")
		return View{}, false, nil
	}
	if err != nil {
		return View{}, false, fmt.Errorf("latest report %s: %w", r.ID, err)
	}
	if !s.fresh.IsFresh(rep.CreatedAt, s.cfg.ResortTTL) {
		s.metrics.CacheResult("store", "stale")
		return View{}, false, nil
	}

	forecasts, err := s.upcoming(ctx, r.ID)
	if err != nil {
		return View{}, false, err
	}
	s.metrics.CacheResult("store", "hit")
	return View{Resort: r, Report: &rep, Forecasts: forecasts, Cached: true}, true, nil
}

// GetForecast returns the upcoming forecast days of a resort. Freshness is
// judged by the newest fetch time among the resort's forecast rows.
func (s *Service) GetForecast(ctx context.Context, id string) ([]Forecast, error) {
	id = common.Slugify(id)
	r, err := s.store.GetResort(ctx, id)
	if errors.Is(err, ErrNoRecord) {
		view, err := s.Refresh(ctx, Resort{ID: id, Name: NameFromSlug(id)})
		return view.Forecasts, err
	}
	if err != nil {
		return nil, fmt.Errorf("load resort %s: %w", id, err)
	}

	fetched, err := s.store.LatestForecastFetch(ctx, id)
	if err != nil && !errors.Is(err, ErrNoRecord) {
		return nil, fmt.Errorf("latest forecast fetch %s: %w", id, err)
	}
	if err == nil && s.fresh.IsFresh(fetched, s.cfg.ForecastTTL) {
		s.metrics.CacheResult("store", "hit")
		return s.upcoming(ctx, id)
	}

	s.metrics.CacheResult("store", "stale")
	view, err := s.Refresh(ctx, r)
	if err != nil {
		return nil, err
	}
	return view.Forecasts, nil
}

// Refresh fetches r through the source chain and persists the result. When
// every source fails nothing is written.
func (s *Service) Refresh(ctx context.Context, r Resort) (View, error) {
	snap, err := s.chain.Fetch(ctx, r.Name, r.State)
	if err != nil {
		return View{}, err
	}

	now := s.clock.Now().UTC()
	r = mergeSnapshot(r, snap, now)
	report := s.reportFrom(r.ID, snap, now)
	forecasts := s.normalizeForecasts(r.ID, snap.Forecast, now)

	if err := s.store.SaveRefresh(ctx, r, report, forecasts); err != nil {
		return View{}, fmt.Errorf("save refresh %s: %w", r.ID, err)
	}

	s.invalidate(ctx, r)

	if s.alerts != nil {
		n, err := s.alerts.CheckResort(ctx, r.ID)
		if err != nil {
			s.log.Error().Err(err).Str("resort", r.ID).Msg("alert check after refresh failed")
		} else if n > 0 {
			s.log.Info().Str("resort", r.ID).Int("triggered", n).Msg("alerts triggered")
		}
	}

	s.log.Debug().
		Str("resort", r.ID).
		Str("source", report.Source).
		Int("forecast_days", len(forecasts)).
		Msg("resort refreshed")

	return View{Resort: r, Report: &report, Forecasts: s.window(forecasts, now)}, nil
}

func mergeSnapshot(r Resort, snap Snapshot, now time.Time) Resort {
	if snap.Name != "" && (r.Name == "" || r.Name == NameFromSlug(r.ID)) {
		r.Name = snap.Name
	}
	if snap.Location != "" {
		r.Location = snap.Location
	}
	if snap.State != "" {
		r.State = NormalizeState(snap.State)
	}
	if region := RegionOf(r.State); region != "" {
		r.Region = region
	}
	if snap.LiftsTotal > 0 {
		r.LiftsTotal = snap.LiftsTotal
	}
	if snap.TrailsTotal > 0 {
		r.TrailsTotal = snap.TrailsTotal
	}
	if snap.WebsiteURL != "" {
		r.WebsiteURL = snap.WebsiteURL
	}
	r.LastUpdated = now
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	return r
}

func (s *Service) reportFrom(id string, snap Snapshot, now time.Time) SnowReport {
	raw := snap.Raw
	if len(raw) == 0 {
		if b, err := json.Marshal(snap); err == nil {
			raw = b
		}
	}
	return SnowReport{
		ResortID:    id,
		ReportDate:  now.Format(DateLayout),
		BaseDepthIn: snap.BaseDepthIn,
		Snowfall24h: snap.Snowfall24h,
		Snowfall48h: snap.Snowfall48h,
		Snowfall7d:  snap.Snowfall7d,
		LiftsOpen:   snap.LiftsOpen,
		TrailsOpen:  snap.TrailsOpen,
		Conditions:  NormalizeConditions(snap.Conditions),
		Source:      snap.SourceName,
		RawPayload:  raw,
		CreatedAt:   now.Format(time.RFC3339Nano),
	}
}

// normalizeForecasts resolves upstream dates against now. Days whose date
// cannot be resolved are skipped; a repeated date keeps the later entry.
func (s *Service) normalizeForecasts(id string, days []ForecastDay, now time.Time) []Forecast {
	fetchedAt := now.Format(time.RFC3339Nano)
	out := make([]Forecast, 0, len(days))
	index := make(map[string]int, len(days))

	for _, d := range days {
		t, err := NormalizeForecastDate(d.Date, now)
		if err != nil {
			s.log.Warn().Err(err).Str("resort", id).Str("date", d.Date).Msg("skipping forecast day")
			continue
		}
		f := Forecast{
			ResortID:        id,
			ForecastDate:    t.Format(DateLayout),
			SnowfallIn:      d.SnowfallIn,
			TempHighF:       d.TempHighF,
			TempLowF:        d.TempLowF,
			Conditions:      d.Conditions,
			SnowProbability: d.SnowProbability,
			WindMph:         d.WindMph,
			FetchedAt:       fetchedAt,
		}
		if i, ok := index[f.ForecastDate]; ok {
			out[i] = f
			continue
		}
		index[f.ForecastDate] = len(out)
		out = append(out, f)
	}
	return out
}

func (s *Service) window(forecasts []Forecast, now time.Time) []Forecast {
	from, to := s.forecastRange(now)
	out := make([]Forecast, 0, len(forecasts))
	for _, f := range forecasts {
		if f.ForecastDate >= from && f.ForecastDate <= to {
			out = append(out, f)
		}
	}
	return out
}

func (s *Service) upcoming(ctx context.Context, id string) ([]Forecast, error) {
	from, to := s.forecastRange(s.clock.Now().UTC())
	forecasts, err := s.store.ListForecasts(ctx, id, from, to)
	if err != nil {
		return nil, fmt.Errorf("list forecasts %s: %w", id, err)
	}
	return forecasts, nil
}

func (s *Service) forecastRange(now time.Time) (string, string) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today.Format(DateLayout), today.AddDate(0, 0, s.cfg.ForecastDays).Format(DateLayout)
}

func (s *Service) invalidate(ctx context.Context, r Resort) {
	prefixes := []string{}
	if r.Region != "" {
		prefixes = append(prefixes, cache.TopPrefix(r.Region))
	}
	if r.State != "" {
		prefixes = append(prefixes, cache.TopPrefix(regionKey(r.State)))
	}
	for _, p := range prefixes {
		if err := s.cache.InvalidatePrefix(ctx, p); err != nil {
			s.log.Warn().Err(err).Str("prefix", p).Msg("cache invalidation failed")
		}
	}
	if err := s.cache.Invalidate(ctx, cache.MapKey); err != nil {
		s.log.Warn().Err(err).Msg("cache invalidation failed")
	}
}

func regionKey(region string) string {
	return strings.ToLower(strings.TrimSpace(region))
}

// TopByRegion ranks a region's resorts by fresh snowfall. Lookups go memory
// tier, then fresh store rows, then the upstream ranking source, whose
// resorts are added to the store as placeholders.
func (s *Service) TopByRegion(ctx context.Context, region string, limit int) ([]Ranked, error) {
	region = regionKey(region)
	key := cache.TopKey(region, limit)

	var ranked []Ranked
	if hit, err := s.cache.Get(ctx, key, &ranked); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
	} else if hit {
		s.metrics.CacheResult("memory", "hit")
		return ranked, nil
	}
	s.metrics.CacheResult("memory", "miss")

	rows, err := s.store.ListLatestReports(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("list reports for %s: %w", region, err)
	}

	var fresh []ResortReport
	reported := 0
	for _, row := range rows {
		if row.Report == nil {
			continue
		}
		reported++
		if s.fresh.IsFresh(row.Report.CreatedAt, s.cfg.ResortTTL) {
			fresh = append(fresh, row)
		}
	}

	// Fresh rows answer only when they can fill the whole list.
	need := reported
	if limit > 0 && limit < need {
		need = limit
	}
	if len(fresh) > 0 && len(fresh) >= need {
		s.metrics.CacheResult("store", "hit")
		ranked = RankReports(fresh, limit)
	} else {
		s.metrics.CacheResult("store", "miss")
		ranked, err = s.rankUpstream(ctx, region, limit)
		if err != nil {
			// Stale rows beat nothing, but are not cached.
			if stale := RankReports(rows, limit); len(stale) > 0 {
				s.log.Warn().Err(err).Str("region", region).Msg("serving stale ranking")
				return stale, nil
			}
			if errors.Is(err, ErrUnsupported) {
				return []Ranked{}, nil
			}
			return nil, err
		}
	}

	if err := s.cache.Put(ctx, key, ranked, s.cfg.MemoryTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	return ranked, nil
}

func (s *Service) rankUpstream(ctx context.Context, region string, limit int) ([]Ranked, error) {
	ranked, err := s.chain.TopByRegion(ctx, region, limit)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	now := s.clock.Now().UTC()
	for i := range ranked {
		rk := &ranked[i]
		if rk.ResortID == "" {
			rk.ResortID = common.Slugify(rk.Name)
		}
		rk.State = NormalizeState(rk.State)
		if rk.Score == 0 {
			rk.Score = Score(rk.Snowfall24h, rk.Snowfall7d, rk.BaseDepthIn)
		}

		placeholder := Resort{
			ID:        rk.ResortID,
			Name:      rk.Name,
			State:     rk.State,
			Region:    RegionOf(rk.State),
			CreatedAt: now,
		}
		if placeholder.Region == "" && KnownRegion(region) {
			placeholder.Region = region
		}
		if _, err := s.store.InsertPlaceholder(ctx, placeholder); err != nil {
			s.log.Warn().Err(err).Str("resort", rk.ResortID).Msg("insert placeholder failed")
		}
	}
	return ranked, nil
}

// MapView returns every tracked resort with its latest conditions.
func (s *Service) MapView(ctx context.Context) ([]MapPoint, error) {
	var points []MapPoint
	if hit, err := s.cache.Get(ctx, cache.MapKey, &points); err != nil {
		s.log.Warn().Err(err).Msg("cache read failed")
	} else if hit {
		s.metrics.CacheResult("memory", "hit")
		return points, nil
	}
	s.metrics.CacheResult("memory", "miss")

	rows, err := s.store.ListLatestReports(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	points = MapPoints(rows)

	if err := s.cache.Put(ctx, cache.MapKey, points, s.cfg.MemoryTTL); err != nil {
		s.log.Warn().Err(err).Msg("cache write failed")
	}
	return points, nil
}

// Preload warms the rankings of each region. It keeps going past failing
// regions and returns how many ranked rows were loaded.
func (s *Service) Preload(ctx context.Context, regions []string, limit int) (int, error) {
	var (
		total int
		errs  []error
	)
	for _, region := range regions {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		ranked, err := s.TopByRegion(ctx, region, limit)
		if err != nil {
			s.log.Warn().Err(err).Str("region", region).Msg("preload failed")
			errs = append(errs, fmt.Errorf("%s: %w", region, err))
			continue
		}
		total += len(ranked)
	}
	return total, errors.Join(errs...)
}

// Ask answers a free-form question through the first capable source.
func (s *Service) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.New("question is empty")
	}
	return s.chain.Answer(ctx, question)
}

// ListResorts returns tracked resorts, most recently updated first.
func (s *Service) ListResorts(ctx context.Context, limit int) ([]Resort, error) {
	return s.store.ListResorts(ctx, limit)
}

// AddPlaceholder starts tracking a resort that has not been fetched yet.
// It reports false if the resort already exists.
func (s *Service) AddPlaceholder(ctx context.Context, r Resort) (bool, error) {
	if r.ID == "" {
		r.ID = common.Slugify(r.Name)
	}
	r.State = NormalizeState(r.State)
	if r.Region == "" {
		r.Region = RegionOf(r.State)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clock.Now().UTC()
	}
	ok, err := s.store.InsertPlaceholder(ctx, r)
	if err != nil {
		return false, fmt.Errorf("insert placeholder %s: %w", r.ID, err)
	}
	if ok {
		if err := s.cache.Invalidate(ctx, cache.MapKey); err != nil {
			s.log.Warn().Err(err).Msg("cache invalidation failed")
		}
	}
	return ok, nil
}

// NameFromSlug turns "arapahoe-basin" into "Arapahoe Basin".
func NameFromSlug(slug string) string {
	parts := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' })
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
