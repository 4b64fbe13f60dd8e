package resort

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// FetchObserver is notified of each source attempt; used for metrics.
type FetchObserver interface {
	ObserveFetch(source, outcome string, elapsed time.Duration)
}

// Chain tries its sources in order until one returns a snapshot.
type Chain struct {
	sources  []Source
	timeout  time.Duration
	log      zerolog.Logger
	observer FetchObserver
}

// NewChain builds a chain over sources, in priority order. timeout bounds each
// individual source call; zero means no extra bound beyond the caller's ctx.
func NewChain(sources []Source, timeout time.Duration, log zerolog.Logger) *Chain {
	return &Chain{
		sources: sources,
		timeout: timeout,
		log:     log,
	}
}

// WithObserver attaches a FetchObserver.
func (c *Chain) WithObserver(o FetchObserver) *Chain {
	c.observer = o
	return c
}

// Sources returns the configured sources in priority order.
func (c *Chain) Sources() []Source {
	return c.sources
}

// Fetch returns the first successful snapshot. A failing source, including a
// timeout or ErrResortNotFound, only advances to the next one; the error
// wraps ErrAllSourcesExhausted once every source has failed.
func (c *Chain) Fetch(ctx context.Context, name, stateHint string) (Snapshot, error) {
	if len(c.sources) == 0 {
		return Snapshot{}, fmt.Errorf("%w: no sources configured", ErrAllSourcesExhausted)
	}

	q := Query{Name: name, StateHint: stateHint}
	var errs []error
	for _, src := range c.sources {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		snap, err := c.try(ctx, src, q)
		if err == nil {
			if snap.SourceName == "" {
				snap.SourceName = src.Name()
			}
			return snap, nil
		}

		c.log.Warn().
			Str("source", src.Name()).
			Str("resort", name).
			Err(err).
			Msg("source failed, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
	}

	return Snapshot{}, fmt.Errorf("%w for %q: %w", ErrAllSourcesExhausted, name, errors.Join(errs...))
}

func (c *Chain) try(ctx context.Context, src Source, q Query) (Snapshot, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	start := time.Now()
	snap, err := src.Fetch(ctx, q)
	c.observe(src.Name(), outcomeOf(err), time.Since(start))
	return snap, err
}

func (c *Chain) observe(source, outcome string, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveFetch(source, outcome, elapsed)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrResortNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// ErrUnsupported is returned when no configured source offers a capability.
var ErrUnsupported = errors.New("no source supports this operation")

// TopByRegion asks each ranking-capable source in order for a regional top-N.
func (c *Chain) TopByRegion(ctx context.Context, region string, limit int) ([]Ranked, error) {
	var errs []error
	for _, src := range c.sources {
		rs, ok := src.(RankingSource)
		if !ok {
			continue
		}
		cctx, cancel := c.bound(ctx)
		ranked, err := rs.FetchTopByRegion(cctx, region, limit)
		cancel()
		if err == nil {
			return ranked, nil
		}
		c.log.Warn().Str("source", src.Name()).Str("region", region).Err(err).Msg("ranking failed")
		errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
	}
	if len(errs) == 0 {
		return nil, ErrUnsupported
	}
	return nil, fmt.Errorf("%w: %w", ErrAllSourcesExhausted, errors.Join(errs...))
}

// Answer forwards a free-form question to the first source able to answer.
func (c *Chain) Answer(ctx context.Context, question string) (string, error) {
	for _, src := range c.sources {
		qa, ok := src.(QuestionAnswerer)
		if !ok {
			continue
		}
		cctx, cancel := c.bound(ctx)
		defer cancel()
		return qa.Answer(cctx, question)
	}
	return "", ErrUnsupported
}

// Catalogs returns every source that can list a region's resorts.
func (c *Chain) Catalogs() []CatalogSource {
	var out []CatalogSource
	for _, src := range c.sources {
		if cs, ok := src.(CatalogSource); ok {
			out = append(out, cs)
		}
	}
	return out
}

func (c *Chain) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}
