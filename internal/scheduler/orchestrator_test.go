package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/ski-conditions/internal/resort"
)

type fakeRefresher struct {
	mu        sync.Mutex
	resorts   []resort.Resort
	fail      map[string]bool
	refreshed []string
	added     []resort.Resort
	onRefresh func(ctx context.Context, id string)
}

func (f *fakeRefresher) ListResorts(_ context.Context, limit int) ([]resort.Resort, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]resort.Resort(nil), f.resorts...)
	if limit > 0 && limit < len(out) {
		return out[:limit], nil
	}
	return out, nil
}

func (f *fakeRefresher) Refresh(ctx context.Context, r resort.Resort) (resort.View, error) {
	if f.onRefresh != nil {
		f.onRefresh(ctx, r.ID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, r.ID)
	if f.fail[r.ID] {
		return resort.View{}, errors.New("upstream down")
	}
	return resort.View{Resort: r}, nil
}

func (f *fakeRefresher) AddPlaceholder(_ context.Context, r resort.Resort) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, r)
	f.resorts = append(f.resorts, r)
	return true, nil
}

func (f *fakeRefresher) refreshedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.refreshed...)
}

func resorts(ids ...string) []resort.Resort {
	out := make([]resort.Resort, len(ids))
	for i, id := range ids {
		out[i] = resort.Resort{ID: id, Name: resort.NameFromSlug(id)}
	}
	return out
}

func TestRefreshAll_CountsFailuresAndContinues(t *testing.T) {
	f := &fakeRefresher{
		resorts: resorts("alta", "snowbird", "brighton", "solitude", "park-city"),
		fail:    map[string]bool{"brighton": true},
	}
	o := NewOrchestrator(f)

	res, err := o.RefreshAll(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 5, Success: 4, Failed: 1}, res)
	assert.Equal(t, []string{"alta", "snowbird", "brighton", "solitude", "park-city"}, f.refreshedIDs())
}

func TestRefreshAll_Limit(t *testing.T) {
	f := &fakeRefresher{resorts: resorts("alta", "snowbird", "brighton")}
	o := NewOrchestrator(f)

	res, err := o.RefreshAll(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 2, Success: 2}, res)
}

func TestRefreshAll_WaitsBetweenResorts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	f := &fakeRefresher{resorts: resorts("alta", "snowbird")}
	o := NewOrchestrator(f, WithClock(clock))

	done := make(chan Result, 1)
	go func() {
		res, _ := o.RefreshAll(context.Background(), 0, 5*time.Second)
		done <- res
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, []string{"alta"}, f.refreshedIDs())

	clock.Advance(5 * time.Second)
	select {
	case res := <-done:
		assert.Equal(t, Result{Total: 2, Success: 2}, res)
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not finish after the delay elapsed")
	}
	assert.Equal(t, []string{"alta", "snowbird"}, f.refreshedIDs())
}

func TestRefreshAll_CancelStopsBetweenResorts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var inflightErr error
	f := &fakeRefresher{resorts: resorts("alta", "snowbird", "brighton")}
	f.onRefresh = func(ectx context.Context, id string) {
		if id == "snowbird" {
			cancel()
			inflightErr = ectx.Err()
		}
	}
	o := NewOrchestrator(f)

	res, err := o.RefreshAll(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 3, Success: 2}, res)
	assert.NoError(t, inflightErr, "in-flight resort keeps running after cancel")
	assert.Equal(t, []string{"alta", "snowbird"}, f.refreshedIDs())
}

func TestRefreshAll_EntityTimeout(t *testing.T) {
	var deadline time.Time
	f := &fakeRefresher{resorts: resorts("alta")}
	f.onRefresh = func(ectx context.Context, _ string) {
		deadline, _ = ectx.Deadline()
	}
	o := NewOrchestrator(f, WithEntityTimeout(time.Minute))

	before := time.Now()
	_, err := o.RefreshAll(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(time.Minute), deadline, 5*time.Second)
}

type fakeCatalog map[string][]resort.CatalogEntry

func (c fakeCatalog) ListCatalog(_ context.Context, region string) ([]resort.CatalogEntry, error) {
	entries, ok := c[region]
	if !ok {
		return nil, errors.New("catalog unavailable")
	}
	return entries, nil
}

type fakeLocator struct{}

func (fakeLocator) Locate(_ context.Context, name, _ string) (float64, float64, error) {
	if name == "Nowhere Bowl" {
		return 0, 0, errors.New("no match")
	}
	return 40.5, -111.6, nil
}

func TestDiscover_AddsUnknownResorts(t *testing.T) {
	f := &fakeRefresher{resorts: resorts("alta")}
	cat := fakeCatalog{
		"UT": {
			{Name: "Alta", State: "Utah"},
			{Name: "Snowbird", State: "Utah", Location: "Little Cottonwood Canyon"},
			{Name: "Nowhere Bowl", State: "UT"},
		},
	}
	o := NewOrchestrator(f, WithCatalogs([]resort.CatalogSource{cat}), WithLocator(fakeLocator{}))

	res, err := o.Discover(context.Background(), []string{"UT"})
	require.NoError(t, err)
	assert.Equal(t, DiscoveryResult{Regions: 1, Found: 3, Added: 2, Geocoded: 1}, res)

	require.Len(t, f.added, 2)
	assert.Equal(t, "snowbird", f.added[0].ID)
	assert.Equal(t, "UT", f.added[0].State)
	assert.Equal(t, "rockies", f.added[0].Region)
	assert.Equal(t, 40.5, f.added[0].Latitude)
	assert.Equal(t, "nowhere-bowl", f.added[1].ID)
	assert.Zero(t, f.added[1].Latitude)
}

func TestDiscover_Errors(t *testing.T) {
	f := &fakeRefresher{}

	_, err := NewOrchestrator(f).Discover(context.Background(), []string{"rockies"})
	assert.ErrorIs(t, err, resort.ErrUnsupported)

	o := NewOrchestrator(f, WithCatalogs([]resort.CatalogSource{fakeCatalog{}}))
	res, err := o.Discover(context.Background(), []string{"atlantis", "VT"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown region "atlantis"`)
	assert.Contains(t, err.Error(), "catalog unavailable")
	assert.Equal(t, 1, res.Regions)
	assert.Empty(t, f.added)
}

func TestDiscoverAndRefresh_SweepsDiscoveredResorts(t *testing.T) {
	f := &fakeRefresher{resorts: resorts("alta")}
	cat := fakeCatalog{
		"UT": {
			{Name: "Alta", State: "Utah"},
			{Name: "Snowbird", State: "Utah"},
			{Name: "Brighton", State: "UT"},
		},
	}
	o := NewOrchestrator(f, WithCatalogs([]resort.CatalogSource{cat}))

	res, err := o.DiscoverAndRefresh(context.Background(), []string{"UT"}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 3, Success: 3}, res)
	assert.Equal(t, []string{"alta", "snowbird", "brighton"}, f.refreshedIDs())
}

func TestDiscoverAndRefresh_DiscoveryFailureStillSweeps(t *testing.T) {
	f := &fakeRefresher{resorts: resorts("alta", "vail")}

	// No catalogs configured.
	res, err := NewOrchestrator(f).DiscoverAndRefresh(context.Background(), []string{"rockies"}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)

	o := NewOrchestrator(f, WithCatalogs([]resort.CatalogSource{fakeCatalog{}}))
	res, err = o.DiscoverAndRefresh(context.Background(), []string{"VT"}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 1, Success: 1}, res)
	assert.Empty(t, f.added)
}
