package alerts_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/ski-conditions/internal/alerts"
	"github.com/i474232898/ski-conditions/internal/resort"
	"github.com/i474232898/ski-conditions/internal/storage"
)

var checkTime = time.Date(2026, 1, 13, 12, 0, 0, 0, time.UTC)

type recordingMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to+"|"+subject)
	return nil
}

type fixture struct {
	store  *storage.Store
	clock  *clockwork.FakeClock
	mailer *recordingMailer
	engine *alerts.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.Migrate(ctx)
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(checkTime)
	mailer := &recordingMailer{}
	var n int
	engine := alerts.NewEngine(store, mailer,
		alerts.WithClock(clock),
		alerts.WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	)
	return &fixture{store: store, clock: clock, mailer: mailer, engine: engine}
}

// seed stores alta with the given forecast days as date -> inches.
func (f *fixture) seed(t *testing.T, days map[string]float64) {
	t.Helper()
	now := f.clock.Now()
	r := resort.Resort{ID: "alta", Name: "Alta", State: "UT", Region: "rockies", LastUpdated: now, CreatedAt: now}
	report := resort.SnowReport{ResortID: "alta", ReportDate: now.Format(resort.DateLayout), CreatedAt: now.Format(time.RFC3339)}

	var forecasts []resort.Forecast
	for date, snow := range days {
		forecasts = append(forecasts, resort.Forecast{
			ResortID: "alta", ForecastDate: date, SnowfallIn: snow, FetchedAt: now.Format(time.RFC3339),
		})
	}
	require.NoError(t, f.store.SaveRefresh(context.Background(), r, report, forecasts))
}

func (f *fixture) subscribe(t *testing.T, threshold string, days int, email string) resort.Subscription {
	t.Helper()
	sub, err := f.engine.Subscribe(context.Background(), alerts.SubscribeRequest{
		OwnerID:       "user-1",
		Email:         email,
		ResortID:      "alta",
		Threshold:     threshold,
		TimeframeDays: days,
	})
	require.NoError(t, err)
	return sub
}

func (f *fixture) notifications(t *testing.T) []resort.Notification {
	t.Helper()
	notes, err := f.store.ListNotifications(context.Background(), "user-1", false)
	require.NoError(t, err)
	return notes
}

func TestCheckSubscriptionIsIdempotentPerForecastDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, map[string]float64{"2026-01-15": 10})
	sub := f.subscribe(t, "good", 5, "")

	require.NoError(t, f.store.CreateNotification(ctx, resort.Notification{
		ID:                "earlier",
		SubscriptionID:    sub.ID,
		OwnerID:           "user-1",
		ResortID:          "alta",
		Title:             "Good snow alert: Alta",
		Message:           "10.0\" of snow forecast at Alta on 2026-01-15.",
		PredictedSnowfall: 10,
		ForecastDate:      "2026-01-15",
		CreatedAt:         checkTime.Add(-2 * time.Hour),
	}))

	triggered, err := f.engine.CheckSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, triggered)
	assert.Len(t, f.notifications(t), 1)

	got, err := f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, checkTime.Equal(got.LastChecked), "last checked always updated")
	assert.True(t, got.LastTriggered.IsZero())

	// A different qualifying date now has the most snow.
	f.seed(t, map[string]float64{"2026-01-15": 10, "2026-01-16": 12})
	triggered, err = f.engine.CheckSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, triggered)

	notes := f.notifications(t)
	require.Len(t, notes, 2)
	assert.Equal(t, "2026-01-16", notes[0].ForecastDate)
	assert.Equal(t, 12.0, notes[0].PredictedSnowfall)

	got, err = f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, checkTime.Equal(got.LastTriggered))
}

func TestCheckSubscriptionRetriggersAfterDedupeWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, map[string]float64{"2026-01-16": 8})
	sub := f.subscribe(t, "good", 5, "")

	triggered, err := f.engine.CheckSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, triggered)

	f.clock.Advance(23 * time.Hour)
	triggered, err = f.engine.CheckSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, triggered, "still inside the window")

	f.clock.Advance(time.Hour)
	triggered, err = f.engine.CheckSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, triggered)
	assert.Len(t, f.notifications(t), 2)
}

func TestConcurrentChecksNotifyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, map[string]float64{"2026-01-15": 18})
	sub := f.subscribe(t, "great", 5, "rider@example.com")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		triggered int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.engine.CheckSubscription(ctx, sub.ID)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				triggered++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, triggered)
	assert.Len(t, f.notifications(t), 1)
	assert.Len(t, f.mailer.sent, 1)
}

func TestCheckSubscriptionMatching(t *testing.T) {
	tests := []struct {
		name      string
		threshold string
		timeframe int
		days      map[string]float64
		wantDate  string
	}{
		{
			name:      "below band minimum",
			threshold: "great",
			timeframe: 10,
			days:      map[string]float64{"2026-01-14": 14.9},
		},
		{
			name:      "band minimum is inclusive",
			threshold: "good",
			timeframe: 5,
			days:      map[string]float64{"2026-01-14": 5},
			wantDate:  "2026-01-14",
		},
		{
			name:      "highest snowfall wins",
			threshold: "light",
			timeframe: 10,
			days:      map[string]float64{"2026-01-14": 3, "2026-01-17": 9, "2026-01-20": 4},
			wantDate:  "2026-01-17",
		},
		{
			name:      "earliest date wins a tie",
			threshold: "light",
			timeframe: 10,
			days:      map[string]float64{"2026-01-19": 6, "2026-01-15": 6},
			wantDate:  "2026-01-15",
		},
		{
			name:      "forecast beyond timeframe ignored",
			threshold: "good",
			timeframe: 5,
			days:      map[string]float64{"2026-01-19": 20},
		},
		{
			name:      "past forecast ignored",
			threshold: "good",
			timeframe: 5,
			days:      map[string]float64{"2026-01-12": 20},
		},
		{
			name:      "last day of window counts",
			threshold: "good",
			timeframe: 5,
			days:      map[string]float64{"2026-01-18": 7},
			wantDate:  "2026-01-18",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, tt.days)
			sub := f.subscribe(t, tt.threshold, tt.timeframe, "")

			triggered, err := f.engine.CheckSubscription(context.Background(), sub.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDate != "", triggered)

			notes := f.notifications(t)
			if tt.wantDate == "" {
				assert.Empty(t, notes)
				return
			}
			require.Len(t, notes, 1)
			assert.Equal(t, tt.wantDate, notes[0].ForecastDate)
		})
	}
}

func TestEmailFailureDoesNotFailCheck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, map[string]float64{"2026-01-15": 16})
	sub := f.subscribe(t, "great", 5, "skier@example.com")

	f.mailer.err = errors.New("smtp down")
	triggered, err := f.engine.CheckSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, triggered)
	assert.Len(t, f.notifications(t), 1)

	f.mailer.err = nil
	f.seed(t, map[string]float64{"2026-01-15": 16, "2026-01-16": 18})
	triggered, err = f.engine.CheckSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, triggered)
	assert.Equal(t, []string{"skier@example.com|Great snow alert: Alta"}, f.mailer.sent)
}

func TestInactiveSubscriptionNeverTriggers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, map[string]float64{"2026-01-15": 16})
	sub := f.subscribe(t, "good", 5, "")

	require.NoError(t, f.engine.Unsubscribe(ctx, sub.ID, "user-1", false))
	triggered, err := f.engine.CheckSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, triggered)

	subs, err := f.engine.ListSubscriptions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.False(t, subs[0].Active)

	require.NoError(t, f.engine.Unsubscribe(ctx, sub.ID, "user-1", true))
	subs, err = f.engine.ListSubscriptions(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestCheckAllAndCheckResort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, map[string]float64{"2026-01-15": 7})
	f.subscribe(t, "light", 5, "")
	f.subscribe(t, "good", 10, "")
	f.subscribe(t, "great", 10, "")

	res, err := f.engine.CheckAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, alerts.BatchResult{Checked: 3, Triggered: 2, Failed: 0}, res)

	n, err := f.engine.CheckResort(ctx, "alta")
	require.NoError(t, err)
	assert.Zero(t, n, "already notified today")

	n, err = f.engine.CheckResort(ctx, "stowe")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCheckOwned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, map[string]float64{"2026-01-15": 7})
	sub := f.subscribe(t, "good", 5, "")

	_, err := f.engine.CheckOwned(ctx, sub.ID, "someone-else")
	assert.ErrorIs(t, err, resort.ErrNoRecord)

	triggered, err := f.engine.CheckOwned(ctx, sub.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, triggered)
}

func TestSubscribeValidation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, nil)

	tests := []struct {
		name    string
		req     alerts.SubscribeRequest
		wantErr error
	}{
		{"unknown band", alerts.SubscribeRequest{OwnerID: "u", ResortID: "alta", Threshold: "epic", TimeframeDays: 5}, alerts.ErrInvalidThreshold},
		{"bad timeframe", alerts.SubscribeRequest{OwnerID: "u", ResortID: "alta", Threshold: "good", TimeframeDays: 7}, alerts.ErrInvalidTimeframe},
		{"missing owner", alerts.SubscribeRequest{ResortID: "alta", Threshold: "good", TimeframeDays: 5}, alerts.ErrInvalidSubscription},
		{"bad email", alerts.SubscribeRequest{OwnerID: "u", Email: "nope", ResortID: "alta", Threshold: "good", TimeframeDays: 5}, alerts.ErrInvalidSubscription},
		{"unknown resort", alerts.SubscribeRequest{OwnerID: "u", ResortID: "nowhere", Threshold: "good", TimeframeDays: 5}, resort.ErrNoRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Subscribe(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	sub, err := f.engine.Subscribe(context.Background(), alerts.SubscribeRequest{
		OwnerID: "u", ResortID: "Alta", Threshold: "GOOD", TimeframeDays: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, "alta", sub.ResortID)
	assert.Equal(t, "good", sub.Threshold)
	assert.True(t, sub.Active)
}

func TestNotificationsReadFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, map[string]float64{"2026-01-15": 7})
	sub := f.subscribe(t, "good", 5, "")
	_, err := f.engine.CheckSubscription(ctx, sub.ID)
	require.NoError(t, err)

	unread, err := f.engine.ListNotifications(ctx, "user-1", true)
	require.NoError(t, err)
	require.Len(t, unread, 1)

	require.NoError(t, f.engine.MarkRead(ctx, unread[0].ID, "user-1"))
	unread, err = f.engine.ListNotifications(ctx, "user-1", true)
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestBandFor(t *testing.T) {
	b, err := alerts.BandFor("good")
	require.NoError(t, err)
	assert.Equal(t, alerts.Band{Name: "good", Min: 5, Max: 15}, b)

	_, err = alerts.BandFor("")
	assert.ErrorIs(t, err, alerts.ErrInvalidThreshold)

	names := []string{}
	for _, b := range alerts.Bands() {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"light", "good", "great"}, names)
}
