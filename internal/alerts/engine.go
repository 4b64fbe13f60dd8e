// Package alerts matches stored forecasts against snowfall subscriptions and
// records in-app notifications, optionally mirrored by email.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/i474232898/ski-conditions/internal/common"
	"github.com/i474232898/ski-conditions/internal/metrics"
	"github.com/i474232898/ski-conditions/internal/resort"
)

// DedupeWindow is how long a notification for one (subscription, forecast
// date) pair suppresses another.
const DedupeWindow = 24 * time.Hour

var ErrInvalidSubscription = errors.New("invalid subscription")

// Store is the persistence the engine needs.
type Store interface {
	GetResort(ctx context.Context, id string) (resort.Resort, error)
	ListForecasts(ctx context.Context, resortID, from, to string) ([]resort.Forecast, error)

	GetSubscription(ctx context.Context, id string) (resort.Subscription, error)
	ListActiveSubscriptions(ctx context.Context, resortID string) ([]resort.Subscription, error)
	ListSubscriptions(ctx context.Context, ownerID string) ([]resort.Subscription, error)
	CreateSubscription(ctx context.Context, sub resort.Subscription) error
	DeactivateSubscription(ctx context.Context, id, ownerID string) error
	DeleteSubscription(ctx context.Context, id, ownerID string) error
	TouchSubscription(ctx context.Context, id string, checkedAt, triggeredAt time.Time) error

	LatestNotificationAt(ctx context.Context, subscriptionID, forecastDate string) (time.Time, bool, error)
	CreateNotification(ctx context.Context, n resort.Notification) error
	ListNotifications(ctx context.Context, ownerID string, unreadOnly bool) ([]resort.Notification, error)
	MarkNotificationRead(ctx context.Context, id, ownerID string) error
}

// Engine evaluates subscriptions.
type Engine struct {
	store    Store
	mailer   Mailer
	clock    clockwork.Clock
	log      zerolog.Logger
	metrics  *metrics.Metrics
	validate *validator.Validate
	newID    func() string

	// subLocks serializes checks of one subscription so the dedupe lookup and
	// the notification insert are not interleaved.
	subLocks sync.Map // subscription ID -> *sync.Mutex
}

type Option func(*Engine)

func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithIDGenerator replaces uuid generation, for tests.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

func NewEngine(store Store, mailer Mailer, opts ...Option) *Engine {
	if mailer == nil {
		mailer = NopMailer{}
	}
	e := &Engine{
		store:    store,
		mailer:   mailer,
		clock:    clockwork.NewRealClock(),
		log:      zerolog.Nop(),
		validate: validator.New(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BatchResult summarizes a batch check.
type BatchResult struct {
	Checked   int `json:"checked"`
	Triggered int `json:"triggered"`
	Failed    int `json:"failed"`
}

// CheckSubscription evaluates one subscription and reports whether it
// created a notification.
func (e *Engine) CheckSubscription(ctx context.Context, id string) (bool, error) {
	sub, err := e.store.GetSubscription(ctx, id)
	if err != nil {
		return false, err
	}
	return e.check(ctx, sub)
}

// CheckOwned is CheckSubscription restricted to the subscription's owner.
func (e *Engine) CheckOwned(ctx context.Context, id, ownerID string) (bool, error) {
	sub, err := e.store.GetSubscription(ctx, id)
	if err != nil {
		return false, err
	}
	if sub.OwnerID != ownerID {
		return false, fmt.Errorf("subscription %s: %w", id, resort.ErrNoRecord)
	}
	return e.check(ctx, sub)
}

// CheckAll evaluates every active subscription. A failing subscription is
// logged and counted; the batch goes on.
func (e *Engine) CheckAll(ctx context.Context) (BatchResult, error) {
	subs, err := e.store.ListActiveSubscriptions(ctx, "")
	if err != nil {
		return BatchResult{}, fmt.Errorf("list subscriptions: %w", err)
	}

	var res BatchResult
	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		res.Checked++
		triggered, err := e.check(ctx, sub)
		if err != nil {
			res.Failed++
			e.log.Error().Err(err).Str("subscription", sub.ID).Msg("alert check failed")
			continue
		}
		if triggered {
			res.Triggered++
		}
	}

	e.log.Info().
		Int("checked", res.Checked).
		Int("triggered", res.Triggered).
		Int("failed", res.Failed).
		Msg("alert batch complete")
	return res, ctx.Err()
}

// CheckResort evaluates the active subscriptions of one resort, typically
// right after its forecasts were refreshed. It returns how many triggered.
func (e *Engine) CheckResort(ctx context.Context, resortID string) (int, error) {
	subs, err := e.store.ListActiveSubscriptions(ctx, resortID)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions for %s: %w", resortID, err)
	}

	var (
		triggered int
		errs      []error
	)
	for _, sub := range subs {
		ok, err := e.check(ctx, sub)
		if err != nil {
			errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}
		if ok {
			triggered++
		}
	}
	return triggered, errors.Join(errs...)
}

func (e *Engine) lockSubscription(id string) func() {
	mu, _ := e.subLocks.LoadOrStore(id, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

func (e *Engine) check(ctx context.Context, sub resort.Subscription) (bool, error) {
	if !sub.Active {
		return false, nil
	}
	defer e.lockSubscription(sub.ID)()
	band, err := BandFor(sub.Threshold)
	if err != nil {
		return false, err
	}

	now := e.clock.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := today.Format(resort.DateLayout)
	to := today.AddDate(0, 0, sub.TimeframeDays).Format(resort.DateLayout)

	forecasts, err := e.store.ListForecasts(ctx, sub.ResortID, from, to)
	if err != nil {
		return false, fmt.Errorf("list forecasts: %w", err)
	}

	triggered := false
	if best, ok := bestMatch(forecasts, band.Min); ok {
		last, seen, err := e.store.LatestNotificationAt(ctx, sub.ID, best.ForecastDate)
		if err != nil {
			return false, fmt.Errorf("recent notifications: %w", err)
		}
		if !seen || now.Sub(last) >= DedupeWindow {
			if err := e.notify(ctx, sub, band, best, now); err != nil {
				return false, err
			}
			triggered = true
		}
	}

	var triggeredAt time.Time
	if triggered {
		triggeredAt = now
	}
	if err := e.store.TouchSubscription(ctx, sub.ID, now, triggeredAt); err != nil {
		return triggered, fmt.Errorf("update subscription: %w", err)
	}
	e.metrics.AlertChecked(triggered)
	return triggered, nil
}

// bestMatch picks the forecast with the most snow at or above minimum; the
// earlier date wins a tie.
func bestMatch(forecasts []resort.Forecast, minimum float64) (resort.Forecast, bool) {
	var (
		best  resort.Forecast
		found bool
	)
	for _, f := range forecasts {
		if f.SnowfallIn < minimum {
			continue
		}
		if !found || f.SnowfallIn > best.SnowfallIn ||
			(f.SnowfallIn == best.SnowfallIn && f.ForecastDate < best.ForecastDate) {
			best, found = f, true
		}
	}
	return best, found
}

func (e *Engine) notify(ctx context.Context, sub resort.Subscription, band Band, f resort.Forecast, now time.Time) error {
	name := sub.ResortID
	if r, err := e.store.GetResort(ctx, sub.ResortID); err == nil && r.Name != "" {
		name = r.Name
	}

	title := fmt.Sprintf("%s snow alert: %s", strings.ToUpper(band.Name[:1])+band.Name[1:], name)
	n := resort.Notification{
		ID:                e.newID(),
		SubscriptionID:    sub.ID,
		OwnerID:           sub.OwnerID,
		ResortID:          sub.ResortID,
		Title:             title,
		Message:           fmt.Sprintf("%.1f\" of snow forecast at %s on %s.", f.SnowfallIn, name, f.ForecastDate),
		PredictedSnowfall: f.SnowfallIn,
		ForecastDate:      f.ForecastDate,
		CreatedAt:         now,
	}
	if err := e.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	e.log.Info().
		Str("subscription", sub.ID).
		Str("resort", sub.ResortID).
		Str("date", f.ForecastDate).
		Float64("snowfall", f.SnowfallIn).
		Msg("alert triggered")

	if sub.Email != "" {
		e.email(ctx, sub, band, n, name)
	}
	return nil
}

// email failures never fail the check; the in-app notification stands.
func (e *Engine) email(ctx context.Context, sub resort.Subscription, band Band, n resort.Notification, name string) {
	body, err := renderAlertEmail(alertEmailData{
		Title:      n.Title,
		ResortName: name,
		Snowfall:   n.PredictedSnowfall,
		Date:       n.ForecastDate,
		Threshold:  band.Name,
		Min:        band.Min,
		Timeframe:  sub.TimeframeDays,
	})
	if err == nil {
		err = e.mailer.Send(ctx, sub.Email, n.Title, body)
	}
	if err != nil {
		e.metrics.EmailFailed()
		e.log.Warn().Err(err).Str("subscription", sub.ID).Msg("alert email not sent")
	}
}

// SubscribeRequest is the input of Subscribe.
type SubscribeRequest struct {
	OwnerID       string `json:"-" validate:"required"`
	Email         string `json:"email" validate:"omitempty,email"`
	ResortID      string `json:"resortId" validate:"required"`
	Threshold     string `json:"threshold" validate:"required"`
	TimeframeDays int    `json:"timeframeDays" validate:"required"`
}

// Subscribe creates an active subscription for an existing resort.
func (e *Engine) Subscribe(ctx context.Context, req SubscribeRequest) (resort.Subscription, error) {
	band, err := BandFor(req.Threshold)
	if err != nil {
		return resort.Subscription{}, err
	}
	if err := validTimeframe(req.TimeframeDays); err != nil {
		return resort.Subscription{}, err
	}
	if err := e.validate.Struct(req); err != nil {
		return resort.Subscription{}, fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
	}

	resortID := common.Slugify(req.ResortID)
	if _, err := e.store.GetResort(ctx, resortID); err != nil {
		return resort.Subscription{}, fmt.Errorf("resort %s: %w", resortID, err)
	}

	sub := resort.Subscription{
		ID:            e.newID(),
		OwnerID:       req.OwnerID,
		Email:         strings.TrimSpace(req.Email),
		ResortID:      resortID,
		Threshold:     band.Name,
		TimeframeDays: req.TimeframeDays,
		Active:        true,
		CreatedAt:     e.clock.Now().UTC(),
	}
	if err := e.store.CreateSubscription(ctx, sub); err != nil {
		return resort.Subscription{}, err
	}
	return sub, nil
}

// Unsubscribe deactivates a subscription, or deletes it when hard is set.
func (e *Engine) Unsubscribe(ctx context.Context, id, ownerID string, hard bool) error {
	if hard {
		return e.store.DeleteSubscription(ctx, id, ownerID)
	}
	return e.store.DeactivateSubscription(ctx, id, ownerID)
}

func (e *Engine) ListSubscriptions(ctx context.Context, ownerID string) ([]resort.Subscription, error) {
	return e.store.ListSubscriptions(ctx, ownerID)
}

func (e *Engine) ListNotifications(ctx context.Context, ownerID string, unreadOnly bool) ([]resort.Notification, error) {
	return e.store.ListNotifications(ctx, ownerID, unreadOnly)
}

func (e *Engine) MarkRead(ctx context.Context, id, ownerID string) error {
	return e.store.MarkNotificationRead(ctx, id, ownerID)
}
