package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/i474232898/ski-conditions/internal/resort"
)

func scanSubscription(row rowScanner) (resort.Subscription, error) {
	var (
		sub                            resort.Subscription
		triggered, checked, createdStr sql.NullString
	)
	if err := row.Scan(&sub.ID, &sub.OwnerID, &sub.Email, &sub.ResortID, &sub.Threshold,
		&sub.TimeframeDays, &sub.Active, &triggered, &checked, &createdStr); err != nil {
		return resort.Subscription{}, err
	}
	sub.LastTriggered = parseNullTime(triggered)
	sub.LastChecked = parseNullTime(checked)
	sub.CreatedAt = parseNullTime(createdStr)
	return sub, nil
}

func scanSubscriptions(rows *sql.Rows) ([]resort.Subscription, error) {
	defer func() { _ = rows.Close() }()
	out := []resort.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// GetSubscription returns a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, id string) (resort.Subscription, error) {
	_, q, err := s.resolved(ctx)
	if err != nil {
		return resort.Subscription{}, err
	}
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, q.getSubscription, id))
	if errors.Is(err, sql.ErrNoRows) {
		return resort.Subscription{}, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return resort.Subscription{}, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// ListActiveSubscriptions returns active subscriptions, limited to one
// resort unless resortID is empty.
func (s *Store) ListActiveSubscriptions(ctx context.Context, resortID string) ([]resort.Subscription, error) {
	_, q, err := s.resolved(ctx)
	if err != nil {
		return nil, err
	}
	var rows *sql.Rows
	if resortID == "" {
		rows, err = s.db.QueryContext(ctx, q.listActiveSubscriptions, true)
	} else {
		rows, err = s.db.QueryContext(ctx, q.listResortSubscriptions, true, resortID)
	}
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	return scanSubscriptions(rows)
}

// ListSubscriptions returns all subscriptions of an owner, newest first.
func (s *Store) ListSubscriptions(ctx context.Context, ownerID string) ([]resort.Subscription, error) {
	_, q, err := s.resolved(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q.listOwnerSubscriptions, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	return scanSubscriptions(rows)
}

func (s *Store) CreateSubscription(ctx context.Context, sub resort.Subscription) error {
	sc, q, err := s.resolved(ctx)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, q.insertSubscription,
		sub.ID, sub.OwnerID, sub.Email, sub.ResortID, sub.Threshold, sub.TimeframeDays, sub.Active,
		nullTime(sc, sub.LastTriggered), nullTime(sc, sub.LastChecked), sc.FormatTime(sub.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// DeactivateSubscription marks a subscription inactive. Only the owner may
// do so; anything else reports ErrNotFound.
func (s *Store) DeactivateSubscription(ctx context.Context, id, ownerID string) error {
	_, q, err := s.resolved(ctx)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, q.setSubscriptionActive, false, id, ownerID)
	if err != nil {
		return fmt.Errorf("deactivate subscription: %w", err)
	}
	return expectRow(res, "subscription", id)
}

// DeleteSubscription removes a subscription owned by ownerID.
func (s *Store) DeleteSubscription(ctx context.Context, id, ownerID string) error {
	_, q, err := s.resolved(ctx)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, q.deleteSubscription, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return expectRow(res, "subscription", id)
}

// TouchSubscription records a check at checkedAt and, when triggeredAt is
// non-zero, a trigger.
func (s *Store) TouchSubscription(ctx context.Context, id string, checkedAt, triggeredAt time.Time) error {
	sc, q, err := s.resolved(ctx)
	if err != nil {
		return err
	}
	if triggeredAt.IsZero() {
		_, err = s.db.ExecContext(ctx, q.touchSubscription, sc.FormatTime(checkedAt), id)
	} else {
		_, err = s.db.ExecContext(ctx, q.touchSubscriptionTrigger, sc.FormatTime(checkedAt), sc.FormatTime(triggeredAt), id)
	}
	if err != nil {
		return fmt.Errorf("touch subscription: %w", err)
	}
	return nil
}

// LatestNotificationAt returns when the newest notification for
// (subscriptionID, forecastDate) was created; ok is false if there is none.
func (s *Store) LatestNotificationAt(ctx context.Context, subscriptionID, forecastDate string) (time.Time, bool, error) {
	_, q, err := s.resolved(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	rows, err := s.db.QueryContext(ctx, q.notificationTimes, subscriptionID, forecastDate)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		latest time.Time
		found  bool
	)
	for rows.Next() {
		var ts string
		if err := rows.Scan(&ts); err != nil {
			return time.Time{}, false, fmt.Errorf("scan created_at: %w", err)
		}
		t, err := resort.ParseTimestamp(ts)
		if err != nil {
			continue
		}
		if !found || t.After(latest) {
			latest, found = t, true
		}
	}
	return latest, found, rows.Err()
}

func (s *Store) CreateNotification(ctx context.Context, n resort.Notification) error {
	sc, q, err := s.resolved(ctx)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, q.insertNotification,
		n.ID, n.SubscriptionID, n.OwnerID, n.ResortID, n.Title, n.Message,
		n.PredictedSnowfall, n.ForecastDate, n.Read, sc.FormatTime(n.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns an owner's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, ownerID string, unreadOnly bool) ([]resort.Notification, error) {
	_, q, err := s.resolved(ctx)
	if err != nil {
		return nil, err
	}
	var rows *sql.Rows
	if unreadOnly {
		rows, err = s.db.QueryContext(ctx, q.listUnreadNotifications, ownerID, false)
	} else {
		rows, err = s.db.QueryContext(ctx, q.listNotifications, ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []resort.Notification{}
	for rows.Next() {
		var (
			n       resort.Notification
			created sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.SubscriptionID, &n.OwnerID, &n.ResortID, &n.Title, &n.Message,
			&n.PredictedSnowfall, &n.ForecastDate, &n.Read, &created); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.CreatedAt = parseNullTime(created)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead flags a notification of ownerID as read.
func (s *Store) MarkNotificationRead(ctx context.Context, id, ownerID string) error {
	_, q, err := s.resolved(ctx)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, q.markNotificationRead, true, id, ownerID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return expectRow(res, "notification", id)
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
