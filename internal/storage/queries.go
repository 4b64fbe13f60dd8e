package storage

import (
	"fmt"
	"strings"
)

// queries holds every statement for one layout, already rebound for the
// driver.
type queries struct {
	getResort         string
	listResorts       string
	listResortsLimit  string
	insertPlaceholder string
	upsertResort      string

	latestReport      string
	listLatestReports string
	upsertReport      string

	listForecasts   string
	forecastFetches string
	upsertForecast  string

	getSubscription          string
	listActiveSubscriptions  string
	listResortSubscriptions  string
	listOwnerSubscriptions   string
	insertSubscription       string
	setSubscriptionActive    string
	deleteSubscription       string
	touchSubscription        string
	touchSubscriptionTrigger string
	notificationTimes        string
	insertNotification       string
	listNotifications        string
	listUnreadNotifications  string
	markNotificationRead     string
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func updateSet(cols []string) string {
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
	}
	return strings.Join(sets, ", ")
}

func buildQueries(sc schema, driver Driver) *queries {
	var (
		pk  = sc.ResortPK()
		key = sc.ResortKey()
	)

	resortCols := fmt.Sprintf(`r.%s, r.name, COALESCE(r.location, ''), COALESCE(r.state, ''), COALESCE(r.region, ''),
		COALESCE(r.latitude, 0), COALESCE(r.longitude, 0), COALESCE(r.lifts_total, 0), COALESCE(r.trails_total, 0),
		COALESCE(r.website_url, ''), r.last_updated, r.created_at`, pk)
	resortInsert := []string{pk, "name", "location", "state", "region", "latitude", "longitude",
		"lifts_total", "trails_total", "website_url", "last_updated", "created_at"}

	reportCols := `s.report_date, s.base_depth_in, s.snowfall_24h, s.snowfall_48h, s.snowfall_7d,
		s.lifts_open, s.trails_open, s.conditions, s.source, s.raw_payload, s.created_at`
	reportInsert := []string{key, "report_date", "base_depth_in", "snowfall_24h", "snowfall_48h", "snowfall_7d",
		"lifts_open", "trails_open", "conditions", "source", "raw_payload", "created_at"}

	forecastCols := `forecast_date, COALESCE(snowfall_in, 0), COALESCE(temp_high_f, 0), COALESCE(temp_low_f, 0),
		COALESCE(conditions, ''), COALESCE(snow_probability, 0), COALESCE(wind_mph, 0), fetched_at`
	forecastInsert := []string{key, "forecast_date", "snowfall_in", "temp_high_f", "temp_low_f", "conditions",
		"snow_probability", "wind_mph", "fetched_at"}

	subCols := fmt.Sprintf(`id, owner_id, COALESCE(email, ''), %s, threshold, timeframe_days, active,
		last_triggered, last_checked, created_at`, key)
	subInsert := []string{"id", "owner_id", "email", key, "threshold", "timeframe_days", "active",
		"last_triggered", "last_checked", "created_at"}

	noteCols := fmt.Sprintf(`id, subscription_id, owner_id, %s, title, message, predicted_snowfall,
		forecast_date, is_read, created_at`, key)

	q := &queries{
		getResort: fmt.Sprintf(`SELECT %s FROM %s r WHERE r.%s = ?`, resortCols, sc.Resorts(), pk),
		listResorts: fmt.Sprintf(`SELECT %s FROM %s r
			ORDER BY CASE WHEN r.last_updated IS NULL THEN 1 ELSE 0 END, r.last_updated DESC, r.name`,
			resortCols, sc.Resorts()),
		insertPlaceholder: fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING`,
			sc.Resorts(), strings.Join(resortInsert, ", "), placeholders(len(resortInsert)), pk),
		upsertResort: fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s`,
			sc.Resorts(), strings.Join(resortInsert, ", "), placeholders(len(resortInsert)), pk,
			updateSet(resortInsert[1:len(resortInsert)-1])),

		latestReport: fmt.Sprintf(`SELECT %s FROM %s s WHERE s.%s = ? ORDER BY s.report_date DESC LIMIT 1`,
			reportCols, sc.SnowReports(), key),
		listLatestReports: fmt.Sprintf(`SELECT %s, %s
			FROM %s r
			LEFT JOIN %s s ON s.%s = r.%s
				AND s.report_date = (SELECT MAX(s2.report_date) FROM %s s2 WHERE s2.%s = r.%s)
			WHERE (? = '' OR r.region = ? OR LOWER(r.state) = ?)
			ORDER BY r.name`,
			resortCols, reportCols, sc.Resorts(), sc.SnowReports(), key, pk, sc.SnowReports(), key, pk),
		upsertReport: fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s, report_date) DO UPDATE SET %s`,
			sc.SnowReports(), strings.Join(reportInsert, ", "), placeholders(len(reportInsert)), key,
			updateSet(reportInsert[2:])),

		listForecasts: fmt.Sprintf(`SELECT %s FROM %s
			WHERE %s = ? AND forecast_date >= ? AND forecast_date <= ? ORDER BY forecast_date`,
			forecastCols, sc.Forecasts(), key),
		forecastFetches: fmt.Sprintf(`SELECT fetched_at FROM %s WHERE %s = ?`, sc.Forecasts(), key),
		upsertForecast: fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s, forecast_date) DO UPDATE SET %s`,
			sc.Forecasts(), strings.Join(forecastInsert, ", "), placeholders(len(forecastInsert)), key,
			updateSet(forecastInsert[2:])),

		getSubscription: fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, subCols, sc.Subscriptions()),
		listActiveSubscriptions: fmt.Sprintf(`SELECT %s FROM %s WHERE active = ? ORDER BY created_at, id`,
			subCols, sc.Subscriptions()),
		listResortSubscriptions: fmt.Sprintf(`SELECT %s FROM %s WHERE active = ? AND %s = ? ORDER BY created_at, id`,
			subCols, sc.Subscriptions(), key),
		listOwnerSubscriptions: fmt.Sprintf(`SELECT %s FROM %s WHERE owner_id = ? ORDER BY created_at DESC, id`,
			subCols, sc.Subscriptions()),
		insertSubscription: fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
			sc.Subscriptions(), strings.Join(subInsert, ", "), placeholders(len(subInsert))),
		setSubscriptionActive: fmt.Sprintf(`UPDATE %s SET active = ? WHERE id = ? AND owner_id = ?`, sc.Subscriptions()),
		deleteSubscription:    fmt.Sprintf(`DELETE FROM %s WHERE id = ? AND owner_id = ?`, sc.Subscriptions()),
		touchSubscription:     fmt.Sprintf(`UPDATE %s SET last_checked = ? WHERE id = ?`, sc.Subscriptions()),
		touchSubscriptionTrigger: fmt.Sprintf(`UPDATE %s SET last_checked = ?, last_triggered = ? WHERE id = ?`,
			sc.Subscriptions()),

		notificationTimes: fmt.Sprintf(`SELECT created_at FROM %s WHERE subscription_id = ? AND forecast_date = ?`,
			sc.Notifications()),
		insertNotification: fmt.Sprintf(`INSERT INTO %s (id, subscription_id, owner_id, %s, title, message,
			predicted_snowfall, forecast_date, is_read, created_at) VALUES (%s)`,
			sc.Notifications(), key, placeholders(10)),
		listNotifications: fmt.Sprintf(`SELECT %s FROM %s WHERE owner_id = ? ORDER BY created_at DESC, id`,
			noteCols, sc.Notifications()),
		listUnreadNotifications: fmt.Sprintf(`SELECT %s FROM %s WHERE owner_id = ? AND is_read = ? ORDER BY created_at DESC, id`,
			noteCols, sc.Notifications()),
		markNotificationRead: fmt.Sprintf(`UPDATE %s SET is_read = ? WHERE id = ? AND owner_id = ?`, sc.Notifications()),
	}
	q.listResortsLimit = q.listResorts + " LIMIT ?"

	for _, p := range []*string{
		&q.getResort, &q.listResorts, &q.listResortsLimit, &q.insertPlaceholder, &q.upsertResort,
		&q.latestReport, &q.listLatestReports, &q.upsertReport,
		&q.listForecasts, &q.forecastFetches, &q.upsertForecast,
		&q.getSubscription, &q.listActiveSubscriptions, &q.listResortSubscriptions, &q.listOwnerSubscriptions,
		&q.insertSubscription, &q.setSubscriptionActive, &q.deleteSubscription,
		&q.touchSubscription, &q.touchSubscriptionTrigger,
		&q.notificationTimes, &q.insertNotification, &q.listNotifications,
		&q.listUnreadNotifications, &q.markNotificationRead,
	} {
		*p = rebind(driver, *p)
	}
	return q
}
