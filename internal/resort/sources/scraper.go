package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"

	"github.com/i474232898/ski-conditions/internal/common"
	"github.com/i474232898/ski-conditions/internal/resort"
)

const scraperName = "scraper"

var errMarkupChanged = errors.New("snow report markup not recognized")

// Scraper reads resort snow reports from the public report pages:
//
//	<base>/<state>/<slug>/skireport.html
//	<base>/<state>/ski-resorts.html (catalog)
//
// Values are read from data-metric attributes; the forecast comes from the
// page's JSON-LD block, or from the forecast table when that is missing.
type Scraper struct {
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewScraper creates a Scraper rooted at baseURL.
func NewScraper(client *http.Client, baseURL string) *Scraper {
	return &Scraper{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpCfg: HTTPClientConfig{Client: client, Backoff: DefaultBackoff},
		circuit: newBreaker(scraperName),
	}
}

func (s *Scraper) Name() string {
	return scraperName
}

// ReportURL is the page a resort's report is scraped from.
func (s *Scraper) ReportURL(name, state string) string {
	slug := common.Slugify(name)
	if st := resort.StateSlug(state); st != "" {
		return fmt.Sprintf("%s/%s/%s/skireport.html", s.baseURL, st, slug)
	}
	return fmt.Sprintf("%s/%s/skireport.html", s.baseURL, slug)
}

func (s *Scraper) Fetch(ctx context.Context, q resort.Query) (resort.Snapshot, error) {
	if strings.TrimSpace(q.Name) == "" {
		return resort.Snapshot{}, resort.ErrResortNotFound
	}
	pageURL := s.ReportURL(q.Name, q.StateHint)

	doc, err := s.get(ctx, pageURL)
	if err != nil {
		return resort.Snapshot{}, err
	}

	snap, err := parseReport(doc)
	if err != nil {
		return resort.Snapshot{}, fmt.Errorf("%s: %w", pageURL, err)
	}
	if snap.Name == "" {
		snap.Name = q.Name
	}
	if snap.State == "" {
		snap.State = resort.NormalizeState(q.StateHint)
	}
	snap.SourceName = scraperName
	snap.SourceURLs = append([]string{pageURL}, snap.SourceURLs...)
	return snap, nil
}

func (s *Scraper) get(ctx context.Context, pageURL string) (*goquery.Document, error) {
	buildRequest := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/html")
		req.Header.Set("User-Agent", "ski-conditions/1.0")
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, s.httpCfg, s.circuit, buildRequest)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func metric(doc *goquery.Document, name string) (string, bool) {
	sel := doc.Find(fmt.Sprintf(`[data-metric=%q]`, name)).First()
	if sel.Length() == 0 {
		return "", false
	}
	if v, ok := sel.Attr("data-value"); ok {
		return strings.TrimSpace(v), true
	}
	return strings.TrimSpace(sel.Text()), true
}

func numberMetric(doc *goquery.Document, name string) (float64, bool) {
	v, ok := metric(doc, name)
	if !ok {
		return 0, false
	}
	return parseNumber(v)
}

func parseReport(doc *goquery.Document) (resort.Snapshot, error) {
	var (
		snap  resort.Snapshot
		found int
		raw   = map[string]string{}
	)

	numbers := []struct {
		name string
		dst  *float64
	}{
		{"base-depth", &snap.BaseDepthIn},
		{"snowfall-24h", &snap.Snowfall24h},
		{"snowfall-48h", &snap.Snowfall48h},
		{"snowfall-7d", &snap.Snowfall7d},
	}
	for _, n := range numbers {
		if v, ok := numberMetric(doc, n.name); ok {
			*n.dst = v
			found++
		}
	}

	if v, ok := metric(doc, "lifts-open"); ok {
		snap.LiftsOpen, snap.LiftsTotal = parseRatio(v)
		raw["lifts"] = v
		found++
	}
	if v, ok := metric(doc, "trails-open"); ok {
		snap.TrailsOpen, snap.TrailsTotal = parseRatio(v)
		raw["trails"] = v
		found++
	}
	if found == 0 {
		return resort.Snapshot{}, errMarkupChanged
	}

	if v, ok := numberMetric(doc, "ticket-price"); ok {
		price := v
		snap.TicketPrice = &price
	}
	snap.Conditions, _ = metric(doc, "conditions")

	snap.Name = strings.TrimSpace(doc.Find("[data-resort-name]").First().Text())
	if snap.Name == "" {
		snap.Name = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	snap.Location = strings.TrimSpace(doc.Find(`[data-field="location"]`).First().Text())
	if st, ok := doc.Find("[data-resort-state]").First().Attr("data-resort-state"); ok {
		snap.State = resort.NormalizeState(st)
	}
	snap.Description, _ = doc.Find(`meta[name="description"]`).Attr("content")
	snap.WebsiteURL, _ = doc.Find(`a[data-field="website"]`).Attr("href")

	snap.Forecast = parseForecast(doc)

	for _, n := range numbers {
		raw[n.name] = fmt.Sprintf("%g", *n.dst)
	}
	raw["conditions"] = snap.Conditions
	if b, err := json.Marshal(raw); err == nil {
		snap.Raw = b
	}
	return snap, nil
}

type ldForecast struct {
	Type     string `json:"@type"`
	Forecast []struct {
		Date            string  `json:"date"`
		Snowfall        float64 `json:"snowfall"`
		High            float64 `json:"high"`
		Low             float64 `json:"low"`
		Conditions      string  `json:"conditions"`
		SnowProbability float64 `json:"snowProbability"`
		Wind            float64 `json:"wind"`
	} `json:"forecast"`
}

func parseForecast(doc *goquery.Document) []resort.ForecastDay {
	var days []resort.ForecastDay

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var ld ldForecast
		if err := json.Unmarshal([]byte(sel.Text()), &ld); err != nil || ld.Type != "WeatherForecast" {
			return true
		}
		for _, f := range ld.Forecast {
			days = append(days, resort.ForecastDay{
				Date:            f.Date,
				SnowfallIn:      f.Snowfall,
				TempHighF:       f.High,
				TempLowF:        f.Low,
				Conditions:      f.Conditions,
				SnowProbability: f.SnowProbability,
				WindMph:         f.Wind,
			})
		}
		return false
	})
	if len(days) > 0 {
		return days
	}

	doc.Find("tr[data-forecast-date]").Each(func(_ int, row *goquery.Selection) {
		cell := func(name string) float64 {
			v, _ := parseNumber(row.Find(fmt.Sprintf(`[data-field=%q]`, name)).Text())
			return v
		}
		date, _ := row.Attr("data-forecast-date")
		days = append(days, resort.ForecastDay{
			Date:            date,
			SnowfallIn:      cell("snowfall"),
			TempHighF:       cell("high"),
			TempLowF:        cell("low"),
			Conditions:      strings.TrimSpace(row.Find(`[data-field="conditions"]`).Text()),
			SnowProbability: cell("snow-probability"),
			WindMph:         cell("wind"),
		})
	})
	return days
}

// ListCatalog lists the resorts of every state in region. A state without a
// catalog page is skipped.
func (s *Scraper) ListCatalog(ctx context.Context, region string) ([]resort.CatalogEntry, error) {
	states := resort.RegionStates(region)
	if len(states) == 0 {
		return nil, fmt.Errorf("unknown region %q", region)
	}

	var (
		entries []resort.CatalogEntry
		errs    []error
	)
	for _, state := range states {
		pageURL := fmt.Sprintf("%s/%s/ski-resorts.html", s.baseURL, resort.StateSlug(state))
		doc, err := s.get(ctx, pageURL)
		if errors.Is(err, resort.ErrResortNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", state, err))
			continue
		}
		entries = append(entries, parseCatalog(doc, state, pageURL)...)
	}
	if len(entries) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return entries, nil
}

func parseCatalog(doc *goquery.Document, state, pageURL string) []resort.CatalogEntry {
	base, _ := url.Parse(pageURL)
	var out []resort.CatalogEntry
	doc.Find("a[data-resort]").Each(func(_ int, a *goquery.Selection) {
		name := strings.TrimSpace(a.Text())
		if name == "" {
			return
		}
		entry := resort.CatalogEntry{
			Name:     name,
			State:    state,
			Location: a.AttrOr("data-location", ""),
		}
		if href, ok := a.Attr("href"); ok && base != nil {
			if u, err := base.Parse(href); err == nil {
				entry.URL = u.String()
			}
		}
		out = append(out, entry)
	})
	return out
}
