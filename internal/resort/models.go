package resort

import (
	"encoding/json"
	"time"
)

// Resort is a tracked ski area. ID is the URL slug and never changes.
type Resort struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Location    string    `json:"location"`
	State       string    `json:"state"`
	Region      string    `json:"region"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	LiftsTotal  int       `json:"liftsTotal"`
	TrailsTotal int       `json:"trailsTotal"`
	WebsiteURL  string    `json:"websiteUrl,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"` // zero for placeholders never fetched
	CreatedAt   time.Time `json:"createdAt"`
}

// SnowReport is the per-day conditions snapshot of a resort.
// Unique per (ResortID, ReportDate).
type SnowReport struct {
	ResortID    string          `json:"resortId"`
	ReportDate  string          `json:"reportDate"` // YYYY-MM-DD
	BaseDepthIn float64         `json:"baseDepthIn"`
	Snowfall24h float64         `json:"snowfall24h"`
	Snowfall48h float64         `json:"snowfall48h"`
	Snowfall7d  float64         `json:"snowfall7d"`
	LiftsOpen   int             `json:"liftsOpen"`
	TrailsOpen  int             `json:"trailsOpen"`
	Conditions  string          `json:"conditions"`
	Source      string          `json:"source"`
	RawPayload  json.RawMessage `json:"-"`
	CreatedAt   string          `json:"createdAt"` // as persisted; may lack a zone offset
}

// Forecast is one predicted day for a resort. Unique per (ResortID, ForecastDate).
// FetchedAt, not ForecastDate, decides whether the row is still fresh.
type Forecast struct {
	ResortID        string  `json:"resortId"`
	ForecastDate    string  `json:"forecastDate"` // YYYY-MM-DD
	SnowfallIn      float64 `json:"snowfallIn"`
	TempHighF       float64 `json:"tempHighF"`
	TempLowF        float64 `json:"tempLowF"`
	Conditions      string  `json:"conditions"`
	SnowProbability float64 `json:"snowProbability"`
	WindMph         float64 `json:"windMph"`
	FetchedAt       string  `json:"fetchedAt"` // as persisted; may lack a zone offset
}

// Snapshot is the canonical shape every upstream source is mapped into.
type Snapshot struct {
	Name        string        `json:"name"`
	Location    string        `json:"location"`
	State       string        `json:"state"`
	BaseDepthIn float64       `json:"baseDepthIn"`
	Snowfall24h float64       `json:"snowfall24h"`
	Snowfall48h float64       `json:"snowfall48h"`
	Snowfall7d  float64       `json:"snowfall7d"`
	LiftsOpen   int           `json:"liftsOpen"`
	LiftsTotal  int           `json:"liftsTotal"`
	TrailsOpen  int           `json:"trailsOpen"`
	TrailsTotal int           `json:"trailsTotal"`
	TicketPrice *float64      `json:"ticketPrice,omitempty"`
	Conditions  string        `json:"conditions"`
	Description string        `json:"description"`
	WebsiteURL  string        `json:"websiteUrl,omitempty"`
	Forecast    []ForecastDay `json:"forecast"`

	// Source attribution.
	SourceName string          `json:"source"`
	SourceURLs []string        `json:"sourceUrls,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

// ForecastDay is a single upstream forecast entry. Date is kept exactly as the
// source reported it and is normalized before persisting.
type ForecastDay struct {
	Date            string  `json:"date"`
	SnowfallIn      float64 `json:"snowfallIn"`
	TempHighF       float64 `json:"tempHighF"`
	TempLowF        float64 `json:"tempLowF"`
	Conditions      string  `json:"conditions"`
	SnowProbability float64 `json:"snowProbability"`
	WindMph         float64 `json:"windMph"`
}

// Ranked is one row of a regional top-N ranking.
type Ranked struct {
	ResortID    string  `json:"resortId"`
	Name        string  `json:"name"`
	State       string  `json:"state"`
	Snowfall24h float64 `json:"snowfall24h"`
	Snowfall7d  float64 `json:"snowfall7d"`
	BaseDepthIn float64 `json:"baseDepthIn"`
	Conditions  string  `json:"conditions"`
	Score       float64 `json:"score"`
}

// CatalogEntry is a resort listed by an upstream catalog.
type CatalogEntry struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Location string `json:"location"`
	URL      string `json:"url,omitempty"`
}

// MapPoint is the aggregate view used to draw resorts on a map.
type MapPoint struct {
	ResortID    string  `json:"resortId"`
	Name        string  `json:"name"`
	State       string  `json:"state"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	BaseDepthIn float64 `json:"baseDepthIn"`
	Snowfall24h float64 `json:"snowfall24h"`
	Conditions  string  `json:"conditions"`
}

// View is what a resort lookup returns: the resort, its latest report, and
// the upcoming forecast days.
type View struct {
	Resort    Resort      `json:"resort"`
	Report    *SnowReport `json:"report,omitempty"`
	Forecasts []Forecast  `json:"forecasts"`
	Cached    bool        `json:"cached"`
}

// Subscription asks for an alert when a resort's forecast reaches a snowfall
// band within the next TimeframeDays days.
type Subscription struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"ownerId"`
	Email         string    `json:"email,omitempty"`
	ResortID      string    `json:"resortId"`
	Threshold     string    `json:"threshold"` // light | good | great
	TimeframeDays int       `json:"timeframeDays"`
	Active        bool      `json:"active"`
	LastTriggered time.Time `json:"lastTriggered,omitempty"`
	LastChecked   time.Time `json:"lastChecked,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Notification is an in-app alert created when a subscription matches.
type Notification struct {
	ID                string    `json:"id"`
	SubscriptionID    string    `json:"subscriptionId"`
	OwnerID           string    `json:"ownerId"`
	ResortID          string    `json:"resortId"`
	Title             string    `json:"title"`
	Message           string    `json:"message"`
	PredictedSnowfall float64   `json:"predictedSnowfall"`
	ForecastDate      string    `json:"forecastDate"` // YYYY-MM-DD
	Read              bool      `json:"read"`
	CreatedAt         time.Time `json:"createdAt"`
}
