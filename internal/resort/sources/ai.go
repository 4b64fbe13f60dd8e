package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/i474232898/ski-conditions/internal/common"
	"github.com/i474232898/ski-conditions/internal/resort"
)

const aiName = "ai"

var errNoAPIKey = errors.New("ai api key is not configured")

// AIConfig configures the AI generation source.
type AIConfig struct {
	BaseURL           string // OpenAI-compatible API root, e.g. https://api.openai.com/v1
	APIKey            string
	Model             string
	RequestsPerMinute int
}

// AIGenerator asks an OpenAI-compatible chat completions endpoint for resort
// data constrained by a JSON schema. It is the slow universal fallback.
type AIGenerator struct {
	cfg     AIConfig
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewAIGenerator creates an AIGenerator. Requests are paced to
// cfg.RequestsPerMinute; zero or less disables pacing.
func NewAIGenerator(client *http.Client, cfg AIConfig) *AIGenerator {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return &AIGenerator{
		cfg:     cfg,
		httpCfg: HTTPClientConfig{Client: client, Backoff: DefaultBackoff},
		circuit: newBreaker(aiName),
		limiter: limiter,
	}
}

func (g *AIGenerator) Name() string {
	return aiName
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (g *AIGenerator) complete(ctx context.Context, system, user string, format *responseFormat) (string, error) {
	if g.cfg.APIKey == "" {
		return "", errNoAPIKey
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0.2,
		ResponseFormat: format,
	})
	if err != nil {
		return "", err
	}

	buildRequest := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, g.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, g.httpCfg, g.circuit, buildRequest)
	if err != nil {
		// The completions endpoint itself missing is not a missing resort.
		if errors.Is(err, resort.ErrResortNotFound) {
			return "", fmt.Errorf("%w: 404", errUnexpected)
		}
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", errors.New("empty completion")
	}
	return out.Choices[0].Message.Content, nil
}

func schemaFormat(name string, schema map[string]any) *responseFormat {
	return &responseFormat{
		Type:       "json_schema",
		JSONSchema: &jsonSchemaFormat{Name: name, Strict: true, Schema: schema},
	}
}

func object(props map[string]any) map[string]any {
	required := make([]string, 0, len(props))
	for k := range props {
		required = append(required, k)
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

var (
	num = map[string]any{"type": "number"}
	str = map[string]any{"type": "string"}
)

var forecastDaySchema = object(map[string]any{
	"date":            str,
	"snowfallIn":      num,
	"tempHighF":       num,
	"tempLowF":        num,
	"conditions":      str,
	"snowProbability": num,
	"windMph":         num,
})

var resortSchema = object(map[string]any{
	"found":       map[string]any{"type": "boolean"},
	"name":        str,
	"location":    str,
	"state":       str,
	"baseDepthIn": num,
	"snowfall24h": num,
	"snowfall48h": num,
	"snowfall7d":  num,
	"liftsOpen":   num,
	"liftsTotal":  num,
	"trailsOpen":  num,
	"trailsTotal": num,
	"ticketPrice": map[string]any{"type": []string{"number", "null"}},
	"conditions":  str,
	"description": str,
	"websiteUrl":  str,
	"forecast":    map[string]any{"type": "array", "items": forecastDaySchema},
	"sourceUrls":  map[string]any{"type": "array", "items": str},
})

var rankingSchema = object(map[string]any{
	"resorts": map[string]any{
		"type": "array",
		"items": object(map[string]any{
			"name":        str,
			"state":       str,
			"snowfall24h": num,
			"snowfall7d":  num,
			"baseDepthIn": num,
			"conditions":  str,
		}),
	},
})

type aiResort struct {
	Found       bool                 `json:"found"`
	Name        string               `json:"name"`
	Location    string               `json:"location"`
	State       string               `json:"state"`
	BaseDepthIn float64              `json:"baseDepthIn"`
	Snowfall24h float64              `json:"snowfall24h"`
	Snowfall48h float64              `json:"snowfall48h"`
	Snowfall7d  float64              `json:"snowfall7d"`
	LiftsOpen   float64              `json:"liftsOpen"`
	LiftsTotal  float64              `json:"liftsTotal"`
	TrailsOpen  float64              `json:"trailsOpen"`
	TrailsTotal float64              `json:"trailsTotal"`
	TicketPrice *float64             `json:"ticketPrice"`
	Conditions  string               `json:"conditions"`
	Description string               `json:"description"`
	WebsiteURL  string               `json:"websiteUrl"`
	Forecast    []resort.ForecastDay `json:"forecast"`
	SourceURLs  []string             `json:"sourceUrls"`
}

const resortSystemPrompt = "You report current ski resort conditions in the United States. " +
	"Answer only with JSON matching the schema. Depths and snowfall are in inches, temperatures in Fahrenheit. " +
	"Forecast dates use MM/DD. Set found to false if the resort does not exist."

func (g *AIGenerator) Fetch(ctx context.Context, q resort.Query) (resort.Snapshot, error) {
	prompt := fmt.Sprintf("Current snow report and 10 day forecast for the ski resort %q", q.Name)
	if q.StateHint != "" {
		prompt += fmt.Sprintf(" in %s", q.StateHint)
	}

	content, err := g.complete(ctx, resortSystemPrompt, prompt, schemaFormat("resort_report", resortSchema))
	if err != nil {
		return resort.Snapshot{}, err
	}

	var r aiResort
	if err := json.Unmarshal([]byte(content), &r); err != nil {
		return resort.Snapshot{}, fmt.Errorf("decode resort report: %w", err)
	}
	if !r.Found {
		return resort.Snapshot{}, resort.ErrResortNotFound
	}

	return resort.Snapshot{
		Name:        r.Name,
		Location:    r.Location,
		State:       resort.NormalizeState(r.State),
		BaseDepthIn: r.BaseDepthIn,
		Snowfall24h: r.Snowfall24h,
		Snowfall48h: r.Snowfall48h,
		Snowfall7d:  r.Snowfall7d,
		LiftsOpen:   int(r.LiftsOpen),
		LiftsTotal:  int(r.LiftsTotal),
		TrailsOpen:  int(r.TrailsOpen),
		TrailsTotal: int(r.TrailsTotal),
		TicketPrice: r.TicketPrice,
		Conditions:  r.Conditions,
		Description: r.Description,
		WebsiteURL:  r.WebsiteURL,
		Forecast:    r.Forecast,
		SourceName:  aiName,
		SourceURLs:  r.SourceURLs,
		Raw:         []byte(content),
	}, nil
}

// FetchTopByRegion asks for the resorts of region with the most fresh snow.
func (g *AIGenerator) FetchTopByRegion(ctx context.Context, region string, limit int) ([]resort.Ranked, error) {
	if limit <= 0 {
		limit = 10
	}
	prompt := fmt.Sprintf("The %d ski resorts in the %s region of the United States with the most snowfall in the last 24 hours.", limit, region)
	if states := resort.RegionStates(region); len(states) > 0 {
		prompt += " States: " + strings.Join(states, ", ") + "."
	}

	content, err := g.complete(ctx, resortSystemPrompt, prompt, schemaFormat("regional_ranking", rankingSchema))
	if err != nil {
		return nil, err
	}

	var out struct {
		Resorts []resort.Ranked `json:"resorts"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("decode ranking: %w", err)
	}
	for i := range out.Resorts {
		out.Resorts[i].ResortID = common.Slugify(out.Resorts[i].Name)
	}
	return out.Resorts, nil
}

const askSystemPrompt = "You are a concise assistant for skiers. Answer questions about ski resorts, " +
	"snow conditions and trip planning in a few sentences."

// Answer answers a free-form question in plain text.
func (g *AIGenerator) Answer(ctx context.Context, question string) (string, error) {
	return g.complete(ctx, askSystemPrompt, question, nil)
}
