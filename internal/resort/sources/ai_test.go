package sources

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/ski-conditions/internal/resort"
)

// completionServer answers every request with content as the first choice
// and records the decoded request.
func completionServer(t *testing.T, content string, got *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if got != nil {
			require.NoError(t, json.Unmarshal(body, got))
		}

		resp := map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": content}}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func testAI(srv *httptest.Server) *AIGenerator {
	g := NewAIGenerator(&http.Client{Timeout: 2 * time.Second}, AIConfig{
		BaseURL: srv.URL + "/",
		APIKey:  "test-key",
		Model:   "test-model",
	})
	g.httpCfg.Backoff = BackoffConfig{MaxRetries: 0, InitialInterval: time.Millisecond}
	return g
}

func TestAIGenerator_Fetch(t *testing.T) {
	content := `{"found":true,"name":"Jackson Hole","location":"Teton Village, WY","state":"Wyoming",
"baseDepthIn":75,"snowfall24h":9,"snowfall48h":12,"snowfall7d":28,"liftsOpen":12,"liftsTotal":13,
"trailsOpen":120,"trailsTotal":133,"ticketPrice":null,"conditions":"Powder","description":"Steep.",
"websiteUrl":"https://www.jacksonhole.com",
"forecast":[{"date":"12/30","snowfallIn":6,"tempHighF":20,"tempLowF":4,"conditions":"Snow","snowProbability":80,"windMph":20}],
"sourceUrls":["https://example.com/jh"]}`

	var req chatRequest
	srv := completionServer(t, content, &req)
	defer srv.Close()

	snap, err := testAI(srv).Fetch(context.Background(), resort.Query{Name: "Jackson Hole", StateHint: "WY"})
	require.NoError(t, err)

	assert.Equal(t, "test-model", req.Model)
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, "json_schema", req.ResponseFormat.Type)
	assert.Equal(t, "resort_report", req.ResponseFormat.JSONSchema.Name)
	assert.Contains(t, req.Messages[1].Content, `"Jackson Hole"`)

	assert.Equal(t, "Jackson Hole", snap.Name)
	assert.Equal(t, "WY", snap.State)
	assert.Equal(t, 75.0, snap.BaseDepthIn)
	assert.Equal(t, 12, snap.LiftsOpen)
	assert.Equal(t, 133, snap.TrailsTotal)
	assert.Nil(t, snap.TicketPrice)
	assert.Equal(t, aiName, snap.SourceName)
	require.Len(t, snap.Forecast, 1)
	assert.Equal(t, "12/30", snap.Forecast[0].Date)
	assert.JSONEq(t, content, string(snap.Raw))
}

func TestAIGenerator_FetchNotFound(t *testing.T) {
	srv := completionServer(t, `{"found":false}`, nil)
	defer srv.Close()

	_, err := testAI(srv).Fetch(context.Background(), resort.Query{Name: "Imaginary Mountain"})
	require.ErrorIs(t, err, resort.ErrResortNotFound)
}

func TestAIGenerator_BadJSON(t *testing.T) {
	srv := completionServer(t, `not json`, nil)
	defer srv.Close()

	_, err := testAI(srv).Fetch(context.Background(), resort.Query{Name: "Alta"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, resort.ErrResortNotFound)
}

func TestAIGenerator_NoKey(t *testing.T) {
	g := NewAIGenerator(http.DefaultClient, AIConfig{BaseURL: "http://unused"})
	_, err := g.Fetch(context.Background(), resort.Query{Name: "Alta"})
	require.ErrorIs(t, err, errNoAPIKey)
}

func TestAIGenerator_FetchTopByRegion(t *testing.T) {
	srv := completionServer(t, `{"resorts":[
{"name":"Alta","state":"UT","snowfall24h":11,"snowfall7d":30,"baseDepthIn":82,"conditions":"Powder"},
{"name":"Mt. Baldy","state":"CA","snowfall24h":3,"snowfall7d":8,"baseDepthIn":20,"conditions":"Packed"}]}`, nil)
	defer srv.Close()

	ranked, err := testAI(srv).FetchTopByRegion(context.Background(), "rockies", 2)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "alta", ranked[0].ResortID)
	assert.Equal(t, "mt-baldy", ranked[1].ResortID)
	assert.Equal(t, 82.0, ranked[0].BaseDepthIn)
}

func TestAIGenerator_Answer(t *testing.T) {
	var req chatRequest
	srv := completionServer(t, "Go to Alta.", &req)
	defer srv.Close()

	answer, err := testAI(srv).Answer(context.Background(), "Where is the best snow?")
	require.NoError(t, err)
	assert.Equal(t, "Go to Alta.", answer)
	assert.Nil(t, req.ResponseFormat)
}
