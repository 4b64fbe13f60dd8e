package resort

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRankReports(t *testing.T) {
	rows := []ResortReport{
		{Resort: Resort{ID: "b", Name: "B"}, Report: &SnowReport{Snowfall24h: 5, BaseDepthIn: 40}},
		{Resort: Resort{ID: "a", Name: "A"}, Report: &SnowReport{Snowfall24h: 5, BaseDepthIn: 40}},
		{Resort: Resort{ID: "deep", Name: "Deep"}, Report: &SnowReport{Snowfall24h: 5, BaseDepthIn: 90}},
		{Resort: Resort{ID: "dump", Name: "Dump"}, Report: &SnowReport{Snowfall24h: 14, BaseDepthIn: 10}},
		{Resort: Resort{ID: "none", Name: "None"}},
	}

	ranked := RankReports(rows, 0)
	ids := make([]string, 0, len(ranked))
	for _, r := range ranked {
		ids = append(ids, r.ResortID)
	}
	assert.Equal(t, []string{"dump", "deep", "a", "b"}, ids)

	assert.Len(t, RankReports(rows, 2), 2)
}

func TestNormalizeConditions(t *testing.T) {
	tests := map[string]string{
		"":                   ConditionUnknown,
		"Packed Powder":      ConditionPackedPowder,
		"6in of fresh snow":  ConditionPowder,
		"Machine Groomed":    ConditionGroomed,
		"Spring conditions":  ConditionSpring,
		"Frozen Granular":    ConditionIcy,
		"Temporarily Closed": ConditionClosed,
		"Variable":           "variable",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeConditions(in), in)
	}
}

func TestRegions(t *testing.T) {
	assert.Equal(t, "rockies", RegionOf("co"))
	assert.Equal(t, "northeast", RegionOf("New Hampshire"))
	assert.Equal(t, "", RegionOf("ZZ"))
	assert.Equal(t, "new-hampshire", StateSlug("NH"))
	assert.Equal(t, []string{"UT"}, RegionStates("utah"))
	assert.Contains(t, RegionStates("West"), "CA")
	assert.False(t, KnownRegion("atlantis"))
	assert.Contains(t, Regions(), "midwest")
}
