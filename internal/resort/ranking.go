package resort

import (
	"sort"
	"strings"

	"github.com/i474232898/ski-conditions/internal/common"
)

// Condition labels reported conditions are normalized to.
const (
	ConditionPowder       = "powder"
	ConditionPackedPowder = "packed powder"
	ConditionGroomed      = "groomed"
	ConditionSpring       = "spring"
	ConditionIcy          = "icy"
	ConditionClosed       = "closed"
	ConditionUnknown      = "unknown"
)

// NormalizeConditions maps free-form condition text onto a small set of
// labels. Order matters: "packed powder" must win over "powder".
func NormalizeConditions(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	switch {
	case s == "":
		return ConditionUnknown
	case common.HasAny(s, "closed", "not open"):
		return ConditionClosed
	case common.HasAny(s, "packed powder", "packed"):
		return ConditionPackedPowder
	case common.HasAny(s, "powder", "fresh snow", "new snow"):
		return ConditionPowder
	case common.HasAny(s, "groomed", "machine", "corduroy"):
		return ConditionGroomed
	case common.HasAny(s, "spring", "corn", "slush", "wet"):
		return ConditionSpring
	case common.HasAny(s, "ice", "icy", "hard", "frozen granular"):
		return ConditionIcy
	default:
		return s
	}
}

// Score weighs fresh snow above base depth, so ties on 24h snowfall are
// broken by the deeper base.
func Score(snow24, snow7d, base float64) float64 {
	return snow24*10 + snow7d + base/100
}

// RankReports orders resorts with a report by 24h snowfall, then base depth,
// then name, and keeps the first limit (all if limit <= 0).
func RankReports(rows []ResortReport, limit int) []Ranked {
	ranked := make([]Ranked, 0, len(rows))
	for _, row := range rows {
		if row.Report == nil {
			continue
		}
		rep := row.Report
		ranked = append(ranked, Ranked{
			ResortID:    row.Resort.ID,
			Name:        row.Resort.Name,
			State:       row.Resort.State,
			Snowfall24h: rep.Snowfall24h,
			Snowfall7d:  rep.Snowfall7d,
			BaseDepthIn: rep.BaseDepthIn,
			Conditions:  rep.Conditions,
			Score:       Score(rep.Snowfall24h, rep.Snowfall7d, rep.BaseDepthIn),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Snowfall24h != b.Snowfall24h {
			return a.Snowfall24h > b.Snowfall24h
		}
		if a.BaseDepthIn != b.BaseDepthIn {
			return a.BaseDepthIn > b.BaseDepthIn
		}
		return a.Name < b.Name
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// MapPoints builds the map view; resorts without a report are included with
// zeroed conditions.
func MapPoints(rows []ResortReport) []MapPoint {
	points := make([]MapPoint, 0, len(rows))
	for _, row := range rows {
		p := MapPoint{
			ResortID:   row.Resort.ID,
			Name:       row.Resort.Name,
			State:      row.Resort.State,
			Latitude:   row.Resort.Latitude,
			Longitude:  row.Resort.Longitude,
			Conditions: ConditionUnknown,
		}
		if row.Report != nil {
			p.BaseDepthIn = row.Report.BaseDepthIn
			p.Snowfall24h = row.Report.Snowfall24h
			p.Conditions = row.Report.Conditions
		}
		points = append(points, p)
	}
	return points
}
