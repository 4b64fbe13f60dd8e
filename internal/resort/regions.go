package resort

import (
	"sort"
	"strings"
)

// Regions and the states they group. States are USPS codes.
var regionStates = map[string][]string{
	"northeast": {"CT", "MA", "ME", "NH", "NJ", "NY", "PA", "RI", "VT"},
	"southeast": {"GA", "MD", "NC", "TN", "VA", "WV"},
	"midwest":   {"IA", "IL", "IN", "MI", "MN", "MO", "OH", "SD", "WI"},
	"rockies":   {"CO", "ID", "MT", "NM", "UT", "WY"},
	"west":      {"AK", "AZ", "CA", "NV", "OR", "WA"},
}

var stateNames = map[string]string{
	"AK": "alaska", "AZ": "arizona", "CA": "california", "CO": "colorado",
	"CT": "connecticut", "GA": "georgia", "IA": "iowa", "ID": "idaho",
	"IL": "illinois", "IN": "indiana", "MA": "massachusetts", "MD": "maryland",
	"ME": "maine", "MI": "michigan", "MN": "minnesota", "MO": "missouri",
	"MT": "montana", "NC": "north-carolina", "NH": "new-hampshire", "NJ": "new-jersey",
	"NM": "new-mexico", "NV": "nevada", "NY": "new-york", "OH": "ohio",
	"OR": "oregon", "PA": "pennsylvania", "RI": "rhode-island", "SD": "south-dakota",
	"TN": "tennessee", "UT": "utah", "VA": "virginia", "VT": "vermont",
	"WA": "washington", "WI": "wisconsin", "WV": "west-virginia", "WY": "wyoming",
}

var stateRegion = func() map[string]string {
	m := make(map[string]string, len(stateNames))
	for region, states := range regionStates {
		for _, s := range states {
			m[s] = region
		}
	}
	return m
}()

// NormalizeState maps a state code or name ("co", "Colorado", "new hampshire")
// to its USPS code. Unknown input is returned upper-cased.
func NormalizeState(s string) string {
	s = strings.TrimSpace(s)
	up := strings.ToUpper(s)
	if _, ok := stateNames[up]; ok {
		return up
	}
	slug := strings.ReplaceAll(strings.ToLower(s), " ", "-")
	for code, name := range stateNames {
		if name == slug {
			return code
		}
	}
	return up
}

// StateSlug is the state's URL slug ("NH" -> "new-hampshire"), or "" if unknown.
func StateSlug(state string) string {
	return stateNames[NormalizeState(state)]
}

// RegionOf returns the region a state belongs to, or "" if unknown.
func RegionOf(state string) string {
	return stateRegion[NormalizeState(state)]
}

// RegionStates lists the states of a region. A state code is accepted too
// and yields just that state.
func RegionStates(region string) []string {
	r := strings.ToLower(strings.TrimSpace(region))
	if states, ok := regionStates[r]; ok {
		return states
	}
	if code := NormalizeState(region); stateNames[code] != "" {
		return []string{code}
	}
	return nil
}

// KnownRegion reports whether region names a region or a single state.
func KnownRegion(region string) bool {
	return len(RegionStates(region)) > 0
}

// Regions returns all region names, sorted.
func Regions() []string {
	out := make([]string, 0, len(regionStates))
	for r := range regionStates {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
