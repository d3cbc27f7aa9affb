package youtube

import "regexp"

// durationRE matches the ISO-8601 durations the video API returns, e.g.
// "PT1H2M3S" or "PT45S". Components are optional but must appear in
// hour, minute, second order, and the whole string must match.
var durationRE = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParseDuration converts an ISO-8601 duration string into total seconds.
// Anything that does not match the grammar parses as 0; callers treat a
// zero duration as a short-form clip rather than failing the sync.
func ParseDuration(s string) int {
	m := durationRE.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	return atoi(m[1])*3600 + atoi(m[2])*60 + atoi(m[3])
}

// atoi parses a digits-only string, treating "" as 0. The regexp guarantees
// the input contains nothing else.
func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}
