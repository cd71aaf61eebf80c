package service

import (
	"strconv"
	"strings"
)

// IsNewer reports whether latest is a strictly newer dotted-numeric version
// than current. Components are compared pairwise up to the shorter length, so
// "2.1" and "2.1.0" compare equal and neither is newer. If any component of
// either string is non-numeric, the comparison degrades to plain string
// inequality.
func IsNewer(current, latest string) bool {
	cur, okCur := splitNumeric(current)
	lat, okLat := splitNumeric(latest)
	if !okCur || !okLat {
		return current != latest
	}

	n := len(cur)
	if len(lat) < n {
		n = len(lat)
	}
	for i := 0; i < n; i++ {
		if lat[i] > cur[i] {
			return true
		}
		if lat[i] < cur[i] {
			return false
		}
	}
	return false
}

func splitNumeric(v string) ([]int, bool) {
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}
