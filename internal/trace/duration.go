package trace

import (
	"strconv"
	"strings"
	"time"
)

var durationUnits = map[string]time.Duration{
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  24 * time.Hour,
}

// ParseDuration reads the engine's human duration format, a space separated
// list of number+unit parts such as "1h 2m 3s", "1.2s" or "850ms".
func ParseDuration(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0, false
	}

	var total time.Duration
	for _, part := range strings.Fields(s) {
		i := strings.IndexFunc(part, func(r rune) bool {
			return (r < '0' || r > '9') && r != '.'
		})
		if i <= 0 {
			return 0, false
		}
		unit, ok := durationUnits[part[i:]]
		if !ok {
			return 0, false
		}
		n, err := strconv.ParseFloat(part[:i], 64)
		if err != nil {
			return 0, false
		}
		total += time.Duration(n * float64(unit))
	}
	return total, true
}
