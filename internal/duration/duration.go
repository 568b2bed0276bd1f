// Package duration parses and formats the DD-hh:mm:ss duration strings used
// for sailor max_time and user time_limit fields. time.ParseDuration does not
// support day units, so Captain carries its own small codec.
package duration

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// Unlimited is the sentinel returned by Parse for an empty string, meaning
// no time limit applies.
const Unlimited = 0

var pattern = regexp.MustCompile(`^(\d+)-(\d{2}):(\d{2}):(\d{2})$`)

// Parse converts a DD-hh:mm:ss string into a total number of seconds. An
// empty string parses to Unlimited (0) rather than an error.
func Parse(s string) (int, error) {
	if s == "" {
		return Unlimited, nil
	}
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("duration: %q does not match DD-hh:mm:ss", s)
	}
	days, err := strconv.Atoi(m[1])
	if err != nil || days > (math.MaxInt-86399)/86400 {
		return 0, fmt.Errorf("duration: %q overflows", s)
	}
	hours, _ := strconv.Atoi(m[2])
	minutes, _ := strconv.Atoi(m[3])
	seconds, _ := strconv.Atoi(m[4])
	if hours > 23 || minutes > 59 || seconds > 59 {
		return 0, fmt.Errorf("duration: %q has an out-of-range component", s)
	}
	total := days*86400 + hours*3600 + minutes*60 + seconds
	return total, nil
}

// Format converts a total number of seconds into a DD-hh:mm:ss string. Zero
// formats to the empty string (unlimited).
func Format(totalSeconds int) string {
	if totalSeconds <= 0 {
		return ""
	}
	days := totalSeconds / 86400
	rem := totalSeconds % 86400
	hours := rem / 3600
	rem %= 3600
	minutes := rem / 60
	seconds := rem % 60
	return fmt.Sprintf("%02d-%02d:%02d:%02d", days, hours, minutes, seconds)
}
