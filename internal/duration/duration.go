// Package duration parses the compact duration strings used to configure
// token lifetimes, such as "10s", "2m", "3h" and "1d".
package duration

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrBadDuration is matched by every error returned from Parse.
var ErrBadDuration = errors.New("bad duration")

// BadDurationError carries the input that failed to parse.
type BadDurationError struct {
	Input string
}

func (e *BadDurationError) Error() string {
	return "Bad duration: " + e.Input
}

func (e *BadDurationError) Is(target error) bool {
	return target == ErrBadDuration
}

var pattern = regexp.MustCompile(`^(\d+)([smhd])$`)

var unitMillis = map[string]int64{
	"s": 1_000,
	"m": 60_000,
	"h": 3_600_000,
	"d": 86_400_000,
}

// Parse converts input into milliseconds.
func Parse(input string) (int64, error) {
	m := pattern.FindStringSubmatch(strings.TrimSpace(input))
	if m == nil {
		return 0, &BadDurationError{Input: input}
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		// digits only, so this is an overflow
		return 0, &BadDurationError{Input: input}
	}

	factor := unitMillis[m[2]]
	if n > (1<<63-1)/factor {
		return 0, &BadDurationError{Input: input}
	}

	return n * factor, nil
}

// ParseDuration is Parse expressed as a time.Duration.
func ParseDuration(input string) (time.Duration, error) {
	ms, err := Parse(input)
	if err != nil {
		return 0, err
	}
	if ms > int64(time.Duration(1<<63-1)/time.Millisecond) {
		return 0, &BadDurationError{Input: input}
	}
	return time.Duration(ms) * time.Millisecond, nil
}
