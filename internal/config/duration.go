package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationOrDefault resolves a duration-valued config field. Blank and
// "0" both mean unset and yield def; negative values are rejected with the
// field path in the error so the operator can find the offending line.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	case d == 0:
		return def, nil
	}
	return d, nil
}
