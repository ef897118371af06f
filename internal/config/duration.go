package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration fields in Config are Go duration strings ("50ms", "10s"). An
// empty field means "not set" and parses to zero so callers can apply their
// own default; negative values are rejected because no timeout, pace, or
// poll interval in this bot is meaningful below zero.

// ParseDurationField parses one duration field, identified by its config
// path for error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for an
// unset or zero field.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
