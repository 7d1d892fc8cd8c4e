package config

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from either a Go duration
// string ("280ms", "6.5s") or a bare integer, which is read as
// milliseconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalYAML renders the duration as a string ("280ms").
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts an integer (milliseconds) or a duration string.
// Integers are tried first: a bare "250" also decodes as a YAML string,
// and time.ParseDuration would reject it.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ms int64
	if err := value.Decode(&ms); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration: unsupported YAML value on line %d: %w", value.Line, err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// parseDurationValue reads an environment override with the same rules as
// the YAML form.
func parseDurationValue(val string) (Duration, error) {
	if n, err := strconv.ParseInt(val, 10, 64); err == nil {
		return Duration(time.Duration(n) * time.Millisecond), nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", val, err)
	}
	return Duration(parsed), nil
}
