package config

import (
	"fmt"
	"strings"
)

// Toggle is an on/off switch written as "Enable" or "Disable" in the
// deployed environment. Common boolean spellings are accepted too.
type Toggle bool

// Toggle values.
const (
	Enabled  Toggle = true
	Disabled Toggle = false
)

// ParseToggle parses s case-insensitively.
func ParseToggle(s string) (Toggle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "enable", "enabled", "true", "yes", "on", "1":
		return Enabled, nil
	case "disable", "disabled", "false", "no", "off", "0":
		return Disabled, nil
	}
	return Disabled, fmt.Errorf("invalid toggle %q: want Enable or Disable", s)
}

// Decode implements envconfig.Decoder.
func (t *Toggle) Decode(value string) error {
	v, err := ParseToggle(value)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML string values.
func (t *Toggle) UnmarshalText(text []byte) error {
	return t.Decode(string(text))
}

// MarshalText renders the deployed spelling.
func (t Toggle) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// String returns "Enable" or "Disable".
func (t Toggle) String() string {
	if t {
		return "Enable"
	}
	return "Disable"
}
