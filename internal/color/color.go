// Package color provides the RGB value type used for device lighting.
package color

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// RGB is a 24-bit color.
type RGB struct {
	R uint8
	G uint8
	B uint8
}

// Common colors
var (
	Black = RGB{}
	White = RGB{R: 255, G: 255, B: 255}
	Red   = RGB{R: 255}
	Green = RGB{G: 255}
	Blue  = RGB{B: 255}
)

// ParseRGB parses "#rrggbb", "rrggbb" or "r,g,b".
func ParseRGB(s string) (RGB, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return RGB{}, fmt.Errorf("empty color")
	}

	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		if len(parts) != 3 {
			return RGB{}, fmt.Errorf("invalid color %q: expected r,g,b", s)
		}
		var c [3]uint8
		for i, p := range parts {
			v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
			if err != nil {
				return RGB{}, fmt.Errorf("invalid color %q: %w", s, err)
			}
			c[i] = uint8(v)
		}
		return RGB{R: c[0], G: c[1], B: c[2]}, nil
	}

	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 {
		return RGB{}, fmt.Errorf("invalid color %q: expected #rrggbb", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// MustParse is ParseRGB that panics on error. Intended for constants and tests.
func MustParse(s string) RGB {
	c, err := ParseRGB(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the color as #rrggbb.
func (c RGB) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// MarshalJSON implements json.Marshaler
func (c RGB) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (c *RGB) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRGB(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (c RGB) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (c *RGB) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseRGB(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
