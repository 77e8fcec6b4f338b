package widget

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var hexColor = regexp.MustCompile(`^#?([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

type Style struct {
	BorderRadius   int     `yaml:"border_radius"`
	ShadowBlur     int     `yaml:"shadow_blur"`
	ShadowSpread   int     `yaml:"shadow_spread"`
	ShadowColor    string  `yaml:"shadow_color"`
	ShadowOpacity  float64 `yaml:"shadow_opacity"`
	TileSpacing    int     `yaml:"tile_spacing"`
	ContentPadding int     `yaml:"content_padding"`
}

func DefaultStyle() Style {
	return Style{
		BorderRadius:   8,
		ShadowBlur:     10,
		ShadowSpread:   2,
		ShadowColor:    "#000000",
		ShadowOpacity:  0.1,
		TileSpacing:    20,
		ContentPadding: 15,
	}
}

// LoadStyle reads style parameters from a YAML file. An empty path yields
// the defaults; keys missing from the file keep their default values.
func LoadStyle(path string) (Style, error) {
	style := DefaultStyle()
	if path == "" {
		return style, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return style, fmt.Errorf("failed to read style file: %w", err)
	}

	if err := yaml.Unmarshal(data, &style); err != nil {
		return DefaultStyle(), fmt.Errorf("failed to parse YAML: %w", err)
	}

	return style.Normalize(), nil
}

// Normalize clamps every parameter into its accepted range.
func (s Style) Normalize() Style {
	s.BorderRadius = clampInt(s.BorderRadius, 0, 50)
	s.ShadowBlur = clampInt(s.ShadowBlur, 0, 50)
	s.ShadowSpread = clampInt(s.ShadowSpread, -10, 10)
	s.TileSpacing = clampInt(s.TileSpacing, 0, 100)
	s.ContentPadding = clampInt(s.ContentPadding, 5, 50)

	switch {
	case s.ShadowOpacity < 0:
		s.ShadowOpacity = 0
	case s.ShadowOpacity > 1:
		s.ShadowOpacity = 1
	}

	s.ShadowColor = strings.TrimSpace(s.ShadowColor)
	if !hexColor.MatchString(s.ShadowColor) {
		s.ShadowColor = DefaultStyle().ShadowColor
	}
	if !strings.HasPrefix(s.ShadowColor, "#") {
		s.ShadowColor = "#" + s.ShadowColor
	}

	return s
}

// ShadowRGBA renders the shadow color and opacity as a CSS rgba() value.
func (s Style) ShadowRGBA() string {
	return hexToRGBA(s.ShadowColor, s.ShadowOpacity)
}

func hexToRGBA(hex string, opacity float64) string {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		hex = "000000"
	}

	r, _ := strconv.ParseUint(hex[0:2], 16, 8)
	g, _ := strconv.ParseUint(hex[2:4], 16, 8)
	b, _ := strconv.ParseUint(hex[4:6], 16, 8)

	return fmt.Sprintf("rgba(%d, %d, %d, %s)", r, g, b, strconv.FormatFloat(opacity, 'f', -1, 64))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
