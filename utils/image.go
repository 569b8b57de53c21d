package utils

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	color_extractor "github.com/marekm4/color-extractor"
)

// DominantColours returns the main colours of img as #rrggbb strings.
func DominantColours(img image.Image) []string {
	if img == nil {
		return nil
	}
	var domColours []string
	for _, c := range color_extractor.ExtractColors(img) {
		domColours = append(domColours, ColorToHexString(c))
	}
	return domColours
}

func ColorToHexString(c color.Color) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%.2x%.2x%.2x", uint8(r>>8), uint8(g>>8), uint8(b>>8))
}

// ParseHexColor accepts #rgb, #rrggbb and #rrggbbaa (leading # optional).
func ParseHexColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return color.NRGBA{
		R: uint8(v >> 24),
		G: uint8(v >> 16),
		B: uint8(v >> 8),
		A: uint8(v),
	}, nil
}
