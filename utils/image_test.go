package utils

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHexColor(t *testing.T) {
	cases := map[string]color.NRGBA{
		"#ffffff":   {R: 255, G: 255, B: 255, A: 255},
		"000":       {A: 255},
		"#ff000080": {R: 255, A: 128},
		" #0a0B0c ": {R: 10, G: 11, B: 12, A: 255},
	}
	for input, want := range cases {
		got, err := ParseHexColor(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	for _, bad := range []string{"", "#12", "#zzzzzz", "#1234567"} {
		_, err := ParseHexColor(bad)
		assert.Error(t, err, bad)
	}
}

func TestColorToHexString(t *testing.T) {
	assert.Equal(t, "#0a0b0c", ColorToHexString(color.RGBA{R: 10, G: 11, B: 12, A: 255}))
}

func TestDominantColours_SolidImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 200, A: 255}}, image.Point{}, draw.Src)

	colours := DominantColours(img)
	require.NotEmpty(t, colours)
	assert.Equal(t, "#c80000", colours[0])
	assert.Nil(t, DominantColours(nil))
}
