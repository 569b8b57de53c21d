package media

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	Fill(img, c)
	return img
}

func TestFitRect(t *testing.T) {
	cases := []struct {
		name string
		src  image.Rectangle
		want image.Rectangle
	}{
		{"wide source pillarless", image.Rect(0, 0, 1920, 1080), image.Rect(0, 0, 192, 108)},
		{"tall source pillarboxed", image.Rect(0, 0, 100, 200), image.Rect(69, 0, 123, 108)},
		{"very wide letterboxed", image.Rect(0, 0, 400, 100), image.Rect(0, 30, 192, 78)},
		{"empty", image.Rectangle{}, image.Rectangle{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FitRect(tc.src, 192, 108))
		})
	}
}

func TestLetterbox_CentresOnBlack(t *testing.T) {
	src := solid(100, 200, color.RGBA{R: 255, A: 255})
	out := Letterbox(src, 192, 108)

	assert.Equal(t, image.Rect(0, 0, 192, 108), out.Bounds())
	assert.Equal(t, color.RGBA{A: 255}, out.RGBAAt(5, 54))
	assert.Equal(t, color.RGBA{A: 255}, out.RGBAAt(186, 54))
	centre := out.RGBAAt(96, 54)
	assert.GreaterOrEqual(t, centre.R, uint8(250))
	assert.Equal(t, uint8(255), centre.A)
}

func TestBlend(t *testing.T) {
	a := solid(2, 2, color.RGBA{R: 200, A: 255})
	b := solid(2, 2, color.RGBA{B: 200, A: 255})
	dst := image.NewRGBA(a.Bounds())

	Blend(dst, a, b, 0)
	assert.Equal(t, a.Pix, dst.Pix)
	Blend(dst, a, b, 1)
	assert.Equal(t, b.Pix, dst.Pix)

	Blend(dst, a, b, 0.5)
	px := dst.RGBAAt(0, 0)
	assert.Equal(t, uint8(100), px.R)
	assert.Equal(t, uint8(100), px.B)
	assert.Equal(t, uint8(255), px.A)
}

func TestComposite_ClipsAtEdges(t *testing.T) {
	dst := NewCanvas(10, 10)
	overlay := solid(4, 4, color.RGBA{G: 255, A: 255})

	Composite(dst, overlay, image.Pt(8, 8))
	assert.Equal(t, color.RGBA{G: 255, A: 255}, dst.RGBAAt(9, 9))
	assert.Equal(t, color.RGBA{A: 255}, dst.RGBAAt(7, 7))

	Composite(dst, overlay, image.Pt(-2, -2))
	assert.Equal(t, color.RGBA{G: 255, A: 255}, dst.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{A: 255}, dst.RGBAAt(2, 2))
}

func TestDecode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(3, 2, color.RGBA{R: 1, A: 255})))

	img, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())

	_, err = Decode([]byte("not an image"))
	assert.Error(t, err)
}

func TestParseFramerate(t *testing.T) {
	assert.InDelta(t, 29.97, parseFramerate("video/x-raw, format=(string)RGBA, framerate=(fraction)30000/1001"), 0.01)
	assert.Equal(t, 25.0, parseFramerate("video/x-raw, framerate=(fraction)25/1"))
	assert.Equal(t, 0.0, parseFramerate("video/x-raw"))
}

func TestVideoInfo_FrameInterval(t *testing.T) {
	assert.Equal(t, 40*time.Millisecond, VideoInfo{FPS: 25}.FrameInterval())
	assert.Equal(t, time.Second/30, VideoInfo{}.FrameInterval())
}
