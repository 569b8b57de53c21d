// Package media holds the pixel plumbing shared by the processor and the
// playback engine: decoding, letterboxing, compositing and fades.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var ErrEmptyImage = errors.New("media: image has no pixels")

// NewCanvas returns an opaque black canvas.
func NewCanvas(w, h int) *image.RGBA {
	c := image.NewRGBA(image.Rect(0, 0, w, h))
	Fill(c, color.RGBA{A: 255})
	return c
}

func Fill(dst *image.RGBA, c color.Color) {
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
}

func Decode(data []byte) (image.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w (%s)", ErrEmptyImage, format)
	}
	return img, nil
}

// FitRect is the largest rectangle with src's aspect ratio that fits inside
// a w x h canvas, centred.
func FitRect(src image.Rectangle, w, h int) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	if sw <= 0 || sh <= 0 {
		return image.Rectangle{}
	}
	// compare w/sw against h/sh without floats
	var dw, dh int
	if w*sh <= h*sw {
		dw = w
		dh = sh * w / sw
	} else {
		dh = h
		dw = sw * h / sh
	}
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}
	x := (w - dw) / 2
	y := (h - dh) / 2
	return image.Rect(x, y, x+dw, y+dh)
}

// Letterbox scales src uniformly to fit a w x h black canvas, centred.
func Letterbox(src image.Image, w, h int) *image.RGBA {
	dst := NewCanvas(w, h)
	if src == nil {
		return dst
	}
	xdraw.CatmullRom.Scale(dst, FitRect(src.Bounds(), w, h), src, src.Bounds(), draw.Over, nil)
	return dst
}

// Composite draws src over dst with its top-left corner at at. Anything
// outside dst is clipped.
func Composite(dst *image.RGBA, src image.Image, at image.Point) {
	if src == nil {
		return
	}
	b := src.Bounds()
	r := image.Rectangle{Min: at, Max: at.Add(b.Size())}
	draw.Draw(dst, r, src, b.Min, draw.Over)
}

func Clone(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}

// CopyInto overwrites dst with src; both must share bounds.
func CopyInto(dst, src *image.RGBA) {
	copy(dst.Pix, src.Pix)
}

// Blend writes (1-t)*a + t*b into dst. All three share bounds.
func Blend(dst, a, b *image.RGBA, t float64) {
	if t <= 0 {
		copy(dst.Pix, a.Pix)
		return
	}
	if t >= 1 {
		copy(dst.Pix, b.Pix)
		return
	}
	wb := uint32(t*256 + 0.5)
	wa := 256 - wb
	n := len(dst.Pix)
	if len(a.Pix) < n {
		n = len(a.Pix)
	}
	if len(b.Pix) < n {
		n = len(b.Pix)
	}
	for i := 0; i < n; i++ {
		dst.Pix[i] = uint8((uint32(a.Pix[i])*wa + uint32(b.Pix[i])*wb) >> 8)
	}
}
