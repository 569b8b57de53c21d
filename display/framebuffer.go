package display

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type PixelFormat string

const (
	FormatBGRA   PixelFormat = "bgra"
	FormatRGBA   PixelFormat = "rgba"
	FormatRGB565 PixelFormat = "rgb565"
)

func ParsePixelFormat(s string) (PixelFormat, error) {
	switch f := PixelFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatBGRA, FormatRGBA, FormatRGB565:
		return f, nil
	case "":
		return FormatBGRA, nil
	}
	return "", fmt.Errorf("unknown pixel format %q", s)
}

func (f PixelFormat) BytesPerPixel() int {
	if f == FormatRGB565 {
		return 2
	}
	return 4
}

// Framebuffer writes frames to a raw framebuffer device. The geometry is
// taken from configuration and must match the device's mode.
type Framebuffer struct {
	Path   string
	Format PixelFormat
	Width  int
	Height int

	mu  sync.Mutex
	f   *os.File
	buf []byte
}

func OpenFramebuffer(path string, format PixelFormat, width, height int) (*Framebuffer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open framebuffer %s: %w", path, err)
	}
	slog.Info("Opened framebuffer",
		slog.String("path", path),
		slog.String("format", string(format)),
		slog.Int("width", width),
		slog.Int("height", height))
	return &Framebuffer{
		Path:   path,
		Format: format,
		Width:  width,
		Height: height,
		f:      f,
		buf:    make([]byte, width*height*format.BytesPerPixel()),
	}, nil
}

func (fb *Framebuffer) Write(frame *image.RGBA) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.f == nil {
		return os.ErrClosed
	}
	Convert(fb.buf, frame, fb.Format, fb.Width, fb.Height)
	_, err := fb.f.WriteAt(fb.buf, 0)
	return err
}

func (fb *Framebuffer) Close() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.f == nil {
		return nil
	}
	err := fb.f.Close()
	fb.f = nil
	return err
}

// Convert packs the top-left width x height region of frame into dst in
// the given pixel format. Pixels outside frame are written black.
func Convert(dst []byte, frame *image.RGBA, format PixelFormat, width, height int) {
	bpp := format.BytesPerPixel()
	b := frame.Bounds()
	for y := 0; y < height; y++ {
		row := dst[y*width*bpp : (y+1)*width*bpp]
		for x := 0; x < width; x++ {
			var r, g, bl uint8
			if x < b.Dx() && y < b.Dy() {
				i := frame.PixOffset(b.Min.X+x, b.Min.Y+y)
				r, g, bl = frame.Pix[i], frame.Pix[i+1], frame.Pix[i+2]
			}
			o := x * bpp
			switch format {
			case FormatRGB565:
				v := uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(bl>>3)
				row[o] = byte(v)
				row[o+1] = byte(v >> 8)
			case FormatRGBA:
				row[o], row[o+1], row[o+2], row[o+3] = r, g, bl, 0xff
			default:
				row[o], row[o+1], row[o+2], row[o+3] = bl, g, r, 0xff
			}
		}
	}
}
