// Package textrender rasterises overlay text onto translucent rounded
// panels and memoises the results.
package textrender

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"

	"github.com/marcus-crane/billboard/utils"
)

const (
	DateTimeToken  = "{datetime}"
	DateTimeLayout = "2006-01-02 15:04"

	Padding         = 5
	BackgroundAlpha = 200
	DefaultCapacity = 50
)

var ErrEmptyText = errors.New("textrender: empty text")

var sizes = map[string]float64{
	"small":  24,
	"medium": 36,
	"large":  48,
	"xlarge": 60,
}

func SizePoints(class string) float64 {
	if p, ok := sizes[strings.ToLower(class)]; ok {
		return p
	}
	return sizes["medium"]
}

type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

type Style struct {
	Size       string
	Color      string
	Background string
	Scroll     bool
	Align      Align
}

// Surface is a rendered overlay. TextWidth is the width of the panel
// itself, which is narrower than the image when the text is aligned
// inside a wider zone.
type Surface struct {
	Image     *image.RGBA
	TextWidth int
}

func (s Surface) Bounds() image.Rectangle {
	if s.Image == nil {
		return image.Rectangle{}
	}
	return s.Image.Bounds()
}

type entry struct {
	surface Surface
	live    bool
	minute  int64
}

// Renderer caches rendered surfaces. mu guards the cache only and is
// never held while drawing; facesMu guards the loaded fonts.
type Renderer struct {
	mu       sync.Mutex
	capacity int
	entries  map[uint64]entry
	order    []uint64

	facesMu   sync.Mutex
	fontPaths []string
	faces     map[float64]font.Face

	now func() time.Time
}

type Option func(*Renderer)

func WithClock(now func() time.Time) Option {
	return func(r *Renderer) { r.now = now }
}

func New(fontPaths []string, capacity int, opts ...Option) *Renderer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Renderer{
		capacity:  capacity,
		entries:   map[uint64]entry{},
		fontPaths: fontPaths,
		faces:     map[float64]font.Face{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve substitutes live tokens and reports whether any were present.
func Resolve(text string, now time.Time) (string, bool) {
	if !strings.Contains(text, DateTimeToken) {
		return text, false
	}
	return strings.ReplaceAll(text, DateTimeToken, now.Format(DateTimeLayout)), true
}

// IsLive reports whether text changes with the wall clock.
func IsLive(text string) bool {
	return strings.Contains(text, DateTimeToken)
}

func cacheKey(text string, style Style, targetWidth int) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%t\x00%d\x00%d",
		text, strings.ToLower(style.Size), style.Color, style.Background, style.Scroll, style.Align, targetWidth))
}

// Render returns the surface for text, drawing it on a cache miss. Text
// containing a live token misses at most once per wall-clock minute.
func (r *Renderer) Render(text string, style Style, targetWidth int) (Surface, error) {
	now := r.now()
	resolved, live := Resolve(text, now)
	if strings.TrimSpace(resolved) == "" {
		return Surface{}, ErrEmptyText
	}
	minute := now.Unix() / 60
	key := cacheKey(resolved, style, targetWidth)

	if surface, ok := r.lookup(key, minute); ok {
		return surface, nil
	}

	surface, err := r.draw(resolved, style, targetWidth)
	if err != nil {
		return Surface{}, err
	}

	r.mu.Lock()
	r.store(key, entry{surface: surface, live: live, minute: minute})
	r.mu.Unlock()
	return surface, nil
}

func (r *Renderer) lookup(key uint64, minute int64) (Surface, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok || (e.live && e.minute != minute) {
		return Surface{}, false
	}
	return e.surface, true
}

func (r *Renderer) store(key uint64, e entry) {
	if _, ok := r.entries[key]; ok {
		r.entries[key] = e
		return
	}
	for len(r.order) >= r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.entries, oldest)
	}
	r.entries[key] = e
	r.order = append(r.order, key)
}

func (r *Renderer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// PruneStale drops live entries rendered in an earlier minute.
func (r *Renderer) PruneStale() int {
	minute := r.now().Unix() / 60
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.order[:0]
	pruned := 0
	for _, key := range r.order {
		e := r.entries[key]
		if e.live && e.minute != minute {
			delete(r.entries, key)
			pruned++
			continue
		}
		kept = append(kept, key)
	}
	r.order = kept
	return pruned
}

func (r *Renderer) face(points float64) font.Face {
	r.facesMu.Lock()
	defer r.facesMu.Unlock()
	if f, ok := r.faces[points]; ok {
		return f
	}
	var face font.Face
	for _, path := range r.fontPaths {
		f, err := gg.LoadFontFace(path, points)
		if err == nil {
			face = f
			slog.Debug("Loaded font", slog.String("path", path), slog.Float64("points", points))
			break
		}
	}
	if face == nil {
		face = builtinFace(points)
	}
	r.faces[points] = face
	return face
}

func builtinFace(points float64) font.Face {
	parsed, err := opentype.Parse(goregular.TTF)
	if err == nil {
		face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
			Size:    points,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err == nil {
			return face
		}
	}
	slog.Warn("No scalable font available, using fixed bitmap font")
	return basicfont.Face7x13
}

// background returns the panel colour, if one is set and valid.
func background(s string) (color.NRGBA, bool) {
	if strings.TrimSpace(s) == "" {
		return color.NRGBA{}, false
	}
	c, err := utils.ParseHexColor(s)
	if err != nil {
		slog.Warn("Invalid overlay background colour", slog.String("colour", s))
		return color.NRGBA{}, false
	}
	c.A = BackgroundAlpha
	return c, true
}

func parseColour(s string, fallback color.NRGBA) color.NRGBA {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	c, err := utils.ParseHexColor(s)
	if err != nil {
		slog.Warn("Invalid overlay colour", slog.String("colour", s))
		return fallback
	}
	return c
}

func (r *Renderer) draw(text string, style Style, targetWidth int) (Surface, error) {
	face := r.face(SizePoints(style.Size))
	fg := parseColour(style.Color, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	measure := gg.NewContext(1, 1)
	measure.SetFontFace(face)
	textWidth, _ := measure.MeasureString(text)
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	textHeight := (metrics.Ascent + metrics.Descent).Ceil()

	boxW := int(math.Ceil(textWidth)) + 2*Padding
	boxH := textHeight + 2*Padding
	if boxW <= 2*Padding || boxH <= 2*Padding {
		return Surface{}, fmt.Errorf("textrender: degenerate text box for %q", text)
	}

	surfaceW := boxW
	if !style.Scroll && targetWidth > boxW {
		surfaceW = targetWidth
	}
	boxX := 0
	switch style.Align {
	case AlignCenter:
		boxX = (surfaceW - boxW) / 2
	case AlignRight:
		boxX = surfaceW - boxW
	}

	dc := gg.NewContext(surfaceW, boxH)
	if fill, ok := background(style.Background); ok {
		radius := math.Min(10, float64(boxH)/3)
		dc.SetColor(fill)
		dc.DrawRoundedRectangle(float64(boxX), 0, float64(boxW), float64(boxH), radius)
		dc.Fill()
	}
	dc.SetFontFace(face)
	dc.SetColor(fg)
	dc.DrawString(text, float64(boxX+Padding), float64(Padding+ascent))

	img, ok := dc.Image().(*image.RGBA)
	if !ok {
		return Surface{}, errors.New("textrender: unexpected image type")
	}
	return Surface{Image: img, TextWidth: boxW}, nil
}
