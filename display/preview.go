package display

import (
	"errors"
	"image"
	"image/jpeg"
	"io"
	"sync"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/marcus-crane/billboard/media"
)

var ErrNoFrame = errors.New("no frame has been shown yet")

// Preview keeps a small copy of the latest frame for the status API. It
// samples at most once per Interval so it stays cheap at full frame rate.
type Preview struct {
	Width    int
	Interval time.Duration

	mu     sync.RWMutex
	latest *image.RGBA
	taken  time.Time
	now    func() time.Time
}

func NewPreview(width int, interval time.Duration) *Preview {
	return &Preview{Width: width, Interval: interval, now: time.Now}
}

func (p *Preview) Write(frame *image.RGBA) error {
	now := p.now()
	p.mu.RLock()
	skip := p.latest != nil && now.Sub(p.taken) < p.Interval
	p.mu.RUnlock()
	if skip {
		return nil
	}

	b := frame.Bounds()
	w := p.Width
	if w <= 0 || w > b.Dx() {
		w = b.Dx()
	}
	h := b.Dy() * w / b.Dx()
	if h < 1 {
		h = 1
	}
	small := media.NewCanvas(w, h)
	xdraw.ApproxBiLinear.Scale(small, small.Bounds(), frame, b, xdraw.Src, nil)

	p.mu.Lock()
	p.latest = small
	p.taken = now
	p.mu.Unlock()
	return nil
}

// Latest returns the most recent sample. Callers must not modify it.
func (p *Preview) Latest() (*image.RGBA, time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.taken, p.latest != nil
}

func (p *Preview) JPEG(w io.Writer) error {
	img, _, ok := p.Latest()
	if !ok {
		return ErrNoFrame
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: 80})
}
