package slides

import (
	"image"
	"time"

	"github.com/marcus-crane/billboard/media"
	"github.com/marcus-crane/billboard/models"
	"github.com/marcus-crane/billboard/resources"
	"github.com/marcus-crane/billboard/textrender"
)

// Layer is an overlay that has to be drawn on every frame: scrolling text,
// text with a live token, or any overlay on a video.
type Layer struct {
	Text    string
	Style   textrender.Style
	Width   int
	Anchor  Anchor
	Live    bool
	Surface textrender.Surface
}

func (l *Layer) Scroll() bool { return l.Style.Scroll }

// Slide is a playlist entry prepared for display.
type Slide struct {
	ID        string
	Name      string
	Kind      models.ContentKind
	Reference string
	// Filename is what the status document reports: the attachment name,
	// or the uploaded capture for websites.
	Filename string
	Title    string

	// Base is the finished canvas for image and website slides, with
	// static overlays already drawn in.
	Base       *image.RGBA
	CapturedAt time.Time
	VideoPath  string
	Video      media.VideoInfo

	Layers          []*Layer
	Duration        time.Duration
	Transition      time.Duration
	DominantColours []string

	overlays []models.TextOverlay
	handle   *resources.Handle
}

// Release frees the slide's temporary file, if any. It is safe to call
// more than once.
func (s *Slide) Release() error {
	if s == nil {
		return nil
	}
	return s.handle.Release()
}

// Animated reports whether the slide needs repainting while it is held.
func (s *Slide) Animated() bool {
	return s.Kind == models.KindVideo || len(s.Layers) > 0
}

func ReleaseAll(list []*Slide) {
	for _, s := range list {
		s.Release()
	}
}
