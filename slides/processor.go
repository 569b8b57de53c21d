// Package slides turns playlist documents into display-ready slides.
package slides

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/marcus-crane/billboard/media"
	"github.com/marcus-crane/billboard/models"
	"github.com/marcus-crane/billboard/resources"
	"github.com/marcus-crane/billboard/textrender"
	"github.com/marcus-crane/billboard/utils"
	"github.com/marcus-crane/billboard/website"
)

type AttachmentStore interface {
	FetchAttachment(ctx context.Context, docID, name string) ([]byte, error)
	DownloadAttachment(ctx context.Context, docID, name string, w io.Writer) (int64, error)
}

type TextRenderer interface {
	Render(text string, style textrender.Style, targetWidth int) (textrender.Surface, error)
}

type WebsiteSource interface {
	GetOrRefresh(ctx context.Context, url string) (website.Entry, error)
	Lookup(url string) (website.Entry, bool)
	Prefetch(url string)
}

type Limits struct {
	DefaultDuration   time.Duration
	MaxDuration       time.Duration
	DefaultTransition time.Duration
	MaxTransition     time.Duration
}

func (l Limits) Duration(seconds float64) time.Duration {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return l.DefaultDuration
	}
	d := time.Duration(seconds * float64(time.Second))
	if l.MaxDuration > 0 && d > l.MaxDuration {
		return l.MaxDuration
	}
	return d
}

func (l Limits) Transition(ms *int) time.Duration {
	if ms == nil {
		return l.DefaultTransition
	}
	if *ms <= 0 {
		return 0
	}
	d := time.Duration(*ms) * time.Millisecond
	if l.MaxTransition > 0 && d > l.MaxTransition {
		return l.MaxTransition
	}
	return d
}

type Processor struct {
	Store    AttachmentStore
	Text     TextRenderer
	Websites WebsiteSource
	Registry *resources.Registry
	Open     media.OpenFunc
	Width    int
	Height   int
	TempDir  string
	Limits   Limits
	// Remove deletes a temporary file. Defaults to os.Remove.
	Remove func(string) error
}

var errUnsupported = errors.New("unsupported slide type")

// Process prepares every slide of doc in order. Slides that cannot be
// prepared are logged and left out; one bad slide never fails the list.
func (p *Processor) Process(ctx context.Context, doc *models.PlaylistDocument) []*Slide {
	out := make([]*Slide, 0, len(doc.Slides))
	for i, def := range doc.Slides {
		if ctx.Err() != nil {
			ReleaseAll(out)
			return nil
		}
		s, err := p.processOne(ctx, doc.ID, i, def)
		if err != nil {
			slog.Warn("Skipping slide",
				slog.Int("index", i),
				slog.String("name", def.Name),
				slog.String("type", def.Type),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, s)
	}
	slog.Info("Processed playlist",
		slog.String("document", doc.ID),
		slog.Int("slides", len(out)),
		slog.Int("skipped", len(doc.Slides)-len(out)+doc.Skipped))
	return out
}

func (p *Processor) processOne(ctx context.Context, docID string, index int, def models.SlideDefinition) (*Slide, error) {
	if def.Content == nil {
		return nil, fmt.Errorf("%w %q", errUnsupported, def.Type)
	}
	ref := def.Content.Reference()
	if ref == "" {
		return nil, errors.New("slide has no attachment or url")
	}
	s := &Slide{
		ID:         def.Name,
		Name:       def.Name,
		Kind:       def.Content.Kind(),
		Reference:  ref,
		Filename:   ref,
		Duration:   p.Limits.Duration(def.DurationSeconds),
		Transition: p.Limits.Transition(def.TransitionMs),
	}
	if s.ID == "" {
		s.ID = fmt.Sprintf("slide-%d", index)
	}

	switch c := def.Content.(type) {
	case models.ImageContent:
		data, err := p.Store.FetchAttachment(ctx, docID, c.Attachment)
		if err != nil {
			return nil, err
		}
		img, err := media.Decode(data)
		if err != nil {
			return nil, err
		}
		s.Base = media.Letterbox(img, p.Width, p.Height)
	case models.WebsiteContent:
		if p.Websites == nil {
			return nil, errors.New("website capture is unavailable")
		}
		entry, err := p.Websites.GetOrRefresh(ctx, c.URL)
		if err != nil {
			return nil, err
		}
		s.useCapture(entry)
	case models.VideoContent:
		if err := p.prepareVideo(ctx, docID, c.Attachment, s); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w %T", errUnsupported, c)
	}

	if s.Base != nil {
		s.DominantColours = utils.DominantColours(s.Base)
	}
	s.overlays = def.Overlays
	p.applyOverlays(s, def.Overlays)
	return s, nil
}

func (s *Slide) useCapture(entry website.Entry) {
	// the cached canvas is shared, overlays go on a copy
	s.Base = media.Clone(entry.Canvas)
	s.CapturedAt = entry.CapturedAt
	s.Filename = entry.Attachment
	s.Title = entry.Title
}

// Refresh swaps in a newer cached capture for a website slide, re-baking
// its static overlays. It never captures: an expired capture is handed to
// the prefetch worker and the slide keeps the canvas it has until a newer
// one lands in the cache. Other slides are left alone.
func (p *Processor) Refresh(s *Slide) {
	if s.Kind != models.KindWebsite || p.Websites == nil {
		return
	}
	p.Websites.Prefetch(s.Reference)
	entry, ok := p.Websites.Lookup(s.Reference)
	if !ok || entry.Canvas == nil {
		return
	}
	if entry.CapturedAt.Equal(s.CapturedAt) && s.Base != nil {
		return
	}
	fresh := &Slide{Name: s.Name}
	fresh.useCapture(entry)
	fresh.DominantColours = utils.DominantColours(fresh.Base)
	p.applyOverlays(fresh, s.overlays)

	s.Base = fresh.Base
	s.CapturedAt = fresh.CapturedAt
	s.Filename = fresh.Filename
	s.Title = fresh.Title
	s.DominantColours = fresh.DominantColours
	s.Layers = fresh.Layers
}

func (p *Processor) removeFile(path string) error {
	remove := p.Remove
	if remove == nil {
		remove = os.Remove
	}
	if err := remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (p *Processor) prepareVideo(ctx context.Context, docID, name string, s *Slide) error {
	if p.Open == nil {
		return errors.New("video decoding is unavailable")
	}
	f, err := os.CreateTemp(p.TempDir, "billboard-*"+filepath.Ext(name))
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	path := f.Name()
	n, err := p.Store.DownloadAttachment(ctx, docID, name, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		p.removeFile(path)
		return err
	}

	dec, err := p.Open(path, p.Width, p.Height)
	if err != nil {
		p.removeFile(path)
		return fmt.Errorf("failed to open video %s: %w", name, err)
	}
	s.Video = dec.Info()
	dec.Close()

	s.VideoPath = path
	if p.Registry == nil {
		p.Registry = resources.NewRegistry()
	}
	s.handle = p.Registry.Register(path, func() error { return p.removeFile(path) })
	slog.Debug("Prepared video",
		slog.String("name", name),
		slog.String("size", humanize.Bytes(uint64(n))),
		slog.Float64("fps", s.Video.FPS))
	return nil
}

func (p *Processor) applyOverlays(s *Slide, overlays []models.TextOverlay) {
	zone := p.Width - 2*Margin
	for _, o := range overlays {
		anchor := ParseAnchor(o.Position)
		style := textrender.Style{
			Size:       o.Size,
			Color:      o.Color,
			Background: o.BackgroundColor,
			Scroll:     o.Scroll,
			Align:      anchor.Align(),
		}
		surface, err := p.Text.Render(o.Text, style, zone)
		if err != nil {
			slog.Warn("Skipping text overlay",
				slog.String("slide", s.Name),
				slog.String("text", o.Text),
				slog.String("error", err.Error()))
			continue
		}
		layer := &Layer{
			Text:    o.Text,
			Style:   style,
			Width:   zone,
			Anchor:  anchor,
			Live:    textrender.IsLive(o.Text),
			Surface: surface,
		}
		if s.Base != nil && !layer.Scroll() && !layer.Live {
			media.Composite(s.Base, surface.Image, anchor.Place(surface.Bounds().Size(), p.Width, p.Height))
			continue
		}
		s.Layers = append(s.Layers, layer)
	}
}
