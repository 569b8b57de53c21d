// Package player runs the slideshow: it fetches the playlist, plays each
// slide with fades and animation, and starts over whenever the playlist
// changes.
package player

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/marcus-crane/billboard/couch"
	"github.com/marcus-crane/billboard/display"
	"github.com/marcus-crane/billboard/events"
	"github.com/marcus-crane/billboard/media"
	"github.com/marcus-crane/billboard/models"
	"github.com/marcus-crane/billboard/resources"
	"github.com/marcus-crane/billboard/slides"
)

type Source interface {
	FetchDocument(ctx context.Context, id string) (*models.PlaylistDocument, error)
}

type Processor interface {
	Process(ctx context.Context, doc *models.PlaylistDocument) []*slides.Slide
}

// Refresher brings a processed slide up to date before it is shown. It
// must not block.
type Refresher interface {
	Refresh(s *slides.Slide)
}

type Prefetcher interface {
	Prefetch(url string)
}

type Sweeper interface {
	Sweep(ctx context.Context, immediate bool) (int, error)
}

type Reporter interface {
	Report(np models.NowPlaying)
}

type Options struct {
	DocID         string
	ManagerURL    string
	Width         int
	Height        int
	FrameInterval time.Duration
	FadeSteps     int
	// ScrollSpeed is in pixels per second.
	ScrollSpeed   float64
	RetryInterval time.Duration
}

type Engine struct {
	opts      Options
	source    Source
	processor Processor
	sink      display.Sink
	flag      *events.Flag

	Text      slides.TextRenderer
	Open      media.OpenFunc
	Registry  *resources.Registry
	Clock     Clock
	Refresher Refresher
	Prefetch  Prefetcher
	Sweeper   Sweeper
	Reporter  Reporter
	OnState   []StateListener

	mu      sync.RWMutex
	state   State
	reason  Reason
	playing models.NowPlaying

	slides   []*slides.Slide
	retryAt  time.Time
	black    *image.RGBA
	frame    *image.RGBA
	outgoing *image.RGBA

	// hasOutgoing is false until something has been shown
	hasOutgoing   bool
	outgoingBlack bool
	sweeps        sync.WaitGroup
}

func New(opts Options, source Source, processor Processor, sink display.Sink, flag *events.Flag) *Engine {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = time.Second / 30
	}
	if opts.FadeSteps <= 0 {
		opts.FadeSteps = 25
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 30 * time.Second
	}
	if flag == nil {
		flag = &events.Flag{}
	}
	return &Engine{
		opts:      opts,
		source:    source,
		processor: processor,
		sink:      sink,
		flag:      flag,
		Clock:     RealClock(),
		black:     media.NewCanvas(opts.Width, opts.Height),
		frame:     media.NewCanvas(opts.Width, opts.Height),
		outgoing:  media.NewCanvas(opts.Width, opts.Height),
	}
}

// State reports the engine's state and, outside Playing, why.
func (e *Engine) State() (State, Reason) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state, e.reason
}

// NowPlaying returns the slide currently on screen.
func (e *Engine) NowPlaying() (models.NowPlaying, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.playing, e.state == StatePlaying && e.playing.SlideID != ""
}

func (e *Engine) setState(to State, reason Reason) {
	e.mu.Lock()
	from, oldReason := e.state, e.reason
	e.state, e.reason = to, reason
	if to != StatePlaying {
		e.playing = models.NowPlaying{}
	}
	e.mu.Unlock()

	if from == to && oldReason == reason {
		return
	}
	slog.Info("Playback state changed",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("reason", string(reason)))
	for _, l := range e.OnState {
		l(from, to, reason)
	}
}

// Run plays until ctx is cancelled. It never returns early on content or
// network failures.
func (e *Engine) Run(ctx context.Context) error {
	e.setState(StateConnecting, ReasonNone)
	defer func() {
		slides.ReleaseAll(e.slides)
		e.slides = nil
		e.sweeps.Wait()
	}()

	for ctx.Err() == nil {
		e.reload(ctx)
		if ctx.Err() != nil {
			break
		}
		state, _ := e.State()
		switch state {
		case StatePlaying:
			e.play(ctx)
		default:
			e.waitForContent(ctx)
		}
	}
	return nil
}

func (e *Engine) reload(ctx context.Context) {
	e.retryAt = time.Time{}
	doc, err := e.source.FetchDocument(ctx, e.opts.DocID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.fetchFailed(err)
		return
	}

	// The old list goes before the new one is built so temp files never pile up
	slides.ReleaseAll(e.slides)
	e.slides = nil

	if e.Sweeper != nil {
		e.sweeps.Add(1)
		go func() {
			defer e.sweeps.Done()
			if _, err := e.Sweeper.Sweep(ctx, true); err != nil && ctx.Err() == nil {
				slog.Warn("Attachment sweep after playlist change failed", slog.String("error", err.Error()))
			}
		}()
	}

	list := e.processor.Process(ctx, doc)
	if ctx.Err() != nil {
		slides.ReleaseAll(list)
		return
	}
	if len(list) == 0 {
		slog.Info("Playlist has no playable slides",
			slog.String("document", doc.ID),
			slog.Int("declared", len(doc.Slides)))
		e.showPlaceholder(ReasonEmpty)
		return
	}
	e.slides = list
	e.setState(StatePlaying, ReasonNone)
}

func (e *Engine) fetchFailed(err error) {
	switch {
	case errors.Is(err, couch.ErrNotFound):
		slog.Info("Playlist document not found", slog.String("document", e.opts.DocID))
		e.showPlaceholder(ReasonNotConfigured)
	case errors.Is(err, couch.ErrUnauthorized):
		slog.Error("Not allowed to read playlist document",
			slog.String("document", e.opts.DocID),
			slog.String("error", err.Error()))
		e.showPlaceholder(ReasonNotConfigured)
	default:
		slog.Warn("Failed to fetch playlist",
			slog.String("document", e.opts.DocID),
			slog.String("error", err.Error()))
		if len(e.slides) > 0 {
			// keep showing what we have and try again later
			e.retryAt = e.Clock.Now().Add(e.opts.RetryInterval)
			return
		}
		e.showPlaceholder(ReasonUnavailable)
	}
}

func (e *Engine) showPlaceholder(reason Reason) {
	slides.ReleaseAll(e.slides)
	e.slides = nil
	e.setState(StateNoContent, reason)
	frame := renderPlaceholder(e.Text, reason, e.opts.ManagerURL, e.opts.Width, e.opts.Height)
	e.write(frame)
	media.CopyInto(e.outgoing, frame)
	e.hasOutgoing = true
	e.outgoingBlack = false
}

// waitForContent returns when a refetch is requested or the retry
// interval passes.
func (e *Engine) waitForContent(ctx context.Context) {
	deadline := e.Clock.Now().Add(e.opts.RetryInterval)
	for {
		if e.flag.TestAndClear() {
			return
		}
		if !e.Clock.Now().Before(deadline) {
			return
		}
		if e.Clock.Sleep(ctx, e.opts.FrameInterval) != nil {
			return
		}
	}
}

// refetchDue reports whether the current slide should be abandoned for a
// reload. It clears the shared flag when it sees it.
func (e *Engine) refetchDue() bool {
	if e.flag.TestAndClear() {
		return true
	}
	return !e.retryAt.IsZero() && !e.Clock.Now().Before(e.retryAt)
}

func (e *Engine) play(ctx context.Context) {
	for i := 0; len(e.slides) > 0; i = (i + 1) % len(e.slides) {
		if !e.playSlide(ctx, i) {
			return
		}
	}
}

func (e *Engine) write(frame *image.RGBA) {
	if err := e.sink.Write(frame); err != nil {
		slog.Warn("Failed to write frame", slog.String("error", err.Error()))
	}
}

// pace sleeps out the rest of a frame that started at start.
func (e *Engine) pace(ctx context.Context, start time.Time, interval time.Duration) error {
	d := interval - e.Clock.Now().Sub(start)
	if d < 0 {
		d = 0
	}
	return e.Clock.Sleep(ctx, d)
}

// playback is the per-showing state of one slide.
type playback struct {
	slide   *slides.Slide
	scrollX []float64
	video   media.Decoder
	vframe  *image.RGBA
}

// playSlide shows slide i. It returns false when playback of the list
// must stop, either for a reload or for shutdown.
func (e *Engine) playSlide(ctx context.Context, i int) bool {
	s := e.slides[i]
	n := len(e.slides)

	if e.Prefetch != nil && n > 2 {
		if ahead := e.slides[(i+2)%n]; ahead.Kind == models.KindWebsite {
			e.Prefetch.Prefetch(ahead.Reference)
		}
	}
	if e.Refresher != nil {
		e.Refresher.Refresh(s)
	}

	pb := &playback{slide: s, scrollX: make([]float64, len(s.Layers))}
	for j := range pb.scrollX {
		pb.scrollX[j] = float64(e.opts.Width)
	}
	if s.Kind == models.KindVideo {
		closeVideo, err := e.openVideo(pb)
		if err != nil {
			slog.Warn("Skipping video slide",
				slog.String("slide", s.ID),
				slog.String("error", err.Error()))
			if e.Clock.Sleep(ctx, e.opts.FrameInterval) != nil {
				return false
			}
			return !e.refetchDue()
		}
		defer closeVideo()
	}

	e.report(s, i, n)

	incoming := media.NewCanvas(e.opts.Width, e.opts.Height)
	e.compose(incoming, pb)
	if !e.transitionIn(ctx, incoming, s.Transition) {
		e.keepOnScreen()
		return false
	}

	if !e.hold(ctx, pb) {
		e.keepOnScreen()
		return false
	}

	if s.Kind == models.KindVideo || s.Transition <= 0 {
		e.keepOnScreen()
		return true
	}
	media.CopyInto(incoming, e.frame)
	if !e.fade(ctx, incoming, e.black, s.Transition/2) {
		e.keepOnScreen()
		return false
	}
	e.outgoingBlack = true
	e.hasOutgoing = true
	return true
}

// keepOnScreen remembers the last written frame as the one to fade from.
func (e *Engine) keepOnScreen() {
	media.CopyInto(e.outgoing, e.frame)
	e.hasOutgoing = true
	e.outgoingBlack = false
}

func (e *Engine) openVideo(pb *playback) (func(), error) {
	if e.Open == nil {
		return nil, errors.New("video decoding is unavailable")
	}
	dec, err := e.Open(pb.slide.VideoPath, e.opts.Width, e.opts.Height)
	if err != nil {
		return nil, err
	}
	var handle *resources.Handle
	if e.Registry != nil {
		handle = e.Registry.Register("decoder "+pb.slide.ID, dec.Close)
	}
	pb.video = dec
	if err := e.nextVideoFrame(pb); err != nil {
		if handle != nil {
			handle.Release()
		} else {
			dec.Close()
		}
		return nil, err
	}
	return func() {
		if handle != nil {
			handle.Release()
			return
		}
		dec.Close()
	}, nil
}

// nextVideoFrame advances the decoder, looping to the start at the end of
// the stream.
func (e *Engine) nextVideoFrame(pb *playback) error {
	frame, err := pb.video.Next()
	if errors.Is(err, io.EOF) {
		if err := pb.video.Rewind(); err != nil {
			return fmt.Errorf("failed to rewind video: %w", err)
		}
		frame, err = pb.video.Next()
	}
	if err != nil {
		return err
	}
	if frame.Bounds().Dx() != e.opts.Width || frame.Bounds().Dy() != e.opts.Height {
		frame = media.Letterbox(frame, e.opts.Width, e.opts.Height)
	}
	pb.vframe = frame
	return nil
}

func (e *Engine) report(s *slides.Slide, i, n int) {
	np := models.NowPlaying{
		SlideID:         s.ID,
		Name:            s.Name,
		Kind:            s.Kind,
		Reference:       s.Reference,
		Filename:        s.Filename,
		Title:           s.Title,
		Index:           i,
		Total:           n,
		DurationMs:      s.Duration.Milliseconds(),
		StartedAt:       e.Clock.Now().UnixMilli(),
		DominantColours: s.DominantColours,
	}
	e.mu.Lock()
	e.playing = np
	e.mu.Unlock()
	if e.Reporter != nil {
		e.Reporter.Report(np)
	}
}

// transitionIn shows incoming, fading through black from whatever was on
// screen when the slide has a transition.
func (e *Engine) transitionIn(ctx context.Context, incoming *image.RGBA, d time.Duration) bool {
	if d <= 0 || !e.hasOutgoing {
		media.CopyInto(e.frame, incoming)
		e.write(e.frame)
		return !e.refetchDue() && ctx.Err() == nil
	}
	if !e.outgoingBlack {
		if !e.fade(ctx, e.outgoing, e.black, d/2) {
			return false
		}
	}
	return e.fade(ctx, e.black, incoming, d/2)
}

// fade blends from into to over d in FadeSteps frames, leaving the result
// in e.frame.
func (e *Engine) fade(ctx context.Context, from, to *image.RGBA, d time.Duration) bool {
	steps := e.opts.FadeSteps
	delay := d / time.Duration(steps)
	for step := 1; step <= steps; step++ {
		start := e.Clock.Now()
		media.Blend(e.frame, from, to, float64(step)/float64(steps))
		e.write(e.frame)
		if e.refetchDue() {
			return false
		}
		if e.pace(ctx, start, delay) != nil {
			return false
		}
	}
	return true
}

// hold keeps the slide up for its duration, repainting animated slides
// every frame.
func (e *Engine) hold(ctx context.Context, pb *playback) bool {
	s := pb.slide
	begin := e.Clock.Now()
	last := begin
	var nextVideo time.Time
	if pb.video != nil {
		nextVideo = begin.Add(pb.video.Info().FrameInterval())
	}
	for {
		if e.refetchDue() {
			return false
		}
		now := e.Clock.Now()
		if now.Sub(begin) >= s.Duration {
			return true
		}
		dt := now.Sub(last).Seconds()
		last = now

		if s.Animated() {
			for j, l := range s.Layers {
				if !l.Scroll() {
					continue
				}
				pb.scrollX[j] -= e.opts.ScrollSpeed * dt
				if pb.scrollX[j]+float64(l.Surface.Bounds().Dx()) < 0 {
					pb.scrollX[j] = float64(e.opts.Width)
				}
			}
			if pb.video != nil && !now.Before(nextVideo) {
				if err := e.nextVideoFrame(pb); err != nil {
					slog.Warn("Video decoding stopped",
						slog.String("slide", s.ID),
						slog.String("error", err.Error()))
					pb.video = nil
				}
				// catch up without replaying every missed frame
				for !now.Before(nextVideo) {
					nextVideo = nextVideo.Add(videoInterval(pb))
				}
			}
			e.compose(e.frame, pb)
			e.write(e.frame)
		}

		if e.pace(ctx, now, e.opts.FrameInterval) != nil {
			return false
		}
	}
}

func videoInterval(pb *playback) time.Duration {
	if pb.video == nil {
		return time.Hour
	}
	return pb.video.Info().FrameInterval()
}

// compose paints the slide's current look into dst.
func (e *Engine) compose(dst *image.RGBA, pb *playback) {
	s := pb.slide
	switch {
	case pb.vframe != nil:
		media.CopyInto(dst, pb.vframe)
	case s.Base != nil:
		media.CopyInto(dst, s.Base)
	default:
		media.CopyInto(dst, e.black)
	}
	for j, l := range s.Layers {
		surface := l.Surface
		if l.Live && e.Text != nil {
			if fresh, err := e.Text.Render(l.Text, l.Style, l.Width); err == nil {
				surface = fresh
			}
		}
		if surface.Image == nil {
			continue
		}
		size := surface.Bounds().Size()
		var at image.Point
		if l.Scroll() {
			at = image.Pt(int(pb.scrollX[j]), l.Anchor.Row(size.Y, e.opts.Height))
		} else {
			at = l.Anchor.Place(size, e.opts.Width, e.opts.Height)
		}
		media.Composite(dst, surface.Image, at)
	}
}
