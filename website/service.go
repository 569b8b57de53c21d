// Package website turns URLs into screen-sized slide canvases, caching
// captures for a while and warming the cache ahead of playback.
package website

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

type Capturer interface {
	Capture(ctx context.Context, url string) (image.Image, string, error)
}

type Uploader interface {
	PutAttachment(ctx context.Context, docID, name, contentType string, data []byte) (string, error)
}

type Entry struct {
	Canvas     *image.RGBA
	Attachment string
	Title      string
	CapturedAt time.Time
}

type Options struct {
	// DocID is the document captures are uploaded to.
	DocID         string
	TTL           time.Duration
	Capacity      int
	CaptureWidth  int
	CaptureHeight int
	ScreenWidth   int
	ScreenHeight  int
	// UploadTimeout bounds the best-effort upload after each capture.
	UploadTimeout time.Duration
}

const uploadQueue = 4

type Service struct {
	capturer Capturer
	uploader Uploader
	opts     Options
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]Entry

	// captureMu serialises captures so only one browser runs at a time.
	captureMu sync.Mutex
	hints     chan string
	uploads   chan Entry
}

func NewService(capturer Capturer, uploader Uploader, opts Options) *Service {
	if opts.Capacity <= 0 {
		opts.Capacity = 10
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 30 * time.Second
	}
	return &Service{
		capturer: capturer,
		uploader: uploader,
		opts:     opts,
		now:      time.Now,
		entries:  map[string]Entry{},
		hints:    make(chan string, 1),
		uploads:  make(chan Entry, uploadQueue),
	}
}

// AttachmentName is the deterministic attachment a capture of url is
// uploaded under.
func AttachmentName(url string) string {
	return fmt.Sprintf("website_%s.png", uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)))
}

// Lookup returns the cached entry for url, fresh or not.
func (s *Service) Lookup(url string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[url]
	return e, ok
}

func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// fresh reports whether e is still within the TTL.
func (s *Service) fresh(e Entry) bool {
	return s.now().Sub(e.CapturedAt) < s.opts.TTL
}

// GetOrRefresh returns a fresh capture of url, capturing it if needed. If
// capturing fails a stale entry is served instead.
func (s *Service) GetOrRefresh(ctx context.Context, url string) (Entry, error) {
	if e, ok := s.Lookup(url); ok && s.fresh(e) {
		return e, nil
	}
	e, captured, err := s.capture(ctx, url)
	if err != nil {
		if stale, ok := s.Lookup(url); ok {
			slog.Warn("Website capture failed, serving stale copy",
				slog.String("url", url),
				slog.Time("captured_at", stale.CapturedAt),
				slog.String("error", err.Error()))
			return stale, nil
		}
		return Entry{}, err
	}
	if captured {
		s.queueUpload(e)
	}
	return e, nil
}

func (s *Service) capture(ctx context.Context, url string) (Entry, bool, error) {
	s.captureMu.Lock()
	defer s.captureMu.Unlock()

	// somebody else may have captured it while we waited for the lock
	if e, ok := s.Lookup(url); ok && s.fresh(e) {
		return e, false, nil
	}

	shot, title, err := s.capturer.Capture(ctx, url)
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to capture %s: %w", url, err)
	}
	e := Entry{
		Canvas:     Compose(shot, s.opts.CaptureWidth, s.opts.CaptureHeight, s.opts.ScreenWidth, s.opts.ScreenHeight),
		Attachment: AttachmentName(url),
		Title:      title,
		CapturedAt: s.now(),
	}
	s.put(url, e)
	slog.Info("Captured website", slog.String("url", url), slog.String("title", title))
	return e, true, nil
}

func (s *Service) put(url string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[url] = e
	for len(s.entries) > s.opts.Capacity {
		var oldest string
		var oldestAt time.Time
		for u, candidate := range s.entries {
			if u == url {
				continue
			}
			if oldest == "" || candidate.CapturedAt.Before(oldestAt) {
				oldest, oldestAt = u, candidate.CapturedAt
			}
		}
		if oldest == "" {
			return
		}
		delete(s.entries, oldest)
		slog.Debug("Evicted website capture", slog.String("url", oldest))
	}
}

// queueUpload hands a capture to the upload worker started by Run. Uploads
// are best-effort, so a full queue drops the capture.
func (s *Service) queueUpload(e Entry) {
	if s.uploader == nil || s.opts.DocID == "" {
		return
	}
	select {
	case s.uploads <- e:
	default:
		slog.Warn("Upload queue is full, not uploading website capture",
			slog.String("attachment", e.Attachment))
	}
}

func (s *Service) runUploads(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.uploads:
			s.upload(ctx, e)
		}
	}
}

func (s *Service) upload(ctx context.Context, e Entry) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, e.Canvas); err != nil {
		slog.Warn("Failed to encode website capture", slog.String("error", err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.UploadTimeout)
	defer cancel()
	if _, err := s.uploader.PutAttachment(ctx, s.opts.DocID, e.Attachment, "image/png", buf.Bytes()); err != nil {
		slog.Warn("Failed to upload website capture",
			slog.String("attachment", e.Attachment),
			slog.String("error", err.Error()))
		return
	}
	slog.Debug("Uploaded website capture",
		slog.String("attachment", e.Attachment),
		slog.String("size", humanize.Bytes(uint64(buf.Len()))))
}

// Prefetch hints that url will be needed soon. Only the most recent hint
// is kept; it never blocks.
func (s *Service) Prefetch(url string) {
	if e, ok := s.Lookup(url); ok && s.fresh(e) {
		return
	}
	select {
	case s.hints <- url:
		return
	default:
	}
	select {
	case <-s.hints:
	default:
	}
	select {
	case s.hints <- url:
	default:
	}
}

// Run is the prefetch worker. It also starts the upload worker, so
// captures are uploaded without holding up whoever asked for them. It
// returns when ctx is done.
func (s *Service) Run(ctx context.Context) {
	go s.runUploads(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case url := <-s.hints:
			if _, err := s.GetOrRefresh(ctx, url); err != nil && ctx.Err() == nil {
				slog.Warn("Website prefetch failed", slog.String("url", url), slog.String("error", err.Error()))
			}
		}
	}
}
