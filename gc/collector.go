// Package gc removes attachments the playlist no longer refers to.
package gc

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/marcus-crane/billboard/couch"
	"github.com/marcus-crane/billboard/models"
	"github.com/marcus-crane/billboard/website"
)

const (
	ImmediateBatch = 5
	PeriodicBatch  = 20
	// a sweep gives up after this many rounds without deleting anything
	maxIdleRounds = 2
)

type Store interface {
	FetchDocument(ctx context.Context, id string) (*models.PlaylistDocument, error)
	DeleteAttachment(ctx context.Context, docID, name, rev string) (string, error)
}

type Collector struct {
	Store          Store
	DocID          string
	ImmediateBatch int
	PeriodicBatch  int
	// Namer maps a website URL to the attachment its capture is uploaded as.
	Namer func(url string) string

	mu sync.Mutex
}

func New(store Store, docID string) *Collector {
	return &Collector{
		Store:          store,
		DocID:          docID,
		ImmediateBatch: ImmediateBatch,
		PeriodicBatch:  PeriodicBatch,
		Namer:          website.AttachmentName,
	}
}

// Referenced returns every attachment name the slides of doc depend on.
func Referenced(doc *models.PlaylistDocument, namer func(string) string) map[string]struct{} {
	refs := make(map[string]struct{}, len(doc.Slides))
	for _, s := range doc.Slides {
		switch c := s.Content.(type) {
		case models.ImageContent:
			refs[c.Attachment] = struct{}{}
		case models.VideoContent:
			refs[c.Attachment] = struct{}{}
		case models.WebsiteContent:
			if namer != nil && c.URL != "" {
				refs[namer(c.URL)] = struct{}{}
			}
		}
	}
	return refs
}

// Unreferenced lists, sorted, the attachments on doc that no slide uses.
func Unreferenced(doc *models.PlaylistDocument, namer func(string) string) []string {
	refs := Referenced(doc, namer)
	var out []string
	for _, name := range doc.AttachmentNames() {
		if _, ok := refs[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Sweep deletes unreferenced attachments in batches, refetching the
// document before every batch so each deletion is checked against the
// latest playlist and revision. It returns how many were deleted.
func (c *Collector) Sweep(ctx context.Context, immediate bool) (int, error) {
	if !c.mu.TryLock() {
		slog.Debug("Attachment sweep already running")
		return 0, nil
	}
	defer c.mu.Unlock()

	batch := c.PeriodicBatch
	if immediate {
		batch = c.ImmediateBatch
	}
	if batch <= 0 {
		batch = 1
	}

	deleted := 0
	gone := map[string]bool{}
	idle := 0
	for idle < maxIdleRounds {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		doc, err := c.Store.FetchDocument(ctx, c.DocID)
		if err != nil {
			slog.Warn("Skipping attachment sweep",
				slog.String("document", c.DocID),
				slog.String("error", err.Error()))
			return deleted, err
		}
		if doc.Skipped > 0 {
			// a dropped slide may still reference something
			slog.Warn("Skipping attachment sweep over partially decoded playlist",
				slog.String("document", c.DocID),
				slog.Int("skipped", doc.Skipped))
			return deleted, nil
		}

		var pending []string
		for _, name := range Unreferenced(doc, c.Namer) {
			if !gone[name] {
				pending = append(pending, name)
			}
		}
		if len(pending) == 0 {
			break
		}
		if len(pending) > batch {
			pending = pending[:batch]
		}

		n, err := c.deleteBatch(ctx, doc.Rev, pending, gone)
		deleted += n
		if errors.Is(err, couch.ErrConflict) {
			slog.Info("Playlist changed during attachment sweep, stopping",
				slog.String("document", c.DocID))
			return deleted, nil
		}
		if err != nil {
			return deleted, err
		}
		if n == 0 {
			idle++
		} else {
			idle = 0
		}
	}

	if deleted > 0 {
		slog.Info("Removed unreferenced attachments",
			slog.String("document", c.DocID),
			slog.Int("count", deleted),
			slog.Bool("immediate", immediate))
	}
	return deleted, nil
}

func (c *Collector) deleteBatch(ctx context.Context, rev string, names []string, gone map[string]bool) (int, error) {
	deleted := 0
	for _, name := range names {
		next, err := c.Store.DeleteAttachment(ctx, c.DocID, name, rev)
		switch {
		case errors.Is(err, couch.ErrNotFound):
			gone[name] = true
			continue
		case err != nil:
			return deleted, err
		}
		slog.Debug("Deleted attachment", slog.String("name", name))
		gone[name] = true
		deleted++
		if next != "" {
			rev = next
		}
	}
	return deleted, nil
}
