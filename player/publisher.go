package player

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/marcus-crane/billboard/couch"
	"github.com/marcus-crane/billboard/models"
)

type StatusWriter interface {
	PutStatus(ctx context.Context, status models.StatusDocument) error
}

type HistoryRecorder interface {
	Record(np models.NowPlaying) error
}

// Publisher hands now-playing updates to slow consumers off the playback
// goroutine. Only the newest update is kept; older ones still waiting are
// replaced.
type Publisher struct {
	DeviceID string
	Status   StatusWriter
	History  HistoryRecorder
	Timeout  time.Duration

	slot chan models.NowPlaying
}

func NewPublisher(deviceID string, status StatusWriter, history HistoryRecorder, timeout time.Duration) *Publisher {
	return &Publisher{
		DeviceID: deviceID,
		Status:   status,
		History:  history,
		Timeout:  timeout,
		slot:     make(chan models.NowPlaying, 1),
	}
}

// Report never blocks.
func (p *Publisher) Report(np models.NowPlaying) {
	for {
		select {
		case p.slot <- np:
			return
		default:
		}
		select {
		case <-p.slot:
		default:
		}
	}
}

func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case np := <-p.slot:
			p.publish(ctx, np)
		}
	}
}

// StatusDocument builds the remote status record for np.
func StatusDocument(deviceID string, np models.NowPlaying) models.StatusDocument {
	return models.StatusDocument{
		ID:                   models.StatusDocumentID(deviceID),
		Type:                 models.StatusType,
		DeviceID:             deviceID,
		CurrentSlideID:       np.SlideID,
		CurrentSlideFilename: np.Filename,
		Timestamp:            time.UnixMilli(np.StartedAt).UTC().Format(time.RFC3339),
		DominantColours:      np.DominantColours,
	}
}

func (p *Publisher) publish(ctx context.Context, np models.NowPlaying) {
	if p.Status != nil {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		sctx, cancel := context.WithTimeout(ctx, timeout)
		err := p.Status.PutStatus(sctx, StatusDocument(p.DeviceID, np))
		cancel()
		switch {
		case errors.Is(err, couch.ErrConflict):
			slog.Info("Status document changed underneath us, dropping update",
				slog.String("slide", np.SlideID))
		case err != nil:
			slog.Warn("Failed to publish status",
				slog.String("slide", np.SlideID),
				slog.String("error", err.Error()))
		}
	}
	if p.History != nil {
		if err := p.History.Record(np); err != nil {
			slog.Warn("Failed to record playback history",
				slog.String("slide", np.SlideID),
				slog.String("error", err.Error()))
		}
	}
}
