package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus-crane/billboard/couch"
	"github.com/marcus-crane/billboard/models"
)

type fakeStatus struct {
	mu   sync.Mutex
	docs []models.StatusDocument
	err  error
}

func (f *fakeStatus) PutStatus(ctx context.Context, status models.StatusDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, status)
	return f.err
}

func (f *fakeStatus) Docs() []models.StatusDocument {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.StatusDocument(nil), f.docs...)
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []models.NowPlaying
}

func (f *fakeHistory) Record(np models.NowPlaying) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, np)
	return nil
}

func (f *fakeHistory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func TestStatusDocument(t *testing.T) {
	np := models.NowPlaying{
		SlideID:         "lobby",
		Filename:        "lobby.png",
		StartedAt:       time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC).UnixMilli(),
		DominantColours: models.SerializedColors{"#112233"},
	}
	got := StatusDocument("tv-1", np)
	want := models.StatusDocument{
		ID:                   "status_tv-1",
		Type:                 "tv_status",
		DeviceID:             "tv-1",
		CurrentSlideID:       "lobby",
		CurrentSlideFilename: "lobby.png",
		Timestamp:            "2026-10-18T09:30:00Z",
		DominantColours:      models.SerializedColors{"#112233"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("StatusDocument() mismatch (-want +got):\n%s", diff)
	}
}

func TestPublisher_LatestWins(t *testing.T) {
	status := &fakeStatus{}
	history := &fakeHistory{}
	p := NewPublisher("tv-1", status, history, time.Second)

	for i := 0; i < 3; i++ {
		p.Report(models.NowPlaying{SlideID: fmt.Sprintf("slide-%d", i)})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.Eventually(t, func() bool { return history.Len() == 1 }, time.Second, 5*time.Millisecond)
	docs := status.Docs()
	require.Len(t, docs, 1)
	assert.Equal(t, "slide-2", docs[0].CurrentSlideID)
}

func TestPublisher_ConflictStillRecordsHistory(t *testing.T) {
	status := &fakeStatus{err: fmt.Errorf("put status: %w", couch.ErrConflict)}
	history := &fakeHistory{}
	p := NewPublisher("tv-1", status, history, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Report(models.NowPlaying{SlideID: "a"})
	require.Eventually(t, func() bool { return history.Len() == 1 }, time.Second, 5*time.Millisecond)

	status.mu.Lock()
	status.err = errors.New("connection refused")
	status.mu.Unlock()
	p.Report(models.NowPlaying{SlideID: "b"})
	require.Eventually(t, func() bool { return history.Len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, status.Docs(), 2)
}

func TestPublisher_ReportNeverBlocks(t *testing.T) {
	p := NewPublisher("tv-1", nil, nil, 0)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			p.Report(models.NowPlaying{SlideID: fmt.Sprint(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Report blocked without a running publisher")
	}
	assert.Equal(t, "99", (<-p.slot).SlideID)
}
