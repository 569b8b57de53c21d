package playback

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/marcus-crane/billboard/models"
)

// Publisher receives the active playback whenever it changes.
type Publisher interface {
	Publish(v any)
}

type PlaybackSystem struct {
	State  []FullPlaybackEntry
	db     *sqlx.DB
	events Publisher
	now    func() time.Time
	m      sync.RWMutex
}

func NewPlaybackSystem(db *sqlx.DB, events Publisher) *PlaybackSystem {
	return &PlaybackSystem{
		State:  []FullPlaybackEntry{},
		db:     db,
		events: events,
		now:    time.Now,
	}
}

// Record stores np as the active slide. It satisfies the engine's status
// hook so history is written alongside the remote status document.
func (ps *PlaybackSystem) Record(np models.NowPlaying) error {
	return ps.UpdatePlaybackState(UpdateFromNowPlaying(np))
}

func (ps *PlaybackSystem) UpdatePlaybackState(update Update) error {
	update.Slide.ID = GenerateSlideID(&update)
	if update.Slide.DominantColours == nil {
		update.Slide.DominantColours = models.SerializedColors{}
	}
	if update.Status == "" {
		update.Status = StatusPlaying
	}
	now := ps.clock().UnixMilli()
	started := now
	if !update.StartedAt.IsZero() {
		started = update.StartedAt.UnixMilli()
	}

	tx, err := ps.db.Beginx()
	if err != nil {
		return err
	}

	var committed bool
	defer func() {
		if !committed {
			tx.Rollback()
			return
		}
		if err := ps.RefreshCurrentPlayback(); err != nil {
			slog.Warn("Failed to refresh playback state", slog.String("error", err.Error()))
			return
		}
		ps.broadcastEvent()
	}()

	// Whatever was on screen before is finished now
	if _, err = tx.Exec(`
	  UPDATE playback_entries
	  SET is_active = FALSE, status = ?, updated_at = ?
	  WHERE is_active = TRUE`,
		StatusStopped, now); err != nil {
		return fmt.Errorf("failed to deactivate old entry: %w", err)
	}

	// Titles of website captures can change between showings
	if _, err = tx.NamedExec(`
	  INSERT INTO slides
	  (id, name, kind, reference, title, dominant_colours)
	  VALUES (:id, :name, :kind, :reference, :title, :dominant_colours)
	  ON CONFLICT (id) DO UPDATE SET
	  title = excluded.title,
	  dominant_colours = excluded.dominant_colours`,
		update.Slide); err != nil {
		return fmt.Errorf("failed to upsert slide: %w", err)
	}

	if _, err = tx.Exec(`
	  INSERT INTO playback_entries
	  (slide_id, position, total, duration_ms, status, is_active, started_at, updated_at)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		update.Slide.ID, update.Position, update.Total, update.Duration.Milliseconds(),
		update.Status, update.Status == StatusPlaying, started, now); err != nil {
		return fmt.Errorf("failed to insert new playback entry: %w", err)
	}

	slog.Debug("Inserted new playback entry", slog.String("slide_id", update.Slide.ID))

	if err = tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (ps *PlaybackSystem) clock() time.Time {
	if ps.now == nil {
		return time.Now()
	}
	return ps.now()
}

func (ps *PlaybackSystem) broadcastEvent() {
	if ps.events == nil {
		return
	}
	ps.events.Publish(ps.Current())
}

// StopAll marks whatever is active as stopped, for when the screen shows a
// placeholder or the player shuts down.
func (ps *PlaybackSystem) StopAll() error {
	res, err := ps.db.Exec(`
	  UPDATE playback_entries
	  SET is_active = FALSE, status = ?, updated_at = ?
	  WHERE is_active = TRUE`,
		StatusStopped, ps.clock().UnixMilli())
	if err != nil {
		return err
	}
	if err := ps.RefreshCurrentPlayback(); err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		ps.broadcastEvent()
	}
	return nil
}

func (ps *PlaybackSystem) RefreshCurrentPlayback() error {
	entries, err := ps.GetActivePlayback()
	if err != nil {
		return err
	}

	ps.m.Lock()
	defer ps.m.Unlock()

	ps.State = entries

	return nil
}

// Current returns a copy of the cached active playback.
func (ps *PlaybackSystem) Current() []FullPlaybackEntry {
	ps.m.RLock()
	defer ps.m.RUnlock()
	out := make([]FullPlaybackEntry, len(ps.State))
	copy(out, ps.State)
	return out
}

func (ps *PlaybackSystem) GetActivePlayback() ([]FullPlaybackEntry, error) {
	results := []FullPlaybackEntry{}

	err := ps.db.Select(&results, `
	  SELECT
	    s.id, s.name, s.kind, s.reference, s.title, s.dominant_colours,
	    p.id as playback_id, p.position, p.total, p.duration_ms, p.status, p.is_active, p.started_at, p.updated_at
	  FROM slides s
	  JOIN playback_entries p ON s.id = p.slide_id
	  WHERE p.is_active = TRUE
	  ORDER BY p.updated_at DESC
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return results, nil
	}
	return results, err
}

func (ps *PlaybackSystem) GetHistory(limit int) ([]FullPlaybackEntry, error) {
	results := []FullPlaybackEntry{}

	if limit <= 0 {
		return results, fmt.Errorf("must request at least one historical item")
	}

	err := ps.db.Select(&results, `
	  SELECT
	    s.id, s.name, s.kind, s.reference, s.title, s.dominant_colours,
	    p.id as playback_id, p.position, p.total, p.duration_ms, p.status, p.is_active, p.started_at, p.updated_at
	  FROM slides s
	  JOIN playback_entries p ON s.id = p.slide_id
	  WHERE p.is_active = FALSE
	  ORDER BY p.updated_at DESC, p.id DESC
	  LIMIT ?
	`, limit)

	return results, err
}

// Prune drops history older than the cutoff so the database stays small on
// long-running players.
func (ps *PlaybackSystem) Prune(before time.Time) (int64, error) {
	res, err := ps.db.Exec(`DELETE FROM playback_entries WHERE is_active = FALSE AND updated_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
