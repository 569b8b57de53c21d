package playback

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/marcus-crane/billboard/models"
)

type System interface {
	UpdatePlaybackState(update Update) error
	RefreshCurrentPlayback() error
	GetActivePlayback() ([]FullPlaybackEntry, error)
	StopAll() error
	GetHistory(limit int) ([]FullPlaybackEntry, error)
}

type Status string

const (
	StatusPlaying Status = "playing"
	StatusStopped Status = "stopped"
)

// PlaybackEntry is one showing of a slide. A slide that comes round again
// in the loop gets a new entry each time.
type PlaybackEntry struct {
	ID         int    `db:"id"`
	SlideID    string `db:"slide_id"`
	Position   int    `db:"position"`
	Total      int    `db:"total"`
	DurationMs int64  `db:"duration_ms"`
	Status     Status `db:"status"`
	IsActive   bool   `db:"is_active"`
	StartedAt  int64  `db:"started_at"`
	UpdatedAt  int64  `db:"updated_at"`
}

// SlideItem stores metadata about each distinct slide that has been shown.
type SlideItem struct {
	ID              string                  `db:"id"`
	Name            string                  `db:"name"`
	Kind            string                  `db:"kind"`
	Reference       string                  `db:"reference"`
	Title           string                  `db:"title"`
	DominantColours models.SerializedColors `db:"dominant_colours"`
}

// FullPlaybackEntry is a PlaybackEntry with its slide metadata attached.
type FullPlaybackEntry struct {
	ID              string                  `db:"id" json:"id"`
	Name            string                  `db:"name" json:"name"`
	Kind            string                  `db:"kind" json:"kind"`
	Reference       string                  `db:"reference" json:"reference"`
	Title           string                  `db:"title" json:"title,omitempty"`
	DominantColours models.SerializedColors `db:"dominant_colours" json:"dominant_colours"`

	PlaybackID int    `db:"playback_id" json:"-"`
	Position   int    `db:"position" json:"index"`
	Total      int    `db:"total" json:"total"`
	DurationMs int64  `db:"duration_ms" json:"duration_ms"`
	Status     Status `db:"status" json:"status"`
	IsActive   bool   `db:"is_active" json:"is_active"`
	StartedAt  int64  `db:"started_at" json:"started_at"`
	UpdatedAt  int64  `db:"updated_at" json:"updated_at"`
}

type Update struct {
	Slide     SlideItem
	Position  int
	Total     int
	Duration  time.Duration
	StartedAt time.Time
	Status    Status
}

// UpdateFromNowPlaying converts what the engine reports into a history update.
func UpdateFromNowPlaying(np models.NowPlaying) Update {
	return Update{
		Slide: SlideItem{
			Name:            np.Name,
			Kind:            string(np.Kind),
			Reference:       np.Reference,
			Title:           np.Title,
			DominantColours: np.DominantColours,
		},
		Position:  np.Index,
		Total:     np.Total,
		Duration:  time.Duration(np.DurationMs) * time.Millisecond,
		StartedAt: time.UnixMilli(np.StartedAt),
		Status:    StatusPlaying,
	}
}

func GenerateSlideID(u *Update) string {
	hashString := fmt.Sprintf("%s-%s-%s",
		u.Slide.Name,
		u.Slide.Kind,
		u.Slide.Reference,
	)
	return fmt.Sprintf("%s:%d", u.Slide.Kind, xxhash.Sum64String(hashString))
}
