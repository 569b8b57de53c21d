package playback

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus-crane/billboard/db"
	"github.com/marcus-crane/billboard/migrations"
	"github.com/marcus-crane/billboard/models"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	database, err := db.OpenAndMigrate(":memory:", migrations.GetMigrations())
	require.NoError(t, err)
	return database
}

type recorder struct {
	mu     sync.Mutex
	events []any
}

func (r *recorder) Publish(v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, v)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestSystem(t *testing.T) (*PlaybackSystem, *sqlx.DB, *recorder) {
	database := setupTestDB(t)
	t.Cleanup(func() { database.Close() })
	rec := &recorder{}
	ps := NewPlaybackSystem(database, rec)
	clk := &fakeClock{t: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
	ps.now = clk.Now
	return ps, database, rec
}

func imageUpdate(name string, position int) Update {
	return Update{
		Slide: SlideItem{
			Name:            name,
			Kind:            string(models.KindImage),
			Reference:       name + ".png",
			DominantColours: models.SerializedColors{"#abc123", "#bcd234"},
		},
		Position: position,
		Total:    3,
		Duration: 10 * time.Second,
		Status:   StatusPlaying,
	}
}

func TestPlaybackSystem_UpdatePlaybackState(t *testing.T) {
	ps, database, rec := newTestSystem(t)

	assert.Len(t, ps.State, 0)

	// 1. Persisting a new slide + playback entry
	update := imageUpdate("welcome", 0)
	firstID := GenerateSlideID(&update)
	require.NoError(t, ps.UpdatePlaybackState(update))

	var slide SlideItem
	require.NoError(t, database.Get(&slide, "SELECT * FROM slides WHERE id = ?", firstID))
	assert.Equal(t, "welcome", slide.Name)
	assert.Equal(t, "image", slide.Kind)
	assert.Equal(t, "welcome.png", slide.Reference)
	assert.Equal(t, models.SerializedColors{"#abc123", "#bcd234"}, slide.DominantColours)

	var entry PlaybackEntry
	require.NoError(t, database.Get(&entry, "SELECT * FROM playback_entries WHERE slide_id = ?", firstID))
	assert.Equal(t, int64(10000), entry.DurationMs)
	assert.Equal(t, StatusPlaying, entry.Status)
	assert.True(t, entry.IsActive)

	require.Len(t, ps.State, 1)
	assert.Equal(t, "welcome", ps.State[0].Name)
	assert.Len(t, rec.events, 1)

	// 2. The next slide deactivates the first
	update2 := imageUpdate("menu", 1)
	secondID := GenerateSlideID(&update2)
	require.NoError(t, ps.UpdatePlaybackState(update2))

	require.NoError(t, database.Get(&entry, "SELECT * FROM playback_entries WHERE slide_id = ?", firstID))
	assert.False(t, entry.IsActive)
	assert.Equal(t, StatusStopped, entry.Status)

	require.NoError(t, database.Get(&entry, "SELECT * FROM playback_entries WHERE slide_id = ?", secondID))
	assert.True(t, entry.IsActive)

	require.Len(t, ps.State, 1)
	assert.Equal(t, "menu", ps.State[0].Name)

	// 3. Showing the first slide again reuses its metadata row
	require.NoError(t, ps.UpdatePlaybackState(update))
	var slides int
	require.NoError(t, database.Get(&slides, "SELECT COUNT(*) FROM slides"))
	assert.Equal(t, 2, slides)
	var entries int
	require.NoError(t, database.Get(&entries, "SELECT COUNT(*) FROM playback_entries"))
	assert.Equal(t, 3, entries)
}

func TestPlaybackSystem_WebsiteTitleIsRefreshed(t *testing.T) {
	ps, _, _ := newTestSystem(t)
	update := Update{Slide: SlideItem{Name: "news", Kind: "website", Reference: "https://news.example", Title: "Old"}}
	require.NoError(t, ps.UpdatePlaybackState(update))
	update.Slide.Title = "New"
	require.NoError(t, ps.UpdatePlaybackState(update))

	active, err := ps.GetActivePlayback()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "New", active[0].Title)
	assert.Equal(t, models.SerializedColors{}, active[0].DominantColours)
}

func TestPlaybackUpdate_GenerateSlideID(t *testing.T) {
	a := imageUpdate("welcome", 0)
	b := imageUpdate("welcome", 2)
	c := imageUpdate("menu", 0)
	assert.Equal(t, GenerateSlideID(&a), GenerateSlideID(&b))
	assert.NotEqual(t, GenerateSlideID(&a), GenerateSlideID(&c))
	assert.Regexp(t, `^image:\d+$`, GenerateSlideID(&a))
}

func TestPlaybackSystem_StopAll(t *testing.T) {
	ps, _, rec := newTestSystem(t)
	require.NoError(t, ps.UpdatePlaybackState(imageUpdate("welcome", 0)))

	require.NoError(t, ps.StopAll())
	assert.Len(t, ps.State, 0)
	assert.Len(t, rec.events, 2)

	// nothing active, nothing broadcast
	require.NoError(t, ps.StopAll())
	assert.Len(t, rec.events, 2)
}

func TestPlaybackSystem_GetHistory(t *testing.T) {
	ps, _, _ := newTestSystem(t)

	_, err := ps.GetHistory(0)
	assert.Error(t, err)

	for i, name := range []string{"one", "two", "three"} {
		require.NoError(t, ps.UpdatePlaybackState(imageUpdate(name, i)))
	}

	history, err := ps.GetHistory(5)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "two", history[0].Name)
	assert.Equal(t, "one", history[1].Name)
	assert.False(t, history[0].IsActive)

	history, err = ps.GetHistory(1)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPlaybackSystem_Record(t *testing.T) {
	ps, _, _ := newTestSystem(t)
	started := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	require.NoError(t, ps.Record(models.NowPlaying{
		SlideID:    "clip",
		Name:       "clip",
		Kind:       models.KindVideo,
		Reference:  "clip.mp4",
		Index:      2,
		Total:      4,
		DurationMs: 30000,
		StartedAt:  started.UnixMilli(),
	}))

	current := ps.Current()
	require.Len(t, current, 1)
	assert.Equal(t, "video", current[0].Kind)
	assert.Equal(t, 2, current[0].Position)
	assert.Equal(t, 4, current[0].Total)
	assert.Equal(t, started.UnixMilli(), current[0].StartedAt)
}

func TestPlaybackSystem_Prune(t *testing.T) {
	ps, _, _ := newTestSystem(t)
	require.NoError(t, ps.UpdatePlaybackState(imageUpdate("one", 0)))
	require.NoError(t, ps.UpdatePlaybackState(imageUpdate("two", 1)))

	n, err := ps.Prune(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err := ps.GetActivePlayback()
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestPlaybackSystem_FailedTransactionLeavesStateAlone(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	rec := &recorder{}
	ps := NewPlaybackSystem(sqlx.NewDb(mockDB, "sqlmock"), rec)

	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))
	err = ps.UpdatePlaybackState(imageUpdate("welcome", 0))
	assert.EqualError(t, err, "database is locked")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE playback_entries").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()
	err = ps.UpdatePlaybackState(imageUpdate("welcome", 0))
	assert.ErrorContains(t, err, "failed to deactivate old entry")

	assert.Len(t, ps.State, 0)
	assert.Empty(t, rec.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}
