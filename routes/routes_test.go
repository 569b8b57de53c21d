package routes

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus-crane/billboard/display"
	"github.com/marcus-crane/billboard/events"
	"github.com/marcus-crane/billboard/media"
	"github.com/marcus-crane/billboard/models"
	"github.com/marcus-crane/billboard/playback"
	"github.com/marcus-crane/billboard/player"
)

type fakePlayer struct {
	state   player.State
	reason  player.Reason
	playing models.NowPlaying
}

func (f *fakePlayer) State() (player.State, player.Reason) { return f.state, f.reason }

func (f *fakePlayer) NowPlaying() (models.NowPlaying, bool) {
	return f.playing, f.state == player.StatePlaying
}

type fakeHistory struct {
	entries []playback.FullPlaybackEntry
	err     error
	limit   int
}

func (f *fakeHistory) GetHistory(limit int) ([]playback.FullPlaybackEntry, error) {
	f.limit = limit
	return f.entries, f.err
}

func sign(t *testing.T, body, secret string) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newTestServer(t *testing.T, s *Server) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(Register(http.NewServeMux(), s))
	t.Cleanup(srv.Close)
	return srv
}

func TestPlaying(t *testing.T) {
	fp := &fakePlayer{
		state: player.StatePlaying,
		playing: models.NowPlaying{
			SlideID: "lobby",
			Name:    "lobby",
			Kind:    models.KindImage,
			Index:   1,
			Total:   3,
		},
	}
	srv := newTestServer(t, &Server{Player: fp, Options: Options{DeviceID: "tv-1"}})

	res, err := http.Get(srv.URL + "/api/v1/playing")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

	var got struct {
		DeviceID string             `json:"device_id"`
		State    string             `json:"state"`
		Playing  *models.NowPlaying `json:"playing"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, "tv-1", got.DeviceID)
	assert.Equal(t, "playing", got.State)
	require.NotNil(t, got.Playing)
	if diff := cmp.Diff(fp.playing, *got.Playing); diff != "" {
		t.Errorf("playing mismatch (-want +got):\n%s", diff)
	}
}

func TestPlaying_NoContent(t *testing.T) {
	fp := &fakePlayer{state: player.StateNoContent, reason: player.ReasonNotConfigured}
	srv := newTestServer(t, &Server{Player: fp})

	res, err := http.Get(srv.URL + "/api/v1/playing")
	require.NoError(t, err)
	defer res.Body.Close()

	var got map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, "no_content", got["state"])
	assert.Equal(t, "not_configured", got["reason"])
	assert.Nil(t, got["playing"])
}

func TestHistory(t *testing.T) {
	history := &fakeHistory{entries: []playback.FullPlaybackEntry{
		{ID: "image:1", Name: "lobby", Kind: "image"},
	}}
	srv := newTestServer(t, &Server{History: history})

	res, err := http.Get(srv.URL + "/api/v1/history?limit=3")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 3, history.limit)

	var got []map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "lobby", got[0]["name"])
}

func TestHistory_Limits(t *testing.T) {
	history := &fakeHistory{}
	srv := newTestServer(t, &Server{History: history})

	res, err := http.Get(srv.URL + "/api/v1/history")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, defaultHistoryLimit, history.limit)

	res, err = http.Get(srv.URL + "/api/v1/history?limit=5000")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, maxHistoryLimit, history.limit)

	res, err = http.Get(srv.URL + "/api/v1/history?limit=nope")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestHistory_EmptyAndFailing(t *testing.T) {
	history := &fakeHistory{}
	srv := newTestServer(t, &Server{History: history})

	res, err := http.Get(srv.URL + "/api/v1/history")
	require.NoError(t, err)
	var got []any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	res.Body.Close()
	assert.NotNil(t, got)
	assert.Empty(t, got)

	history.err = errors.New("database is locked")
	res, err = http.Get(srv.URL + "/api/v1/history")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
}

func TestPreview(t *testing.T) {
	preview := display.NewPreview(32, time.Second)
	srv := newTestServer(t, &Server{Preview: preview})

	res, err := http.Get(srv.URL + "/api/v1/preview.jpeg")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	require.NoError(t, preview.Write(media.NewCanvas(64, 36)))
	res, err = http.Get(srv.URL + "/api/v1/preview.jpeg")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "image/jpeg", res.Header.Get("Content-Type"))
	img, err := jpeg.Decode(res.Body)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 18, img.Bounds().Dy())
}

func TestRefetch(t *testing.T) {
	flag := &events.Flag{}
	srv := newTestServer(t, &Server{Refetch: flag, Options: Options{WebhookSecret: "hunter2"}})
	body := `{"reason":"playlist edited"}`

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/refetch", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(SignatureHeader, sign(t, body, "hunter2"))
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()

	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.True(t, flag.TestAndClear())
}

func TestRefetch_Rejected(t *testing.T) {
	flag := &events.Flag{}
	srv := newTestServer(t, &Server{Refetch: flag, Options: Options{WebhookSecret: "hunter2"}})
	body := `{}`

	tests := []struct {
		name      string
		signature string
		want      int
	}{
		{"missing signature", "", http.StatusUnauthorized},
		{"wrong secret", sign(t, body, "letmein"), http.StatusUnauthorized},
		{"garbage", "sha256=zz", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/refetch", strings.NewReader(body))
			require.NoError(t, err)
			if tt.signature != "" {
				req.Header.Set(SignatureHeader, tt.signature)
			}
			res, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			res.Body.Close()
			assert.Equal(t, tt.want, res.StatusCode)
			assert.False(t, flag.TestAndClear())
		})
	}
}

func TestRefetch_NotConfigured(t *testing.T) {
	srv := newTestServer(t, &Server{Refetch: &events.Flag{}})
	res, err := http.Post(srv.URL+"/api/v1/refetch", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestRefetch_GetNotAllowed(t *testing.T) {
	srv := newTestServer(t, &Server{Refetch: &events.Flag{}, Options: Options{WebhookSecret: "hunter2"}})
	res, err := http.Get(srv.URL + "/api/v1/refetch")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestBannerAndCORS(t *testing.T) {
	srv := newTestServer(t, &Server{Options: Options{
		DeviceID:       "tv-1",
		AllowedOrigins: []string{"http://localhost:8080"},
	}})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:8080")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "http://localhost:8080", res.Header.Get("Access-Control-Allow-Origin"))

	res2, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	res2.Body.Close()
	assert.Equal(t, http.StatusNotFound, res2.StatusCode)
}
