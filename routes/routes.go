package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	hmacext "github.com/alexellis/hmac/v2"
	"github.com/rs/cors"

	"github.com/marcus-crane/billboard/display"
	"github.com/marcus-crane/billboard/events"
	"github.com/marcus-crane/billboard/models"
	"github.com/marcus-crane/billboard/playback"
	"github.com/marcus-crane/billboard/player"
)

const (
	SignatureHeader     = "X-Billboard-Signature"
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
	maxBodyBytes        = 64 << 10
)

type Player interface {
	State() (player.State, player.Reason)
	NowPlaying() (models.NowPlaying, bool)
}

type History interface {
	GetHistory(limit int) ([]playback.FullPlaybackEntry, error)
}

type Preview interface {
	JPEG(w io.Writer) error
}

type Options struct {
	DeviceID       string
	WebhookSecret  string
	AllowedOrigins []string
}

// Server holds everything the status API reads from. Any of the
// dependencies may be nil, in which case their endpoints report that
// they are unavailable.
type Server struct {
	Player  Player
	History History
	Preview Preview
	Refetch *events.Flag
	Events  http.Handler
	Options Options
}

type playingResponse struct {
	DeviceID string             `json:"device_id"`
	State    player.State       `json:"state"`
	Reason   player.Reason      `json:"reason,omitempty"`
	Playing  *models.NowPlaying `json:"playing"`
}

func renderJSONMessage(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	res := map[string]string{"message": message}
	json.NewEncoder(w).Encode(res)
}

func renderJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func Register(mux *http.ServeMux, s *Server) http.Handler {
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "Billboard player %s is running.\nSee <a href=\"/api/v1/playing\">/api/v1/playing</a> for what is on screen.\n", s.Options.DeviceID)
	})

	mux.HandleFunc("GET /api/v1", func(w http.ResponseWriter, r *http.Request) {
		renderJSONMessage(w, "This is the v1 endpoint of the Billboard status API")
	})

	mux.HandleFunc("GET /api/v1/playing", s.playing)
	mux.HandleFunc("GET /api/v1/history", s.history)
	mux.HandleFunc("GET /api/v1/preview.jpeg", s.preview)
	mux.HandleFunc("POST /api/v1/refetch", s.refetch)

	if s.Events != nil {
		mux.Handle("GET /events", s.Events)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.Options.AllowedOrigins,
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept"},
	})

	return c.Handler(mux)
}

func (s *Server) playing(w http.ResponseWriter, r *http.Request) {
	if s.Player == nil {
		renderJSONError(w, http.StatusServiceUnavailable, "player is not running")
		return
	}
	state, reason := s.Player.State()
	res := playingResponse{DeviceID: s.Options.DeviceID, State: state, Reason: reason}
	if np, ok := s.Player.NowPlaying(); ok {
		res.Playing = &np
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		renderJSONError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			renderJSONError(w, http.StatusBadRequest, "limit must be a positive number")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	results, err := s.History.GetHistory(limit)
	if err != nil {
		slog.Error("Failed to read playback history", slog.String("error", err.Error()))
		renderJSONError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if results == nil {
		results = []playback.FullPlaybackEntry{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	if s.Preview == nil {
		renderJSONError(w, http.StatusServiceUnavailable, "preview is disabled")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.Preview.JPEG(w); err != nil {
		w.Header().Del("Cache-Control")
		if errors.Is(err, display.ErrNoFrame) {
			renderJSONError(w, http.StatusNotFound, "nothing has been drawn yet")
			return
		}
		slog.Error("Failed to encode preview", slog.String("error", err.Error()))
		renderJSONError(w, http.StatusInternalServerError, "failed to encode preview")
	}
}

// refetch is a manual nudge for when the change feed is down. Requests
// must be signed with the shared webhook secret.
func (s *Server) refetch(w http.ResponseWriter, r *http.Request) {
	if s.Options.WebhookSecret == "" || s.Refetch == nil {
		renderJSONError(w, http.StatusNotFound, "this endpoint is not configured")
		return
	}
	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		renderJSONError(w, http.StatusUnauthorized, "no signature was provided")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		renderJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if err := hmacext.Validate(body, signature, s.Options.WebhookSecret); err != nil {
		slog.Warn("Rejected refetch request", slog.String("error", err.Error()))
		renderJSONError(w, http.StatusUnauthorized, "signature failed validation")
		return
	}
	s.Refetch.Set()
	slog.Info("Manual refetch requested", slog.String("remote", r.RemoteAddr))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"message": "Refetch scheduled"})
}
