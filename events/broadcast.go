package events

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/r3labs/sse/v2"
)

const PlaybackStream = "playback"

type Broadcaster struct {
	server *sse.Server
}

func NewBroadcaster() *Broadcaster {
	server := sse.New()
	server.AutoReplay = false
	server.CreateStream(PlaybackStream)
	return &Broadcaster{server: server}
}

func (b *Broadcaster) Publish(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to encode event", slog.String("error", err.Error()))
		return
	}
	b.server.Publish(PlaybackStream, &sse.Event{Data: data})
}

func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.server.ServeHTTP(w, r)
}

func (b *Broadcaster) Close() {
	b.server.Close()
}
