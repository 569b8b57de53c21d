package couch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var errFeedClosed = errors.New("changes feed closed by server")

type change struct {
	Seq     json.RawMessage `json:"seq"`
	ID      string          `json:"id"`
	Deleted bool            `json:"deleted"`
	LastSeq json.RawMessage `json:"last_seq"`
}

func seqString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Watch follows the continuous changes feed for docID and calls onChange
// for every change to it. Dropped connections are retried after
// ReconnectDelay, resuming from the last sequence seen. Watch only returns
// once ctx is done.
func (c *Client) Watch(ctx context.Context, docID string, onChange func()) {
	since := "now"
	for {
		err := c.watchOnce(ctx, docID, &since, onChange)
		if ctx.Err() != nil {
			return
		}
		attrs := []any{slog.String("document", docID), slog.Duration("retry_in", c.ReconnectDelay)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		slog.Warn("Changes feed disconnected", attrs...)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.ReconnectDelay):
		}
	}
}

func (c *Client) watchOnce(ctx context.Context, docID string, since *string, onChange func()) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The server writes a newline every heartbeat, so silence for twice
	// that long means the connection is dead.
	idle := 2 * c.Heartbeat
	watchdog := time.AfterFunc(idle, cancel)
	defer watchdog.Stop()

	ids, _ := json.Marshal([]string{docID})
	query := url.Values{
		"feed":      []string{"continuous"},
		"heartbeat": []string{strconv.FormatInt(c.Heartbeat.Milliseconds(), 10)},
		"since":     []string{*since},
		"filter":    []string{"_doc_ids"},
		"doc_ids":   []string{string(ids)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(query, "_changes"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	res, err := c.StreamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open changes feed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return &HTTPError{Method: http.MethodGet, Path: req.URL.Path, StatusCode: res.StatusCode}
	}

	slog.Info("Listening for playlist changes", slog.String("document", docID), slog.String("since", *since))

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		watchdog.Reset(idle)
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ch change
		if err := json.Unmarshal(line, &ch); err != nil {
			slog.Warn("Ignoring malformed change line", slog.String("error", err.Error()))
			continue
		}
		if seq := seqString(ch.Seq); seq != "" {
			*since = seq
		}
		if seq := seqString(ch.LastSeq); seq != "" {
			*since = seq
			continue
		}
		if ch.ID == docID {
			slog.Info("Playlist changed", slog.String("document", docID), slog.Bool("deleted", ch.Deleted))
			onChange()
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errFeedClosed
}
