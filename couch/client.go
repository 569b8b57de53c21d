// Package couch talks to the CouchDB-style content store: playlist
// documents, their binary attachments, the continuous changes feed and the
// per-device status document.
package couch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"

	"github.com/marcus-crane/billboard/models"
	"github.com/marcus-crane/billboard/utils"
)

type Client struct {
	BaseURL  string
	Database string
	// HTTPClient is used for short requests and carries the request timeout.
	HTTPClient *http.Client
	// StreamClient has no overall timeout; the changes feed and large
	// downloads bound themselves.
	StreamClient *http.Client

	MaxRetries    uint64
	RetryInterval time.Duration

	DownloadTimeout time.Duration
	Heartbeat       time.Duration
	ReconnectDelay  time.Duration
}

func NewClient(baseURL, database string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:         strings.TrimRight(baseURL, "/"),
		Database:        database,
		HTTPClient:      utils.NewHTTPClient(timeout),
		StreamClient:    utils.NewHTTPClient(0),
		MaxRetries:      3,
		RetryInterval:   time.Second,
		DownloadTimeout: 120 * time.Second,
		Heartbeat:       30 * time.Second,
		ReconnectDelay:  10 * time.Second,
	}
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	header      http.Header
	retry       bool
}

type response struct {
	body   []byte
	header http.Header
}

func (c *Client) buildURL(query url.Values, segments ...string) string {
	escaped := make([]string, 0, len(segments)+1)
	escaped = append(escaped, url.PathEscape(c.Database))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	u := c.BaseURL + "/" + strings.Join(escaped, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) newBackOff(ctx context.Context, retry bool) backoff.BackOff {
	var b backoff.BackOff
	if retry {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = c.RetryInterval
		b = backoff.WithMaxRetries(exp, c.MaxRetries)
	} else {
		b = &backoff.StopBackOff{}
	}
	return backoff.WithContext(b, ctx)
}

func (c *Client) do(ctx context.Context, r request) (response, error) {
	var out response
	op := func() error {
		var body io.Reader
		if r.body != nil {
			body = bytes.NewReader(r.body)
		}
		req, err := http.NewRequestWithContext(ctx, r.method, r.path, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range r.header {
			req.Header[k] = v
		}
		if r.contentType != "" {
			req.Header.Set("Content-Type", r.contentType)
		}
		res, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer res.Body.Close()
		data, err := io.ReadAll(res.Body)
		if err != nil {
			return err
		}
		if res.StatusCode >= 300 {
			httpErr := &HTTPError{
				Method:     r.method,
				Path:       req.URL.Path,
				StatusCode: res.StatusCode,
				Body:       strings.TrimSpace(string(data)),
			}
			if httpErr.temporary() {
				return httpErr
			}
			return backoff.Permanent(httpErr)
		}
		out = response{body: data, header: res.Header}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("Retrying content store request",
			slog.String("method", r.method),
			slog.String("url", r.path),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	}
	err := backoff.RetryNotify(op, c.newBackOff(ctx, r.retry), notify)
	return out, err
}

func (c *Client) FetchDocument(ctx context.Context, id string) (*models.PlaylistDocument, error) {
	res, err := c.do(ctx, request{method: http.MethodGet, path: c.buildURL(nil, id), retry: true})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document %s: %w", id, err)
	}
	var doc models.PlaylistDocument
	if err := json.Unmarshal(res.body, &doc); err != nil {
		return nil, fmt.Errorf("%w: document %s: %v", ErrDecode, id, err)
	}
	return &doc, nil
}

func noCache() http.Header {
	return http.Header{
		"Cache-Control": []string{"no-cache"},
		"Pragma":        []string{"no-cache"},
	}
}

// FetchAttachment returns the full bytes of a named attachment, bypassing
// any intermediate caches.
func (c *Client) FetchAttachment(ctx context.Context, docID, name string) ([]byte, error) {
	res, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   c.buildURL(nil, docID, name),
		header: noCache(),
		retry:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attachment %s: %w", name, err)
	}
	slog.Debug("Fetched attachment",
		slog.String("name", name),
		slog.String("size", humanize.Bytes(uint64(len(res.body)))))
	return res.body, nil
}

// DownloadAttachment streams an attachment into w. It is used for videos,
// which are too large to hold in memory, and is not retried since a partial
// body may already have been written.
func (c *Client) DownloadAttachment(ctx context.Context, docID, name string, w io.Writer) (int64, error) {
	if c.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.DownloadTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(nil, docID, name), nil)
	if err != nil {
		return 0, err
	}
	req.Header = noCache()
	res, err := c.StreamClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download attachment %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return 0, &HTTPError{Method: http.MethodGet, Path: req.URL.Path, StatusCode: res.StatusCode, Body: string(body)}
	}
	n, err := io.Copy(w, res.Body)
	if err != nil {
		return n, fmt.Errorf("failed to download attachment %s: %w", name, err)
	}
	slog.Debug("Downloaded attachment", slog.String("name", name), slog.String("size", humanize.Bytes(uint64(n))))
	return n, nil
}

// Revision returns the current revision token of a document.
func (c *Client) Revision(ctx context.Context, id string) (string, error) {
	res, err := c.do(ctx, request{method: http.MethodHead, path: c.buildURL(nil, id), retry: true})
	if err != nil {
		return "", err
	}
	rev := strings.Trim(res.header.Get("ETag"), `"`)
	if rev == "" {
		return "", fmt.Errorf("%w: no revision for %s", ErrDecode, id)
	}
	return rev, nil
}

type writeResult struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

func decodeWrite(body []byte) (string, error) {
	var result writeResult
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return result.Rev, nil
}

// PutAttachment stores data under name on the document, replacing any
// existing attachment of that name. The revision is read immediately
// before the write; a conflict is returned, not retried.
func (c *Client) PutAttachment(ctx context.Context, docID, name, contentType string, data []byte) (string, error) {
	rev, err := c.Revision(ctx, docID)
	if err != nil {
		return "", fmt.Errorf("failed to read revision of %s: %w", docID, err)
	}
	res, err := c.do(ctx, request{
		method:      http.MethodPut,
		path:        c.buildURL(url.Values{"rev": []string{rev}}, docID, name),
		body:        data,
		contentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload attachment %s: %w", name, err)
	}
	return decodeWrite(res.body)
}

func (c *Client) DeleteAttachment(ctx context.Context, docID, name, rev string) (string, error) {
	res, err := c.do(ctx, request{
		method: http.MethodDelete,
		path:   c.buildURL(url.Values{"rev": []string{rev}}, docID, name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to delete attachment %s: %w", name, err)
	}
	return decodeWrite(res.body)
}

// PutStatus writes the device status document, carrying over the current
// revision when one exists. Conflicts are returned, not retried.
func (c *Client) PutStatus(ctx context.Context, status models.StatusDocument) error {
	rev, err := c.Revision(ctx, status.ID)
	switch {
	case err == nil:
		status.Rev = rev
	case isNotFound(err):
		status.Rev = ""
	default:
		return fmt.Errorf("failed to read status revision: %w", err)
	}
	body, err := json.Marshal(status)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, request{
		method:      http.MethodPut,
		path:        c.buildURL(nil, status.ID),
		body:        body,
		contentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}
	return nil
}
