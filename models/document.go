package models

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

type AttachmentInfo struct {
	ContentType string `json:"content_type"`
	Length      int64  `json:"length"`
	Digest      string `json:"digest"`
	Stub        bool   `json:"stub"`
}

// PlaylistDocument is the per-device document listing slides in play order.
// Slides that fail to decode are dropped individually and counted in Skipped.
type PlaylistDocument struct {
	ID          string                    `json:"_id"`
	Rev         string                    `json:"_rev"`
	Slides      []SlideDefinition         `json:"-"`
	Attachments map[string]AttachmentInfo `json:"_attachments,omitempty"`
	Skipped     int                       `json:"-"`
}

func (d *PlaylistDocument) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          string                    `json:"_id"`
		Rev         string                    `json:"_rev"`
		Slides      []json.RawMessage         `json:"slides"`
		Attachments map[string]AttachmentInfo `json:"_attachments"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.ID = raw.ID
	d.Rev = raw.Rev
	d.Attachments = raw.Attachments
	d.Slides = make([]SlideDefinition, 0, len(raw.Slides))
	d.Skipped = 0
	for i, rs := range raw.Slides {
		var s SlideDefinition
		if err := json.Unmarshal(rs, &s); err != nil {
			slog.Warn("Dropping malformed slide",
				slog.String("document", raw.ID),
				slog.Int("index", i),
				slog.String("error", err.Error()))
			d.Skipped++
			continue
		}
		d.Slides = append(d.Slides, s)
	}
	return nil
}

// AttachmentNames returns the names of every attachment on the document.
func (d *PlaylistDocument) AttachmentNames() []string {
	names := make([]string, 0, len(d.Attachments))
	for name := range d.Attachments {
		names = append(names, name)
	}
	return names
}

// StatusDocument reports what a device is currently showing.
type StatusDocument struct {
	ID                   string           `json:"_id"`
	Rev                  string           `json:"_rev,omitempty"`
	Type                 string           `json:"type"`
	DeviceID             string           `json:"device_id"`
	CurrentSlideID       string           `json:"current_slide_id"`
	CurrentSlideFilename string           `json:"current_slide_filename"`
	Timestamp            string           `json:"timestamp"`
	DominantColours      SerializedColors `json:"dominant_colours,omitempty"`
}

const StatusType = "tv_status"

func StatusDocumentID(deviceID string) string {
	return fmt.Sprintf("status_%s", deviceID)
}
