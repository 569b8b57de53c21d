package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

type ContentKind string

const (
	KindImage   ContentKind = "image"
	KindVideo   ContentKind = "video"
	KindWebsite ContentKind = "website"
)

// Content is one of ImageContent, VideoContent or WebsiteContent.
type Content interface {
	Kind() ContentKind
	// Reference is the attachment name for media slides and the URL for websites.
	Reference() string
}

type ImageContent struct {
	Attachment string
}

func (c ImageContent) Kind() ContentKind { return KindImage }
func (c ImageContent) Reference() string { return c.Attachment }

type VideoContent struct {
	Attachment string
}

func (c VideoContent) Kind() ContentKind { return KindVideo }
func (c VideoContent) Reference() string { return c.Attachment }

type WebsiteContent struct {
	URL string
}

func (c WebsiteContent) Kind() ContentKind { return KindWebsite }
func (c WebsiteContent) Reference() string { return c.URL }

type TextOverlay struct {
	Text            string `json:"text"`
	Size            string `json:"size"`
	Color           string `json:"color"`
	BackgroundColor string `json:"bg_color"`
	Position        string `json:"position"`
	Scroll          bool   `json:"scroll"`
}

// SlideDefinition is a single entry of a playlist document. Duration and
// transition are kept as authored; clamping happens during processing.
type SlideDefinition struct {
	Name            string
	Type            string
	Content         Content
	DurationSeconds float64
	TransitionMs    *int
	Overlays        []TextOverlay
}

type rawSlide struct {
	Name             string        `json:"name"`
	Type             string        `json:"type"`
	Filename         string        `json:"filename"`
	URL              string        `json:"url"`
	DurationSeconds  json.RawMessage `json:"duration_seconds"`
	Duration         json.RawMessage `json:"duration"`
	TransitionMs     json.RawMessage `json:"transition_ms"`
	TransitionTimeMs json.RawMessage `json:"transition_time_ms"`
	Text             string        `json:"text"`
	TextSize         string        `json:"text_size"`
	TextColor        string        `json:"text_color"`
	TextBackground   string        `json:"text_background_color"`
	TextPosition     string        `json:"text_position"`
	ScrollText       bool          `json:"scroll_text"`
	TextOverlays     []TextOverlay `json:"text_overlays"`
}

func (s *SlideDefinition) UnmarshalJSON(data []byte) error {
	var raw rawSlide
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Name = raw.Name
	s.Type = strings.ToLower(strings.TrimSpace(raw.Type))
	if s.Type == "" {
		s.Type = string(KindImage)
	}

	attachment := raw.Filename
	if attachment == "" {
		attachment = raw.Name
	}

	switch s.Type {
	case "image", "picture":
		s.Content = ImageContent{Attachment: attachment}
	case "video":
		s.Content = VideoContent{Attachment: attachment}
	case "website":
		s.Content = WebsiteContent{URL: raw.URL}
	default:
		s.Content = nil
	}

	s.DurationSeconds = 0
	if v, ok := number(raw.DurationSeconds); ok {
		s.DurationSeconds = v
	} else if v, ok := number(raw.Duration); ok {
		s.DurationSeconds = v
	}

	s.TransitionMs = nil
	if v, ok := number(raw.TransitionMs); ok {
		ms := int(math.Round(v))
		s.TransitionMs = &ms
	} else if v, ok := number(raw.TransitionTimeMs); ok {
		ms := int(math.Round(v))
		s.TransitionMs = &ms
	}

	s.Overlays = nil
	if strings.TrimSpace(raw.Text) != "" {
		s.Overlays = append(s.Overlays, TextOverlay{
			Text:            raw.Text,
			Size:            raw.TextSize,
			Color:           raw.TextColor,
			BackgroundColor: raw.TextBackground,
			Position:        raw.TextPosition,
			Scroll:          raw.ScrollText,
		})
	}
	for _, o := range raw.TextOverlays {
		if strings.TrimSpace(o.Text) == "" {
			continue
		}
		s.Overlays = append(s.Overlays, o)
	}
	return nil
}

// number reads a JSON number or a numeric string. Anything else counts
// as absent, so the caller falls back to its default.
func number(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, false
		}
		if f, err = strconv.ParseFloat(strings.TrimSpace(str), 64); err != nil {
			return 0, false
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
