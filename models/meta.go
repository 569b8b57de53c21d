package models

import (
	"database/sql/driver"
	"errors"
	"strings"
)

// SerializedColors is a custom DB extension type that stores
// a string slice as a comma separate value in the database
// Example input: []string{"#020304", "#6581be"}
// Example DB value: #020304,#6581be
type SerializedColors []string

func (s SerializedColors) Value() (driver.Value, error) {
	return strings.Join(s, ","), nil
}

func (s *SerializedColors) Scan(src interface{}) error {
	var source string
	switch v := src.(type) {
	case string:
		source = v
	case []byte:
		source = string(v)
	case nil:
		*s = SerializedColors{}
		return nil
	default:
		return errors.New("incompatible type for SerializedColors")
	}
	if source == "" {
		*s = SerializedColors{}
		return nil
	}
	*s = SerializedColors(strings.Split(source, ","))
	return nil
}

// NowPlaying is the latest slide shown by the player, shared with the
// status API, the event stream and the history store.
type NowPlaying struct {
	SlideID         string           `json:"slide_id"`
	Name            string           `json:"name"`
	Kind            ContentKind      `json:"kind"`
	Reference       string           `json:"reference"`
	Filename        string           `json:"filename"`
	Title           string           `json:"title,omitempty"`
	Index           int              `json:"index"`
	Total           int              `json:"total"`
	DurationMs      int64            `json:"duration_ms"`
	StartedAt       int64            `json:"started_at"`
	DominantColours SerializedColors `json:"dominant_colours"`
}
