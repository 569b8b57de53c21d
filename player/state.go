package player

type State int32

const (
	StateConnecting State = iota
	StateNoContent
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateNoContent:
		return "no_content"
	case StatePlaying:
		return "playing"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reason explains why there is nothing to play.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonNotConfigured Reason = "not_configured"
	ReasonEmpty         Reason = "empty"
	ReasonUnavailable   Reason = "unavailable"
)

// StateListener hears about every state change. It runs on the playback
// goroutine and must not block.
type StateListener func(from, to State, reason Reason)
