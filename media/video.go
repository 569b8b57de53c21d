package media

import (
	"image"
	"time"
)

type VideoInfo struct {
	FPS        float64
	Width      int
	Height     int
	FrameCount int
}

// FrameInterval is the native presentation interval; 30fps when the stream
// does not say.
func (v VideoInfo) FrameInterval() time.Duration {
	if v.FPS <= 0 {
		return time.Second / 30
	}
	return time.Duration(float64(time.Second) / v.FPS)
}

// Decoder yields frames already letterboxed to the screen size. Next
// returns io.EOF at the end of the stream; Rewind starts it again.
type Decoder interface {
	Info() VideoInfo
	Next() (*image.RGBA, error)
	Rewind() error
	Close() error
}

// OpenFunc opens path for decoding at the given output size.
type OpenFunc func(path string, width, height int) (Decoder, error)
