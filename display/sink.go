// Package display puts composed frames somewhere a person can see them.
package display

import (
	"errors"
	"image"
)

// Sink accepts full-screen frames. Write must not keep frame after it
// returns; the engine reuses the buffer for the next frame.
type Sink interface {
	Write(frame *image.RGBA) error
}

type Multi []Sink

func (m Multi) Write(frame *image.RGBA) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every frame.
type Discard struct{}

func (Discard) Write(*image.RGBA) error { return nil }
