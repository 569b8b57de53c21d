// Package resources tracks things that must be released exactly once:
// temporary video files and open decoders. Every handle is also known to a
// Registry so that a shutdown path can release whatever is still live.
package resources

import (
	"errors"
	"log/slog"
	"sync"
)

type Registry struct {
	mu   sync.Mutex
	next uint64
	live map[uint64]*Handle
}

func NewRegistry() *Registry {
	return &Registry{live: map[uint64]*Handle{}}
}

type Handle struct {
	id       uint64
	name     string
	release  func() error
	once     sync.Once
	err      error
	registry *Registry
}

// Register tracks release under name and returns the handle owning it.
func (r *Registry) Register(name string, release func() error) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	h := &Handle{id: r.next, name: name, release: release, registry: r}
	r.live[h.id] = h
	return h
}

func (r *Registry) forget(id uint64) {
	r.mu.Lock()
	delete(r.live, id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// ReleaseAll releases every handle that has not been released yet.
func (r *Registry) ReleaseAll() error {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.live))
	for _, h := range r.live {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := h.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(handles) > 0 {
		slog.Info("Released outstanding resources", slog.Int("count", len(handles)))
	}
	return errors.Join(errs...)
}

// Release runs the release function the first time it is called. Later
// calls return the first result without doing anything.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		if h.release != nil {
			h.err = h.release()
		}
		if h.registry != nil {
			h.registry.forget(h.id)
		}
		if h.err != nil {
			slog.Warn("Failed to release resource",
				slog.String("resource", h.name),
				slog.String("error", h.err.Error()))
		}
	})
	return h.err
}
