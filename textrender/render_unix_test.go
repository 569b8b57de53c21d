//go:build unix

package textrender

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/basicfont"
)

func TestRender_HitDoesNotWaitForSlowMiss(t *testing.T) {
	fifo := filepath.Join(t.TempDir(), "slow.ttf")
	require.NoError(t, syscall.Mkfifo(fifo, 0o600))

	r := New([]string{fifo}, 10)
	r.faces[SizePoints("small")] = basicfont.Face7x13
	cached, err := r.Render("cached", Style{Size: "small"}, 0)
	require.NoError(t, err)

	// loading the xlarge face blocks until something writes to the fifo
	missDone := make(chan struct{})
	go func() {
		defer close(missDone)
		r.Render("uncached", Style{Size: "xlarge"}, 0)
	}()
	time.Sleep(50 * time.Millisecond)

	hit := make(chan Surface, 1)
	go func() {
		s, _ := r.Render("cached", Style{Size: "small"}, 0)
		hit <- s
	}()
	select {
	case s := <-hit:
		assert.Same(t, cached.Image, s.Image)
	case <-time.After(time.Second):
		t.Error("cache hit waited on an unrelated render")
	}

	w, err := os.OpenFile(fifo, os.O_WRONLY, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	select {
	case <-missDone:
	case <-time.After(5 * time.Second):
		t.Fatal("slow render never finished")
	}
	assert.Equal(t, 2, r.Len())
}
