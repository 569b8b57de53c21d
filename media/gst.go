package media

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

var (
	gstInit     sync.Once
	framerateRe = regexp.MustCompile(`framerate=\(fraction\)(\d+)/(\d+)`)
)

// GstDecoder decodes a local video file through GStreamer, letting
// videoscale add black borders so every frame arrives at screen size.
type GstDecoder struct {
	path     string
	pipeline *gst.Pipeline
	sink     *app.Sink
	info     VideoInfo
	frame    *image.RGBA
}

// OpenGst satisfies OpenFunc.
func OpenGst(path string, width, height int) (Decoder, error) {
	gstInit.Do(func() { gst.Init(nil) })

	launch := fmt.Sprintf(
		`filesrc location="%s" ! decodebin ! videoconvert ! videoscale add-borders=true ! `+
			`video/x-raw,format=RGBA,width=%d,height=%d,pixel-aspect-ratio=1/1 ! `+
			`appsink name=sink sync=false max-buffers=2 drop=false`,
		strings.ReplaceAll(path, `"`, `\"`), width, height)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("failed to build video pipeline: %w", err)
	}
	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("failed to find appsink: %w", err)
	}
	d := &GstDecoder{
		path:     path,
		pipeline: pipeline,
		sink:     app.SinkFromElement(elem),
		info:     VideoInfo{Width: width, Height: height},
		frame:    image.NewRGBA(image.Rect(0, 0, width, height)),
	}

	if err := pipeline.SetState(gst.StatePaused); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to pause video pipeline: %w", err)
	}
	preroll := d.sink.PullPreroll()
	if preroll == nil {
		d.Close()
		return nil, fmt.Errorf("video %s could not be decoded", path)
	}
	if caps := preroll.GetCaps(); caps != nil {
		d.info.FPS = parseFramerate(caps.String())
	}
	if ok, duration := pipeline.QueryDuration(gst.FormatTime); ok && duration > 0 && d.info.FPS > 0 {
		d.info.FrameCount = int(float64(duration) / 1e9 * d.info.FPS)
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to start video pipeline: %w", err)
	}

	slog.Debug("Opened video",
		slog.String("path", path),
		slog.Float64("fps", d.info.FPS),
		slog.Int("frames", d.info.FrameCount))
	return d, nil
}

func parseFramerate(caps string) float64 {
	m := framerateRe.FindStringSubmatch(caps)
	if m == nil {
		return 0
	}
	num, _ := strconv.ParseFloat(m[1], 64)
	den, _ := strconv.ParseFloat(m[2], 64)
	if den == 0 {
		return 0
	}
	return num / den
}

func (d *GstDecoder) Info() VideoInfo {
	return d.info
}

// Next returns the next frame. The returned image is reused by the
// following call.
func (d *GstDecoder) Next() (*image.RGBA, error) {
	sample := d.sink.PullSample()
	if sample == nil {
		if d.sink.IsEOS() {
			return nil, io.EOF
		}
		return nil, errors.New("video pipeline stopped producing frames")
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, errors.New("video sample had no buffer")
	}
	mapInfo := buffer.Map(gst.MapRead)
	defer buffer.Unmap()
	data := mapInfo.Bytes()
	if len(data) < len(d.frame.Pix) {
		return nil, fmt.Errorf("short video frame: %d bytes", len(data))
	}
	copy(d.frame.Pix, data)
	return d.frame, nil
}

func (d *GstDecoder) Rewind() error {
	if !d.pipeline.SeekSimple(0, gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagKeyUnit) {
		return fmt.Errorf("failed to rewind %s", d.path)
	}
	return nil
}

func (d *GstDecoder) Close() error {
	if d.pipeline == nil {
		return nil
	}
	err := d.pipeline.SetState(gst.StateNull)
	d.pipeline = nil
	return err
}
