package website

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"

	"github.com/marcus-crane/billboard/media"
)

// ChromeCapturer screenshots pages with a fresh headless Chrome per
// capture. The browser is always torn down before Capture returns.
type ChromeCapturer struct {
	Width        int
	Height       int
	LoadTimeout  time.Duration
	ReadyTimeout time.Duration
	ExecPath     string
}

func (c *ChromeCapturer) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(c.Width, c.Height),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
	)
	if c.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.ExecPath))
	}
	return opts
}

func (c *ChromeCapturer) Capture(ctx context.Context, url string) (image.Image, string, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, c.allocatorOptions()...)
	defer cancelAlloc()

	taskCtx, cancelTask := chromedp.NewContext(allocCtx, chromedp.WithLogf(log.Printf), chromedp.WithErrorf(log.Printf))
	defer cancelTask()

	// Start the browser on a context without a deadline so the page load
	// timeout below does not take the browser down with it.
	if err := chromedp.Run(taskCtx); err != nil {
		return nil, "", fmt.Errorf("failed to start browser: %w", err)
	}

	slog.With(slog.String("url", url)).Info("Capturing website")

	loadCtx, cancelLoad := context.WithTimeout(taskCtx, c.LoadTimeout)
	defer cancelLoad()
	err := chromedp.Run(loadCtx,
		chromedp.EmulateViewport(int64(c.Width), int64(c.Height)),
		chromedp.Navigate(url),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load %s: %w", url, err)
	}

	readyCtx, cancelReady := context.WithTimeout(taskCtx, c.ReadyTimeout)
	var ready bool
	err = chromedp.Run(readyCtx, chromedp.Poll(`document.readyState === "complete"`, &ready,
		chromedp.WithPollingInterval(250*time.Millisecond)))
	cancelReady()
	if err != nil {
		slog.Warn("Page did not report ready, capturing anyway",
			slog.String("url", url),
			slog.String("error", err.Error()))
	}

	var shot []byte
	var html string
	shotCtx, cancelShot := context.WithTimeout(taskCtx, c.LoadTimeout)
	defer cancelShot()
	err = chromedp.Run(shotCtx,
		chromedp.CaptureScreenshot(&shot),
		chromedp.ActionFunc(func(ctx context.Context) error {
			node, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to screenshot %s: %w", url, err)
	}

	img, err := png.Decode(bytes.NewReader(shot))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode screenshot of %s: %w", url, err)
	}
	return img, pageTitle(html), nil
}

func pageTitle(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	content, _ := doc.Find(`meta[property="og:title"]`).Attr("content")
	return strings.TrimSpace(content)
}

// Compose crops or pads a screenshot onto a white intermediate canvas of
// the capture size, then letterboxes that onto a black screen-sized canvas.
func Compose(shot image.Image, captureW, captureH, screenW, screenH int) *image.RGBA {
	intermediate := image.NewRGBA(image.Rect(0, 0, captureW, captureH))
	media.Fill(intermediate, color.White)
	if shot != nil {
		draw.Draw(intermediate, intermediate.Bounds(), shot, shot.Bounds().Min, draw.Over)
	}
	return media.Letterbox(intermediate, screenW, screenH)
}
