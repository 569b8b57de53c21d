package player

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/marcus-crane/billboard/media"
	"github.com/marcus-crane/billboard/slides"
	"github.com/marcus-crane/billboard/textrender"
)

func placeholderLines(reason Reason, managerURL string) []string {
	switch reason {
	case ReasonNotConfigured:
		return []string{
			"This display is not configured",
			fmt.Sprintf("Add slides at %s", managerURL),
		}
	case ReasonUnavailable:
		return []string{
			"Content server unavailable",
			"Retrying shortly",
		}
	}
	return []string{"Waiting for slides"}
}

// renderPlaceholder draws the no-content message centred on a black frame.
func renderPlaceholder(text slides.TextRenderer, reason Reason, managerURL string, width, height int) *image.RGBA {
	frame := media.NewCanvas(width, height)
	if text == nil {
		return frame
	}
	lines := placeholderLines(reason, managerURL)
	surfaces := make([]textrender.Surface, 0, len(lines))
	total := 0
	for i, line := range lines {
		size := "large"
		if i > 0 {
			size = "medium"
		}
		s, err := text.Render(line, textrender.Style{Size: size, Align: textrender.AlignCenter}, width-2*slides.Margin)
		if err != nil {
			slog.Warn("Failed to render placeholder text", slog.String("error", err.Error()))
			continue
		}
		surfaces = append(surfaces, s)
		total += s.Bounds().Dy()
	}
	y := (height - total) / 2
	for _, s := range surfaces {
		size := s.Bounds().Size()
		media.Composite(frame, s.Image, image.Pt((width-size.X)/2, y))
		y += size.Y
	}
	return frame
}
