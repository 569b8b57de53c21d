package slides

import (
	"image"
	"strings"

	"github.com/marcus-crane/billboard/textrender"
)

// Margin keeps overlays off the screen edge.
const Margin = 10

// Anchor is a point on a 3x3 grid: V and H are -1, 0 or 1 for
// top/left, centre and bottom/right.
type Anchor struct {
	V int
	H int
}

var BottomCenter = Anchor{V: 1, H: 0}

var anchors = map[string]Anchor{
	"top-left":      {-1, -1},
	"top-center":    {-1, 0},
	"top":           {-1, 0},
	"top-right":     {-1, 1},
	"center-left":   {0, -1},
	"left":          {0, -1},
	"center":        {0, 0},
	"middle":        {0, 0},
	"center-center": {0, 0},
	"center-right":  {0, 1},
	"right":         {0, 1},
	"bottom-left":   {1, -1},
	"bottom-center": {1, 0},
	"bottom":        {1, 0},
	"bottom-right":  {1, 1},
}

func ParseAnchor(s string) Anchor {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", "-", " ", "-", "centre", "center").Replace(key)
	if a, ok := anchors[key]; ok {
		return a
	}
	return BottomCenter
}

func (a Anchor) Align() textrender.Align {
	switch a.H {
	case -1:
		return textrender.AlignLeft
	case 1:
		return textrender.AlignRight
	}
	return textrender.AlignCenter
}

// Place returns the top-left corner for a surface of the given size.
func (a Anchor) Place(size image.Point, screenW, screenH int) image.Point {
	var p image.Point
	switch a.H {
	case -1:
		p.X = Margin
	case 0:
		p.X = (screenW - size.X) / 2
	default:
		p.X = screenW - Margin - size.X
	}
	p.Y = a.Row(size.Y, screenH)
	return p
}

func (a Anchor) Row(height, screenH int) int {
	switch a.V {
	case -1:
		return Margin
	case 0:
		return (screenH - height) / 2
	}
	return screenH - Margin - height
}
