package player

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus-crane/billboard/textrender"
)

func TestState_MarshalText(t *testing.T) {
	data, err := json.Marshal(map[string]State{"state": StateNoContent})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"no_content"}`, string(data))
	assert.Equal(t, "unknown", State(42).String())
}

func TestPlaceholderLines(t *testing.T) {
	assert.Equal(t, []string{
		"This display is not configured",
		"Add slides at https://manage.example",
	}, placeholderLines(ReasonNotConfigured, "https://manage.example"))
	assert.Equal(t, "Content server unavailable", placeholderLines(ReasonUnavailable, "")[0])
	assert.Equal(t, []string{"Waiting for slides"}, placeholderLines(ReasonEmpty, ""))
}

func TestRenderPlaceholder(t *testing.T) {
	frame := renderPlaceholder(textrender.New(nil, 4), ReasonNotConfigured, "https://manage.example", 640, 360)
	require.Equal(t, 640, frame.Bounds().Dx())

	lit := 0
	for y := 0; y < 360; y++ {
		for x := 0; x < 640; x++ {
			if frame.RGBAAt(x, y).R > 128 {
				lit++
			}
		}
	}
	assert.Greater(t, lit, 0)
	// corners stay black
	assert.Equal(t, uint8(0), frame.RGBAAt(0, 0).R)
	assert.Equal(t, uint8(0), frame.RGBAAt(639, 359).R)

	blank := renderPlaceholder(nil, ReasonEmpty, "", 64, 36)
	assert.Equal(t, uint8(255), blank.RGBAAt(10, 10).A)
}
