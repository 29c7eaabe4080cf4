package nn

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRectClamp(t *testing.T) {
	r := MakeRect(600, 400, 100, 150).Clamp(640, 480)
	require.Equal(t, MakeRect(600, 400, 40, 80), r)

	r = MakeRect(-10, -20, 50, 50).Clamp(640, 480)
	require.Equal(t, MakeRect(0, 0, 40, 30), r)

	// Entirely outside the frame
	r = MakeRect(700, 10, 50, 50).Clamp(640, 480)
	require.Equal(t, float32(0), r.Area())
}

func TestRawDetectionJSON(t *testing.T) {
	var d RawDetection
	require.NoError(t, json.Unmarshal([]byte(`{"class":"cell phone","score":0.87,"bbox":[10,10,50,50]}`), &d))
	require.Equal(t, "cell phone", d.Class)
	require.InDelta(t, 0.87, d.Score, 1e-6)
	require.Equal(t, MakeRect(10, 10, 50, 50), d.Box)

	b, err := json.Marshal(d)
	require.NoError(t, err)
	require.Contains(t, string(b), `"bbox":[10,10,50,50]`)

	require.Error(t, json.Unmarshal([]byte(`{"class":"book","score":0.5,"bbox":[1,2,3]}`), &d))
}

func TestParseClassList(t *testing.T) {
	classes, err := ParseClassList(strings.NewReader("person\n\n  bicycle \ncar\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"person", "bicycle", "car"}, classes)
	require.True(t, IsCOCOClass("cell phone"))
	require.False(t, IsCOCOClass("wajah"))
}
