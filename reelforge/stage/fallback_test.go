//go:build unit

package stage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSilentAudio_WAVHeaderMatchesDuration(t *testing.T) {
	t.Parallel()

	scene := Scene{ID: "intro", Duration: 1500 * time.Millisecond}

	artifact, err := SilentAudio(context.Background(), scene, Settings{})
	require.NoError(t, err)

	data := artifact.Data
	require.GreaterOrEqual(t, len(data), 44)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, "data", string(data[36:40]))

	dataSize := binary.LittleEndian.Uint32(data[40:44])
	assert.Equal(t, uint32(24000*2), dataSize)
	assert.Len(t, data, 44+int(dataSize))
	assert.Equal(t, uint32(len(data)-8), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, len(data), artifact.Size)
	assert.True(t, bytes.Equal(make([]byte, dataSize), data[44:]))
}

func TestSilentAudio_RejectsHugeDurations(t *testing.T) {
	t.Parallel()

	_, err := SilentAudio(context.Background(), Scene{ID: "x", Duration: 24 * time.Hour}, Settings{})
	assert.Error(t, err)
}

func TestSolidFrame_UsesBackgroundColour(t *testing.T) {
	t.Parallel()

	artifact, err := SolidFrame(context.Background(), Scene{ID: "s"}, Settings{BackgroundColor: "#ff8000"})
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(artifact.Data))
	require.NoError(t, err)

	r, g, b, a := img.At(10, 10).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0x8080), g)
	assert.Zero(t, b)
	assert.Equal(t, uint32(0xffff), a)
	assert.Equal(t, 320, img.Bounds().Dx())
}

func TestSolidFrame_ShortHexAndInvalid(t *testing.T) {
	t.Parallel()

	_, err := SolidFrame(context.Background(), Scene{ID: "s"}, Settings{BackgroundColor: "#fff"})
	require.NoError(t, err)

	_, err = SolidFrame(context.Background(), Scene{ID: "s"}, Settings{BackgroundColor: "#12"})
	assert.Error(t, err)
}

func TestEmptyOverlay(t *testing.T) {
	t.Parallel()

	artifact, err := EmptyOverlay(context.Background(), Scene{ID: "outro", Duration: 3 * time.Second}, Settings{})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(artifact.Data, &doc))
	assert.Equal(t, "outro", doc["sceneId"])
	assert.Equal(t, 3.0, doc["durationSeconds"])
	assert.Empty(t, doc["items"])
}

func TestDefaultFallback(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, DefaultFallback(KindVoice))
	assert.NotNil(t, DefaultFallback(KindVisual))
	assert.NotNil(t, DefaultFallback(KindOverlay))
	assert.Nil(t, DefaultFallback(KindAssembly))
}
