package stage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"strings"
	"time"
)

// FallbackFunc synthesizes a placeholder artifact for a scene whose
// collaborator could not deliver.
type FallbackFunc func(ctx context.Context, scene Scene, settings Settings) (Artifact, error)

// Placeholder encodings.
const (
	silenceSampleRate = 16000
	silenceBitDepth   = 16
	placeholderWidth  = 320
	placeholderHeight = 180

	maxPlaceholderBytes = 64 << 20
)

// SilentAudio renders a mono 16-bit PCM WAV of the scene's duration.
func SilentAudio(_ context.Context, scene Scene, _ Settings) (Artifact, error) {
	data, err := silentWAV(scene.Duration)
	if err != nil {
		return Artifact{}, err
	}

	return Artifact{
		URI:       "fallback://voice/" + scene.ID + ".wav",
		MediaType: "audio/wav",
		Size:      len(data),
		Data:      data,
	}, nil
}

func silentWAV(duration time.Duration) ([]byte, error) {
	if duration < 0 {
		duration = 0
	}

	const (
		channels   = 1
		blockAlign = channels * silenceBitDepth / 8
		byteRate   = silenceSampleRate * blockAlign
		headerSize = 44
	)

	samples := int(duration.Seconds() * silenceSampleRate)
	dataSize := samples * blockAlign

	if dataSize > maxPlaceholderBytes {
		return nil, fmt.Errorf("silent audio of %s exceeds placeholder limit", duration)
	}

	le := binary.LittleEndian
	buf := make([]byte, 0, headerSize+dataSize)

	buf = append(buf, "RIFF"...)
	buf = le.AppendUint32(buf, uint32(headerSize-8+dataSize))
	buf = append(buf, "WAVEfmt "...)
	buf = le.AppendUint32(buf, 16)
	buf = le.AppendUint16(buf, 1)
	buf = le.AppendUint16(buf, channels)
	buf = le.AppendUint32(buf, silenceSampleRate)
	buf = le.AppendUint32(buf, byteRate)
	buf = le.AppendUint16(buf, blockAlign)
	buf = le.AppendUint16(buf, silenceBitDepth)
	buf = append(buf, "data"...)
	buf = le.AppendUint32(buf, uint32(dataSize))
	buf = append(buf, make([]byte, dataSize)...)

	return buf, nil
}

// SolidFrame renders a PNG filled with the job's background colour. The
// frame is small; assembly scales it to the output resolution.
func SolidFrame(_ context.Context, scene Scene, settings Settings) (Artifact, error) {
	fill, err := parseHexColor(settings.WithDefaults().BackgroundColor)
	if err != nil {
		return Artifact{}, err
	}

	img := image.NewRGBA(image.Rect(0, 0, placeholderWidth, placeholderHeight))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = fill.R, fill.G, fill.B, fill.A
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Artifact{}, fmt.Errorf("encoding placeholder frame: %w", err)
	}

	return Artifact{
		URI:       "fallback://visual/" + scene.ID + ".png",
		MediaType: "image/png",
		Size:      buf.Len(),
		Data:      buf.Bytes(),
	}, nil
}

func parseHexColor(hex string) (color.RGBA, error) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}

	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid colour %q", hex)
	}

	value, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid colour %q: %w", hex, err)
	}

	return color.RGBA{R: uint8(value >> 16), G: uint8(value >> 8), B: uint8(value), A: 0xff}, nil
}

type overlayDocument struct {
	SceneID  string   `json:"sceneId"`
	Duration float64  `json:"durationSeconds"`
	Items    []string `json:"items"`
}

// EmptyOverlay renders an overlay document with no items.
func EmptyOverlay(_ context.Context, scene Scene, _ Settings) (Artifact, error) {
	data, err := json.Marshal(overlayDocument{
		SceneID:  scene.ID,
		Duration: scene.Duration.Seconds(),
		Items:    []string{},
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("encoding empty overlay: %w", err)
	}

	return Artifact{
		URI:       "fallback://overlay/" + scene.ID + ".json",
		MediaType: "application/json",
		Size:      len(data),
		Data:      data,
	}, nil
}

// DefaultFallback returns the placeholder synthesizer of kind, or nil for
// assembly.
func DefaultFallback(kind Kind) FallbackFunc {
	switch kind {
	case KindVoice:
		return SilentAudio
	case KindVisual:
		return SolidFrame
	case KindOverlay:
		return EmptyOverlay
	default:
		return nil
	}
}
