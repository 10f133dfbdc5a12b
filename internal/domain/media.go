package domain

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// StripDataURI removes a "data:<mime>;base64," prefix if present.
func StripDataURI(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.Index(s, ","); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Frame is one captured video frame. Image is base64 without a data-URI prefix.
type Frame struct {
	Image  string `json:"image_b64"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

func NewFrame(imageB64 string, width, height int) Frame {
	return Frame{Image: StripDataURI(imageB64), Width: width, Height: height}
}

// NaturalSize returns the frame's native pixel size, decoding the image
// header when the caller did not supply it.
func (f Frame) NaturalSize() (int, int, error) {
	if f.Width > 0 && f.Height > 0 {
		return f.Width, f.Height, nil
	}
	raw, err := base64.StdEncoding.DecodeString(f.Image)
	if err != nil {
		return 0, 0, fmt.Errorf("decode frame: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return 0, 0, fmt.Errorf("decode frame header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// BBox is [x1, y1, x2, y2] in the frame's native pixel space.
type BBox [4]float64

// ScaleBBox maps a native-space box to display space. Persisted geometry is
// never scaled; only rendering is.
func ScaleBBox(b BBox, displayWidth, naturalWidth float64) BBox {
	if naturalWidth <= 0 {
		return b
	}
	k := displayWidth / naturalWidth
	return BBox{b[0] * k, b[1] * k, b[2] * k, b[3] * k}
}

// WholeFrame covers the full image.
func WholeFrame(width, height int) BBox {
	return BBox{0, 0, float64(width), float64(height)}
}
