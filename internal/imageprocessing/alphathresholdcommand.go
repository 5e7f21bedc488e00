package imageprocessing

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"

	"golang.org/x/image/draw"
)

const AlphaThresholdCommandName = "AlphaThresholdCommand"

// AlphaThresholdCommand clears pixels whose alpha is below threshold.
// It removes faint halos a remover may leave around the subject.
type AlphaThresholdCommand struct {
	threshold uint8
}

func NewAlphaThresholdCommand(params map[string]any) (Command, error) {
	threshold := GetIntParam(params, "threshold", 16)
	if threshold < 0 || threshold > 255 {
		return nil, fmt.Errorf("threshold must be within [0, 255], got %d", threshold)
	}
	return &AlphaThresholdCommand{threshold: uint8(threshold)}, nil
}

func (c *AlphaThresholdCommand) Name() string {
	return AlphaThresholdCommandName
}

func (c *AlphaThresholdCommand) Execute(_ context.Context, imageData []byte) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode PNG input: %w", err)
	}

	b := src.Bounds()
	img := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(img, img.Bounds(), src, b.Min, draw.Src)

	cleared := 0
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 && img.Pix[i] < c.threshold {
			img.Pix[i-3], img.Pix[i-2], img.Pix[i-1], img.Pix[i] = 0, 0, 0, 0
			cleared++
		}
	}
	slog.Debug("AlphaThresholdCommand: applied",
		"threshold", c.threshold,
		"cleared_pixels", cleared)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image to PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func init() {
	mustRegister(AlphaThresholdCommandName, NewAlphaThresholdCommand)
}
