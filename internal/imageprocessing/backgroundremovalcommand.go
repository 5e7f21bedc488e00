package imageprocessing

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"time"

	"github.com/jo-hoe/cutout/internal/rembg"
)

const BackgroundRemovalCommandName = "BackgroundRemovalCommand"

// BackgroundRemovalCommand makes the background of a PNG transparent.
// The output keeps the pixel dimensions of the input.
type BackgroundRemovalCommand struct {
	remover rembg.Remover
}

func NewBackgroundRemovalCommand(params map[string]any) (Command, error) {
	opts := rembg.Options{
		Type: GetStringParam(params, "remover", rembg.RemoteRemoverType),
		Remote: rembg.RemoteOptions{
			BaseURL:          GetStringParam(params, "baseUrl", ""),
			Model:            GetStringParam(params, "model", ""),
			ReadinessPath:    GetStringParam(params, "readinessPath", ""),
			Timeout:          time.Duration(GetIntParam(params, "timeoutSeconds", 0)) * time.Second,
			MaxResponseBytes: int64(GetIntParam(params, "maxResponseBytes", 0)),
			AlphaMatting:     GetBoolParam(params, "alphaMatting", false),
			PostProcessMask:  GetBoolParam(params, "postProcessMask", false),
		},
		Key: rembg.KeyOptions{
			Tolerance:   GetFloatParam(params, "tolerance", 0),
			Softness:    GetFloatParam(params, "softness", 0),
			WorkingSize: GetIntParam(params, "workingSize", 0),
		},
	}

	remover, err := rembg.NewRemover(opts)
	if err != nil {
		return nil, err
	}
	return NewBackgroundRemovalCommandWithRemover(remover), nil
}

func NewBackgroundRemovalCommandWithRemover(remover rembg.Remover) *BackgroundRemovalCommand {
	return &BackgroundRemovalCommand{remover: remover}
}

func (c *BackgroundRemovalCommand) Name() string {
	return BackgroundRemovalCommandName
}

func (c *BackgroundRemovalCommand) Ready(ctx context.Context) error {
	return c.remover.Ready(ctx)
}

func (c *BackgroundRemovalCommand) Execute(ctx context.Context, imageData []byte) ([]byte, error) {
	start := time.Now()
	img, err := png.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode PNG input: %w", err)
	}

	slog.Debug("BackgroundRemovalCommand: start",
		"remover", c.remover.Name(),
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy())

	out, err := c.remover.Remove(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", c.remover.Name(), err)
	}
	if err := sameDimensions(img, out); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("failed to encode image to PNG: %w", err)
	}

	slog.Debug("BackgroundRemovalCommand: complete",
		"remover", c.remover.Name(),
		"duration_ms", time.Since(start).Milliseconds(),
		"output_size_bytes", buf.Len())
	return buf.Bytes(), nil
}

func sameDimensions(in, out image.Image) error {
	ib, ob := in.Bounds(), out.Bounds()
	if ib.Dx() != ob.Dx() || ib.Dy() != ob.Dy() {
		return fmt.Errorf("dimensions changed from %dx%d to %dx%d", ib.Dx(), ib.Dy(), ob.Dx(), ob.Dy())
	}
	return nil
}

func init() {
	mustRegister(BackgroundRemovalCommandName, NewBackgroundRemovalCommand)
}
