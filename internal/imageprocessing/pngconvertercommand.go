package imageprocessing

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const PngConverterCommandName = "PngConverterCommand"

var pngSignature = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

// HasPngSignature checks whether the provided data begins with a valid PNG signature
func HasPngSignature(data []byte) bool {
	return bytes.HasPrefix(data, pngSignature)
}

// PngConverterCommand normalizes any supported raster format or SVG to PNG
type PngConverterCommand struct {
	svgFallbackWidth  int
	svgFallbackHeight int
}

func NewPngConverterCommand(params map[string]any) (Command, error) {
	// only used when the SVG carries no explicit size
	w := GetIntParam(params, "svgFallbackWidth", 0)
	h := GetIntParam(params, "svgFallbackHeight", 0)
	if w < 0 || h < 0 {
		return nil, fmt.Errorf("svg fallback size must not be negative, got %dx%d", w, h)
	}

	return &PngConverterCommand{
		svgFallbackWidth:  w,
		svgFallbackHeight: h,
	}, nil
}

func (c *PngConverterCommand) Name() string {
	return PngConverterCommandName
}

func (c *PngConverterCommand) Execute(_ context.Context, imageData []byte) ([]byte, error) {
	slog.Debug("PngConverterCommand: start",
		"input_size_bytes", len(imageData),
		"svg_fallback_width", c.svgFallbackWidth,
		"svg_fallback_height", c.svgFallbackHeight)

	if HasPngSignature(imageData) {
		slog.Debug("PngConverterCommand: PNG detected; returning original bytes")
		return imageData, nil
	}

	img, currentFormat, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		if IsSVGData(imageData) {
			return c.convertSVG(imageData)
		}
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	slog.Debug("PngConverterCommand: decoded raster image",
		"current_format", currentFormat,
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy())

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image to PNG: %w", err)
	}
	slog.Debug("PngConverterCommand: raster conversion complete", "output_size_bytes", buf.Len())
	return buf.Bytes(), nil
}

func (c *PngConverterCommand) convertSVG(imageData []byte) ([]byte, error) {
	w, h, ok := parseSVGExplicitSize(imageData)
	if !ok {
		if c.svgFallbackWidth <= 0 || c.svgFallbackHeight <= 0 {
			return nil, fmt.Errorf("SVG has no explicit size and no fallback size is configured")
		}
		w, h = c.svgFallbackWidth, c.svgFallbackHeight
		slog.Debug("PngConverterCommand: SVG lacks explicit size; using fallback", "width", w, "height", h)
	}

	out, err := renderSVGToPNG(imageData, w, h)
	if err != nil {
		return nil, fmt.Errorf("failed to render SVG to PNG: %w", err)
	}
	slog.Debug("PngConverterCommand: SVG render complete",
		"width", w,
		"height", h,
		"output_size_bytes", len(out))
	return out, nil
}

// renderSVGToPNG rasterizes the SVG onto a transparent canvas of the given size.
func renderSVGToPNG(svgData []byte, targetW, targetH int) ([]byte, error) {
	if targetW <= 0 || targetH <= 0 {
		return nil, fmt.Errorf("invalid target dimensions for SVG rendering: %dx%d", targetW, targetH)
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SVG: %w", err)
	}
	icon.SetTarget(0, 0, float64(targetW), float64(targetH))

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	scanner := rasterx.NewScannerGV(targetW, targetH, dst, dst.Bounds())
	dasher := rasterx.NewDasher(targetW, targetH, scanner)
	icon.Draw(dasher, 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode rendered SVG as PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func init() {
	mustRegister(PngConverterCommandName, NewPngConverterCommand)
}
