package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/jo-hoe/cutout/internal/imageprocessing"
	"github.com/jo-hoe/cutout/internal/metrics"
)

const (
	removeBackgroundSuccessMessage = "Background removed successfully"
	missingImageDataMessage        = "Missing imageData in request"
	glbHint                        = "TRELLIS integration coming soon. Use direct GLB upload for now."

	maxResponseBytesParam = "maxResponseBytes"
	responseLimitFactor   = 4
	// RGBA plus per row filter bytes and zlib framing stays below this for any PNG.
	pngBytesPerPixel = 5
)

// Pipeline transforms an encoded image into a PNG without background.
type Pipeline interface {
	Execute(ctx context.Context, imageData []byte) ([]byte, error)
	Ready(ctx context.Context) error
}

// CoreService holds the request handling shared by the local server and the
// serverless functions. It is immutable after creation.
type CoreService struct {
	config         *ServiceConfig
	pipeline       Pipeline
	allowedFormats map[string]bool
	readyErr       error
}

// NewCoreService builds the configured pipeline and checks once whether it
// can serve requests. An unavailable remover is not an error here, removals
// fail fast instead.
func NewCoreService(ctx context.Context, config *ServiceConfig) (*CoreService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	invoker, err := imageprocessing.NewCommandInvokerFromConfig(pipelineCommands(config))
	if err != nil {
		return nil, fmt.Errorf("failed to build image pipeline: %w", err)
	}
	slog.Info("image pipeline created", "commands", invoker.Names())
	return NewCoreServiceWithPipeline(ctx, config, invoker), nil
}

// pipelineCommands returns the configured commands with the remover's
// response limit derived from the service limits unless set explicitly.
func pipelineCommands(config *ServiceConfig) []imageprocessing.CommandConfig {
	commands := make([]imageprocessing.CommandConfig, len(config.Commands))
	for i, cmd := range config.Commands {
		commands[i] = cmd
		if cmd.Name != imageprocessing.BackgroundRemovalCommandName {
			continue
		}
		if _, ok := cmd.Params[maxResponseBytesParam]; ok {
			continue
		}
		params := maps.Clone(cmd.Params)
		if params == nil {
			params = map[string]any{}
		}
		params[maxResponseBytesParam] = removerResponseLimit(config)
		commands[i].Params = params
	}
	return commands
}

// removerResponseLimit allows a PNG of the largest accepted image or a
// multiple of the request payload limit, whichever is larger.
func removerResponseLimit(config *ServiceConfig) int64 {
	return max(responseLimitFactor*config.MaxPayloadBytes, pngBytesPerPixel*config.MaxImagePixels)
}

func NewCoreServiceWithPipeline(ctx context.Context, config *ServiceConfig, pipeline Pipeline) *CoreService {
	allowed := make(map[string]bool, len(config.AllowedFormats))
	for _, format := range config.AllowedFormats {
		allowed[normalizeFormat(format)] = true
	}

	service := &CoreService{
		config:         config,
		pipeline:       pipeline,
		allowedFormats: allowed,
	}

	start := time.Now()
	if err := pipeline.Ready(ctx); err != nil {
		slog.Warn("background removal not available, removals will fail",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
		service.readyErr = err
	} else {
		slog.Info("background removal ready", "duration_ms", time.Since(start).Milliseconds())
	}
	metrics.SetRemoverReady(service.readyErr == nil)

	return service
}

// Ready returns the result of the startup readiness check.
func (s *CoreService) Ready() error {
	return s.readyErr
}

// RemoveBackground decodes the image payload, runs the pipeline and returns the result as PNG data URI.
func (s *CoreService) RemoveBackground(ctx context.Context, req *RemoveBackgroundRequest) (resp *RemoveBackgroundResponse, err error) {
	defer func() {
		metrics.RecordRemoval(removalOutcome(err))
	}()

	if req == nil || strings.TrimSpace(req.ImageData) == "" {
		return nil, NewBadRequestError(missingImageDataMessage, nil)
	}
	if s.readyErr != nil {
		return nil, NewProcessingFailedError(ErrRemoverUnavailable)
	}

	data, err := DecodeBase64(StripDataURIPrefix(req.ImageData))
	if err != nil {
		return nil, NewProcessingFailedError(fmt.Errorf("invalid base64 image data: %w", err))
	}
	metrics.RecordInputBytes(len(data))

	info, err := imageprocessing.Inspect(data)
	if err != nil {
		return nil, NewProcessingFailedError(err)
	}
	if !s.allowedFormats[info.Format] {
		return nil, NewBadRequestError(fmt.Sprintf("Unsupported image format: %s", info.Format), nil)
	}
	if info.Pixels() > s.config.MaxImagePixels {
		return nil, NewBadRequestError(fmt.Sprintf("Image too large: %dx%d exceeds the limit of %d pixels",
			info.Width, info.Height, s.config.MaxImagePixels), nil)
	}

	start := time.Now()
	out, err := s.pipeline.Execute(ctx, data)
	if err != nil {
		return nil, NewProcessingFailedError(err)
	}
	if err := verifyOutput(info, out); err != nil {
		return nil, NewProcessingFailedError(err)
	}
	metrics.RecordRemovalDuration(float64(time.Since(start).Milliseconds()))

	slog.Debug("CoreService: background removed",
		"format", info.Format,
		"width", info.Width,
		"height", info.Height,
		"input_size_bytes", len(data),
		"output_size_bytes", len(out))

	return &RemoveBackgroundResponse{
		Success:            true,
		ProcessedImageData: EncodePNGDataURI(out),
		Message:            removeBackgroundSuccessMessage,
	}, nil
}

// ConvertImagesToGLB is not implemented yet and always returns a KindNotImplemented error.
func (s *CoreService) ConvertImagesToGLB(_ context.Context, req *ConversionRequest) error {
	imageCount := 0
	if req != nil {
		imageCount = len(req.ImageURLs)
	}
	slog.Info("image to GLB conversion requested", "image_count", imageCount)
	return NewNotImplementedError(glbHint)
}

// verifyOutput ensures the pipeline produced a PNG with the input dimensions.
// An SVG without explicit size has no dimensions to compare with.
func verifyOutput(in imageprocessing.ImageInfo, out []byte) error {
	if !imageprocessing.HasPngSignature(out) {
		return errors.New("pipeline did not produce a PNG")
	}
	outInfo, err := imageprocessing.Inspect(out)
	if err != nil {
		return fmt.Errorf("pipeline produced an unreadable PNG: %w", err)
	}
	if in.Width == 0 && in.Height == 0 {
		return nil
	}
	if outInfo.Width != in.Width || outInfo.Height != in.Height {
		return fmt.Errorf("pipeline changed dimensions from %dx%d to %dx%d", in.Width, in.Height, outInfo.Width, outInfo.Height)
	}
	return nil
}

func removalOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrRemoverUnavailable):
		return metrics.OutcomeUnavailable
	case KindOf(err) == KindBadRequest:
		return metrics.OutcomeBadRequest
	default:
		return metrics.OutcomeProcessingFailed
	}
}
