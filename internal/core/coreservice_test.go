package core

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/jo-hoe/cutout/internal/imageprocessing"
)

// fakePipeline converts the input to PNG and clears the alpha of every pixel.
type fakePipeline struct {
	readyErr error
	execErr  error
	output   []byte
	calls    int
}

func (f *fakePipeline) Ready(_ context.Context) error {
	return f.readyErr
}

func (f *fakePipeline) Execute(_ context.Context, data []byte) ([]byte, error) {
	f.calls++
	if f.execErr != nil {
		return nil, f.execErr
	}
	if f.output != nil {
		return f.output, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	out := image.NewNRGBA(img.Bounds())
	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	return img
}

func pngBase64(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func jpegBase64(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("Failed to encode jpeg: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func decodeResult(t *testing.T, resp *RemoveBackgroundResponse) image.Image {
	t.Helper()
	if !strings.HasPrefix(resp.ProcessedImageData, "data:image/png;base64,") {
		t.Fatalf("Expected PNG data uri, got %.40s", resp.ProcessedImageData)
	}
	data, err := DecodeBase64(StripDataURIPrefix(resp.ProcessedImageData))
	if err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Result is not a PNG: %v", err)
	}
	return img
}

func newTestService(t *testing.T, pipeline Pipeline) *CoreService {
	t.Helper()
	return NewCoreServiceWithPipeline(context.Background(), DefaultConfig(), pipeline)
}

func TestRemoveBackground_Success(t *testing.T) {
	service := newTestService(t, &fakePipeline{})

	tests := []struct {
		name      string
		imageData string
	}{
		{name: "png", imageData: pngBase64(t, testImage(32, 16))},
		{name: "png with data uri", imageData: "data:image/png;base64," + pngBase64(t, testImage(32, 16))},
		{name: "jpeg with data uri", imageData: "data:image/jpeg;base64," + jpegBase64(t, testImage(32, 16))},
		{name: "unpadded", imageData: strings.TrimRight(pngBase64(t, testImage(32, 16)), "=")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := service.RemoveBackground(context.Background(), &RemoveBackgroundRequest{ImageData: tt.imageData})
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if !resp.Success || resp.Message != "Background removed successfully" {
				t.Errorf("Unexpected response %+v", resp)
			}
			img := decodeResult(t, resp)
			if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 16 {
				t.Errorf("Expected 32x16, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
			}
		})
	}
}

func TestRemoveBackground_Errors(t *testing.T) {
	validPNG := pngBase64(t, testImage(8, 8))
	wrongSize := func() []byte {
		var buf bytes.Buffer
		_ = png.Encode(&buf, testImage(4, 4))
		return buf.Bytes()
	}()

	tests := []struct {
		name     string
		config   func(*ServiceConfig)
		pipeline *fakePipeline
		request  *RemoveBackgroundRequest
		wantKind Kind
		wantMsg  string
	}{
		{name: "nil request", request: nil, wantKind: KindBadRequest, wantMsg: "Missing imageData in request"},
		{name: "empty image data", request: &RemoveBackgroundRequest{ImageData: "  "}, wantKind: KindBadRequest, wantMsg: "Missing imageData in request"},
		{name: "malformed base64", request: &RemoveBackgroundRequest{ImageData: "data:image/png;base64,%%%"}, wantKind: KindProcessingFailed, wantMsg: "Processing failed: invalid base64"},
		{name: "undecodable bytes", request: &RemoveBackgroundRequest{ImageData: base64.StdEncoding.EncodeToString([]byte("hello world"))}, wantKind: KindProcessingFailed, wantMsg: "Processing failed"},
		{name: "empty payload after prefix", request: &RemoveBackgroundRequest{ImageData: "data:image/png;base64,"}, wantKind: KindProcessingFailed, wantMsg: "Processing failed"},
		{
			name:     "disallowed format",
			config:   func(c *ServiceConfig) { c.AllowedFormats = []string{"jpeg"} },
			request:  &RemoveBackgroundRequest{ImageData: validPNG},
			wantKind: KindBadRequest,
			wantMsg:  "Unsupported image format: png",
		},
		{
			name:     "too many pixels",
			config:   func(c *ServiceConfig) { c.MaxImagePixels = 63 },
			request:  &RemoveBackgroundRequest{ImageData: validPNG},
			wantKind: KindBadRequest,
			wantMsg:  "Image too large: 8x8",
		},
		{
			name:   "svg text in png metadata does not skip the pixel limit",
			config: func(c *ServiceConfig) { c.MaxImagePixels = 63 },
			request: &RemoveBackgroundRequest{ImageData: base64.StdEncoding.EncodeToString(
				withPNGText(t, mustDecodeBase64(t, validPNG), "made from <svg> source"))},
			wantKind: KindBadRequest,
			wantMsg:  "Image too large: 8x8",
		},
		{
			name:     "pipeline failure",
			pipeline: &fakePipeline{execErr: errors.New("model crashed")},
			request:  &RemoveBackgroundRequest{ImageData: validPNG},
			wantKind: KindProcessingFailed,
			wantMsg:  "Processing failed: model crashed",
		},
		{
			name:     "pipeline output is not png",
			pipeline: &fakePipeline{output: []byte("GIF89a")},
			request:  &RemoveBackgroundRequest{ImageData: validPNG},
			wantKind: KindProcessingFailed,
			wantMsg:  "did not produce a PNG",
		},
		{
			name:     "pipeline changes dimensions",
			pipeline: &fakePipeline{output: wrongSize},
			request:  &RemoveBackgroundRequest{ImageData: validPNG},
			wantKind: KindProcessingFailed,
			wantMsg:  "changed dimensions from 8x8 to 4x4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			if tt.config != nil {
				tt.config(config)
			}
			pipeline := tt.pipeline
			if pipeline == nil {
				pipeline = &fakePipeline{}
			}
			service := NewCoreServiceWithPipeline(context.Background(), config, pipeline)

			resp, err := service.RemoveBackground(context.Background(), tt.request)
			if err == nil {
				t.Fatalf("Expected error, got response %+v", resp)
			}
			if KindOf(err) != tt.wantKind {
				t.Errorf("Expected kind %v, got %v (%v)", tt.wantKind, KindOf(err), err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected message containing %q, got %q", tt.wantMsg, err.Error())
			}
		})
	}
}

func TestRemoveBackground_RasterWithSVGMetadata(t *testing.T) {
	var pngBuf, jpegBuf bytes.Buffer
	if err := png.Encode(&pngBuf, testImage(10, 10)); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	if err := jpeg.Encode(&jpegBuf, testImage(40, 30), nil); err != nil {
		t.Fatalf("Failed to encode jpeg: %v", err)
	}

	config := DefaultConfig()
	config.AllowedFormats = []string{"png", "jpeg"}
	config.Commands[1].Params = map[string]any{"remover": "key"}
	service, err := NewCoreService(context.Background(), config)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	tests := []struct {
		name  string
		data  []byte
		wantW int
		wantH int
	}{
		{name: "png with tEXt chunk", data: withPNGText(t, pngBuf.Bytes(), "made from <svg> source"), wantW: 10, wantH: 10},
		{name: "jpeg with COM segment", data: withJPEGComment(t, jpegBuf.Bytes(), "exported from <svg> editor"), wantW: 40, wantH: 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := service.RemoveBackground(context.Background(), &RemoveBackgroundRequest{
				ImageData: base64.StdEncoding.EncodeToString(tt.data),
			})
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			out := decodeResult(t, resp)
			if out.Bounds().Dx() != tt.wantW || out.Bounds().Dy() != tt.wantH {
				t.Errorf("Expected %dx%d, got %dx%d", tt.wantW, tt.wantH, out.Bounds().Dx(), out.Bounds().Dy())
			}
		})
	}
}

func TestRemoveBackground_UnavailableRemoverFailsFast(t *testing.T) {
	pipeline := &fakePipeline{readyErr: errors.New("connection refused")}
	service := newTestService(t, pipeline)

	if service.Ready() == nil {
		t.Fatal("Expected readiness error to be stored")
	}

	_, err := service.RemoveBackground(context.Background(), &RemoveBackgroundRequest{ImageData: "not even base64"})
	if !errors.Is(err, ErrRemoverUnavailable) {
		t.Errorf("Expected ErrRemoverUnavailable, got %v", err)
	}
	if KindOf(err) != KindProcessingFailed {
		t.Errorf("Expected processing failed kind, got %v", KindOf(err))
	}
	if pipeline.calls != 0 {
		t.Error("Expected pipeline not to be executed")
	}

	// a missing field is still reported as such
	_, err = service.RemoveBackground(context.Background(), &RemoveBackgroundRequest{})
	if KindOf(err) != KindBadRequest {
		t.Errorf("Expected bad request for missing image data, got %v", err)
	}
}

func TestConvertImagesToGLB(t *testing.T) {
	service := newTestService(t, &fakePipeline{})

	for _, req := range []*ConversionRequest{nil, {}, {ImageURLs: []string{"https://example.com/a.png"}}} {
		err := service.ConvertImagesToGLB(context.Background(), req)
		var coreErr *Error
		if !errors.As(err, &coreErr) {
			t.Fatalf("Expected *Error, got %v", err)
		}
		if coreErr.Kind != KindNotImplemented || coreErr.Message != "Not implemented" {
			t.Errorf("Unexpected error %+v", coreErr)
		}
		if coreErr.Hint != "TRELLIS integration coming soon. Use direct GLB upload for now." {
			t.Errorf("Unexpected hint %q", coreErr.Hint)
		}
	}
}

func TestNewCoreService_KeyRemoverPipeline(t *testing.T) {
	config := DefaultConfig()
	config.Commands[1].Params = map[string]any{"remover": "key"}

	service, err := NewCoreService(context.Background(), config)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if service.Ready() != nil {
		t.Fatalf("Expected key remover to be ready, got %v", service.Ready())
	}

	img := image.NewRGBA(image.Rect(0, 0, 24, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 24; x++ {
			c := color.RGBA{R: 240, G: 240, B: 240, A: 255}
			if x >= 8 && x < 16 && y >= 8 && y < 16 {
				c = color.RGBA{R: 30, G: 120, B: 30, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}

	resp, err := service.RemoveBackground(context.Background(), &RemoveBackgroundRequest{
		ImageData: "data:image/png;base64," + pngBase64(t, img),
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	out := decodeResult(t, resp)
	if _, _, _, a := out.At(0, 0).RGBA(); a != 0 {
		t.Errorf("Expected transparent background, got alpha %d", a>>8)
	}
	if _, _, _, a := out.At(12, 12).RGBA(); a>>8 != 255 {
		t.Errorf("Expected opaque subject, got alpha %d", a>>8)
	}
}

func TestNewCoreService_UnreachableRemoteRemover(t *testing.T) {
	config := DefaultConfig()
	config.Commands[1].Params = map[string]any{"remover": "remote", "baseUrl": "http://127.0.0.1:1"}

	service, err := NewCoreService(context.Background(), config)
	if err != nil {
		t.Fatalf("Expected unavailable remover not to fail construction, got %v", err)
	}
	if service.Ready() == nil {
		t.Error("Expected readiness error for unreachable remover")
	}
}

func TestNewCoreService_InvalidConfig(t *testing.T) {
	config := DefaultConfig()
	config.Commands = []imageprocessing.CommandConfig{
		{Name: imageprocessing.BackgroundRemovalCommandName, Params: map[string]any{"remover": "magic"}},
	}
	if _, err := NewCoreService(context.Background(), config); err == nil {
		t.Error("Expected error for invalid remover type")
	}
}

// withPNGText inserts a tEXt chunk right after IHDR.
func withPNGText(t *testing.T, data []byte, text string) []byte {
	t.Helper()
	const ihdrEnd = 8 + 4 + 4 + 13 + 4
	if len(data) < ihdrEnd {
		t.Fatalf("PNG too short: %d bytes", len(data))
	}
	chunkData := append([]byte("Comment\x00"), text...)
	chunk := binary.BigEndian.AppendUint32(nil, uint32(len(chunkData)))
	chunk = append(chunk, "tEXt"...)
	chunk = append(chunk, chunkData...)
	chunk = binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(chunk[4:]))

	out := append([]byte{}, data[:ihdrEnd]...)
	out = append(out, chunk...)
	return append(out, data[ihdrEnd:]...)
}

// withJPEGComment inserts a COM segment right after SOI.
func withJPEGComment(t *testing.T, data []byte, text string) []byte {
	t.Helper()
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Fatal("Expected JPEG SOI marker")
	}
	segment := []byte{0xFF, 0xFE}
	segment = binary.BigEndian.AppendUint16(segment, uint16(len(text)+2))
	segment = append(segment, text...)

	out := append([]byte{}, data[:2]...)
	out = append(out, segment...)
	return append(out, data[2:]...)
}

func mustDecodeBase64(t *testing.T, s string) []byte {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("Failed to decode base64: %v", err)
	}
	return data
}

func TestPipelineCommands_DerivesRemoverResponseLimit(t *testing.T) {
	config := DefaultConfig()
	config.MaxPayloadBytes = 1000
	config.MaxImagePixels = 100

	commands := pipelineCommands(config)
	got := imageprocessing.GetIntParam(commands[1].Params, maxResponseBytesParam, 0)
	if got != 4000 {
		t.Errorf("Expected response limit 4000, got %d", got)
	}
	if _, ok := config.Commands[1].Params[maxResponseBytesParam]; ok {
		t.Error("Expected config params to stay untouched")
	}
	if _, ok := commands[0].Params[maxResponseBytesParam]; ok {
		t.Error("Expected limit only on the background removal command")
	}

	config.MaxImagePixels = 10_000
	if got := removerResponseLimit(config); got != 50_000 {
		t.Errorf("Expected pixel based limit 50000, got %d", got)
	}

	config.Commands[1].Params[maxResponseBytesParam] = 123
	commands = pipelineCommands(config)
	if got := imageprocessing.GetIntParam(commands[1].Params, maxResponseBytesParam, 0); got != 123 {
		t.Errorf("Expected explicit limit 123, got %d", got)
	}
}
