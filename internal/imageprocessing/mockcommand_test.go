package imageprocessing

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"
)

// mockCommand is a simple mock implementation of the Command interface for testing
type mockCommand struct {
	name        string
	executeFunc func([]byte) ([]byte, error)
	readyErr    error
}

func (m *mockCommand) Name() string {
	return m.name
}

func (m *mockCommand) Execute(_ context.Context, imageData []byte) ([]byte, error) {
	if m.executeFunc != nil {
		return m.executeFunc(imageData)
	}
	return imageData, nil
}

func (m *mockCommand) Ready(_ context.Context) error {
	return m.readyErr
}

func newMockCommand(name string) *mockCommand {
	return &mockCommand{name: name}
}

func newMockCommandWithError(name string, err error) *mockCommand {
	return &mockCommand{
		name: name,
		executeFunc: func(data []byte) ([]byte, error) {
			return nil, err
		},
	}
}

// plainCommand has no Ready method.
type plainCommand struct{}

func (plainCommand) Name() string { return "plain" }

func (plainCommand) Execute(_ context.Context, imageData []byte) ([]byte, error) {
	return imageData, nil
}

func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func encodeTestPNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func decodeTestPNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	if !HasPngSignature(data) {
		t.Fatal("Expected output to be PNG")
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to decode output: %v", err)
	}
	return img
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
