package core

import (
	"encoding/base64"
	"strings"
	"unicode"
)

const pngDataURIPrefix = "data:image/png;base64,"

type RemoveBackgroundRequest struct {
	// ImageData is base64, optionally prefixed like "data:image/jpeg;base64,".
	ImageData string `json:"imageData" validate:"required"`
}

type RemoveBackgroundResponse struct {
	Success            bool   `json:"success"`
	ProcessedImageData string `json:"processedImageData"`
	Message            string `json:"message"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ConversionRequest is the body accepted by the image to GLB endpoint.
//
// Once implemented the endpoint submits the images to an external
// reconstruction service and answers with a job id. A status endpoint then
// reports completion and the download url of the GLB model.
type ConversionRequest struct {
	ImageURLs []string `json:"imageUrls"`
}

// StripDataURIPrefix removes everything up to and including the first comma.
// Input without a comma is returned unchanged.
func StripDataURIPrefix(imageData string) string {
	if _, payload, found := strings.Cut(imageData, ","); found {
		return payload
	}
	return imageData
}

// DecodeBase64 decodes standard base64 with or without padding.
// Whitespace such as line breaks is ignored.
func DecodeBase64(encoded string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, encoded)
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(cleaned, "="))
}

// EncodePNGDataURI wraps PNG bytes into a data URI.
func EncodePNGDataURI(pngData []byte) string {
	return pngDataURIPrefix + base64.StdEncoding.EncodeToString(pngData)
}
