package rembg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"maps"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/jo-hoe/cutout/internal/httpclient"
	"github.com/segmentio/ksuid"
)

const (
	defaultRemoteBaseURL       = "http://localhost:7000"
	defaultRemoteReadinessPath = "/api"
	defaultRemoteTimeout       = 60 * time.Second
	defaultReadinessTimeout    = 5 * time.Second
	defaultMaxResponseBytes    = 256 << 20
	removePath                 = "/api/remove"
)

type RemoteOptions struct {
	BaseURL       string
	Model         string
	ReadinessPath string
	Timeout       time.Duration

	// MaxResponseBytes caps the size of the returned image.
	MaxResponseBytes int64

	// AlphaMatting and PostProcessMask map to the "a" and "ppm" form fields of rembg.
	AlphaMatting    bool
	PostProcessMask bool
}

// RemoteRemover delegates to a rembg compatible inference server.
//
//	curl -X POST "$BASE_URL/api/remove" -F "file=@my_image.png" -F "model=u2net" -o out.png
type RemoteRemover struct {
	baseURL       string
	model         string
	readinessPath string
	timeout       time.Duration
	maxResponse   int64
	fields        map[string]string
	cli           httpclient.IClient
}

func NewRemoteRemover(opts RemoteOptions) (*RemoteRemover, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultRemoteBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid remover base url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid remover base url %q: scheme must be http or https", baseURL)
	}

	readinessPath := opts.ReadinessPath
	if readinessPath == "" {
		readinessPath = defaultRemoteReadinessPath
	}
	if !strings.HasPrefix(readinessPath, "/") {
		readinessPath = "/" + readinessPath
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}

	maxResponse := opts.MaxResponseBytes
	if maxResponse <= 0 {
		maxResponse = defaultMaxResponseBytes
	}

	fields := map[string]string{}
	if opts.Model != "" {
		fields["model"] = opts.Model
	}
	if opts.AlphaMatting {
		fields["a"] = "true"
	}
	if opts.PostProcessMask {
		fields["ppm"] = "true"
	}

	return &RemoteRemover{
		baseURL:       baseURL,
		model:         opts.Model,
		readinessPath: readinessPath,
		timeout:       timeout,
		maxResponse:   maxResponse,
		fields:        fields,
		cli:           httpclient.NewHTTPClient(),
	}, nil
}

func (r *RemoteRemover) Name() string {
	return "RemoteRemover"
}

func (r *RemoteRemover) Ready(ctx context.Context) error {
	err := r.cli.DoHTTPRequest(ctx, &httpclient.RequestParam{
		RequestURI: r.baseURL + r.readinessPath,
		Method:     http.MethodGet,
		Timeout:    defaultReadinessTimeout,
	})
	if err != nil {
		return fmt.Errorf("remover at %s is not reachable: %w", r.baseURL, err)
	}
	return nil
}

func (r *RemoteRemover) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	var encoded bytes.Buffer
	if err := png.Encode(&encoded, img); err != nil {
		return nil, fmt.Errorf("encode upload: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", ksuid.New().String()+".png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(encoded.Bytes()); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	for _, name := range slices.Sorted(maps.Keys(r.fields)) {
		if err := writer.WriteField(name, r.fields[name]); err != nil {
			return nil, fmt.Errorf("write form field %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	var result []byte
	reqParam := &httpclient.RequestParam{
		RequestURI: r.baseURL + removePath,
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   &result,
		Timeout:    r.timeout,

		MaxResponseBytes: r.maxResponse,
	}
	start := time.Now()
	if err := r.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("remove background request: %w", err)
	}
	slog.Debug("RemoteRemover: received response",
		"model", r.model,
		"upload_size_bytes", encoded.Len(),
		"response_size_bytes", len(result),
		"duration_ms", time.Since(start).Milliseconds())

	out, _, err := image.Decode(bytes.NewReader(result))
	if err != nil {
		return nil, fmt.Errorf("decode remover response: %w", err)
	}
	if err := checkDimensions(img, out); err != nil {
		return nil, err
	}
	return out, nil
}
