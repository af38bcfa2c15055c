package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HTTPBackend talks to an external inference service.
//
//	POST /v1/models       {"size", "path"}           -> {"name"}
//	POST /v1/predict      {"model", "size", "image"} -> {"class_id", "class"}
//	POST /v1/synchronize  {}                         -> 2xx
//
// Images are sent base64-encoded; resizing and normalization happen server side.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPBackend creates a backend for the service at baseURL.
// A zero timeout leaves requests unbounded.
func NewHTTPBackend(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPBackend {
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "oracle-http"),
	}
}

type loadModelRequest struct {
	Size int    `json:"size"`
	Path string `json:"path"`
}

type loadModelResponse struct {
	Name string `json:"name"`
}

type predictRequest struct {
	Model string `json:"model"`
	Size  int    `json:"size"`
	Image string `json:"image"`
}

func (b *HTTPBackend) LoadModel(ctx context.Context, size int, path string) (Model, error) {
	var resp loadModelResponse
	if err := b.post(ctx, "/v1/models", loadModelRequest{Size: size, Path: path}, &resp); err != nil {
		return Model{}, err
	}
	if resp.Name == "" {
		resp.Name = fmt.Sprintf("model_%d", size)
	}
	return Model{Size: size, Name: resp.Name}, nil
}

func (b *HTTPBackend) Preprocess(_ context.Context, img Image) (Input, error) {
	if len(img.Data) == 0 {
		return Input{}, fmt.Errorf("empty image %s", img.ID)
	}
	return Input{
		ImageID: img.ID,
		Size:    img.Size,
		Payload: base64.StdEncoding.EncodeToString(img.Data),
	}, nil
}

func (b *HTTPBackend) Predict(ctx context.Context, m Model, in Input) (Prediction, error) {
	encoded, ok := in.Payload.(string)
	if !ok {
		return Prediction{}, fmt.Errorf("input %s was not prepared by the http backend", in.ImageID)
	}
	var p Prediction
	err := b.post(ctx, "/v1/predict", predictRequest{Model: m.Name, Size: m.Size, Image: encoded}, &p)
	return p, err
}

func (b *HTTPBackend) Synchronize(ctx context.Context) error {
	return b.post(ctx, "/v1/synchronize", struct{}{}, nil)
}

func (b *HTTPBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

func (b *HTTPBackend) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
