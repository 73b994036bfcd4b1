// Package relayclient sends captured images to the relay server.
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"snapsight/src/imagedata"
)

// ErrAnalyzeFailed wraps every relay failure; callers show one generic message.
var ErrAnalyzeFailed = errors.New("failed to analyze image")

type Client struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

// New returns a client for endpoint. A nil httpClient uses one without a
// timeout; the caller's context is the only bound.
func New(endpoint string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint: endpoint,
		http:     httpClient,
		logger:   logger.With(zap.String("component", "relayclient")),
	}
}

func (c *Client) Endpoint() string { return c.endpoint }

// Analyze posts the payload of imageURI and returns the analysis text.
func (c *Client) Analyze(ctx context.Context, imageURI string) (string, error) {
	body, err := json.Marshal(map[string]string{"image": imagedata.Payload(imageURI)})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAnalyzeFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAnalyzeFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("relay request failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrAnalyzeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Error("relay returned error",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", msg))
		return "", fmt.Errorf("%w: status %d", ErrAnalyzeFailed, resp.StatusCode)
	}

	var out struct {
		Analysis string `json:"analysis"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrAnalyzeFailed, err)
	}
	return out.Analysis, nil
}
