package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Detection is one raw detector hit before rule mapping.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        *[4]int `json:"box,omitempty"`
}

// DetectorClient talks to a self-hosted object-detection server exposing a
// single JSON endpoint.
type DetectorClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewDetectorClient(baseURL string, timeout time.Duration) *DetectorClient {
	return &DetectorClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type detectRequest struct {
	Image         string  `json:"image"`
	MinConfidence float64 `json:"min_confidence"`
}

type detectResponse struct {
	Detections []Detection `json:"detections"`
}

// Ping checks the server is reachable. Used by the engine's lazy init.
func (c *DetectorClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("create detector ping request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("detector ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("detector ping status: %s", resp.Status)
	}
	return nil
}

func (c *DetectorClient) Detect(ctx context.Context, image []byte, minConfidence float64) ([]Detection, error) {
	var out detectResponse
	payload := detectRequest{
		Image:         base64.StdEncoding.EncodeToString(image),
		MinConfidence: minConfidence,
	}
	if err := c.postJSON(ctx, "/v1/detect", payload, &out, "detect"); err != nil {
		return nil, err
	}
	return out.Detections, nil
}

func (c *DetectorClient) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("detector %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return formatDetectorHTTPError(operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func formatDetectorHTTPError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("detector %s status: %s", operation, resp.Status)
	}
	return fmt.Errorf("detector %s status: %s: %s", operation, resp.Status, msg)
}
