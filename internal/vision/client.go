package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client calls the vision inference gateway over HTTP. One client is
// shared by every analyzer; its http.Client pools connections.
type Client struct {
	BaseURL    string
	APIKey     string
	Models     map[Role]string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string, models map[Role]string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Models:     models,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	Model  string         `json:"model"`
	Prompt string         `json:"prompt"`
	Frames []requestFrame `json:"frames"`
}

type requestFrame struct {
	Position   string `json:"position"`
	JPEGBase64 string `json:"jpeg_base64"`
}

func (c *Client) Analyze(ctx context.Context, role Role, frames []SampledFrame, promptCtx string) (*Verdict, error) {
	model, ok := c.Models[role]
	if !ok {
		return nil, &Error{Permanent: true, Reason: fmt.Sprintf("no model configured for role %q", role)}
	}
	if len(frames) == 0 {
		return nil, &Error{Permanent: true, Reason: "no frames to analyze"}
	}

	reqBody := analyzeRequest{Model: model, Prompt: promptCtx}
	for _, f := range frames {
		reqBody.Frames = append(reqBody.Frames, requestFrame{
			Position:   f.Position,
			JPEGBase64: base64.StdEncoding.EncodeToString(f.JPEG),
		})
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return nil, &Error{Permanent: true, Reason: "encode request: " + err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/analyze", &buf)
	if err != nil {
		return nil, &Error{Permanent: true, Reason: "build request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// timeouts, DNS, refused connections: all retryable
		return nil, &Error{Permanent: false, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var bodySample string
		b := make([]byte, 512)
		n, _ := resp.Body.Read(b)
		bodySample = string(b[:n])
		reason := fmt.Sprintf("status=%d body=%s", resp.StatusCode, bodySample)

		switch {
		case resp.StatusCode == http.StatusRequestTimeout,
			resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode >= 500:
			return nil, &Error{Permanent: false, Reason: reason}
		default:
			return nil, &Error{Permanent: true, Reason: reason}
		}
	}

	var verdict Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, &Error{Permanent: true, Reason: "malformed response: " + err.Error()}
	}

	if role == RoleConfirmer && len(verdict.PerFrame) != len(frames) {
		return nil, &Error{
			Permanent: true,
			Reason:    fmt.Sprintf("confirmer returned %d per-frame verdicts for %d frames", len(verdict.PerFrame), len(frames)),
		}
	}
	return &verdict, nil
}
