// Package controlplane is the HTTP client for the control plane's REST
// surface: initial identification/token exchange, token refresh, and
// package download URL resolution.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// IdentifyRequest carries the hardware fingerprint exchanged for an
// agent id + token on first registration.
type IdentifyRequest struct {
	HardwareFingerprint string `json:"hardware_fingerprint"`
}

// IdentifyResponse is the control plane's answer to an identify call.
type IdentifyResponse struct {
	AgentID string `json:"agent_id"`
	Token   string `json:"token"`
}

// HTTP is the control-plane client interface; tests substitute fakes.
type HTTP interface {
	Identify(ctx context.Context, req IdentifyRequest) (IdentifyResponse, error)
	RefreshToken(ctx context.Context, agentID string) (string, error)
	ResolvePackageURL(ctx context.Context, downloadURL string) (string, error)
}

// Client is the default HTTP implementation.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: 30 * time.Second}}
}

func (c *Client) Identify(ctx context.Context, req IdentifyRequest) (IdentifyResponse, error) {
	var out IdentifyResponse
	if err := c.postJSON(ctx, "/v1/agents/identify", req, &out); err != nil {
		return IdentifyResponse{}, fmt.Errorf("controlplane: identify failed: %w", err)
	}
	return out, nil
}

func (c *Client) RefreshToken(ctx context.Context, agentID string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.postJSON(ctx, "/v1/agents/"+agentID+"/refresh-token", nil, &out); err != nil {
		return "", fmt.Errorf("controlplane: refresh token failed: %w", err)
	}
	return out.Token, nil
}

// ResolvePackageURL exchanges an opaque download_url for a fetchable URL.
// The default implementation treats the notification's URL as already
// fetchable and returns it unchanged; a real control plane may sign or
// redirect it.
func (c *Client) ResolvePackageURL(ctx context.Context, downloadURL string) (string, error) {
	return downloadURL, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
