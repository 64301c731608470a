package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const apiKeyHeader = "X-API-Key"

// Client talks to the remote collection API. All requests carry the
// facility API key; responses are judged on status code only, except the
// version probe which must return parseable JSON.
type Client struct {
	serverURL string
	apiKey    string
	http      *http.Client
}

func NewClient(serverURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiKey:    apiKey,
		http:      &http.Client{Timeout: timeout},
	}
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return errorFromTransport(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromStatus(resp.StatusCode)
	}
	return nil
}

// SendSurvey uploads a completed survey.
func (c *Client) SendSurvey(ctx context.Context, p *SurveyPayload) error {
	return c.post(ctx, "/api/sync/survey", p)
}

// SendPayment uploads a recruitment payment record.
func (c *Client) SendPayment(ctx context.Context, p *PaymentPayload) error {
	return c.post(ctx, "/api/sync/payment", p)
}

// VersionInfo is the connectivity probe response.
type VersionInfo struct {
	Version string `json:"version"`
}

// Ping checks server reachability and API key validity before normal
// operation.
func (c *Client) Ping(ctx context.Context) (*VersionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/api/sync/survey/version", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errorFromTransport(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errorFromStatus(resp.StatusCode)
	}
	var info VersionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, &Error{Category: MalformedResponse, Message: "version probe returned unparseable body", Err: err}
	}
	return &info, nil
}
