package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 5 * time.Second

// APIError is returned when the gateway answers with a non-2xx status or
// a body whose status field isn't "ok".
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp gateway error %d: %s", e.StatusCode, e.Body)
}

// Client is a thin client for the WhatsApp gateway's POST /send endpoint.
// It attempts exactly once per call — retry policy belongs to the
// scheduling/worker layer (a failed send moves the record to FAILED and
// is re-claimed after the lease expires), not to the transport.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a Client pointed at baseURL, with a pooled transport
// and a 5-second send timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 50,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Send posts a message to the gateway and returns the gateway-assigned
// message id, if any.
func (c *Client) Send(ctx context.Context, req SendRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build send request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("reach whatsapp gateway: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var sendResp SendResponse
	if err := json.Unmarshal(body, &sendResp); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	if sendResp.Status != "ok" {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return sendResp.MessageID, nil
}
