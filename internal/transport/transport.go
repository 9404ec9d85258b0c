// Package transport submits queued work items to the CropGuard API.
//
// Uploads are replayed as POST /api/v1/uploads with a JSON envelope carrying
// the capture metadata and base64 image bytes. Actions replay the recorded
// method, target and body verbatim.
//
// Response handling maps HTTP status onto the engine's error contract:
//   - 2xx: success (nil)
//   - 409: *sync.ConflictError with the server's snapshot from the body
//   - 408, 429, 5xx and network errors: *sync.TransientError (retryable)
//   - any other 4xx: permanent rejection, returned as a plain error
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Yheng/CropGuard-sub000/internal/sync"
)

const (
	uploadPath = "/api/v1/uploads"

	headerIdempotency = "Idempotency-Key"
	headerOverride    = "X-CropGuard-Override"
)

// Client is an HTTP transport for the sync engine. It implements
// sync.Transport.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// uploadEnvelope is the wire format for POST /api/v1/uploads.
type uploadEnvelope struct {
	ID        string            `json:"id"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Data      []byte            `json:"data"` // base64 via encoding/json
}

// conflictBody is the 409 response body carrying the server's snapshot.
type conflictBody struct {
	Remote sync.Snapshot `json:"remote"`
}

// New creates a client for the given API base URL. token is sent as a Bearer
// credential on every request; empty disables the header. A nil httpClient
// uses a default with a 30 second timeout.
func New(baseURL, token string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid API base URL %q: scheme must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}, nil
}

// Submit replays one work item against the API.
func (c *Client) Submit(ctx context.Context, item *sync.WorkItem) error {
	req, err := c.buildRequest(ctx, item)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// DNS failures, refused connections, client timeouts: all worth
		// retrying once the link recovers.
		return &sync.TransientError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	return classify(item, resp)
}

// buildRequest constructs the HTTP request for an item.
func (c *Client) buildRequest(ctx context.Context, item *sync.WorkItem) (*http.Request, error) {
	var (
		method string
		target string
		body   io.Reader
	)

	switch item.Kind {
	case sync.KindUpload:
		env := uploadEnvelope{
			ID:        item.ID,
			Metadata:  item.Metadata,
			CreatedAt: item.CreatedAt,
			Data:      item.Payload,
		}
		payload, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal upload %s: %w", item.ID, err)
		}
		method = http.MethodPost
		target = uploadPath
		body = bytes.NewReader(payload)

	case sync.KindAction:
		method = item.Method
		target = item.Target
		if len(item.Payload) > 0 {
			body = bytes.NewReader(item.Payload)
		}

	default:
		return nil, fmt.Errorf("unknown work item kind %q", item.Kind)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", item.ID, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerIdempotency, item.ID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if item.Override {
		req.Header.Set(headerOverride, "true")
	}
	return req, nil
}

// classify maps the response status onto the engine's error contract.
func classify(item *sync.WorkItem, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil

	case resp.StatusCode == http.StatusConflict:
		var body conflictBody
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			// A 409 without a parseable snapshot still must not be
			// retried blindly; surface it for manual review.
			return &sync.ConflictError{Remote: sync.Snapshot{ItemID: item.ID}}
		}
		return &sync.ConflictError{Remote: body.Remote}

	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return &sync.TransientError{
			Reason: fmt.Sprintf("server returned %s", resp.Status),
		}

	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server rejected item %s: %s: %s",
			item.ID, resp.Status, strings.TrimSpace(string(msg)))
	}
}
