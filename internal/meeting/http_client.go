package meeting

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

	"golang.org/x/sync/singleflight"
)

// HTTPClient calls a remote meeting service over JSON/HTTP.
//
//	POST   {base}/v1/meetings         provision (Idempotency-Key: requestId)
//	DELETE {base}/v1/meetings/{id}    end
type HTTPClient struct {
	baseURL string
	token   string
	timeout time.Duration
	client  *http.Client
	group   singleflight.Group
}

const defaultProvisionTimeout = 10 * time.Second

// NewHTTPClient builds a client. timeout bounds every call; a nil client
// gets a fresh http.Client.
func NewHTTPClient(baseURL, token string, timeout time.Duration, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if timeout <= 0 {
		timeout = defaultProvisionTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: timeout,
		client:  client,
	}
}

// Provision allocates a room. Concurrent calls for the same request id share
// one round trip. The shared call runs detached from any single caller's
// cancellation and is bounded by the client timeout; each caller still
// returns as soon as its own ctx is done.
func (c *HTTPClient) Provision(ctx context.Context, req Request) (Room, error) {
	ch := c.group.DoChan(req.RequestID, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.provision(flightCtx, req)
	})
	select {
	case <-ctx.Done():
		return Room{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Room{}, res.Err
		}
		return res.Val.(Room), nil
	}
}

func (c *HTTPClient) provision(ctx context.Context, req Request) (Room, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Room{}, fmt.Errorf("encode provision request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/meetings", bytes.NewReader(body))
	if err != nil {
		return Room{}, fmt.Errorf("build provision request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.RequestID)
	c.authorize(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Room{}, fmt.Errorf("provision request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Room{}, fmt.Errorf("provision returned %s: %s", resp.Status, readSnippet(resp.Body))
	}

	var room Room
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		return Room{}, fmt.Errorf("decode provision response: %w", err)
	}
	if room.MeetingID == "" || room.JoinURL == "" {
		return Room{}, fmt.Errorf("provision response missing meeting id or join url")
	}
	return room, nil
}

func (c *HTTPClient) End(ctx context.Context, meetingID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/meetings/"+url.PathEscape(meetingID), nil)
	if err != nil {
		return fmt.Errorf("build end request: %w", err)
	}
	c.authorize(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("end request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrMeetingNotFound
	case resp.StatusCode >= 300:
		return fmt.Errorf("end returned %s: %s", resp.Status, readSnippet(resp.Body))
	}
	return nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func readSnippet(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 512))
	return strings.TrimSpace(string(raw))
}
