package board

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

// Client is the thin HTTP layer shared by the REST/GraphQL adapters. It
// handles auth headers, JSON codec, and maps HTTP outcomes onto the failure
// taxonomy so adapters never inspect status codes themselves.
type Client struct {
	BaseURL string
	Headers map[string]string
	HTTP    *http.Client
}

// NewClient builds a client for a vendor API root.
func NewClient(baseURL string, headers map[string]string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Headers: headers,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// DoJSON issues a JSON request and decodes the response into out (may be
// nil for fire-and-forget calls). Transport errors classify as transient;
// undecodable bodies as malformed.
func (c *Client) DoJSON(ctx context.Context, op, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return NewFailure(FailMalformed, op, fmt.Errorf("encode request: %w", err))
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return NewFailure(FailTransient, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return NewFailure(FailTransient, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Failure{
			Kind:   ClassifyStatus(resp.StatusCode),
			Op:     op,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(raw))),
		}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewFailure(FailTransient, op, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		// Log-worthy raw payload stays in the error; the caller decides
		// whether this is the first or a repeat occurrence.
		snippet := string(raw)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return NewFailure(FailMalformed, op, fmt.Errorf("decode response: %w (raw: %s)", err, snippet))
	}
	return nil
}
