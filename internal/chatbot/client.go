package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 4 << 10

// APIError is returned for non-success HTTP responses.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chatbot %s: HTTP %d", e.Op, e.Status)
	}
	return fmt.Sprintf("chatbot %s: HTTP %d: %s", e.Op, e.Status, e.Message)
}

// Client calls the chatbot REST API.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the API at baseURL. An empty secret sends
// no secret header.
func NewClient(baseURL, secret string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		// No client timeout: calls run until the transport gives up.
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMessage posts a user message and returns the server ids and bot reply.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (*SendResponse, error) {
	var out SendResponse
	if err := c.do(ctx, "send", http.MethodPost, SendPath, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EditMessage replaces a message's text and returns the new bot reply.
func (c *Client) EditMessage(ctx context.Context, req EditRequest) (*EditResponse, error) {
	var out EditResponse
	if err := c.do(ctx, "edit", http.MethodPost, EditPath, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteMessage deletes a message. A nil error means HTTP 200 was received.
func (c *Client) DeleteMessage(ctx context.Context, req DeleteRequest) error {
	return c.do(ctx, "delete", http.MethodDelete, DeletePath, req, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("chatbot %s: encode request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chatbot %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.secret != "" {
		req.Header.Set(SecretHeader, c.secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chatbot %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299
	if method == http.MethodDelete {
		// Only a 200 confirms a delete.
		ok = resp.StatusCode == http.StatusOK
	}
	if !ok {
		return decodeAPIError(op, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("chatbot %s: decode response: %w", op, err)
	}
	return nil
}

func decodeAPIError(op string, resp *http.Response) error {
	apiErr := &APIError{Op: op, Status: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return apiErr
	}
	var body ErrorResponse
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
