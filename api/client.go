package api

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
)

const (
	jsonTimeout = 15 * time.Second
	// Streaming calls wait on model inference; generous but bounded.
	streamTimeout = 60 * time.Second
)

// Client speaks the TalkCo HTTP/SSE protocol. It performs no retries and no
// caching; retry policy belongs to callers.
type Client struct {
	baseURL string
	json    *http.Client
	stream  *http.Client
}

func New(baseURL string) *Client {
	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		json:    &http.Client{Transport: transport, Timeout: jsonTimeout},
		stream:  &http.Client{Transport: transport, Timeout: streamTimeout},
	}
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

// requestJSON issues one HTTP call and decodes the 2xx response body into T.
func requestJSON[T any](ctx context.Context, c *Client, method, path string, body any) (*T, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.json.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(detail))}
	}

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return &out, nil
}

func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResponse, error) {
	return requestJSON[CreateSessionResponse](ctx, c, http.MethodPost, "/sessions", req)
}

func (c *Client) EndConversation(ctx context.Context, sessionID string) (*EndConversationResponse, error) {
	return requestJSON[EndConversationResponse](ctx, c, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), nil)
}

func (c *Client) FetchReview(ctx context.Context, sessionID string) (*Review, error) {
	return requestJSON[Review](ctx, c, http.MethodGet, "/sessions/"+url.PathEscape(sessionID)+"/review", nil)
}

func (c *Client) SubmitCorrection(ctx context.Context, sessionID string, req CorrectionRequest) (*Correction, error) {
	return requestJSON[Correction](ctx, c, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/corrections", req)
}

func (c *Client) FinalizeSession(ctx context.Context, sessionID string) (*FinalizeResponse, error) {
	return requestJSON[FinalizeResponse](ctx, c, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/end", struct{}{})
}

func (c *Client) FetchProfile(ctx context.Context, userID string) (*Profile, error) {
	return requestJSON[Profile](ctx, c, http.MethodGet, "/users/"+url.PathEscape(userID)+"/profile", nil)
}

func (c *Client) EvaluateLevel(ctx context.Context, userID string) (*Profile, error) {
	return requestJSON[Profile](ctx, c, http.MethodPost, "/users/"+url.PathEscape(userID)+"/evaluate", nil)
}

func (c *Client) ListTopics(ctx context.Context) ([]Topic, error) {
	topics, err := requestJSON[[]Topic](ctx, c, http.MethodGet, "/topics", nil)
	if err != nil {
		return nil, err
	}
	return *topics, nil
}
