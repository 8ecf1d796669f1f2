package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultEndpoint is the Code Assist API base URL.
const DefaultEndpoint = "https://cloudcode-pa.googleapis.com/v1internal"

const (
	maxRetries       = 3 // additional attempts after the first call
	retryBackoffUnit = time.Second
)

// CredentialSource supplies a bearer token and the resolved project id for
// each upstream call. Implemented by auth.Manager.
type CredentialSource interface {
	// Token returns a currently valid access token, refreshing if needed.
	Token(ctx context.Context) (string, error)
	// ProjectID returns the resolved Code Assist project id.
	ProjectID() (string, error)
}

// Client sends generate requests to the Code Assist backend.
type Client struct {
	endpoint   string
	creds      CredentialSource
	httpClient *http.Client
	// streamTransport is used by streaming requests (no timeout).
	streamTransport http.RoundTripper
}

// NewClient constructs a Client. endpoint may be empty for the production
// Code Assist API; timeout bounds blocking calls only, streaming requests
// are governed by the request context.
func NewClient(endpoint string, creds CredentialSource, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		creds:    creds,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		streamTransport: transport,
	}
}

// Generate sends a blocking :generateContent call and returns the unwrapped
// response.
func (c *Client) Generate(ctx context.Context, model string, req *GenerateContentRequest) (*GenerateContentResponse, error) {
	resp, err := c.do(ctx, c.endpoint+":generateContent", model, req, c.httpClient)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result responseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.Response == nil {
		return nil, fmt.Errorf("upstream response missing body")
	}
	return result.Response, nil
}

// GenerateStream sends a :streamGenerateContent call and returns a pull-based
// stream of partial responses. The caller must Close the stream.
func (c *Client) GenerateStream(ctx context.Context, model string, req *GenerateContentRequest) (*Stream, error) {
	// Streaming uses a client without timeout; the context carries any deadline.
	streamClient := &http.Client{Transport: c.streamTransport}
	resp, err := c.do(ctx, c.endpoint+":streamGenerateContent?alt=sse", model, req, streamClient)
	if err != nil {
		return nil, err
	}
	return NewStream(resp.Body), nil
}

// do performs one enveloped POST with bounded 429 retry. On success the
// caller owns the response body.
func (c *Client) do(ctx context.Context, url, model string, req *GenerateContentRequest, hc *http.Client) (*http.Response, error) {
	project, err := c.creds.ProjectID()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(envelope{Model: model, Project: project, Request: req})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastStatus int
	for attempt := 0; ; attempt++ {
		// The token is fetched fresh for every attempt, never cached here.
		token, err := c.creds.Token(ctx)
		if err != nil {
			return nil, err
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+token)
		httpReq.Header.Set("Accept", "application/json")
		if strings.Contains(url, "alt=sse") {
			httpReq.Header.Set("Accept", "text/event-stream")
		}

		resp, err := hc.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("upstream request: %w", err)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		resp.Body.Close()
		lastStatus = resp.StatusCode
		slog.Debug("upstream error response",
			"status", resp.StatusCode,
			"model", model,
			"body", string(raw),
		)

		if resp.StatusCode != http.StatusTooManyRequests {
			return nil, classifyStatus(resp.StatusCode)
		}
		if attempt >= maxRetries {
			return nil, classifyStatus(lastStatus)
		}

		delay := retryDelayFrom(raw)
		if delay <= 0 {
			delay = retryBackoffUnit * time.Duration(attempt+1)
		}
		slog.Info("rate limited, retrying", "model", model, "attempt", attempt+1, "delay", delay.String())
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// retryDelayFrom extracts the server-provided retry hint ("1.5s" style) from
// a structured 429 body. Returns 0 when absent or unparseable.
func retryDelayFrom(raw []byte) time.Duration {
	var be backendError
	if err := json.Unmarshal(raw, &be); err != nil {
		return 0
	}
	for _, d := range be.Error.Details {
		if d.RetryDelay == "" {
			continue
		}
		if dur, err := time.ParseDuration(d.RetryDelay); err == nil && dur > 0 {
			return dur
		}
	}
	return 0
}

// ResolveProject calls :loadCodeAssist with an optional project hint and
// returns the effective project id. The backend's answer wins over the hint;
// when neither side provides one the caller cannot proceed.
func ResolveProject(ctx context.Context, hc *http.Client, endpoint, token, hint string) (string, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	reqBody := loadCodeAssistRequest{
		CloudAICompanionProject: hint,
		Metadata: map[string]any{
			"ideType":    "IDE_UNSPECIFIED",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	}
	var result loadCodeAssistResponse
	if err := postJSON(ctx, hc, strings.TrimRight(endpoint, "/")+":loadCodeAssist", token, reqBody, &result); err != nil {
		return "", fmt.Errorf("load code assist: %w", err)
	}
	if result.CloudAICompanionProject != "" {
		return result.CloudAICompanionProject, nil
	}
	if hint != "" {
		return hint, nil
	}
	return "", fmt.Errorf("no project id available: set GOOGLE_CLOUD_PROJECT or enable Gemini Code Assist for your account")
}

// postJSON is the shared helper for the bootstrap and quota endpoints.
func postJSON(ctx context.Context, hc *http.Client, url, token string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		slog.Debug("upstream error response", "status", resp.StatusCode, "url", url, "body", string(raw))
		return classifyStatus(resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
