package integration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"

	"gemini-bridge/internal/auth"
	"gemini-bridge/internal/config"
	"gemini-bridge/internal/proxy"
	"gemini-bridge/test/testutil"
)

const testAnswer = "Hello from Gemini"

// newTokenServer serves a minimal OAuth token endpoint for code exchange and
// refresh during tests.
func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "test-access-token",
			"refresh_token": "test-refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newManager builds an auth manager wired to the mock backend. When login is
// true the manager is taken through the code exchange so it starts
// authenticated.
func newManager(t *testing.T, backendURL string, login bool) *auth.Manager {
	t.Helper()
	keyring.MockInit()

	tokens := newTokenServer(t)
	m := auth.NewManager(auth.Options{
		Store:      auth.NewStore(""),
		Endpoint:   backendURL + "/v1internal",
		HTTPClient: http.DefaultClient,
		OAuth: &oauth2.Config{
			ClientID:     "test-client",
			ClientSecret: "test-secret",
			Endpoint: oauth2.Endpoint{
				AuthURL:  tokens.URL + "/auth",
				TokenURL: tokens.URL + "/token",
			},
		},
	})
	if login {
		if err := m.ExchangeCode(t.Context(), "test-code", "http://localhost/callback"); err != nil {
			t.Fatalf("ExchangeCode: %v", err)
		}
	}
	return m
}

func newTestProxy(t *testing.T, backendURL string, manager *auth.Manager) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		ListenAddr:     ":0",
		Endpoint:       backendURL + "/v1internal",
		RequestTimeout: 10 * time.Second,
		QuotaCacheTTL:  time.Minute,
	}
	srv := httptest.NewServer(proxy.New(cfg, manager).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func chatBody(model string, stream bool) []byte {
	body, _ := json.Marshal(map[string]any{
		"model":  model,
		"stream": stream,
		"messages": []map[string]any{
			{"role": "user", "content": "Hi"},
		},
	})
	return body
}

func postJSON(t *testing.T, url string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func errorType(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := decodeBody(t, resp)
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error envelope, got %v", body)
	}
	typ, _ := errObj["type"].(string)
	return typ
}

func TestChatCompletions_Blocking(t *testing.T) {
	mock := testutil.NewMockBackend(testAnswer)
	defer mock.Close()
	manager := newManager(t, mock.URL(), true)
	srv := newTestProxy(t, mock.URL(), manager)

	resp := postJSON(t, srv.URL+"/v1/chat/completions", chatBody("gemini-2.5-pro", false))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)

	if body["object"] != "chat.completion" {
		t.Errorf("object = %v, want chat.completion", body["object"])
	}
	if body["model"] != "gemini-2.5-pro" {
		t.Errorf("model = %v", body["model"])
	}
	choices := body["choices"].([]any)
	if len(choices) != 1 {
		t.Fatalf("len(choices) = %d, want 1", len(choices))
	}
	choice := choices[0].(map[string]any)
	msg := choice["message"].(map[string]any)
	if msg["content"] != testAnswer {
		t.Errorf("content = %v, want %q", msg["content"], testAnswer)
	}
	if choice["finish_reason"] != "stop" {
		t.Errorf("finish_reason = %v, want stop", choice["finish_reason"])
	}
	usage := body["usage"].(map[string]any)
	if usage["total_tokens"] != float64(12) {
		t.Errorf("total_tokens = %v, want 12", usage["total_tokens"])
	}

	// The upstream envelope carries the resolved project id.
	last := mock.Last()
	if last["model"] != "gemini-2.5-pro" {
		t.Errorf("upstream model = %v", last["model"])
	}
	if last["project"] != "mock-project" {
		t.Errorf("upstream project = %v, want mock-project", last["project"])
	}
	if last["request"] == nil {
		t.Error("upstream envelope missing request")
	}
}

func TestChatCompletions_Streaming(t *testing.T) {
	mock := testutil.NewMockBackend("")
	mock.StreamWords = []string{"Hello", " from", " Gemini"}
	defer mock.Close()
	manager := newManager(t, mock.URL(), true)
	srv := newTestProxy(t, mock.URL(), manager)

	resp := postJSON(t, srv.URL+"/v1/chat/completions", chatBody("gemini-2.5-flash", true))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	var text strings.Builder
	var finish string
	sawDone := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			sawDone = true
			break
		}
		var chunk map[string]any
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			t.Fatalf("bad chunk %q: %v", data, err)
		}
		if chunk["object"] != "chat.completion.chunk" {
			t.Errorf("chunk object = %v", chunk["object"])
		}
		choice := chunk["choices"].([]any)[0].(map[string]any)
		delta := choice["delta"].(map[string]any)
		if s, ok := delta["content"].(string); ok {
			text.WriteString(s)
		}
		if fr, ok := choice["finish_reason"].(string); ok {
			finish = fr
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("read stream: %v", err)
	}

	if got := text.String(); got != "Hello from Gemini" {
		t.Errorf("streamed text = %q, want %q", got, "Hello from Gemini")
	}
	if finish != "stop" {
		t.Errorf("finish_reason = %q, want stop", finish)
	}
	if !sawDone {
		t.Error("stream did not end with [DONE]")
	}
}

func TestChatCompletions_BadRequests(t *testing.T) {
	mock := testutil.NewMockBackend(testAnswer)
	defer mock.Close()
	manager := newManager(t, mock.URL(), true)
	srv := newTestProxy(t, mock.URL(), manager)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{not json`},
		{"missing messages", `{"model":"gemini-2.5-pro","messages":[]}`},
		{"unknown model", `{"model":"gpt-4o","messages":[{"role":"user","content":"Hi"}]}`},
		{"unknown role", `{"model":"gemini-2.5-pro","messages":[{"role":"wizard","content":"Hi"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/v1/chat/completions", []byte(tc.body))
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			if typ := errorType(t, resp); typ != "invalid_request_error" {
				t.Errorf("error type = %q, want invalid_request_error", typ)
			}
		})
	}

	if mock.Calls() != 0 {
		t.Errorf("rejected requests reached upstream %d times", mock.Calls())
	}
}

func TestChatCompletions_Unauthenticated(t *testing.T) {
	mock := testutil.NewMockBackend(testAnswer)
	defer mock.Close()
	manager := newManager(t, mock.URL(), false)
	srv := newTestProxy(t, mock.URL(), manager)

	resp := postJSON(t, srv.URL+"/v1/chat/completions", chatBody("gemini-2.5-pro", false))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if typ := errorType(t, resp); typ != "authentication_error" {
		t.Errorf("error type = %q, want authentication_error", typ)
	}
}

func TestModels(t *testing.T) {
	mock := testutil.NewMockBackend(testAnswer)
	defer mock.Close()
	manager := newManager(t, mock.URL(), true)
	srv := newTestProxy(t, mock.URL(), manager)

	resp, err := http.Get(srv.URL + "/v1/models")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["object"] != "list" {
		t.Errorf("object = %v, want list", body["object"])
	}
	ids := map[string]bool{}
	for _, item := range body["data"].([]any) {
		m := item.(map[string]any)
		ids[m["id"].(string)] = true
		if m["owned_by"] != "google" {
			t.Errorf("owned_by = %v, want google", m["owned_by"])
		}
	}
	if !ids["gemini-2.5-pro"] || !ids["gemini-2.5-flash"] {
		t.Errorf("model list missing expected entries: %v", ids)
	}
}

func TestUsageCounter(t *testing.T) {
	mock := testutil.NewMockBackend(testAnswer)
	defer mock.Close()
	manager := newManager(t, mock.URL(), true)
	srv := newTestProxy(t, mock.URL(), manager)

	for i := 0; i < 3; i++ {
		resp := postJSON(t, srv.URL+"/v1/chat/completions", chatBody("gemini-2.5-pro", false))
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	resp := postJSON(t, srv.URL+"/v1/chat/completions", chatBody("gemini-2.5-flash", false))
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	usageResp, err := http.Get(srv.URL + "/internal/usage")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, usageResp)
	requests := body["requests"].(map[string]any)
	if requests["gemini-2.5-pro"] != float64(3) {
		t.Errorf("gemini-2.5-pro count = %v, want 3", requests["gemini-2.5-pro"])
	}
	if requests["gemini-2.5-flash"] != float64(1) {
		t.Errorf("gemini-2.5-flash count = %v, want 1", requests["gemini-2.5-flash"])
	}
}

func TestAuthEndpoints(t *testing.T) {
	mock := testutil.NewMockBackend(testAnswer)
	mock.QuotaBuckets = []map[string]any{
		{"modelId": "gemini-2.5-pro", "remainingFraction": 0.8},
		{"modelId": "gemini-2.5-pro", "remainingFraction": 0.5},
		{"modelId": "gemini-2.5-pro_vertex", "remainingFraction": 0.9},
	}
	defer mock.Close()
	manager := newManager(t, mock.URL(), true)
	srv := newTestProxy(t, mock.URL(), manager)

	t.Run("status while authenticated", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/auth/status")
		if err != nil {
			t.Fatal(err)
		}
		body := decodeBody(t, resp)
		if body["authenticated"] != true {
			t.Error("expected authenticated=true")
		}
		if body["project_id"] != "mock-project" {
			t.Errorf("project_id = %v, want mock-project", body["project_id"])
		}
	})

	t.Run("quota dedupes and reduces buckets", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/auth/quota")
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		body := decodeBody(t, resp)
		quota := body["quota"].([]any)
		if len(quota) != 1 {
			t.Fatalf("len(quota) = %d, want 1", len(quota))
		}
		entry := quota[0].(map[string]any)
		if entry["modelId"] != "gemini-2.5-pro" {
			t.Errorf("modelId = %v", entry["modelId"])
		}
		if entry["percentLeft"] != float64(50) {
			t.Errorf("percentLeft = %v, want 50", entry["percentLeft"])
		}
	})

	t.Run("login validates its body", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/auth/login", []byte(`{"code":""}`))
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	})

	t.Run("logout then status", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/auth/logout", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("logout status = %d, want 200", resp.StatusCode)
		}
		body := decodeBody(t, resp)
		if body["authenticated"] != false {
			t.Error("expected authenticated=false after logout")
		}

		chat := postJSON(t, srv.URL+"/v1/chat/completions", chatBody("gemini-2.5-pro", false))
		if chat.StatusCode != http.StatusUnauthorized {
			t.Errorf("chat after logout status = %d, want 401", chat.StatusCode)
		}
		io.Copy(io.Discard, chat.Body)
		chat.Body.Close()

		// Logout is idempotent.
		again := postJSON(t, srv.URL+"/auth/logout", nil)
		if again.StatusCode != http.StatusOK {
			t.Errorf("second logout status = %d, want 200", again.StatusCode)
		}
		io.Copy(io.Discard, again.Body)
		again.Body.Close()
	})
}
