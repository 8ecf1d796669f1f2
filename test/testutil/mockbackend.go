package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// MockBackend is an httptest.Server that simulates the Code Assist API:
// :generateContent, :streamGenerateContent, :loadCodeAssist, and
// :retrieveUserQuota.
type MockBackend struct {
	Server *httptest.Server

	// Answer is the text returned from generate calls.
	Answer string
	// StreamWords, when set, is the sequence of text partials streamed before
	// the finish partial.
	StreamWords []string
	// ProjectID is returned from :loadCodeAssist.
	ProjectID string
	// QuotaBuckets is returned verbatim from :retrieveUserQuota.
	QuotaBuckets []map[string]any

	mu sync.Mutex
	// LastRequest captures the most recent generate envelope.
	LastRequest map[string]any
	// GenerateCalls counts generate + streamGenerate requests.
	GenerateCalls int
}

// NewMockBackend creates and starts a mock Code Assist server.
func NewMockBackend(answer string) *MockBackend {
	m := &MockBackend{Answer: answer, ProjectID: "mock-project"}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// Close shuts down the mock server.
func (m *MockBackend) Close() {
	m.Server.Close()
}

// URL returns the base URL of the mock server.
func (m *MockBackend) URL() string {
	return m.Server.URL
}

// Last returns the most recent generate envelope.
func (m *MockBackend) Last() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastRequest
}

// Calls returns the number of generate requests seen.
func (m *MockBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.GenerateCalls
}

func (m *MockBackend) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	switch {
	case strings.HasSuffix(r.URL.Path, ":loadCodeAssist"):
		writeJSON(w, map[string]any{"cloudaicompanionProject": m.ProjectID})
	case strings.HasSuffix(r.URL.Path, ":retrieveUserQuota"):
		writeJSON(w, map[string]any{"buckets": m.QuotaBuckets})
	case strings.HasSuffix(r.URL.Path, ":generateContent"):
		m.recordGenerate(r)
		writeJSON(w, map[string]any{"response": m.blockingResponse()})
	case strings.HasSuffix(r.URL.Path, ":streamGenerateContent"):
		m.recordGenerate(r)
		m.writeStreaming(w)
	default:
		http.NotFound(w, r)
	}
}

func (m *MockBackend) recordGenerate(r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	m.mu.Lock()
	m.LastRequest = body
	m.GenerateCalls++
	m.mu.Unlock()
}

func (m *MockBackend) blockingResponse() map[string]any {
	return map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role":  "model",
				"parts": []map[string]any{{"text": m.Answer}},
			},
			"finishReason": "STOP",
			"index":        0,
		}},
		"usageMetadata": map[string]any{
			"promptTokenCount":     7,
			"candidatesTokenCount": 5,
			"totalTokenCount":      12,
		},
	}
}

func (m *MockBackend) writeStreaming(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, hasFlusher := w.(http.Flusher)

	words := m.StreamWords
	if len(words) == 0 {
		words = []string{m.Answer}
	}

	emit := func(partial map[string]any) {
		data, _ := json.Marshal(map[string]any{"response": partial})
		fmt.Fprintf(w, "data: %s\n\n", data)
		if hasFlusher {
			flusher.Flush()
		}
	}

	for _, word := range words {
		emit(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": word}},
				},
			}},
		})
	}
	emit(map[string]any{
		"candidates": []map[string]any{{
			"content":      map[string]any{"role": "model", "parts": []map[string]any{}},
			"finishReason": "STOP",
		}},
	})
	fmt.Fprint(w, "data: [DONE]\n\n")
	if hasFlusher {
		flusher.Flush()
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
