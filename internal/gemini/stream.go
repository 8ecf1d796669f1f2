package gemini

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Stream is a pull-based sequence of partial responses from a
// :streamGenerateContent call. Recv returns io.EOF after the final partial;
// Close releases the underlying connection and may be called at any time.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

// NewStream wraps an SSE response body. Exposed for callers that already
// hold a raw stream, and for tests.
func NewStream(body io.ReadCloser) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Stream{body: body, scanner: scanner}
}

// Recv returns the next partial response. Data lines that fail to parse are
// skipped rather than surfaced; a literal [DONE] line ends the stream
// immediately.
func (s *Stream) Recv() (*GenerateContentResponse, error) {
	if s.done {
		return nil, io.EOF
	}
	for s.scanner.Scan() {
		line := s.scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			s.done = true
			return nil, io.EOF
		}
		var env responseEnvelope
		if err := json.Unmarshal([]byte(data), &env); err != nil || env.Response == nil {
			continue
		}
		return env.Response, nil
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Close releases the underlying response body. Safe to call more than once.
func (s *Stream) Close() error {
	s.done = true
	return s.body.Close()
}
