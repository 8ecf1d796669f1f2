package gemini

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamOf(lines ...string) *Stream {
	return NewStream(io.NopCloser(strings.NewReader(strings.Join(lines, "\n"))))
}

func TestStreamRecv(t *testing.T) {
	s := streamOf(
		`data: {"response":{"candidates":[{"content":{"role":"model","parts":[{"text":"hello"}]}}]}}`,
		``,
		`data: {"response":{"candidates":[{"content":{"role":"model","parts":[]},"finishReason":"STOP"}]}}`,
		``,
		`data: [DONE]`,
		``,
	)
	defer s.Close()

	first, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "hello", first.Candidates[0].Content.Parts[0].Text)

	second, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "STOP", string(second.Candidates[0].FinishReason))

	_, err = s.Recv()
	assert.Equal(t, io.EOF, err)

	// Recv after DONE stays at EOF.
	_, err = s.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestStreamRecvSkipsNoise(t *testing.T) {
	s := streamOf(
		`: keepalive comment`,
		`data: {not valid json`,
		`data: {"unrelated":true}`,
		``,
		`data: {"response":{"candidates":[{"content":{"role":"model","parts":[{"text":"survivor"}]}}]}}`,
		``,
		`data: [DONE]`,
	)
	defer s.Close()

	resp, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "survivor", resp.Candidates[0].Content.Parts[0].Text)

	_, err = s.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestStreamRecvEOFWithoutDone(t *testing.T) {
	s := streamOf(
		`data: {"response":{"candidates":[{"content":{"role":"model","parts":[{"text":"x"}]}}]}}`,
		``,
	)
	defer s.Close()

	_, err := s.Recv()
	require.NoError(t, err)

	// Body ended without a DONE sentinel; the stream still terminates cleanly.
	_, err = s.Recv()
	assert.Equal(t, io.EOF, err)
}
