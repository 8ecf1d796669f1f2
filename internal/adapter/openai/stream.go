package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"gemini-bridge/internal/gemini"
	"gemini-bridge/internal/httputil"
)

// StreamTransformer rewrites a sequence of backend partials as OpenAI stream
// chunks. One transformer serves exactly one stream: the completion id and
// creation timestamp are generated once and reused on every chunk, the
// assistant role is emitted on the first chunk only, and tool-call indexes
// run across the whole stream.
type StreamTransformer struct {
	id      string
	created int64
	model   string

	roleSent  bool
	toolIndex int
	sawTool   bool
}

func NewStreamTransformer(model string) *StreamTransformer {
	return &StreamTransformer{
		id:      "chatcmpl-" + uuid.NewString(),
		created: time.Now().Unix(),
		model:   model,
	}
}

// Transform converts one backend partial into zero or more chunks, in the
// order tool-calls, text, finish.
func (t *StreamTransformer) Transform(partial *gemini.GenerateContentResponse) []ChatCompletionChunk {
	if len(partial.Candidates) == 0 {
		return nil
	}
	cand := partial.Candidates[0]

	var text string
	var callDeltas []ToolCallDelta
	for _, part := range cand.Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
		if part.FunctionCall != nil {
			call := NewToolCall(part.FunctionCall)
			callDeltas = append(callDeltas, ToolCallDelta{
				Index:    t.toolIndex,
				ID:       call.ID,
				Type:     call.Type,
				Function: call.Function,
			})
			t.toolIndex++
		}
	}

	var chunks []ChatCompletionChunk
	if len(callDeltas) > 0 {
		t.sawTool = true
		chunks = append(chunks, t.chunk(Delta{Role: t.role(), ToolCalls: callDeltas}, nil))
	}
	if text != "" {
		chunks = append(chunks, t.chunk(Delta{Role: t.role(), Content: text}, nil))
	}
	if cand.FinishReason != "" {
		finish := mapFinishReason(cand.FinishReason)
		if t.sawTool {
			finish = strPtr(finishToolCalls)
		}
		chunks = append(chunks, t.chunk(Delta{}, finish))
	}
	return chunks
}

// role returns "assistant" exactly once per stream.
func (t *StreamTransformer) role() string {
	if t.roleSent {
		return ""
	}
	t.roleSent = true
	return "assistant"
}

func (t *StreamTransformer) chunk(delta Delta, finish *string) ChatCompletionChunk {
	return ChatCompletionChunk{
		ID:      t.id,
		Object:  "chat.completion.chunk",
		Created: t.created,
		Model:   t.model,
		Choices: []ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

// WriteStreamingResponse pulls partials from the backend stream and writes
// them as SSE frames, flushing after each one. Natural exhaustion appends the
// [DONE] frame; a stream error terminates the response without it.
func WriteStreamingResponse(w *httputil.FlushWriter, stream *gemini.Stream, model string) error {
	t := NewStreamTransformer(model)
	for {
		partial, err := stream.Recv()
		if err == io.EOF {
			_, werr := fmt.Fprint(w, "data: [DONE]\n\n")
			w.Flush()
			return werr
		}
		if err != nil {
			return err
		}
		for _, chunk := range t.Transform(partial) {
			data, err := json.Marshal(chunk)
			if err != nil {
				return fmt.Errorf("marshal chunk: %w", err)
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return err
			}
			w.Flush()
		}
	}
}
