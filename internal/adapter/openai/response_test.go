package openai

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"gemini-bridge/internal/gemini"
)

func textResponse(text string, finish genai.FinishReason) *gemini.GenerateContentResponse {
	return &gemini.GenerateContentResponse{
		Candidates: []gemini.Candidate{{
			Content: gemini.Content{
				Role:  genai.RoleModel,
				Parts: []gemini.Part{{Text: text}},
			},
			FinishReason: finish,
		}},
	}
}

func TestFromResponse_Text(t *testing.T) {
	resp := textResponse("Hello there", genai.FinishReasonStop)
	resp.UsageMetadata = &gemini.UsageMetadata{
		PromptTokenCount:     10,
		CandidatesTokenCount: 3,
		TotalTokenCount:      13,
	}

	out := FromResponse(resp, "gemini-2.5-pro")

	assert.True(t, strings.HasPrefix(out.ID, "chatcmpl-"))
	assert.Equal(t, "chat.completion", out.Object)
	assert.Equal(t, "gemini-2.5-pro", out.Model)
	require.Len(t, out.Choices, 1)

	choice := out.Choices[0]
	assert.Equal(t, 0, choice.Index)
	assert.Equal(t, "assistant", choice.Message.Role)
	require.NotNil(t, choice.Message.Content)
	assert.Equal(t, "Hello there", *choice.Message.Content)
	require.NotNil(t, choice.FinishReason)
	assert.Equal(t, "stop", *choice.FinishReason)

	require.NotNil(t, out.Usage)
	assert.Equal(t, Usage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13}, *out.Usage)
}

func TestFromResponse_MissingUsageStaysAbsent(t *testing.T) {
	out := FromResponse(textResponse("ok", genai.FinishReasonStop), "gemini-2.5-flash")
	assert.Nil(t, out.Usage)
}

func TestFromResponse_FirstCandidateOnly(t *testing.T) {
	resp := textResponse("first", genai.FinishReasonStop)
	resp.Candidates = append(resp.Candidates, gemini.Candidate{
		Content: gemini.Content{Role: genai.RoleModel, Parts: []gemini.Part{{Text: "second"}}},
		Index:   1,
	})

	out := FromResponse(resp, "gemini-2.5-pro")
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "first", *out.Choices[0].Message.Content)
}

func TestFromResponse_ToolCalls(t *testing.T) {
	resp := &gemini.GenerateContentResponse{
		Candidates: []gemini.Candidate{{
			Content: gemini.Content{
				Role: genai.RoleModel,
				Parts: []gemini.Part{{
					FunctionCall: &gemini.FunctionCall{
						Name: "get_weather",
						Args: map[string]any{"city": "London"},
					},
				}},
			},
			FinishReason: genai.FinishReasonStop,
		}},
	}

	out := FromResponse(resp, "gemini-2.5-pro")
	choice := out.Choices[0]

	// Tool-call-only response: content is null, finish reason forced.
	assert.Nil(t, choice.Message.Content)
	require.NotNil(t, choice.FinishReason)
	assert.Equal(t, "tool_calls", *choice.FinishReason)

	require.Len(t, choice.Message.ToolCalls, 1)
	call := choice.Message.ToolCalls[0]
	assert.True(t, strings.HasPrefix(call.ID, "call_"))
	assert.Equal(t, "function", call.Type)
	assert.Equal(t, "get_weather", call.Function.Name)

	var args map[string]any
	require.NoError(t, json.Unmarshal([]byte(call.Function.Arguments), &args))
	assert.Equal(t, map[string]any{"city": "London"}, args)
}

func TestFromResponse_ToolCallsWithText(t *testing.T) {
	resp := &gemini.GenerateContentResponse{
		Candidates: []gemini.Candidate{{
			Content: gemini.Content{
				Role: genai.RoleModel,
				Parts: []gemini.Part{
					{Text: "Looking it up."},
					{FunctionCall: &gemini.FunctionCall{Name: "get_weather"}},
				},
			},
		}},
	}

	out := FromResponse(resp, "gemini-2.5-pro")
	choice := out.Choices[0]
	require.NotNil(t, choice.Message.Content)
	assert.Equal(t, "Looking it up.", *choice.Message.Content)
	assert.Equal(t, "tool_calls", *choice.FinishReason)
	assert.Equal(t, "{}", choice.Message.ToolCalls[0].Function.Arguments)
}

func TestMapFinishReason(t *testing.T) {
	cases := []struct {
		in   genai.FinishReason
		want string
	}{
		{genai.FinishReasonStop, "stop"},
		{genai.FinishReasonMaxTokens, "length"},
		{genai.FinishReasonSafety, "content_filter"},
		{genai.FinishReasonRecitation, "content_filter"},
		{genai.FinishReasonLanguage, "content_filter"},
		{genai.FinishReasonBlocklist, "content_filter"},
		{genai.FinishReasonProhibitedContent, "content_filter"},
		{genai.FinishReasonSPII, "content_filter"},
		{genai.FinishReasonMalformedFunctionCall, "stop"},
		{genai.FinishReason("SOMETHING_NEW"), "stop"},
	}
	for _, tc := range cases {
		got := mapFinishReason(tc.in)
		require.NotNil(t, got, "reason %s", tc.in)
		assert.Equal(t, tc.want, *got, "reason %s", tc.in)
	}

	assert.Nil(t, mapFinishReason(""))
}
