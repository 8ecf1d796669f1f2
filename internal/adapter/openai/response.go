package openai

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"gemini-bridge/internal/gemini"
)

const (
	finishStop          = "stop"
	finishLength        = "length"
	finishContentFilter = "content_filter"
	finishToolCalls     = "tool_calls"
)

// FromResponse converts a completed backend response into an OpenAI
// completion. Only the first candidate is considered; additional candidates
// are dropped.
func FromResponse(resp *gemini.GenerateContentResponse, model string) *ChatCompletion {
	out := &ChatCompletion{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
	}

	msg := ResponseMessage{Role: "assistant"}
	var finish *string

	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		text, calls := collectParts(cand.Content.Parts)

		if len(calls) > 0 {
			msg.ToolCalls = calls
			if text != "" {
				msg.Content = &text
			}
			finish = strPtr(finishToolCalls)
		} else {
			msg.Content = &text
			finish = mapFinishReason(cand.FinishReason)
		}
	}

	out.Choices = []Choice{{Index: 0, Message: msg, FinishReason: finish}}

	if resp.UsageMetadata != nil {
		out.Usage = &Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return out
}

// collectParts concatenates text parts and synthesizes one tool call per
// function-call part, each with a fresh identifier and re-stringified
// arguments.
func collectParts(parts []gemini.Part) (text string, calls []ToolCall) {
	for _, part := range parts {
		if part.Text != "" {
			text += part.Text
		}
		if part.FunctionCall != nil {
			calls = append(calls, NewToolCall(part.FunctionCall))
		}
	}
	return text, calls
}

// NewToolCall synthesizes an OpenAI tool call from a backend function call.
func NewToolCall(call *gemini.FunctionCall) ToolCall {
	args := "{}"
	if call.Args != nil {
		if raw, err := json.Marshal(call.Args); err == nil {
			args = string(raw)
		}
	}
	return ToolCall{
		ID:       "call_" + uuid.NewString(),
		Type:     "function",
		Function: ToolCallFunction{Name: call.Name, Arguments: args},
	}
}

// mapFinishReason translates backend finish reasons. Unrecognized values map
// to "stop"; an absent reason stays null.
func mapFinishReason(reason genai.FinishReason) *string {
	switch reason {
	case "":
		return nil
	case genai.FinishReasonStop:
		return strPtr(finishStop)
	case genai.FinishReasonMaxTokens:
		return strPtr(finishLength)
	case genai.FinishReasonSafety,
		genai.FinishReasonRecitation,
		genai.FinishReasonLanguage,
		genai.FinishReasonBlocklist,
		genai.FinishReasonProhibitedContent,
		genai.FinishReasonSPII:
		return strPtr(finishContentFilter)
	case genai.FinishReasonMalformedFunctionCall:
		return strPtr(finishStop)
	default:
		return strPtr(finishStop)
	}
}

func strPtr(s string) *string { return &s }
