package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"gemini-bridge/internal/gemini"
)

// Convert maps the OpenAI message sequence onto Gemini contents. System
// messages are concatenated into the returned instruction string and never
// appear in the content sequence.
func Convert(req *ChatCompletionRequest) (systemInstruction string, contents []gemini.Content, err error) {
	var sysParts []string
	for i, msg := range req.Messages {
		switch msg.Role {
		case "system":
			sysParts = append(sysParts, textContent(msg.Content))

		case "user":
			contents = append(contents, gemini.Content{
				Role:  genai.RoleUser,
				Parts: []gemini.Part{{Text: textContent(msg.Content)}},
			})

		case "assistant":
			var parts []gemini.Part
			if text := textContent(msg.Content); text != "" {
				parts = append(parts, gemini.Part{Text: text})
			}
			for _, call := range msg.ToolCalls {
				args, parseErr := parseCallArguments(call.Function.Arguments)
				if parseErr != nil {
					return "", nil, fmt.Errorf("message[%d]: tool call %q: %w", i, call.Function.Name, parseErr)
				}
				parts = append(parts, gemini.Part{
					FunctionCall: &gemini.FunctionCall{Name: call.Function.Name, Args: args},
				})
			}
			contents = append(contents, gemini.Content{Role: genai.RoleModel, Parts: parts})

		case "tool":
			name := msg.Name
			if name == "" {
				name = "unknown"
			}
			contents = append(contents, gemini.Content{
				Role: genai.RoleUser,
				Parts: []gemini.Part{{
					FunctionResponse: &gemini.FunctionResponse{
						Name:     name,
						Response: toolResponse(textContent(msg.Content)),
					},
				}},
			})

		default:
			return "", nil, fmt.Errorf("message[%d]: unsupported role %q", i, msg.Role)
		}
	}
	return strings.Join(sysParts, "\n"), contents, nil
}

// BuildRequest assembles the full backend request body: contents, system
// instruction, tool declarations, tool config, and generation config.
func BuildRequest(req *ChatCompletionRequest) (*gemini.GenerateContentRequest, error) {
	system, contents, err := Convert(req)
	if err != nil {
		return nil, err
	}

	out := &gemini.GenerateContentRequest{Contents: contents}
	if system != "" {
		out.SystemInstruction = &gemini.SystemInstruction{Parts: []gemini.Part{{Text: system}}}
	}

	if len(req.Tools) > 0 {
		decls := make([]gemini.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decls = append(decls, gemini.FunctionDeclaration{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  tool.Function.Parameters,
			})
		}
		out.Tools = []gemini.Tool{{FunctionDeclarations: decls}}
	}

	toolConfig, err := convertToolChoice(req.ToolChoice)
	if err != nil {
		return nil, err
	}
	out.ToolConfig = toolConfig

	out.GenerationConfig = convertSampling(req)
	return out, nil
}

// textContent extracts the plain text from a message content value, which may
// be a string, null, or an array of typed parts. Only text-typed sub-parts
// contribute, joined with newlines.
func textContent(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var texts []string
		for _, part := range v {
			m, ok := part.(map[string]any)
			if !ok || m["type"] != "text" {
				continue
			}
			if text, ok := m["text"].(string); ok {
				texts = append(texts, text)
			}
		}
		return strings.Join(texts, "\n")
	default:
		return ""
	}
}

// parseCallArguments strictly parses the tool-call argument string. Malformed
// JSON is the caller's error and propagates.
func parseCallArguments(raw string) (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}
	return args, nil
}

// toolResponse shapes a tool-result string for the backend: JSON objects pass
// through, anything else is wrapped under a "result" key.
func toolResponse(content string) map[string]any {
	var parsed any
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return map[string]any{"result": content}
	}
	if obj, ok := parsed.(map[string]any); ok {
		return obj
	}
	return map[string]any{"result": parsed}
}

func convertToolChoice(raw json.RawMessage) (*gemini.ToolConfig, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		switch mode {
		case "none":
			return toolConfig(genai.FunctionCallingConfigModeNone, nil), nil
		case "auto":
			return toolConfig(genai.FunctionCallingConfigModeAuto, nil), nil
		case "required":
			return toolConfig(genai.FunctionCallingConfigModeAny, nil), nil
		default:
			return nil, fmt.Errorf("unsupported tool_choice %q", mode)
		}
	}

	var named namedToolChoice
	if err := json.Unmarshal(raw, &named); err != nil || named.Function.Name == "" {
		return nil, fmt.Errorf("malformed tool_choice")
	}
	return toolConfig(genai.FunctionCallingConfigModeAny, []string{named.Function.Name}), nil
}

func toolConfig(mode genai.FunctionCallingConfigMode, allowed []string) *gemini.ToolConfig {
	return &gemini.ToolConfig{
		FunctionCallingConfig: gemini.FunctionCallingConfig{
			Mode:                 mode,
			AllowedFunctionNames: allowed,
		},
	}
}

// convertSampling maps sampling parameters; the config is omitted entirely
// when none were set.
func convertSampling(req *ChatCompletionRequest) *gemini.GenerationConfig {
	cfg := &gemini.GenerationConfig{
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		MaxOutputTokens: req.MaxTokens,
		StopSequences:   parseStop(req.Stop),
	}
	if cfg.Temperature == nil && cfg.TopP == nil && cfg.MaxOutputTokens == nil && cfg.StopSequences == nil {
		return nil
	}
	return cfg
}

// parseStop normalizes the stop field, which may be a single string or an
// array of strings.
func parseStop(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}
