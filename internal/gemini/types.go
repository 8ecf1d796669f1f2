package gemini

import "google.golang.org/genai"

// Content is a single turn in a Gemini conversation.
type Content struct {
	Role  genai.Role `json:"role"` // "user" | "model"
	Parts []Part     `json:"parts"`
}

// Part carries exactly one of: text, a function call, or a function response.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

// FunctionCall is the model asking for a tool invocation.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse carries a tool result back to the model.
type FunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// SystemInstruction carries the system prompt.
type SystemInstruction struct {
	Parts []Part `json:"parts"`
}

// FunctionDeclaration describes one callable tool. Parameters is a free-form
// JSON-schema object passed through untouched.
type FunctionDeclaration struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// Tool groups function declarations.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
}

// FunctionCallingConfig selects the tool-calling mode.
type FunctionCallingConfig struct {
	Mode                 genai.FunctionCallingConfigMode `json:"mode"`
	AllowedFunctionNames []string                        `json:"allowedFunctionNames,omitempty"`
}

// ToolConfig wraps the function-calling configuration.
type ToolConfig struct {
	FunctionCallingConfig FunctionCallingConfig `json:"functionCallingConfig"`
}

// GenerationConfig holds sampling parameters. Only set fields are sent.
type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// GenerateContentRequest is the inner Gemini request.
type GenerateContentRequest struct {
	Contents          []Content          `json:"contents"`
	SystemInstruction *SystemInstruction `json:"systemInstruction,omitempty"`
	Tools             []Tool             `json:"tools,omitempty"`
	ToolConfig        *ToolConfig        `json:"toolConfig,omitempty"`
	GenerationConfig  *GenerationConfig  `json:"generationConfig,omitempty"`
}

// envelope is the Code Assist wrapper around the inner request.
type envelope struct {
	Model   string                  `json:"model"`
	Project string                  `json:"project"`
	Request *GenerateContentRequest `json:"request"`
}

// Candidate is one response candidate.
type Candidate struct {
	Content      Content           `json:"content"`
	FinishReason genai.FinishReason `json:"finishReason,omitempty"`
	Index        int               `json:"index,omitempty"`
}

// UsageMetadata carries token counts.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// GenerateContentResponse is the unwrapped Gemini response, blocking or one
// streamed partial.
type GenerateContentResponse struct {
	Candidates    []Candidate    `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// responseEnvelope is the Code Assist wrapper around responses.
type responseEnvelope struct {
	Response *GenerateContentResponse `json:"response"`
}

// loadCodeAssistRequest bootstraps the Code Assist session and resolves the
// effective project id.
type loadCodeAssistRequest struct {
	CloudAICompanionProject string         `json:"cloudaicompanionProject,omitempty"`
	Metadata                map[string]any `json:"metadata,omitempty"`
}

type loadCodeAssistResponse struct {
	CloudAICompanionProject string `json:"cloudaicompanionProject,omitempty"`
}

// quotaBucket is one raw quota measurement from :retrieveUserQuota.
type quotaBucket struct {
	ModelID           string  `json:"modelId"`
	RemainingFraction float64 `json:"remainingFraction"`
	ResetTime         string  `json:"resetTime,omitempty"` // RFC 3339
}

type retrieveUserQuotaResponse struct {
	Buckets []quotaBucket `json:"buckets"`
}

// backendError mirrors the structured error body returned by the backend.
type backendError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay,omitempty"`
		} `json:"details"`
	} `json:"error"`
}
