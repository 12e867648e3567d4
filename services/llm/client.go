package llm

import "context"

type GenerationParams struct {
	Temperature  *float32 `json:"temperature"`
	TopK         *int     `json:"top_k"`
	TopP         *float32 `json:"top_p"`
	MaxTokens    *int     `json:"max_tokens"`
	Stop         []string `json:"stop"`
	SystemPrompt string   `json:"system_prompt"`
	JSONMode     bool     `json:"json_mode"`
}

// LLMClient defines the standard interface for any LLM backend
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}
