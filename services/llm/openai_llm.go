package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// OpenAICompatClient talks to any backend speaking the OpenAI chat completion
// wire format. Groq exposes the same API surface, so both providers share
// this client and differ only in base URL, credentials, and default model.
type OpenAICompatClient struct {
	client  *openai.Client
	model   string
	backend string
}

// NewGroqClient builds a client for the Groq OpenAI-compatible endpoint.
func NewGroqClient() (*OpenAICompatClient, error) {
	apiKey, err := readSecret("GROQ_API_KEY")
	if err != nil {
		return nil, err
	}
	model := os.Getenv("GENERATION_MODEL")
	if model == "" {
		model = "llama-3.3-70b-versatile"
		slog.Warn("GENERATION_MODEL not set, defaulting to llama-3.3-70b-versatile")
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = groqBaseURL
	cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	slog.Info("Initializing Groq client", "model", model)
	return &OpenAICompatClient{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		backend: "groq",
	}, nil
}

// NewOpenAIClient builds a client for the hosted OpenAI API.
func NewOpenAIClient() (*OpenAICompatClient, error) {
	apiKey, err := readSecret("OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}
	model := os.Getenv("GENERATION_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("GENERATION_MODEL not set, defaulting to gpt-4o-mini")
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAICompatClient{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		backend: "openai",
	}, nil
}

// readSecret resolves a credential from the environment, falling back to the
// matching Podman secret file under /run/secrets.
func readSecret(envVar string) (string, error) {
	value := os.Getenv(envVar)
	if value != "" {
		return value, nil
	}
	secretPath := "/run/secrets/" + strings.ToLower(envVar)
	raw, err := os.ReadFile(secretPath)
	if err == nil {
		slog.Info("Read API key from Podman secrets", "env", envVar)
		return strings.TrimSpace(string(raw)), nil
	}
	slog.Error("API key not set and secret not found", "env", envVar, "path", secretPath)
	return "", fmt.Errorf("%s environment variable not set", envVar)
}

// Generate implements the LLMClient interface
func (o *OpenAICompatClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	slog.Debug("Generating text", "backend", o.backend, "model", o.model)
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if params.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: params.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	if params.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("Chat completion call failed", "backend", o.backend, "error", err)
		return "", fmt.Errorf("%s API call failed: %w", o.backend, err)
	}

	if len(resp.Choices) == 0 {
		slog.Warn("Chat completion returned no choices", "backend", o.backend)
		return "", fmt.Errorf("%s returned no choices", o.backend)
	}
	slog.Debug("Received chat completion", "backend", o.backend, "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
