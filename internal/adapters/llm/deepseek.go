// Package llm provides the generation adapter for an OpenAI-compatible
// chat-completions API (DeepSeek in production). Failures are
// classified at this boundary into transient, permanent and
// not-configured kinds; callers branch on the kind, never on message
// text.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"sweetseek/internal/domain/ports"
)

// DeepSeekAdapter implements ports.Generator against an
// OpenAI-compatible chat API.
type DeepSeekAdapter struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
	logger      *slog.Logger
}

// NewDeepSeekAdapter creates a generation adapter. An empty apiKey is
// allowed; Generate then fails with a not-configured error.
func NewDeepSeekAdapter(baseURL, apiKey, model string, logger *slog.Logger) *DeepSeekAdapter {
	if baseURL == "" {
		baseURL = "https://api.deepseek.com"
	}
	if model == "" {
		model = "deepseek-chat"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeepSeekAdapter{
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		temperature: 0.7,
		maxTokens:   2000,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate sends one chat completion request and returns the answer
// text. The returned error, if any, is a *ports.GenerationError.
func (a *DeepSeekAdapter) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if a.apiKey == "" {
		return "", &ports.GenerationError{
			Kind: ports.GenerationNotConfigured,
			Err:  errors.New("missing API key"),
		}
	}

	reqBody := chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", &ports.GenerationError{Kind: ports.GenerationPermanent, Err: fmt.Errorf("marshaling request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", &ports.GenerationError{Kind: ports.GenerationPermanent, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// Network-level failures are expected to resolve with retry.
		return "", &ports.GenerationError{Kind: ports.GenerationTransient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := ports.GenerationPermanent
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = ports.GenerationTransient
		}
		a.logger.Warn("generation request failed", "status", resp.StatusCode, "kind", kind)
		return "", &ports.GenerationError{
			Kind: kind,
			Err:  fmt.Errorf("upstream returned status %d", resp.StatusCode),
		}
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", &ports.GenerationError{Kind: ports.GenerationPermanent, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if chatResp.Error != nil {
		return "", &ports.GenerationError{
			Kind: ports.GenerationPermanent,
			Err:  fmt.Errorf("upstream error: %s", chatResp.Error.Message),
		}
	}
	if len(chatResp.Choices) == 0 {
		return "", &ports.GenerationError{Kind: ports.GenerationPermanent, Err: errors.New("upstream returned no choices")}
	}

	return chatResp.Choices[0].Message.Content, nil
}
