package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mansoorceksport/fitsync/internal/config"
)

const (
	openRouterAPIURL = "https://openrouter.ai/api/v1/chat/completions"

	assistantSystemPrompt = `You are the fitsync training assistant. Answer questions about workouts, recovery and nutrition briefly and practically. You cannot read or change the user's workout log.`

	maxChatTurns = 20
)

var ErrAssistantDisabled = errors.New("assistant is not configured")

// ChatMessage is one turn of an assistant conversation
type ChatMessage struct {
	Role    string `json:"role" validate:"oneof=user assistant"`
	Content string `json:"content" validate:"required,max=4000"`
}

// Assistant forwards a conversation to an OpenRouter chat model and returns its reply.
// It is stateless and never touches workout data.
type Assistant struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

func NewAssistant(cfg config.OpenRouterConfig) *Assistant {
	return &Assistant{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		endpoint:   openRouterAPIURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Enabled reports whether an API key is configured
func (a *Assistant) Enabled() bool {
	return a.apiKey != ""
}

// Reply sends the most recent turns of history and returns the model's answer
func (a *Assistant) Reply(ctx context.Context, history []ChatMessage) (string, error) {
	if !a.Enabled() {
		return "", ErrAssistantDisabled
	}
	if len(history) > maxChatTurns {
		history = history[len(history)-maxChatTurns:]
	}

	messages := make([]map[string]string, 0, len(history)+1)
	messages = append(messages, map[string]string{"role": "system", "content": assistantSystemPrompt})
	for _, m := range history {
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}

	payload, err := json.Marshal(map[string]any{
		"model":       a.model,
		"messages":    messages,
		"temperature": 0.4,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Title", "fitsync")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openrouter api error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if apiResponse.Error != nil {
		return "", fmt.Errorf("openrouter error: %s (code: %d)", apiResponse.Error.Message, apiResponse.Error.Code)
	}
	if len(apiResponse.Choices) == 0 {
		return "", fmt.Errorf("no response from AI model")
	}
	return strings.TrimSpace(apiResponse.Choices[0].Message.Content), nil
}
