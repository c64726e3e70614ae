package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI calls the chat-completions REST endpoint. It is the fallback
// backend when Gemini exhausts its retry budget.
type OpenAI struct {
	apiKey      string
	baseURL     string
	temperature float64
	client      *http.Client
}

// NewOpenAI creates an OpenAI client. baseURL may be empty to use the public
// endpoint.
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAI{
		apiKey:      apiKey,
		baseURL:     baseURL,
		temperature: 0.9,
		client:      &http.Client{Timeout: 120 * time.Second},
	}
}

// Name returns the provider identifier.
func (o *OpenAI) Name() string { return "openai" }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// GenerateText runs a single chat completion against the named model.
func (o *OpenAI) GenerateText(ctx context.Context, model string, prompt string, maxOutputTokens int) (string, error) {
	body := openAIRequest{
		Model:       model,
		Messages:    []openAIMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxOutputTokens,
		Temperature: o.temperature,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal openai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil && resp.StatusCode == http.StatusOK {
		return "", fmt.Errorf("decode openai response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(raw)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", &Error{
			Provider: o.Name(),
			Model:    model,
			Kind:     kindFromStatus(resp.StatusCode),
			Status:   resp.StatusCode,
			Message:  msg,
		}
	}

	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", &Error{
			Provider: o.Name(),
			Model:    model,
			Kind:     KindUnknown,
			Status:   resp.StatusCode,
			Message:  "empty choice list in response",
		}
	}
	return parsed.Choices[0].Message.Content, nil
}
