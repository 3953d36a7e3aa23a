package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/yanghanggit/ai-rpg-sub004/internal/errs"
)

// DefaultBaseURL is the OpenRouter chat completions endpoint.
const DefaultBaseURL = "https://openrouter.ai/api/v1/chat/completions"

// DefaultModel is used when no model is configured.
const DefaultModel = "z-ai/glm-4.6:exacto"

// AvailableModels is the list of selectable models
var AvailableModels = []string{
	"deepseek/deepseek-v3.1-terminus:exacto",
	"openai/gpt-oss-120b:exacto",
	"qwen/qwen3-coder:exacto",
	"moonshotai/kimi-k2-0905:exacto",
	"z-ai/glm-4.6:exacto",
}

// ChatMessage for the API
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest to OpenRouter
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// ChatResponse (non-streaming)
type ChatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// OpenRouterClient talks to an OpenAI-compatible chat completions endpoint.
type OpenRouterClient struct {
	APIKey  string
	BaseURL string
	Model   string
	HTTP    *http.Client
}

// NewOpenRouterClient returns a client with defaults filled in.
func NewOpenRouterClient(apiKey, baseURL, model string) *OpenRouterClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &OpenRouterClient{APIKey: apiKey, BaseURL: baseURL, Model: model, HTTP: http.DefaultClient}
}

// Request makes a non-streaming chat completion
func (c *OpenRouterClient) Request(ctx context.Context, r Request) (Reply, error) {
	messages := make([]ChatMessage, 0, len(r.History)+2)
	if r.SystemMessage != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: r.SystemMessage})
	}
	for _, m := range r.History {
		messages = append(messages, ChatMessage{Role: roleOf(m.Kind), Content: m.Content})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: r.Prompt})

	body, err := json.Marshal(ChatRequest{Model: c.Model, Messages: messages})
	if err != nil {
		return Reply{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return Reply{}, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, classifyTransport(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		return Reply{}, classifyStatus(resp.StatusCode, respBody)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return Reply{}, errs.Wrap(errs.ErrLLMTransport, "ai", err, "unmarshal response")
	}
	if chatResp.Error != nil {
		return Reply{}, classifyStatus(chatResp.Error.Code, []byte(chatResp.Error.Message))
	}
	if len(chatResp.Choices) == 0 {
		return Reply{}, errs.New(errs.ErrValidation, "ai", "response %s has no choices", chatResp.ID)
	}

	choice := chatResp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return Reply{}, errs.New(errs.ErrPolicyRefusal, "ai", "completion stopped by content filter")
	}
	text := strings.TrimSpace(choice.Message.Content)
	return Reply{Text: text, AIMessages: []string{text}}, nil
}

func roleOf(kind string) string {
	switch kind {
	case "ai":
		return "assistant"
	case "system":
		return "system"
	default:
		return "user"
	}
}

func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errs.Wrap(errs.ErrLLMTimeout, "ai", err, "request deadline exceeded")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Wrap(errs.ErrLLMTimeout, "ai", err, "network timeout")
	}
	return errs.Wrap(errs.ErrLLMTransport, "ai", err, "do request")
}

var refusalMarkers = []string{"moderation", "flagged", "content policy", "safety"}

func classifyStatus(status int, body []byte) error {
	msg := string(body)
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return errs.New(errs.ErrLLMTransport, "ai", "API error %d: %s", status, msg)
	case status == http.StatusBadRequest || status == http.StatusForbidden:
		lower := strings.ToLower(msg)
		for _, m := range refusalMarkers {
			if strings.Contains(lower, m) {
				return errs.New(errs.ErrPolicyRefusal, "ai", "API refused %d: %s", status, msg)
			}
		}
	}
	return errs.New(errs.ErrValidation, "ai", "API error %d: %s", status, msg)
}
