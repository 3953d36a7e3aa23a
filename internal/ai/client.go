// Package ai talks to LLM chat endpoints and fans requests out through a
// bounded pool with retries and an optional response cache.
package ai

import "context"

// Message is one history entry. Kind is "system", "human" or "ai".
type Message struct {
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

// Request is a single chat completion call.
type Request struct {
	Name          string    `json:"name"`
	SystemMessage string    `json:"system_message"`
	History       []Message `json:"history"`
	Prompt        string    `json:"prompt"`
}

// Reply is the completion text plus the AI messages to append to history.
type Reply struct {
	Text       string   `json:"response_text"`
	AIMessages []string `json:"ai_messages"`
}

// ChatClient performs one request. Implementations must honour ctx and
// report failures wrapping errs.ErrLLMTimeout, errs.ErrLLMTransport or
// errs.ErrPolicyRefusal.
type ChatClient interface {
	Request(ctx context.Context, r Request) (Reply, error)
}
