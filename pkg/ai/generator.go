package ai

import (
	"context"
	"errors"
	"io"
)

// ErrEmptyResponse is returned when a provider answers with no text.
var ErrEmptyResponse = errors.New("empty response from provider")

// TextGenerator generates text from a system prompt and user prompt.
// All LLM providers (OpenAI, Anthropic, failover) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// StreamRequest is a streamed chat completion request.
type StreamRequest struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// DeltaFunc receives streamed text fragments in order. Returning an error
// stops the stream.
type DeltaFunc func(delta string) error

// Reply is the outcome of a streamed completion.
type Reply struct {
	Text string
	// Provider names the backend that produced Text.
	Provider string
}

// ChatStreamer streams a chat completion and returns the full text.
type ChatStreamer interface {
	Name() string
	Stream(ctx context.Context, req StreamRequest, onDelta DeltaFunc) (Reply, error)
}

// Provider is a chat backend usable for both answers and companion messages.
type Provider interface {
	ChatStreamer
	TextGenerator
}

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}
