package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel       = openai.GPT4oMini
	defaultTranscribeModel   = openai.Whisper1
	defaultOpenAIHTTPTimeout = 120 * time.Second
)

// OpenAIConfig configures the OpenAI client. BaseURL may point at any
// OpenAI-compatible endpoint and must include the /v1 prefix.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	TranscribeModel string
	HTTPClient      *http.Client
}

// OpenAIClient streams chat completions and transcribes audio.
type OpenAIClient struct {
	client          *openai.Client
	model           string
	transcribeModel string
}

// NewOpenAIClient builds an OpenAI provider.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai api key required")
	}
	conf := openai.DefaultConfig(apiKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		conf.BaseURL = base
	}
	if cfg.HTTPClient != nil {
		conf.HTTPClient = cfg.HTTPClient
	} else {
		conf.HTTPClient = &http.Client{Timeout: defaultOpenAIHTTPTimeout}
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	transcribeModel := strings.TrimSpace(cfg.TranscribeModel)
	if transcribeModel == "" {
		transcribeModel = defaultTranscribeModel
	}
	return &OpenAIClient{
		client:          openai.NewClientWithConfig(conf),
		model:           model,
		transcribeModel: transcribeModel,
	}, nil
}

func (c *OpenAIClient) Name() string { return "openai" }

// Stream implements ChatStreamer.
func (c *OpenAIClient) Stream(ctx context.Context, req StreamRequest, onDelta DeltaFunc) (Reply, error) {
	reply := Reply{Provider: c.Name()}
	stream, err := c.client.CreateChatCompletionStream(ctx, c.request(req))
	if err != nil {
		return reply, fmt.Errorf("openai stream: %w", err)
	}
	defer stream.Close()

	var out strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			reply.Text = out.String()
			return reply, fmt.Errorf("openai stream recv: %w", err)
		}
		for _, choice := range chunk.Choices {
			delta := choice.Delta.Content
			if delta == "" {
				continue
			}
			out.WriteString(delta)
			if onDelta != nil {
				if err := onDelta(delta); err != nil {
					reply.Text = out.String()
					return reply, err
				}
			}
		}
	}
	if strings.TrimSpace(out.String()) == "" {
		return reply, ErrEmptyResponse
	}
	reply.Text = out.String()
	return reply, nil
}

// GenerateText implements TextGenerator with a non-streamed completion.
func (c *OpenAIClient) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.request(StreamRequest{
		System:   systemPrompt,
		Messages: []Message{{Role: "user", Content: userPrompt}},
	}))
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Transcribe implements Transcriber with Whisper.
func (c *OpenAIClient) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcribeModel,
		FilePath: filename,
		Reader:   audio,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (c *OpenAIClient) request(req StreamRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}
