package gpt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
)

// ErrEmptyResponse is returned when the API answers without choices.
var ErrEmptyResponse = errors.New("no response from GPT API")

// Message is one role-tagged prompt entry.
type Message struct {
	Role    string
	Content string
}

func System(content string) Message { return Message{Role: openai.ChatMessageRoleSystem, Content: content} }
func User(content string) Message   { return Message{Role: openai.ChatMessageRoleUser, Content: content} }

type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Client struct {
	client      completer
	model       string
	maxTokens   int
	temperature float32
	retries     int
	backoff     time.Duration
}

func NewClient(apiKey string) *Client {
	return &Client{
		client:      openai.NewClient(apiKey),
		model:       "gpt-4-turbo",
		maxTokens:   2500,
		temperature: 0.9,
		backoff:     2 * time.Second,
	}
}

func (c *Client) WithModel(model string) *Client {
	c.model = model
	return c
}

func (c *Client) WithMaxTokens(n int) *Client {
	c.maxTokens = n
	return c
}

func (c *Client) WithTemperature(t float32) *Client {
	c.temperature = t
	return c
}

// WithRetries sets how many extra attempts Generate makes after a failure.
func (c *Client) WithRetries(n int) *Client {
	c.retries = n
	return c
}

// Generate sends messages and returns the first choice. maxTokens <= 0 uses
// the client default.
func (c *Client) Generate(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		MaxTokens:   maxTokens,
		Temperature: c.temperature,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}

		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = ErrEmptyResponse
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("chat completion failed after %d attempt(s): %w", c.retries+1, lastErr)
}
