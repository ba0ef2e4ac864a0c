// Package openai adapts github.com/openai/openai-go to the oracle.Oracle
// contract, the same way oracle/anthropic wraps the Anthropic SDK. A single
// user/system prompt pair becomes one Chat Completions call; the first
// choice's message content is returned as the oracle's answer.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"goa.design/workflowcore/internal/oracle"
)

// ChatClient captures the subset of the OpenAI SDK used by the adapter.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// Client implements oracle.Oracle on top of OpenAI's Chat Completions API.
type Client struct {
	chat         ChatClient
	defaultModel string
}

// New builds an oracle backed by the given Chat Completions client.
func New(chat ChatClient, defaultModel string) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai client is required")
	}
	modelID := strings.TrimSpace(defaultModel)
	if modelID == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{chat: chat, defaultModel: modelID}, nil
}

// NewFromAPIKey constructs an oracle using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, defaultModel)
}

// Chat implements oracle.Oracle.
func (c *Client) Chat(ctx context.Context, userPrompt, systemPrompt string, opts oracle.Options) (string, error) {
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, sdk.SystemMessage(systemPrompt))
	}
	messages = append(messages, sdk.UserMessage(userPrompt))

	params := sdk.ChatCompletionNewParams{
		Model:    c.defaultModel,
		Messages: messages,
	}
	if opts.Temperature > 0 {
		params.Temperature = sdk.Float(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(opts.MaxTokens))
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
