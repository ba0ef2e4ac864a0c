// Package bedrock adapts github.com/aws/aws-sdk-go-v2's bedrockruntime
// Converse API to the oracle.Oracle contract. It translates a single user
// prompt plus optional system prompt into one non-streaming Converse call and
// returns the concatenated text content, the same narrowing the teacher's
// features/model/bedrock adapter applies ahead of its own richer
// tool-use/streaming pipeline — this adapter only needs the plain
// text-in/text-out slice of that surface.
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"goa.design/workflowcore/internal/oracle"
)

// RuntimeClient captures the subset of the Bedrock runtime client used by the
// adapter, so tests can substitute a fake without live AWS credentials.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client implements oracle.Oracle on top of AWS Bedrock's Converse API.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTokens    int
}

// New builds an oracle backed by the given Bedrock runtime client.
func New(runtime RuntimeClient, defaultModel string, maxTokens int) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{runtime: runtime, defaultModel: defaultModel, maxTokens: maxTokens}, nil
}

// Chat implements oracle.Oracle.
func (c *Client) Chat(ctx context.Context, userPrompt, systemPrompt string, opts oracle.Options) (string, error) {
	maxTokens := int32(c.maxTokens)
	if opts.MaxTokens > 0 {
		maxTokens = int32(opts.MaxTokens)
	}
	params := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.defaultModel),
		Messages: []brtypes.Message{
			{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: userPrompt},
				},
			},
		},
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens: aws.Int32(maxTokens),
		},
	}
	if systemPrompt != "" {
		params.System = []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: systemPrompt},
		}
	}
	if opts.Temperature > 0 {
		params.InferenceConfig.Temperature = aws.Float32(float32(opts.Temperature))
	}

	out, err := c.runtime.Converse(ctx, params)
	if err != nil {
		return "", fmt.Errorf("bedrock converse: %w", err)
	}
	output, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("bedrock converse: response carried no message")
	}
	var text string
	for _, block := range output.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}
	return text, nil
}
