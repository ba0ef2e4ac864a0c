package bedrock

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/workflowcore/internal/oracle"
)

type fakeRuntimeClient struct {
	gotParams *bedrockruntime.ConverseInput
	out       *bedrockruntime.ConverseOutput
	err       error
}

func (f *fakeRuntimeClient) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.gotParams = params
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func TestNewRejectsMissingRuntime(t *testing.T) {
	t.Parallel()
	_, err := New(nil, "anthropic.claude-3", 0)
	assert.Error(t, err)
}

func TestNewRejectsMissingModel(t *testing.T) {
	t.Parallel()
	_, err := New(&fakeRuntimeClient{}, "", 0)
	assert.Error(t, err)
}

func TestNewDefaultsMaxTokens(t *testing.T) {
	t.Parallel()
	c, err := New(&fakeRuntimeClient{}, "anthropic.claude-3", 0)
	require.NoError(t, err)
	assert.Equal(t, 4096, c.maxTokens)
}

func TestChatPropagatesRuntimeError(t *testing.T) {
	t.Parallel()
	boom := errors.New("throttled")
	c, err := New(&fakeRuntimeClient{err: boom}, "anthropic.claude-3", 1024)
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "hi", "sys", oracle.Options{})
	assert.ErrorIs(t, err, boom)
}

func TestChatExtractsTextAndForwardsSystemPrompt(t *testing.T) {
	t.Parallel()
	fake := &fakeRuntimeClient{
		out: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{
					Role: brtypes.ConversationRoleAssistant,
					Content: []brtypes.ContentBlock{
						&brtypes.ContentBlockMemberText{Value: "hello"},
					},
				},
			},
		},
	}
	c, err := New(fake, "anthropic.claude-3", 1024)
	require.NoError(t, err)

	text, err := c.Chat(context.Background(), "hi", "be terse", oracle.Options{Temperature: 0.2, MaxTokens: 512})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	require.Len(t, fake.gotParams.System, 1)
	sysBlock, ok := fake.gotParams.System[0].(*brtypes.SystemContentBlockMemberText)
	require.True(t, ok)
	assert.Equal(t, "be terse", sysBlock.Value)
}

func TestChatErrorsWhenResponseCarriesNoMessage(t *testing.T) {
	t.Parallel()
	fake := &fakeRuntimeClient{out: &bedrockruntime.ConverseOutput{}}
	c, err := New(fake, "anthropic.claude-3", 1024)
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "hi", "", oracle.Options{})
	assert.Error(t, err)
}
