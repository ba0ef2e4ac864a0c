package openai

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/workflowcore/internal/oracle"
)

type fakeChatClient struct {
	gotParams sdk.ChatCompletionNewParams
	resp      *sdk.ChatCompletion
	err       error
}

func (f *fakeChatClient) New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error) {
	f.gotParams = body
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestNewRejectsMissingClient(t *testing.T) {
	t.Parallel()
	_, err := New(nil, "gpt-4o")
	assert.Error(t, err)
}

func TestNewRejectsBlankModel(t *testing.T) {
	t.Parallel()
	_, err := New(&fakeChatClient{}, "   ")
	assert.Error(t, err)
}

func TestChatPropagatesSDKError(t *testing.T) {
	t.Parallel()
	boom := errors.New("timeout")
	c, err := New(&fakeChatClient{err: boom}, "gpt-4o")
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "hi", "sys", oracle.Options{})
	assert.ErrorIs(t, err, boom)
}

func TestChatRejectsEmptyChoices(t *testing.T) {
	t.Parallel()
	c, err := New(&fakeChatClient{resp: &sdk.ChatCompletion{}}, "gpt-4o")
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "hi", "", oracle.Options{})
	assert.Error(t, err)
}

func TestChatForwardsModelAndMessages(t *testing.T) {
	t.Parallel()
	fake := &fakeChatClient{resp: &sdk.ChatCompletion{
		Choices: []sdk.ChatCompletionChoice{
			{Message: sdk.ChatCompletionMessage{Content: "hello there"}},
		},
	}}
	c, err := New(fake, "gpt-4o")
	require.NoError(t, err)

	out, err := c.Chat(context.Background(), "hi", "be terse", oracle.Options{MaxTokens: 256})
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)
	assert.Equal(t, "gpt-4o", fake.gotParams.Model)
	assert.Len(t, fake.gotParams.Messages, 2)
}
