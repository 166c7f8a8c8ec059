package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeConverser struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (f *fakeConverser) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = params
	return f.out, f.err
}

func TestBedrockGenerateContent(t *testing.T) {
	fake := &fakeConverser{out: &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Role: types.ConversationRoleAssistant,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberText{Value: `{"task_title":`},
				&types.ContentBlockMemberText{Value: ` "x"}`},
			},
		}},
		StopReason: types.StopReasonEndTurn,
		Usage:      &types.TokenUsage{InputTokens: aws.Int32(10), OutputTokens: aws.Int32(4)},
	}}
	b := &Bedrock{client: fake, model: "anthropic.claude-3-haiku"}

	resp, err := b.GenerateContent(context.Background(), []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, "be terse"),
		llms.TextParts(llms.ChatMessageTypeHuman, "make a scenario"),
	}, llms.WithMaxTokens(512))
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, `{"task_title": "x"}`, resp.Choices[0].Content)

	in, out := tokenUsage(resp.Choices[0].GenerationInfo)
	assert.Equal(t, int64(10), in)
	assert.Equal(t, int64(4), out)

	require.NotNil(t, fake.input)
	assert.Equal(t, "anthropic.claude-3-haiku", aws.ToString(fake.input.ModelId))
	require.Len(t, fake.input.System, 1)
	require.Len(t, fake.input.Messages, 1)
	assert.Equal(t, types.ConversationRoleUser, fake.input.Messages[0].Role)
	assert.Equal(t, int32(512), aws.ToInt32(fake.input.InferenceConfig.MaxTokens))
}

func TestBedrockModelOverride(t *testing.T) {
	fake := &fakeConverser{out: &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{}},
	}}
	b := &Bedrock{client: fake, model: "default"}

	_, err := b.GenerateContent(context.Background(), []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, "hi"),
	}, llms.WithModel("override"))
	require.NoError(t, err)
	assert.Equal(t, "override", aws.ToString(fake.input.ModelId))
}

func TestBedrockErrorsAreClassified(t *testing.T) {
	fake := &fakeConverser{err: &types.AccessDeniedException{Message: aws.String("no access to model")}}
	m := newModelFromLLM(&Bedrock{client: fake, model: "m"}, "m", 0, nil)

	_, err := m.GenerateWithSystem(context.Background(), "", "s", "u")
	assert.ErrorIs(t, err, ErrFatalAPI)

	var denied *types.AccessDeniedException
	assert.True(t, errors.As(err, &denied))
}
