package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/tmc/langchaingo/llms"
)

// converser is the subset of the Bedrock runtime client used here.
type converser interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Bedrock implements llms.Model on the Bedrock Converse API.
type Bedrock struct {
	client converser
	model  string
}

var _ llms.Model = (*Bedrock)(nil)

// NewBedrock creates a Bedrock model using the default AWS credential chain.
func NewBedrock(ctx context.Context, region, model string) (*Bedrock, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Bedrock{client: bedrockruntime.NewFromConfig(cfg), model: model}, nil
}

// GenerateContent sends messages as one Converse request. System messages
// become the system prompt; human and AI messages keep their order.
func (b *Bedrock) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{Model: b.model}
	for _, o := range options {
		o(&opts)
	}

	input := &bedrockruntime.ConverseInput{ModelId: aws.String(opts.Model)}
	for _, msg := range messages {
		text := textOf(msg)
		switch msg.Role {
		case llms.ChatMessageTypeSystem:
			input.System = append(input.System, &types.SystemContentBlockMemberText{Value: text})
		case llms.ChatMessageTypeAI:
			input.Messages = append(input.Messages, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text}},
			})
		default:
			input.Messages = append(input.Messages, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text}},
			})
		}
	}

	inference := &types.InferenceConfiguration{}
	if opts.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(int32(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		inference.Temperature = aws.Float32(float32(opts.Temperature))
	}
	input.InferenceConfig = inference

	out, err := b.client.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock converse: %w", err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, fmt.Errorf("bedrock converse: unexpected output type %T", out.Output)
	}

	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(t.Value)
		}
	}

	info := map[string]any{}
	if out.Usage != nil {
		info["InputTokens"] = int(aws.ToInt32(out.Usage.InputTokens))
		info["OutputTokens"] = int(aws.ToInt32(out.Usage.OutputTokens))
	}

	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        sb.String(),
		StopReason:     string(out.StopReason),
		GenerationInfo: info,
	}}}, nil
}

// Call implements the single prompt form of llms.Model.
func (b *Bedrock) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, b, prompt, options...)
}

func textOf(msg llms.MessageContent) string {
	var sb strings.Builder
	for _, part := range msg.Parts {
		if t, ok := part.(llms.TextContent); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}
