package llm

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConverseAPI struct {
	input  *bedrockruntime.ConverseInput
	output *bedrockruntime.ConverseOutput
	err    error
}

func (f *fakeConverseAPI) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = params
	return f.output, f.err
}

func converseOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role: brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: text},
				},
			},
		},
		StopReason: brtypes.StopReasonEndTurn,
		Usage: &brtypes.TokenUsage{
			InputTokens:  aws.Int32(120),
			OutputTokens: aws.Int32(40),
			TotalTokens:  aws.Int32(160),
		},
	}
}

func TestBedrockRequestDecision(t *testing.T) {
	api := &fakeConverseAPI{output: converseOutput(`{"action":"wait"}`)}
	client, err := NewBedrockDecisionClient(api, "anthropic.claude-3-5-haiku")
	require.NoError(t, err)

	resp, err := client.RequestDecision(context.Background(), DecisionRequest{
		System:    []string{"You are an autonomous agent.", ""},
		Prompt:    "decide",
		MaxTokens: 512,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"action":"wait"}`, string(resp.Raw))
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, int32(160), resp.Usage.TotalTokens)

	require.NotNil(t, api.input)
	assert.Equal(t, "anthropic.claude-3-5-haiku", *api.input.ModelId)
	assert.Len(t, api.input.System, 1)
	require.Len(t, api.input.Messages, 1)
	assert.Equal(t, brtypes.ConversationRoleUser, api.input.Messages[0].Role)
}

func TestBedrockRequestDecisionStripsFences(t *testing.T) {
	api := &fakeConverseAPI{output: converseOutput("```json\n{\"action\":\"meditate\"}\n```")}
	client, err := NewBedrockDecisionClient(api, "model-id")
	require.NoError(t, err)

	resp, err := client.RequestDecision(context.Background(), DecisionRequest{Prompt: "decide"})
	require.NoError(t, err)
	assert.Equal(t, `{"action":"meditate"}`, string(resp.Raw))
}

func TestBedrockRequestDecisionEmptyOutput(t *testing.T) {
	api := &fakeConverseAPI{output: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{}},
	}}
	client, err := NewBedrockDecisionClient(api, "model-id")
	require.NoError(t, err)

	_, err = client.RequestDecision(context.Background(), DecisionRequest{Prompt: "decide"})
	assert.Error(t, err)
}

func TestNewBedrockDecisionClientValidates(t *testing.T) {
	_, err := NewBedrockDecisionClient(nil, "model-id")
	assert.Error(t, err)

	_, err = NewBedrockDecisionClient(&fakeConverseAPI{}, " ")
	assert.Error(t, err)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
}
