package bootstrap

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/dovetail-ai/attache/internal/config"
	"github.com/dovetail-ai/attache/internal/notify"
)

func TestBuildAgentRequiresConfig(t *testing.T) {
	_, err := BuildAgent(context.Background(), nil, nil)
	require.ErrorContains(t, err, "config is required")
}

func TestBuildDBPoolRequiresURL(t *testing.T) {
	_, err := BuildDBPool(context.Background(), &appconfig.Config{})
	require.ErrorContains(t, err, "DATABASE_URL")
}

func TestBuildRedisClientDisabledWithoutAddr(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, nil, false))
	assert.Nil(t, BuildRedisClient(context.Background(), nil, nil, false))
}

func TestBuildDecisionClientUnknownProvider(t *testing.T) {
	_, err := BuildDecisionClient(context.Background(), &appconfig.Config{LLMProvider: "carrier-pigeon"}, aws.Config{}, nil)
	require.ErrorContains(t, err, "unknown LLM provider")
}

func TestBuildDecisionClientBedrockRequiresModel(t *testing.T) {
	_, err := BuildDecisionClient(context.Background(), &appconfig.Config{LLMProvider: "bedrock"}, aws.Config{}, nil)
	require.Error(t, err)
}

func TestBuildEmailSenderFallsBackToStub(t *testing.T) {
	sender := BuildEmailSender(&appconfig.Config{}, aws.Config{}, nil)
	_, ok := sender.(*notify.StubEmailSender)
	assert.True(t, ok, "expected stub sender when nothing is configured")
}
