package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiDecisionClient requests decisions through Google's Gemini API.
type GeminiDecisionClient struct {
	client  *genai.Client
	modelID string
}

func NewGeminiDecisionClient(ctx context.Context, apiKey, modelID string) (*GeminiDecisionClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llm: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("llm: failed to create gemini client: %w", err)
	}

	return &GeminiDecisionClient{client: client, modelID: modelID}, nil
}

func (c *GeminiDecisionClient) Provider() string { return "gemini" }

func (c *GeminiDecisionClient) RequestDecision(ctx context.Context, req DecisionRequest) (DecisionResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return DecisionResponse{}, errors.New("llm: decision prompt is required")
	}

	model := c.client.GenerativeModel(c.modelID)
	if req.Temperature >= 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}
	if len(req.System) > 0 {
		systemText := strings.Join(req.System, "\n\n")
		if strings.TrimSpace(systemText) != "" {
			model.SystemInstruction = genai.NewUserContent(genai.Text(systemText))
		}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return DecisionResponse{}, fmt.Errorf("llm: gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return DecisionResponse{}, errors.New("llm: gemini returned no candidates")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return DecisionResponse{}, errors.New("llm: gemini returned empty content")
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return DecisionResponse{}, errors.New("llm: gemini response contained no text parts")
	}

	out := DecisionResponse{
		Raw:        []byte(stripFences(text.String())),
		StopReason: candidate.FinishReason.String(),
	}
	if resp.UsageMetadata != nil {
		out.Usage = TokenUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		}
	}
	return out, nil
}

// Close releases resources held by the Gemini client.
func (c *GeminiDecisionClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
