package llm

import "context"

// TokenUsage reports the token counts of one model call.
type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// DecisionRequest asks the model for one structured decision.
type DecisionRequest struct {
	System      []string
	Prompt      string
	MaxTokens   int32
	Temperature float32
}

// DecisionResponse carries the raw decision JSON plus usage accounting. Raw is
// handed to the decision parser unmodified beyond markdown fence stripping.
type DecisionResponse struct {
	Raw        []byte
	StopReason string
	Usage      TokenUsage
}

// DecisionClient is the model boundary for decision requests.
type DecisionClient interface {
	RequestDecision(ctx context.Context, req DecisionRequest) (DecisionResponse, error)
	Provider() string
}
