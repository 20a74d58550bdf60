package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dovetail-ai/attache/internal/decision"
	"github.com/dovetail-ai/attache/pkg/logging"
)

// Messenger delivers outbound text to the chat transport. The transport's
// delivery guarantees are its own concern.
type Messenger interface {
	SendMessage(ctx context.Context, text string) error
}

// WaitHandler is the no-op fallback action: observe, do nothing this cycle.
type WaitHandler struct{}

func (WaitHandler) Name() string { return DefaultAction }

func (WaitHandler) Execute(_ context.Context, d *decision.Decision) (Result, error) {
	summary := "waited"
	if d != nil && d.Reasoning != "" {
		summary = "waited: " + d.Reasoning
	}
	return Result{Action: DefaultAction, Summary: summary}, nil
}

// MeditateHandler is an internal reflection action with no external effect.
type MeditateHandler struct {
	logger *logging.Logger
}

func NewMeditateHandler(logger *logging.Logger) *MeditateHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &MeditateHandler{logger: logger}
}

func (*MeditateHandler) Name() string { return "meditate" }

func (h *MeditateHandler) Execute(_ context.Context, d *decision.Decision) (Result, error) {
	h.logger.Debug("meditation cycle", "reasoning", d.Reasoning)
	return Result{Action: "meditate", Summary: "reflected on recent cycles"}, nil
}

// CommunicateHandler sends a message to the human through the chat transport.
type CommunicateHandler struct {
	messenger Messenger
}

func NewCommunicateHandler(messenger Messenger) *CommunicateHandler {
	return &CommunicateHandler{messenger: messenger}
}

func (*CommunicateHandler) Name() string { return "communicate" }

func (h *CommunicateHandler) Execute(ctx context.Context, d *decision.Decision) (Result, error) {
	var details struct {
		Message string `json:"message"`
	}
	if len(d.Details) > 0 {
		if err := json.Unmarshal(d.Details, &details); err != nil {
			return Result{}, fmt.Errorf("actions: communicate details: %w", err)
		}
	}
	msg := strings.TrimSpace(details.Message)
	if msg == "" {
		return Result{}, fmt.Errorf("actions: communicate requires details.message")
	}
	if h.messenger == nil {
		return Result{}, fmt.Errorf("actions: no messenger configured")
	}
	if err := h.messenger.SendMessage(ctx, msg); err != nil {
		return Result{}, fmt.Errorf("actions: send message: %w", err)
	}
	return Result{Action: "communicate", Summary: "sent message: " + truncate(msg, 120)}, nil
}

// ResearchHandler records a topic to look into. The actual retrieval happens
// reactively when the human follows up; this action only captures intent.
type ResearchHandler struct {
	logger *logging.Logger
}

func NewResearchHandler(logger *logging.Logger) *ResearchHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ResearchHandler{logger: logger}
}

func (*ResearchHandler) Name() string { return "research" }

func (h *ResearchHandler) Execute(_ context.Context, d *decision.Decision) (Result, error) {
	var details struct {
		Topic string `json:"topic"`
	}
	if len(d.Details) > 0 {
		if err := json.Unmarshal(d.Details, &details); err != nil {
			return Result{}, fmt.Errorf("actions: research details: %w", err)
		}
	}
	topic := strings.TrimSpace(details.Topic)
	if topic == "" {
		return Result{}, fmt.Errorf("actions: research requires details.topic")
	}
	h.logger.Info("research noted", "topic", topic)
	return Result{Action: "research", Summary: "noted research topic: " + topic}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
