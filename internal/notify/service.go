package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dovetail-ai/attache/pkg/logging"
)

// Priority orders notifications for the operator's inbox.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Service delivers agent activity notifications and approval requests to the
// human operator over email.
type Service struct {
	email      EmailSender
	recipients []string
	agentName  string
	resolveURL string
	logger     *logging.Logger
	now        func() time.Time
}

// NewService creates a notification service. With no recipients or no sender
// the service degrades to a logged no-op.
func NewService(email EmailSender, recipients []string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:      email,
		recipients: recipients,
		agentName:  "Attache",
		logger:     logger.Component("notify"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithAgentName overrides the display name used in subjects and signatures.
func (s *Service) WithAgentName(name string) *Service {
	if strings.TrimSpace(name) != "" {
		s.agentName = name
	}
	return s
}

// WithResolveURL sets the base URL for the approval resolution endpoint,
// included in approval request emails.
func (s *Service) WithResolveURL(base string) *Service {
	s.resolveURL = strings.TrimRight(base, "/")
	return s
}

// NotifyHuman sends a plain activity notification. High priority prefixes the
// subject so operator inbox rules can escalate it.
func (s *Service) NotifyHuman(ctx context.Context, subject, body string, priority Priority) error {
	if subject == "" {
		return fmt.Errorf("notify: subject required")
	}
	if priority == PriorityHigh {
		subject = "[urgent] " + subject
	}
	full := fmt.Sprintf("%s\n\nSent %s\n— %s", body, s.now().Format("January 2, 2006 at 15:04 MST"), s.agentName)
	return s.broadcast(ctx, subject, full)
}

// RequestApproval asks the operator to approve or reject a proposed action.
// The approval ID ties the reply back to the pending record.
func (s *Service) RequestApproval(ctx context.Context, approvalID uuid.UUID, proposal string, expiresAt time.Time) error {
	if approvalID == uuid.Nil {
		return fmt.Errorf("notify: approval id required")
	}
	if strings.TrimSpace(proposal) == "" {
		return fmt.Errorf("notify: proposal required")
	}

	subject := fmt.Sprintf("[approval needed] %s proposes an action", s.agentName)
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants to take an action that needs your sign-off.\n\n", s.agentName)
	fmt.Fprintf(&b, "Proposal:\n%s\n\n", proposal)
	fmt.Fprintf(&b, "Approval ID: %s\n", approvalID)
	if !expiresAt.IsZero() {
		fmt.Fprintf(&b, "Waiting until: %s\n", expiresAt.Format("January 2, 2006 at 15:04 MST"))
	}
	if s.resolveURL != "" {
		fmt.Fprintf(&b, "\nResolve: %s/admin/approvals/%s/resolve\n", s.resolveURL, approvalID)
	}
	fmt.Fprintf(&b, "\n— %s", s.agentName)

	return s.broadcast(ctx, subject, b.String())
}

func (s *Service) broadcast(ctx context.Context, subject, body string) error {
	if s.email == nil || len(s.recipients) == 0 {
		s.logger.Debug("no email sender or recipients configured, skipping notification", "subject", subject)
		return nil
	}

	var failed int
	for _, recipient := range s.recipients {
		msg := EmailMessage{To: recipient, Subject: subject, Body: body}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("notification send failed", "error", err, "to", recipient)
			failed++
			continue
		}
		s.logger.Info("notification sent", "to", recipient, "subject", subject)
	}
	if failed > 0 {
		return fmt.Errorf("notify: %d notification(s) failed", failed)
	}
	return nil
}
