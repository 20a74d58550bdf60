package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	sent    []EmailMessage
	failFor map[string]error
}

func (r *recordingSender) Send(_ context.Context, msg EmailMessage) error {
	if err, ok := r.failFor[msg.To]; ok {
		return err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func TestNotifyHumanBroadcastsToAllRecipients(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, []string{"ops@example.com", "owner@example.com"}, nil)

	err := svc.NotifyHuman(context.Background(), "research finished", "summary of findings", PriorityNormal)
	require.NoError(t, err)
	require.Len(t, sender.sent, 2)
	assert.Equal(t, "research finished", sender.sent[0].Subject)
	assert.Contains(t, sender.sent[0].Body, "summary of findings")
}

func TestNotifyHumanHighPriorityPrefixesSubject(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, []string{"ops@example.com"}, nil)

	require.NoError(t, svc.NotifyHuman(context.Background(), "budget nearly exhausted", "", PriorityHigh))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "[urgent] budget nearly exhausted", sender.sent[0].Subject)
}

func TestNotifyHumanPartialFailure(t *testing.T) {
	sender := &recordingSender{failFor: map[string]error{"owner@example.com": errors.New("bounced")}}
	svc := NewService(sender, []string{"ops@example.com", "owner@example.com"}, nil)

	err := svc.NotifyHuman(context.Background(), "subject", "body", PriorityNormal)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 notification(s) failed")
	assert.Len(t, sender.sent, 1)
}

func TestNotifyHumanNoSenderIsNoOp(t *testing.T) {
	svc := NewService(nil, nil, nil)
	require.NoError(t, svc.NotifyHuman(context.Background(), "subject", "body", PriorityNormal))
}

func TestRequestApprovalIncludesIDAndResolveLink(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, []string{"ops@example.com"}, nil).
		WithAgentName("Scout").
		WithResolveURL("https://agent.example.com/")

	id := uuid.New()
	expires := time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)
	require.NoError(t, svc.RequestApproval(context.Background(), id, "email the vendor about renewal", expires))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Contains(t, msg.Subject, "Scout")
	assert.Contains(t, msg.Body, id.String())
	assert.Contains(t, msg.Body, "email the vendor about renewal")
	assert.Contains(t, msg.Body, "https://agent.example.com/admin/approvals/"+id.String()+"/resolve")
}

func TestRequestApprovalValidates(t *testing.T) {
	svc := NewService(&recordingSender{}, []string{"ops@example.com"}, nil)

	err := svc.RequestApproval(context.Background(), uuid.Nil, "proposal", time.Time{})
	assert.Error(t, err)

	err = svc.RequestApproval(context.Background(), uuid.New(), "  ", time.Time{})
	assert.Error(t, err)
}
