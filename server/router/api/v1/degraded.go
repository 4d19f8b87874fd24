package v1

import (
	"context"

	"github.com/relaydesk/relaydesk/ai/answer"
	"github.com/relaydesk/relaydesk/plugin/workspace"
	"github.com/relaydesk/relaydesk/scheduling"
	"github.com/relaydesk/relaydesk/store"
)

// offlineAnswerer stands in when the LLM or embedding service is not
// configured. Every information question escalates.
type offlineAnswerer struct{}

func (offlineAnswerer) Answer(ctx context.Context, req *answer.Request) (*answer.Result, error) {
	return &answer.Result{
		Text:             "Let me connect you with someone who can help.",
		ShouldEscalate:   true,
		EscalationReason: "assistant offline",
	}, nil
}

// unavailableScheduler stands in when no calendar is configured. Scheduling
// requests escalate through the provider-unavailable path.
type unavailableScheduler struct{}

func (unavailableScheduler) FindSlots(ctx context.Context) ([]store.SlotOffer, error) {
	return nil, scheduling.ErrProviderUnavailable
}

func (unavailableScheduler) Book(ctx context.Context, req *scheduling.BookingRequest) (*scheduling.Booking, error) {
	return nil, scheduling.ErrProviderUnavailable
}

// unconfiguredWorkspace stands in when Slack is not configured. Ticket
// posts fail, which keeps sessions AI-active and tells the user to email
// support instead.
type unconfiguredWorkspace struct{}

func (unconfiguredWorkspace) PostTicket(ctx context.Context, ticket *workspace.Ticket) (string, error) {
	return "", workspace.ErrPostFailed
}

func (unconfiguredWorkspace) EditTicket(ctx context.Context, threadKey string, ticket *workspace.Ticket) error {
	return workspace.ErrPostFailed
}

func (unconfiguredWorkspace) PostThreadMessage(ctx context.Context, threadKey, roleLabel, text string) error {
	return workspace.ErrPostFailed
}

func (unconfiguredWorkspace) PostEphemeral(ctx context.Context, threadKey, agentID, text string) error {
	return workspace.ErrPostFailed
}
