package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/relaydesk/relaydesk/ai/answer"
	"github.com/relaydesk/relaydesk/ai/intent"
	"github.com/relaydesk/relaydesk/dispatcher/metrics"
	"github.com/relaydesk/relaydesk/plugin/markdown"
	"github.com/relaydesk/relaydesk/plugin/surfaces"
	"github.com/relaydesk/relaydesk/plugin/workspace"
	"github.com/relaydesk/relaydesk/scheduling"
	"github.com/relaydesk/relaydesk/store"
)

// Classifier reports the intent of a user utterance.
type Classifier interface {
	Classify(ctx context.Context, input string, hasPendingSlots bool) (*intent.Result, error)
}

// Answerer produces grounded answers for information questions.
type Answerer interface {
	Answer(ctx context.Context, req *answer.Request) (*answer.Result, error)
}

// Scheduler derives bookable slots and executes bookings.
type Scheduler interface {
	FindSlots(ctx context.Context) ([]store.SlotOffer, error)
	Book(ctx context.Context, req *scheduling.BookingRequest) (*scheduling.Booking, error)
}

// Dependencies are the component boundaries the dispatcher composes. All
// are interfaces except the store, which is the single source of truth.
type Dependencies struct {
	Store      *store.Store
	Classifier Classifier
	Answerer   Answerer
	Scheduler  Scheduler
	Workspace  workspace.Adapter
	Surface    UserSurface
	Markdown   markdown.Service
	Names      AgentDirectory
	Metrics    *metrics.Exporter
}

// Dispatcher runs the per-message pipeline: session lookup, authority
// gating, intent routing, and delegation to the relay for escalated
// sessions. Components never call back into it.
type Dispatcher struct {
	store      *store.Store
	classifier Classifier
	answerer   Answerer
	scheduler  Scheduler
	workspace  workspace.Adapter
	surface    UserSurface
	markdown   markdown.Service
	metrics    *metrics.Exporter
	config     *Config
	relay      *Relay
	turns      *turnRegistry
	sem        *semaphore.Weighted
}

func New(deps Dependencies, config *Config) *Dispatcher {
	if config == nil {
		config = DefaultConfig()
	}
	if config.TurnTimeout <= 0 || config.TurnTimeout > config.TurnCeiling {
		config.TurnTimeout = config.TurnCeiling
	}

	d := &Dispatcher{
		store:      deps.Store,
		classifier: deps.Classifier,
		answerer:   deps.Answerer,
		scheduler:  deps.Scheduler,
		workspace:  deps.Workspace,
		surface:    deps.Surface,
		markdown:   deps.Markdown,
		metrics:    deps.Metrics,
		config:     config,
		relay:      NewRelay(deps.Store, deps.Workspace, deps.Surface, deps.Markdown, deps.Names, deps.Metrics, config),
		turns:      newTurnRegistry(),
	}
	if config.MaxConcurrentTurns > 0 {
		d.sem = semaphore.NewWeighted(config.MaxConcurrentTurns)
	}
	return d
}

// Relay exposes the workspace-side event entrypoints.
func (d *Dispatcher) Relay() *Relay {
	return d.relay
}

// HandleWorkspaceButton forwards an Accept/Close press to the relay.
func (d *Dispatcher) HandleWorkspaceButton(ctx context.Context, event *workspace.ButtonEvent) error {
	return d.relay.HandleButton(ctx, event)
}

// HandleWorkspaceReply forwards an agent thread reply to the relay.
func (d *Dispatcher) HandleWorkspaceReply(ctx context.Context, event *workspace.ReplyEvent) error {
	return d.relay.HandleReply(ctx, event)
}

// HandleUserEvent processes one canonical user turn. A newer turn from the
// same user cancels this one; a cancelled turn appends no AI output.
func (d *Dispatcher) HandleUserEvent(ctx context.Context, event *surfaces.InboundEvent) error {
	started := time.Now()

	if d.sem != nil {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return errors.Wrap(err, "turn capacity")
		}
		defer d.sem.Release(1)
	}

	turnKey := string(event.Platform) + ":" + event.ExternalUserID
	turnCtx, endTurn := d.turns.begin(ctx, turnKey)
	defer endTurn()
	turnCtx, cancel := context.WithTimeout(turnCtx, d.config.TurnTimeout)
	defer cancel()

	session, err := d.store.FindOrCreateSession(turnCtx, &store.FindOrCreateSession{
		Surface:        string(event.Platform),
		ExternalUserID: event.ExternalUserID,
		ChannelKey:     event.ChannelKey,
		UserName:       event.DisplayName,
		UserEmail:      event.Email,
	})
	if err != nil {
		d.apologiseDirect(ctx, event)
		return errors.Wrap(err, "find or create session")
	}

	at := event.At.Unix()
	if at <= 0 {
		at = time.Now().Unix()
	}
	session, err = d.store.AppendSessionMessage(turnCtx, &store.AppendMessage{
		SessionID: session.ID,
		Message: store.Message{
			Role:       store.RoleUser,
			Content:    event.Text,
			AuthorID:   event.ExternalUserID,
			AuthorName: event.DisplayName,
			CreatedTs:  at,
		},
	})
	if err != nil {
		d.apologiseDirect(ctx, event)
		return errors.Wrap(err, "append user message")
	}

	// Escalated sessions are human territory: mirror the message into the
	// ticket thread and stay silent.
	if session.State != store.StateActiveAI {
		d.metrics.RecordTurn("relay", "forwarded", time.Since(started))
		return d.relay.ForwardUserMessage(turnCtx, session, event.Text)
	}

	result, err := d.classifier.Classify(turnCtx, event.Text, len(session.PendingSlots) > 0)
	if err != nil {
		if turnCtx.Err() != nil {
			d.metrics.RecordTurn("unknown", "cancelled", time.Since(started))
			return nil
		}
		return errors.Wrap(err, "classify")
	}

	outcome, err := d.route(turnCtx, session, event.Text, result)
	if turnCtx.Err() != nil && outcome == "" {
		outcome = "cancelled"
		err = nil
	}
	d.metrics.RecordTurn(string(result.Intent), outcome, time.Since(started))

	slog.Info("dispatcher: turn completed",
		"session_id", session.ID,
		"intent", result.Intent,
		"confidence", result.Confidence,
		"outcome", outcome,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return err
}

// route applies the orchestration gates in order: abuse, slot selection,
// scheduling, information, escalation.
func (d *Dispatcher) route(ctx context.Context, session *store.Session, text string, result *intent.Result) (string, error) {
	switch {
	case result.Intent == intent.IntentAbusive:
		return d.handleAbuse(ctx, session)
	case result.Intent == intent.IntentSlotSelection && len(session.PendingSlots) > 0:
		return d.handleSlotSelection(ctx, session, result)
	case result.Intent == intent.IntentScheduling:
		return d.handleScheduling(ctx, session, result)
	case result.Intent == intent.IntentTechnicalSupport:
		return "escalated", d.escalate(ctx, session, "technical_support",
			"Technical issue reported: "+truncateRunes(text, ticketTitleMaxRunes), d.escalationAck(session))
	default:
		return d.handleInformation(ctx, session, text, result)
	}
}

// handleAbuse de-escalates the first abusive message and escalates a second
// one inside the configured turn window.
func (d *Dispatcher) handleAbuse(ctx context.Context, session *store.Session) (string, error) {
	turn := session.TurnCount()
	if session.AbuseStrikes > 0 && turn-session.LastAbuseTurn <= d.config.AbuseWindowTurns {
		return "escalated", d.escalate(ctx, session, "abuse",
			"Repeated abusive messages", d.escalationAck(session))
	}

	strikes := session.AbuseStrikes + 1
	if _, err := d.store.UpdateSession(ctx, &store.UpdateSession{
		ID:            session.ID,
		AbuseStrikes:  &strikes,
		LastAbuseTurn: &turn,
	}); err != nil {
		return "error", errors.Wrap(err, "record abuse strike")
	}
	return "deescalated", d.aiReply(ctx, session, msgDeEscalation, &store.Message{Intent: string(intent.IntentAbusive)})
}

// handleSlotSelection books the indicated offer. A consumed slot is removed
// and the remainder re-offered; provider failures escalate, never drop the
// booking intent.
func (d *Dispatcher) handleSlotSelection(ctx context.Context, session *store.Session, result *intent.Result) (string, error) {
	var chosen *store.SlotOffer
	for i := range session.PendingSlots {
		if session.PendingSlots[i].Index == result.SlotIndex {
			chosen = &session.PendingSlots[i]
			break
		}
	}
	if chosen == nil {
		return "invalid_slot", d.aiReply(ctx, session, msgPickValidOption, nil)
	}

	email := session.UserEmail
	if email == "" && d.config.FallbackEmailDomain != "" {
		email = session.ExternalUserID + "@" + d.config.FallbackEmailDomain
	}

	booking, err := d.scheduler.Book(ctx, &scheduling.BookingRequest{
		Offer:     *chosen,
		UserName:  session.UserName,
		UserEmail: email,
		SessionID: session.ID,
	})
	switch {
	case errors.Is(err, scheduling.ErrSlotTaken):
		d.metrics.RecordBooking("slot_taken")
		remaining := removeOffer(session.PendingSlots, chosen.Index)
		if _, updateErr := d.store.UpdateSession(ctx, &store.UpdateSession{
			ID:           session.ID,
			PendingSlots: &remaining,
		}); updateErr != nil {
			return "error", errors.Wrap(updateErr, "drop taken slot")
		}
		if len(remaining) == 0 {
			return "slot_taken", d.aiReply(ctx, session, msgSlotTakenNoneLeft, nil)
		}
		return "slot_taken", d.offerReply(ctx, session, msgSlotTaken, remaining)

	case errors.Is(err, scheduling.ErrProviderUnavailable), errors.Is(err, scheduling.ErrBookingFailed):
		d.metrics.RecordBooking("failed")
		return "escalated", d.escalate(ctx, session, "booking_failed",
			fmt.Sprintf("Booking failed for %s", chosen.Label), msgBookingTrouble)

	case err != nil:
		return "error", errors.Wrap(err, "book slot")
	}

	d.metrics.RecordBooking("booked")
	var empty []store.SlotOffer
	if _, err := d.store.UpdateSession(ctx, &store.UpdateSession{
		ID:           session.ID,
		PendingSlots: &empty,
	}); err != nil {
		return "error", errors.Wrap(err, "clear pending slots")
	}
	return "booked", d.aiReply(ctx, session, fmt.Sprintf(msgBookingConfirmed, booking.Label), &store.Message{
		Intent: string(intent.IntentSlotSelection),
	})
}

// handleScheduling fetches slots, attaches them as the session's pending
// offers, and presents them with action buttons where the surface supports
// them.
func (d *Dispatcher) handleScheduling(ctx context.Context, session *store.Session, result *intent.Result) (string, error) {
	offers, err := d.scheduler.FindSlots(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil
		}
		slog.Warn("dispatcher: slot provider unavailable", "session_id", session.ID, "error", err)
		return "escalated", d.escalate(ctx, session, "scheduling_unavailable",
			"Slot provider unavailable while user asked to book a demo", msgSchedulingDown)
	}
	if len(offers) == 0 {
		return "escalated", d.escalate(ctx, session, "no_open_slots",
			"No open demo slots in the search window", msgNoOpenSlots)
	}

	if _, err := d.store.UpdateSession(ctx, &store.UpdateSession{
		ID:           session.ID,
		PendingSlots: &offers,
	}); err != nil {
		return "error", errors.Wrap(err, "attach pending slots")
	}
	return "offered", d.offerReply(ctx, session, msgOfferIntro, offers)
}

// handleInformation answers from the knowledge index when confidence
// clears the per-category threshold, and escalates otherwise.
func (d *Dispatcher) handleInformation(ctx context.Context, session *store.Session, text string, result *intent.Result) (string, error) {
	switch {
	case result.WantsHuman:
		return "escalated", d.escalate(ctx, session, "wants_human",
			"User asked for a human: "+truncateRunes(text, ticketTitleMaxRunes), d.escalationAck(session))
	case result.Urgent:
		return "escalated", d.escalate(ctx, session, "urgent",
			"Urgent wording: "+truncateRunes(text, ticketTitleMaxRunes), d.escalationAck(session))
	case result.EnterprisePricing && result.SeatCount >= d.config.EnterpriseSeatThreshold:
		// Above the seat threshold pricing goes straight to a human,
		// without an answer stub.
		return "escalated", d.escalate(ctx, session, "enterprise_pricing",
			fmt.Sprintf("Enterprise pricing inquiry (~%d seats)", result.SeatCount), d.escalationAck(session))
	}

	res, err := d.answerer.Answer(ctx, &answer.Request{
		Query:         text,
		RecentAITurns: recentAITurns(session, 3),
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", nil
		}
		slog.Warn("dispatcher: answering failed", "session_id", session.ID, "error", err)
		return "escalated", d.escalate(ctx, session, "answering_failed",
			"Answer generation failed: "+truncateRunes(text, ticketTitleMaxRunes), d.escalationAck(session))
	}

	decorations := &store.Message{
		Confidence: res.Confidence,
		Intent:     string(result.Intent),
		Citations:  res.Citations,
	}

	if res.ShouldEscalate {
		// The honest miss goes out first so the user is never left with
		// only a hand-off line.
		if res.Text != "" {
			if err := d.aiReply(ctx, session, res.Text, decorations); err != nil {
				return "error", err
			}
		}
		reason := res.EscalationReason
		if reason == "" {
			reason = "answer confidence too low"
		}
		return "escalated", d.escalate(ctx, session, "retrieval_miss",
			strings.ToUpper(reason[:1])+reason[1:]+": "+truncateRunes(text, ticketTitleMaxRunes), d.escalationAck(session))
	}

	if result.EnterprisePricing {
		// Below the seat threshold: answer with a hand-off suffix, then
		// open the ticket quietly.
		if err := d.aiReply(ctx, session, res.Text+"\n\n"+msgSalesConnect, decorations); err != nil {
			return "error", err
		}
		return "escalated", d.escalate(ctx, session, "enterprise_pricing",
			"Pricing inquiry handed to sales: "+truncateRunes(text, ticketTitleMaxRunes), "")
	}

	threshold := d.config.HighConfGeneral
	if res.Category == store.CategoryCompliance {
		threshold = d.config.HighConfCompliance
	}
	if res.Confidence >= threshold {
		reply := res.Text
		if len(res.Citations) > 0 {
			reply += "\n\nSources: " + strings.Join(res.Citations, ", ")
		}
		return "answered", d.aiReply(ctx, session, reply, decorations)
	}

	return "escalated", d.escalate(ctx, session, "low_confidence",
		fmt.Sprintf("Low answer confidence (%.2f): %s", res.Confidence, truncateRunes(text, ticketTitleMaxRunes)),
		d.escalationAck(session))
}

// escalate posts the ticket, then flips the session to ESCALATED_UNCLAIMED.
// A failed post leaves the session in ACTIVE_AI so the next turn retries;
// per-call retries already happened inside the adapter.
func (d *Dispatcher) escalate(ctx context.Context, session *store.Session, cause, reason, ackText string) error {
	current, err := d.store.GetSession(ctx, &store.FindSession{ID: &session.ID})
	if err != nil || current == nil {
		current = session
	}

	ticket := BuildTicket(current, reason, d.markdown, d.config.SummaryExchanges)
	threadKey, err := d.workspace.PostTicket(ctx, ticket)
	if err != nil {
		slog.Error("dispatcher: escalation post failed, session stays AI-active",
			"session_id", session.ID, "cause", cause, "error", err)
		d.metrics.RecordWebhookDrop("workspace_post_failed")
		if sendErr := d.systemLine(ctx, session, fmt.Sprintf(msgWorkspaceDown, d.config.SupportEmail)); sendErr != nil {
			slog.Warn("dispatcher: workspace-down notice failed", "session_id", session.ID, "error", sendErr)
		}
		return errors.Wrap(err, "post escalation ticket")
	}

	if _, err := d.store.TransitionSession(ctx, &store.TransitionSession{
		ID:                 session.ID,
		From:               store.StateActiveAI,
		To:                 store.StateEscalatedUnclaimed,
		EscalationReason:   &reason,
		WorkspaceThreadKey: &threadKey,
	}); err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			// A concurrent turn escalated first; this card is redundant
			// but harmless.
			slog.Warn("dispatcher: escalation lost a state race", "session_id", session.ID)
			return nil
		}
		return errors.Wrap(err, "escalation transition")
	}

	d.metrics.RecordEscalation(cause)
	slog.Info("dispatcher: session escalated",
		"session_id", session.ID, "cause", cause, "thread_key", threadKey)

	if ackText != "" {
		if err := d.systemLine(ctx, session, ackText); err != nil {
			slog.Warn("dispatcher: escalation ack failed", "session_id", session.ID, "error", err)
		}
	}
	return nil
}

func (d *Dispatcher) escalationAck(session *store.Session) string {
	return fmt.Sprintf(msgEscalationAck, session.ID)
}

// aiReply appends an AI turn and delivers it. The append re-checks
// ai_disabled under compare-and-set, so a reply racing a claim loses
// cleanly: nothing is stored and nothing is sent. A cancelled turn appends
// nothing either.
func (d *Dispatcher) aiReply(ctx context.Context, session *store.Session, text string, decorations *store.Message) error {
	if ctx.Err() != nil {
		return nil
	}

	message := store.Message{
		Role:      store.RoleAI,
		Content:   text,
		CreatedTs: time.Now().Unix(),
	}
	if decorations != nil {
		message.Confidence = decorations.Confidence
		message.Intent = decorations.Intent
		message.Citations = decorations.Citations
	}

	if _, err := d.store.AppendSessionMessage(ctx, &store.AppendMessage{
		SessionID:        session.ID,
		Message:          message,
		RequireAIEnabled: true,
	}); err != nil {
		if errors.Is(err, store.ErrAIDisabled) {
			slog.Info("dispatcher: ai reply suppressed, authority moved", "session_id", session.ID)
			return nil
		}
		return errors.Wrap(err, "append ai reply")
	}
	return d.surface.SendText(ctx, surfaces.Platform(session.Surface), session.ChannelKey, text)
}

// offerReply sends enumerated slot offers with tappable buttons where the
// surface supports them; the numbered text works everywhere.
func (d *Dispatcher) offerReply(ctx context.Context, session *store.Session, intro string, offers []store.SlotOffer) error {
	if ctx.Err() != nil {
		return nil
	}

	var b strings.Builder
	b.WriteString(intro)
	for _, offer := range offers {
		fmt.Fprintf(&b, "\n%d. %s", offer.Index, offer.Label)
	}
	b.WriteString("\n\n" + msgOfferOutro)
	text := b.String()

	if _, err := d.store.AppendSessionMessage(ctx, &store.AppendMessage{
		SessionID: session.ID,
		Message: store.Message{
			Role:      store.RoleAI,
			Content:   text,
			CreatedTs: time.Now().Unix(),
			Intent:    string(intent.IntentScheduling),
		},
		RequireAIEnabled: true,
	}); err != nil {
		if errors.Is(err, store.ErrAIDisabled) {
			return nil
		}
		return errors.Wrap(err, "append offer reply")
	}

	actions := make([]surfaces.Action, 0, len(offers))
	for _, offer := range offers {
		actions = append(actions, surfaces.Action{
			Label:   "Option " + strconv.Itoa(offer.Index),
			Payload: strconv.Itoa(offer.Index),
		})
	}
	return d.surface.SendActions(ctx, surfaces.Platform(session.Surface), session.ChannelKey, text, actions)
}

// systemLine records and delivers a system notice on the session.
func (d *Dispatcher) systemLine(ctx context.Context, session *store.Session, text string) error {
	if _, err := d.store.AppendSessionMessage(ctx, &store.AppendMessage{
		SessionID: session.ID,
		Message: store.Message{
			Role:      store.RoleSystem,
			Content:   text,
			CreatedTs: time.Now().Unix(),
		},
	}); err != nil {
		return errors.Wrap(err, "append system line")
	}
	return d.surface.SendText(ctx, surfaces.Platform(session.Surface), session.ChannelKey, text)
}

// apologiseDirect tells the user the turn failed before a session existed.
// Best effort; the store being down is already the headline.
func (d *Dispatcher) apologiseDirect(ctx context.Context, event *surfaces.InboundEvent) {
	if err := d.surface.SendText(ctx, event.Platform, event.ChannelKey, msgStoreTrouble); err != nil {
		slog.Warn("dispatcher: failure notice undeliverable",
			"platform", event.Platform, "channel_key", event.ChannelKey, "error", err)
	}
}

func recentAITurns(session *store.Session, k int) []string {
	var turns []string
	for _, m := range session.History {
		if m.Role == store.RoleAI {
			turns = append(turns, m.Content)
		}
	}
	if len(turns) > k {
		turns = turns[len(turns)-k:]
	}
	return turns
}

func removeOffer(offers []store.SlotOffer, index int) []store.SlotOffer {
	remaining := make([]store.SlotOffer, 0, len(offers))
	for _, offer := range offers {
		if offer.Index != index {
			remaining = append(remaining, offer)
		}
	}
	return remaining
}
