package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/relaydesk/relaydesk/ai/llm"
)

const semanticThreshold = 0.60

const classifyPromptTemplate = `You are an intent classifier for a customer support assistant.

Classify the user message into exactly one intent:
- Information: asking about the product, features, pricing details, policies
- Scheduling: wants to book a demo, meeting, or call
- TechnicalSupport: reporting an error, outage, or malfunction
- SlotSelection: picking one of the time slots already offered
- Abusive: insults or hostile language directed at the assistant
- Unknown: none of the above fits

The assistant %s offered time slots in this conversation.

User message:
%s

Reply with exactly three lines:
Intent: <one of the six labels>
Confidence: <number between 0 and 1>
Reason: <one short sentence>`

// Service classifies user messages. The pattern pass runs first and is
// authoritative when it fires with high confidence; the LLM pass handles
// the long tail. A nil llm service degrades to patterns only.
type Service struct {
	matcher *RuleMatcher
	llm     llm.Service
}

func NewService(matcher *RuleMatcher, llmService llm.Service) *Service {
	if matcher == nil {
		matcher = NewRuleMatcher(Config{})
	}
	return &Service{matcher: matcher, llm: llmService}
}

// Classify returns the intent of input. It never fails outright: when both
// passes come up empty the result is Information with default confidence,
// so the caller can still attempt a grounded answer.
func (s *Service) Classify(ctx context.Context, input string, hasPendingSlots bool) (*Result, error) {
	if matched := s.matcher.Match(input, hasPendingSlots); matched != nil && matched.Confidence >= semanticThreshold {
		return matched, nil
	}

	result, err := s.classifySemantic(ctx, input, hasPendingSlots)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("intent: semantic pass unavailable, degrading to patterns", "error", err)
		return s.fallback(input), nil
	}
	return result, nil
}

func (s *Service) classifySemantic(ctx context.Context, input string, hasPendingSlots bool) (*Result, error) {
	if s.llm == nil {
		return nil, fmt.Errorf("no llm service configured")
	}

	slotsPhrase := "has not"
	if hasPendingSlots {
		slotsPhrase = "has"
	}
	prompt := fmt.Sprintf(classifyPromptTemplate, slotsPhrase, input)

	response, _, err := s.llm.Chat(ctx, []llm.Message{llm.UserMessage(prompt)})
	if err != nil {
		return nil, err
	}

	result := parseClassification(response)
	if result.Intent == IntentSlotSelection && !hasPendingSlots {
		// Nothing on offer means nothing to select.
		result.Intent = IntentUnknown
		result.Reason = "slot selection with no offered slots"
	}
	result.WantsHuman, result.Urgent, result.EnterprisePricing, result.SeatCount = s.matcher.Metadata(input)
	slog.Debug("intent: semantic classification",
		"intent", result.Intent,
		"confidence", result.Confidence,
		"reason", result.Reason)
	return result, nil
}

func (s *Service) fallback(input string) *Result {
	result := &Result{Intent: IntentInformation, Confidence: 0.60, Reason: "classifier unavailable"}
	result.WantsHuman, result.Urgent, result.EnterprisePricing, result.SeatCount = s.matcher.Metadata(input)
	return result
}

// parseClassification reads the Intent:/Confidence:/Reason: lines the prompt
// asks for. Missing or malformed fields get conservative defaults rather
// than failing the turn.
func parseClassification(response string) *Result {
	result := &Result{Intent: IntentUnknown, Confidence: 0.60}
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(strings.ToLower(line), "intent:"):
			result.Intent = normalizeLabel(strings.TrimSpace(line[len("intent:"):]))
		case strings.HasPrefix(strings.ToLower(line), "confidence:"):
			raw := strings.TrimSpace(line[len("confidence:"):])
			if conf, err := strconv.ParseFloat(raw, 32); err == nil && conf >= 0 && conf <= 1 {
				result.Confidence = float32(conf)
			}
		case strings.HasPrefix(strings.ToLower(line), "reason:"):
			result.Reason = strings.TrimSpace(line[len("reason:"):])
		}
	}
	return result
}

func normalizeLabel(label string) Intent {
	for _, known := range []Intent{
		IntentInformation, IntentScheduling, IntentTechnicalSupport,
		IntentSlotSelection, IntentAbusive, IntentUnknown,
	} {
		if strings.EqualFold(label, string(known)) {
			return known
		}
	}
	return IntentUnknown
}
