package intent

import (
	"regexp"
	"strconv"
	"strings"
)

// Pre-compiled regex patterns for the deterministic pass.
var (
	optionPattern     = regexp.MustCompile(`(?i)^\s*option\s*#?\s*(\d{1,2})\s*[.!]?\s*$`)
	bareDigitsPattern = regexp.MustCompile(`^\s*#?(\d{1,2})\s*[.)!]?\s*$`)

	schedulePattern = regexp.MustCompile(`(?i)\b(book|schedule|set\s*up|arrange|reschedule)\b[\s\S]*\b(demo|meeting|call|appointment|session)\b`)
	wantDemoPattern = regexp.MustCompile(`(?i)\b(i(?:'d| would)? like|i want|can (?:i|we)|could (?:i|we)|let'?s)\b[\s\S]*\b(demo|meeting|call|appointment)\b`)

	// Interrogative or descriptive qualifiers turn scheduling verbs into an
	// information request: "what is a demo" must never book anything.
	infoQualifierPattern = regexp.MustCompile(`(?i)\b(what(?:'s| is| are| does)?|tell me (?:more )?about|how (?:long|does|do|much)|explain|describe|difference between)\b`)

	techPattern = regexp.MustCompile(`(?i)\b(error|errors|failing|failed|fails|broken|not working|down|outage|crash(?:ing|ed)?|bug|5\d{2})\b`)

	humanPattern = regexp.MustCompile(`(?i)\b(human|real person|an? (?:live )?agent|representative|speak (?:to|with) (?:someone|a person)|talk (?:to|with) (?:someone|a human|a person))\b`)

	seatCountPattern = regexp.MustCompile(`(?i)(\d{2,6})\s*(?:\+\s*)?(?:seats?|users?|licenses?|employees?|agents?)`)
)

// Config carries the tunable lexicons of the pattern pass.
// Zero values fall back to the built-in defaults.
type Config struct {
	AbuseLexicon       []string
	UrgencyKeywords    []string
	EnterpriseTriggers []string
}

var (
	defaultAbuseLexicon    = []string{"fuck", "shit", "asshole", "bitch", "idiot", "stupid bot", "useless bot", "garbage bot"}
	defaultUrgencyKeywords = []string{"urgent", "asap", "immediately", "critical", "emergency"}
	defaultEnterprise      = []string{"enterprise", "enterprise plan", "enterprise pricing", "volume discount", "procurement", "custom contract", "sla"}
)

// RuleMatcher implements the deterministic pattern pass.
// High precision, zero latency; ambiguous inputs fall through to the LLM pass.
type RuleMatcher struct {
	abusePattern      *regexp.Regexp
	urgencyPattern    *regexp.Regexp
	enterprisePattern *regexp.Regexp
}

// NewRuleMatcher compiles the lexicons into word-boundary patterns.
func NewRuleMatcher(cfg Config) *RuleMatcher {
	abuse := cfg.AbuseLexicon
	if len(abuse) == 0 {
		abuse = defaultAbuseLexicon
	}
	urgency := cfg.UrgencyKeywords
	if len(urgency) == 0 {
		urgency = defaultUrgencyKeywords
	}
	enterprise := cfg.EnterpriseTriggers
	if len(enterprise) == 0 {
		enterprise = defaultEnterprise
	}

	return &RuleMatcher{
		abusePattern:      lexiconPattern(abuse),
		urgencyPattern:    lexiconPattern(urgency),
		enterprisePattern: lexiconPattern(enterprise),
	}
}

func lexiconPattern(words []string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(strings.ToLower(w))
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
}

// Match runs the pattern pass. hasPendingSlots gates the SlotSelection
// patterns: a bare "3" with nothing on offer is not a selection.
// A nil return means no rule fired and the semantic pass should run.
func (m *RuleMatcher) Match(input string, hasPendingSlots bool) *Result {
	trimmed := strings.TrimSpace(input)
	result := &Result{
		WantsHuman:        m.humanRequested(trimmed),
		Urgent:            m.urgencyPattern.MatchString(trimmed),
		EnterprisePricing: m.enterprisePattern.MatchString(trimmed),
		SeatCount:         extractSeatCount(trimmed),
	}

	// Abuse wins over everything else.
	if m.abusePattern.MatchString(trimmed) {
		result.Intent = IntentAbusive
		result.Confidence = 0.95
		result.Reason = "abuse lexicon match"
		return result
	}

	if hasPendingSlots {
		if sub := optionPattern.FindStringSubmatch(trimmed); sub != nil {
			result.Intent = IntentSlotSelection
			result.Confidence = 0.95
			result.SlotIndex, _ = strconv.Atoi(sub[1])
			result.Reason = "option phrase"
			return result
		}
		if sub := bareDigitsPattern.FindStringSubmatch(trimmed); sub != nil {
			result.Intent = IntentSlotSelection
			result.Confidence = 0.90
			result.SlotIndex, _ = strconv.Atoi(sub[1])
			result.Reason = "bare index reply"
			return result
		}
	}

	hasScheduleVerb := schedulePattern.MatchString(trimmed) || wantDemoPattern.MatchString(trimmed)
	if infoQualifierPattern.MatchString(trimmed) {
		// "what is a demo" and friends describe, they do not book.
		if hasScheduleVerb || strings.Contains(strings.ToLower(trimmed), "demo") {
			result.Intent = IntentInformation
			result.Confidence = 0.85
			result.Reason = "interrogative qualifier overrides scheduling verb"
			return result
		}
	}
	if hasScheduleVerb {
		result.Intent = IntentScheduling
		result.Confidence = 0.90
		result.Reason = "scheduling verb"
		return result
	}

	if result.WantsHuman {
		result.Intent = IntentUnknown
		result.Confidence = 0.90
		result.Reason = "explicit human request"
		return result
	}

	if techPattern.MatchString(trimmed) {
		result.Intent = IntentTechnicalSupport
		result.Confidence = 0.80
		result.Reason = "error keyword"
		return result
	}

	return nil
}

// Metadata extracts the escalation-relevant flags without running the full
// pattern pass, for inputs classified by the semantic layer.
func (m *RuleMatcher) Metadata(input string) (wantsHuman, urgent, enterprise bool, seats int) {
	trimmed := strings.TrimSpace(input)
	return m.humanRequested(trimmed),
		m.urgencyPattern.MatchString(trimmed),
		m.enterprisePattern.MatchString(trimmed),
		extractSeatCount(trimmed)
}

func (m *RuleMatcher) humanRequested(input string) bool {
	return humanPattern.MatchString(input)
}

func extractSeatCount(input string) int {
	max := 0
	for _, sub := range seatCountPattern.FindAllStringSubmatch(input, -1) {
		if n, err := strconv.Atoi(sub[1]); err == nil && n > max {
			max = n
		}
	}
	return max
}
