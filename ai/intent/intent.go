// Package intent classifies user utterances for the dispatcher.
// Classification is layered: a deterministic pattern pass first, then an LLM
// semantic pass only when the patterns are ambiguous. The classifier reports;
// routing decisions belong to the orchestrator.
package intent

// Intent is the classified purpose of a user message.
type Intent string

const (
	IntentInformation      Intent = "Information"
	IntentScheduling       Intent = "Scheduling"
	IntentTechnicalSupport Intent = "TechnicalSupport"
	IntentSlotSelection    Intent = "SlotSelection"
	IntentAbusive          Intent = "Abusive"
	IntentUnknown          Intent = "Unknown"
)


// Result is the classifier verdict for one utterance.
type Result struct {
	Intent     Intent
	Confidence float32
	Reason     string

	// SlotIndex is the 1-based offer index for SlotSelection, 0 otherwise.
	SlotIndex int

	// WantsHuman is set when the utterance explicitly asks for a person.
	WantsHuman bool

	// Urgent is set when the utterance carries urgency or outage wording.
	Urgent bool

	// EnterprisePricing is set when the utterance matches enterprise-tier
	// pricing triggers.
	EnterprisePricing bool

	// SeatCount is the largest seat/license count mentioned, 0 when none.
	SeatCount int
}
