// Package dispatcher is the conversation control plane: it routes each
// user turn between the answering, scheduling and escalation subsystems,
// owns the session authority rules, and bridges messages between the user
// surface and the agent workspace.
package dispatcher

import (
	"time"

	"github.com/relaydesk/relaydesk/internal/profile"
)

// Config holds the routing thresholds and turn limits. Thread it by value
// through construction; there is no global.
type Config struct {
	// HighConfGeneral is the answer threshold for general questions.
	HighConfGeneral float32
	// HighConfCompliance is the stricter threshold for compliance topics.
	HighConfCompliance float32
	// MedConfCap mirrors the answerer's pricing cap; answers at or below it
	// escalate.
	MedConfCap float32

	// AbuseWindowTurns is the user-turn window in which a second abusive
	// message escalates.
	AbuseWindowTurns int32

	// EnterpriseSeatThreshold is the seat count at which pricing questions
	// escalate without an answer.
	EnterpriseSeatThreshold int

	// SummaryExchanges is how many trailing user/AI exchanges a ticket
	// card shows.
	SummaryExchanges int

	// TurnTimeout bounds one user turn end to end. TurnCeiling is the hard
	// upper bound regardless of configuration.
	TurnTimeout time.Duration
	TurnCeiling time.Duration

	// MaxConcurrentTurns bounds dispatcher-wide in-flight turns.
	MaxConcurrentTurns int64

	// UnclaimedTTL closes abandoned unclaimed tickets after this long.
	// Zero disables the janitor.
	UnclaimedTTL    time.Duration
	JanitorInterval time.Duration

	// SupportEmail appears in the fallback message when the workspace is
	// unreachable.
	SupportEmail string

	// FallbackEmailDomain synthesises an attendee email from the external
	// user id when the surface supplies none. Empty skips the attendee.
	FallbackEmailDomain string
}

func DefaultConfig() *Config {
	return &Config{
		HighConfGeneral:         0.70,
		HighConfCompliance:      0.75,
		MedConfCap:              0.65,
		AbuseWindowTurns:        5,
		EnterpriseSeatThreshold: 100,
		SummaryExchanges:        5,
		TurnTimeout:             30 * time.Second,
		TurnCeiling:             60 * time.Second,
		MaxConcurrentTurns:      64,
		UnclaimedTTL:            0,
		JanitorInterval:         time.Minute,
		SupportEmail:            "support@relaydesk.io",
	}
}

// ConfigFromProfile overlays the profile's dispatcher tunables on the
// defaults.
func ConfigFromProfile(p *profile.Profile) *Config {
	config := DefaultConfig()
	if p == nil {
		return config
	}
	if p.TurnTimeoutSeconds > 0 {
		config.TurnTimeout = time.Duration(p.TurnTimeoutSeconds) * time.Second
	}
	if config.TurnTimeout > config.TurnCeiling {
		config.TurnTimeout = config.TurnCeiling
	}
	if p.UnclaimedTTLMinutes > 0 {
		config.UnclaimedTTL = time.Duration(p.UnclaimedTTLMinutes) * time.Minute
	}
	return config
}
