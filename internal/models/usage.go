// ABOUTME: Daily usage rows and identity profiles consulted by the usage ledger
// ABOUTME: Usage dates are calendar days in the identity's own timezone
package models

import "time"

// UsageDateLayout is the layout of DailyUsage.UsageDate.
const UsageDateLayout = "2006-01-02"

// DailyUsage counts one identity's activity on one identity-local calendar day.
type DailyUsage struct {
	Identity               string    `json:"identity" yaml:"identity"`
	UsageDate              string    `json:"usage_date" yaml:"usage_date"`
	MessageCount           int       `json:"message_count" yaml:"message_count"`
	ConversationStartCount int       `json:"conversation_start_count" yaml:"conversation_start_count"`
	LastInteractionAt      time.Time `json:"last_interaction_at" yaml:"last_interaction_at"`
}

// Identity is the owning record for all per-identity state.
type Identity struct {
	Identity       string    `json:"identity" yaml:"identity"`
	Timezone       string    `json:"timezone" yaml:"timezone"`
	Premium        bool      `json:"premium" yaml:"premium"`
	BypassThrottle bool      `json:"bypass_throttle" yaml:"bypass_throttle"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"updated_at"`
}

// Profile is what the ledger needs to know about an identity.
type Profile struct {
	Known          bool
	Timezone       string
	Premium        bool
	BypassThrottle bool
}

// Exempt reports whether throttle checks are skipped for this identity.
func (p Profile) Exempt() bool {
	return p.Premium || p.BypassThrottle
}

// ProcessedMessage records an inbound message id that has been handled.
type ProcessedMessage struct {
	MessageID string    `json:"message_id"`
	Identity  string    `json:"identity,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
