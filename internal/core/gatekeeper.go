// ABOUTME: Gatekeeper admits one inbound message: dedup, burst check, daily counters
// ABOUTME: Composes the message guard, usage ledger, and checkpoint store behind their interfaces
package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/harper/threadkeeper/internal/logger"
	"github.com/harper/threadkeeper/internal/storage"
)

// Enroller creates an identity on first contact without touching existing rows.
type Enroller interface {
	Ensure(ctx context.Context, identity, timezone string) (bool, error)
}

// Inbound is one message arriving from a channel.
type Inbound struct {
	MessageID string
	Identity  string
	// Timezone is used only when the identity is enrolled by this message.
	Timezone string
}

// Decision is the gatekeeper's verdict for one Inbound.
type Decision struct {
	Duplicate       bool `json:"duplicate" yaml:"duplicate"`
	Enrolled        bool `json:"enrolled" yaml:"enrolled"`
	Burst           bool `json:"burst" yaml:"burst"`
	NewConversation bool `json:"new_conversation" yaml:"new_conversation"`
	FirstOfDay      bool `json:"first_of_day" yaml:"first_of_day"`
	MessageCount    int  `json:"message_count" yaml:"message_count"`
}

// Gatekeeper runs the inbound control flow: guard first, then ledger.
type Gatekeeper struct {
	guard       storage.MessageGuard
	ledger      storage.UsageLedger
	checkpoints storage.CheckpointStore
	enroller    Enroller
	log         *logger.Logger
}

// NewGatekeeper creates a Gatekeeper. enroller may be nil, in which case unknown
// identities fail at the ledger with storage.ErrUnknownIdentity.
func NewGatekeeper(guard storage.MessageGuard, ledger storage.UsageLedger, checkpoints storage.CheckpointStore, enroller Enroller, log *logger.Logger) *Gatekeeper {
	if log == nil {
		log = logger.Nop()
	}
	return &Gatekeeper{
		guard:       guard,
		ledger:      ledger,
		checkpoints: checkpoints,
		enroller:    enroller,
		log:         log,
	}
}

// Admit records the message and returns the tally. A duplicate short-circuits
// before any counter moves. The first-of-day claim is only attempted when the
// thread has no current checkpoint, i.e. the message opens a conversation.
func (g *Gatekeeper) Admit(ctx context.Context, in Inbound) (Decision, error) {
	identity := strings.TrimSpace(in.Identity)
	if identity == "" {
		return Decision{}, storage.Invalid("missing identity")
	}

	var d Decision
	dup, err := g.guard.RecordIfNew(ctx, in.MessageID, identity)
	if err != nil {
		return d, fmt.Errorf("failed to record message: %w", err)
	}
	if dup {
		g.log.Debug("duplicate inbound message", "identity", identity, "message_id", in.MessageID)
		d.Duplicate = true
		return d, nil
	}

	if g.enroller != nil {
		d.Enrolled, err = g.enroller.Ensure(ctx, identity, in.Timezone)
		if err != nil {
			return d, fmt.Errorf("failed to enroll identity: %w", err)
		}
	}

	d.Burst, err = g.guard.IsBurst(ctx, identity)
	if err != nil {
		return d, fmt.Errorf("failed to check burst: %w", err)
	}

	d.MessageCount, err = g.ledger.IncrementMessageCount(ctx, identity)
	if err != nil {
		return d, fmt.Errorf("failed to count message: %w", err)
	}

	current, err := g.checkpoints.GetLatest(ctx, identity)
	if err != nil {
		return d, fmt.Errorf("failed to read thread: %w", err)
	}
	if current == nil {
		d.NewConversation = true
		d.FirstOfDay, err = g.ledger.ClaimFirstConversationSlot(ctx, identity)
		if err != nil {
			return d, fmt.Errorf("failed to claim conversation slot: %w", err)
		}
	}

	g.log.Info("inbound admitted",
		"identity", identity,
		"burst", d.Burst,
		"new_conversation", d.NewConversation,
		"first_of_day", d.FirstOfDay,
		"message_count", d.MessageCount)
	return d, nil
}
