package lifecycle

import (
	"time"

	"antow-bot/internal/models"
)

type Action int

const (
	ActionPromptPayment Action = iota
	ActionGrant
	ActionRevoke
)

func (a Action) String() string {
	switch a {
	case ActionGrant:
		return "grant"
	case ActionRevoke:
		return "revoke"
	default:
		return "prompt_payment"
	}
}

const (
	DefaultGrantDays    = 30
	DefaultReminderDays = 3
	DefaultInviteTTL    = 24 * time.Hour

	// Invite links are one-time door-openers, never standing credentials.
	InviteMemberLimit = 1
)

// Decision is what should happen for one subscriber at one instant.
// Remind is advisory and may accompany ActionGrant; it never replaces it.
type Decision struct {
	Action    Action
	InviteTTL time.Duration
	Remind    bool
	DaysLeft  int
}

// Engine holds the lifecycle parameters. Decide is a pure function of its
// inputs so the gate and the sweeps can be tested against synthetic clocks.
type Engine struct {
	GrantDays    int
	ReminderDays int
	InviteTTL    time.Duration
}

func DefaultEngine() Engine {
	return Engine{
		GrantDays:    DefaultGrantDays,
		ReminderDays: DefaultReminderDays,
		InviteTTL:    DefaultInviteTTL,
	}
}

func (e Engine) Decide(sub models.Subscriber, now time.Time) Decision {
	if !sub.IsSubscribed || sub.SubscriptionExpiresAt == nil {
		return Decision{Action: ActionPromptPayment}
	}

	expiresAt := *sub.SubscriptionExpiresAt
	if !expiresAt.After(now) {
		// Stale record: must be reset to unsubscribed before any further
		// decision is made for this subscriber.
		return Decision{Action: ActionRevoke}
	}

	d := Decision{Action: ActionGrant, InviteTTL: e.InviteTTL}
	if left := expiresAt.Sub(now); left <= time.Duration(e.ReminderDays)*24*time.Hour {
		d.Remind = true
		d.DaysLeft = int(left / (24 * time.Hour))
	}
	return d
}

// GrantUntil is the expiry assigned on approval. Always counted from now,
// re-approving an active subscriber does not stack durations.
func (e Engine) GrantUntil(now time.Time) time.Time {
	return now.Add(time.Duration(e.GrantDays) * 24 * time.Hour)
}
