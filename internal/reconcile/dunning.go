package reconcile

import (
	"time"

	"github.com/clearhaven/dunlin/internal/config"
	"github.com/clearhaven/dunlin/internal/notification"
	subscriptiondomain "github.com/clearhaven/dunlin/internal/subscription/domain"
	tenantdomain "github.com/clearhaven/dunlin/internal/tenant/domain"
)

// Telemetry event names recorded when dunning state moves.
const (
	EventPaymentFailed         = "payment.failed"
	EventPaymentReminder       = "payment.reminder"
	EventPaymentRecovered      = "payment.recovered"
	EventSubscriptionSuspended = "subscription.suspended"
	EventDisputeOpened         = "dispute.opened"
	EventDisputeClosed         = "dispute.closed"
	EventRefundRecorded        = "refund.recorded"
	EventCheckoutCompleted     = "checkout.completed"
	EventSubscriptionDeleted   = "subscription.deleted"
)

// EscalationOutcome reports what a failure signal changed. The subscription
// passed to Escalate is mutated in place; the outcome carries the derived
// tenant state and the notification to send after the mutation commits.
type EscalationOutcome struct {
	TenantState  tenantdomain.State
	StateChanged bool

	// EmailKind is empty when no notification is due (cooldown window).
	EmailKind     string
	DaysRemaining int

	Event string
}

// Escalate applies one payment-failure signal to the subscription at the
// given time. It is a pure state transition: no I/O, no side effects beyond
// the aggregate itself.
func Escalate(sub *subscriptiondomain.Subscription, current tenantdomain.State, now time.Time, policy config.DunningPolicy) EscalationOutcome {
	now = now.UTC()

	if !sub.EpisodeOpen() {
		// New episode. Suspension is stronger than PastDue and is never
		// downgraded by a fresh failure.
		sub.FirstPaymentFailedAt = &now
		sub.LastNotificationSentAt = &now
		sub.UpdatedAt = now

		next := tenantdomain.Degrade(current, tenantdomain.StatePastDue)
		return EscalationOutcome{
			TenantState:  next,
			StateChanged: next != current,
			EmailKind:    notification.KindPaymentFailed,
			Event:        EventPaymentFailed,
		}
	}

	elapsed := now.Sub(sub.FirstPaymentFailedAt.UTC())
	if elapsed >= policy.GracePeriod {
		if current == tenantdomain.StateSuspended {
			// Terminal for the episode; nothing new to announce.
			return EscalationOutcome{TenantState: current}
		}
		sub.UpdatedAt = now
		return EscalationOutcome{
			TenantState:  tenantdomain.StateSuspended,
			StateChanged: true,
			EmailKind:    notification.KindSuspended,
			Event:        EventSubscriptionSuspended,
		}
	}

	if sub.LastNotificationSentAt == nil || now.Sub(sub.LastNotificationSentAt.UTC()) >= policy.NotificationCooldown {
		sub.LastNotificationSentAt = &now
		sub.UpdatedAt = now
		return EscalationOutcome{
			TenantState:   current,
			EmailKind:     notification.KindReminder,
			DaysRemaining: daysRemaining(policy.GracePeriod, elapsed),
			Event:         EventPaymentReminder,
		}
	}

	// Within the cooldown window: the common duplicate/near-duplicate path.
	return EscalationOutcome{TenantState: current}
}

// Recover applies a payment-success signal. Closing an episode moves PastDue
// back to Active; Suspended requires an explicit reactivation and is left
// alone.
func Recover(sub *subscriptiondomain.Subscription, current tenantdomain.State, now time.Time) EscalationOutcome {
	if !sub.EpisodeOpen() {
		// Routine renewal payment.
		return EscalationOutcome{TenantState: current}
	}

	sub.FirstPaymentFailedAt = nil
	sub.LastNotificationSentAt = nil
	sub.UpdatedAt = now.UTC()

	next := current
	if current == tenantdomain.StatePastDue {
		next = tenantdomain.StateActive
	}
	return EscalationOutcome{
		TenantState:  next,
		StateChanged: next != current,
		Event:        EventPaymentRecovered,
	}
}

// daysRemaining rounds the rest of the grace period up to whole days with a
// floor of one, so the final reminder never reads "0 days".
func daysRemaining(gracePeriod, elapsed time.Duration) int {
	remaining := gracePeriod - elapsed
	days := int((remaining + 24*time.Hour - 1) / (24 * time.Hour))
	if days < 1 {
		days = 1
	}
	return days
}
