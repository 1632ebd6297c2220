package domain

// Event types published after a committed state transition.
const (
	EventSessionStarted        = "session.started"
	EventSessionEnded          = "session.ended"
	EventSubscriptionActivated = "subscription.activated"
	EventPasswordResetIssued   = "password_reset.issued"
)

// Event is a domain notification. Data must not carry secrets.
type Event struct {
	Type        string
	AggregateID string
	Data        any
}
