package event

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeSessionLoading  Type = "session.loading"
	TypeSessionSignedIn Type = "session.signed_in"
	TypeSessionCleared  Type = "session.signed_out"
	TypeSessionExpired  Type = "session.expired"
	TypeTokenRefreshed  Type = "token.refreshed"
	TypeOAuthFailed     Type = "oauth.failed"
	TypeNavigation      Type = "navigation"
)

type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func New(t Type, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}

// Discard is a Bus nobody listens to
type Discard struct{}

func (Discard) Publish(Event) {}

func (Discard) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
