package navigation

import (
	"context"
	"sync"

	"github.com/nkiryanov/jumenclient/internal/event"
	"github.com/nkiryanov/jumenclient/internal/logger"
)

// Well known view paths
const (
	SignIn        = "/sign-in"
	SignUp        = "/sign-up"
	Landing       = "/overview"
	OAuthCallback = "/oauth2/callback"
)

// Navigator moves the client to another view
// Session layer only asks for navigation, it never performs page reloads itself
type Navigator interface {
	Navigate(ctx context.Context, to string)
}

// History keeps the current location of the client and the visited trail
type History struct {
	mu      sync.RWMutex
	entries []string

	bus    event.Bus
	logger logger.Logger
}

func NewHistory(bus event.Bus, l logger.Logger) *History {
	if bus == nil {
		bus = event.Discard{}
	}
	return &History{bus: bus, logger: l}
}

func (h *History) Navigate(_ context.Context, to string) {
	h.mu.Lock()
	h.entries = append(h.entries, to)
	h.mu.Unlock()

	h.logger.Debug("Navigate", "to", to)
	h.bus.Publish(event.New(event.TypeNavigation, to))
}

// Current returns last location or empty string if client never navigated
func (h *History) Current() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.entries) == 0 {
		return ""
	}
	return h.entries[len(h.entries)-1]
}

// Entries returns copy of the visited locations, oldest first
func (h *History) Entries() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return append([]string(nil), h.entries...)
}
