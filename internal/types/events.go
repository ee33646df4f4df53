package types

// Event is one entry of the domain-event stream appended to after each
// committed mutation. The websocket fanout is one subscriber; durable
// audit sinks can be added without touching the core.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"data"`
}

// Event names pushed to connected observers. The pause toggle is a
// distinct event so UI layers can react differently from a general
// state refresh.
const (
	EventBacktestInitialised = "backtestInitialised"
	EventBacktestUpdated     = "backtestUpdated"
	EventDateUpdated         = "dateUpdated"
	EventTradesUpdated       = "tradesUpdated"
	EventPauseToggled        = "pauseToggled"
	EventAvailabilityChanged = "availabilityChanged"
	EventBacktestFinished    = "backtestFinished"
)

// Publisher receives committed domain events. Implementations must not
// block; delivery is fire-and-forget and at most once per observer.
type Publisher interface {
	Publish(event Event)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(event Event) { f(event) }
