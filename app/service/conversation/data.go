package conversation

import "time"

// State of one call's intake machine.
type State string

const (
	StateGreeting          State = "GREETING"
	StateAwaitingUtterance State = "AWAITING_UTTERANCE"
	StateClassifying       State = "CLASSIFYING"
	StateFinalizing        State = "FINALIZING"
	StateClosed            State = "CLOSED"
)

const (
	greetingText = "911, what's your emergency?"
	closingText  = "Help is on the way. Stay on the line if it is safe to do so."
)

// Event is one inbound utterance from the telephony boundary.
type Event struct {
	CallID    string
	Text      string
	Timestamp time.Time
}

// Prompt is what the telephony boundary should render back to the
// caller. Gather reports whether more input is expected; the engine
// never formats voice markup itself.
type Prompt struct {
	Text   string
	Gather bool
}
