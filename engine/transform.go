package engine

// Transform is a stateful, single-threaded hook invoked by the Controller
// for every message it receives. Implementations are free to leave any
// method as a no-op; Check is the only one that must do useful work.
//
// The engine invokes Transform methods from a single goroutine (the
// Controller step loop); implementations need no internal locking on
// that account, and must not retain references to a Message after the
// call that passed it returns.
type Transform interface {
	// Start is called once, before the first Check, with configuration
	// data supplied as a sequence of strings.
	Start(data []string) error

	// Check inspects or rewrites a message. Returning (msg, "") forwards
	// msg (which may be the same instance, mutated, or a new one) to the
	// Sink. Returning a non-empty drop reason discards the message; the
	// reason is logged by the Controller.
	Check(msg Message) (Message, string)

	// Idle is called whenever the Source reports Idle. It may perform
	// periodic housekeeping but must not block.
	Idle()

	// Stop is called once during shutdown.
	Stop() error
}

// identity is the Transform used when none is configured: every message
// passes through unchanged.
type identity struct{}

// Identity returns the pass-through Transform used when no transform is
// configured.
func Identity() Transform { return identity{} }

func (identity) Start([]string) error             { return nil }
func (identity) Check(msg Message) (Message, string) { return msg, "" }
func (identity) Idle()                             {}
func (identity) Stop() error                       { return nil }
