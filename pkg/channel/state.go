package channel

// State is the coarse connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// connState is the manager's internal state; exactly one variant is current.
type connState interface {
	state() State
}

type disconnectedState struct{}

type connectingState struct {
	attempt *attempt
}

type connectedState struct {
	conn       Conn
	url        string
	generation uint64
}

func (disconnectedState) state() State { return Disconnected }
func (connectingState) state() State   { return Connecting }
func (connectedState) state() State    { return Connected }

// attempt is one in-flight connect shared by every caller waiting on it.
type attempt struct {
	done chan struct{}
	err  error
}

func newAttempt() *attempt {
	return &attempt{done: make(chan struct{})}
}

func (a *attempt) finish(err error) {
	a.err = err
	close(a.done)
}
