package publisher

// State is the connection state of a Publisher.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// ready reports whether waiters blocked on a connection should wake up.
func (s State) ready() bool {
	return s == Connected || s == Closed
}
