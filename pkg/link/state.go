package link

// State is the connection lifecycle of a Link.
type State int32

const (
	Unconnected State = iota
	Handshaking
	Connected
	Halting
	Closed
)

func (s State) String() string {
	switch s {
	case Unconnected:
		return "unconnected"
	case Handshaking:
		return "handshaking"
	case Connected:
		return "connected"
	case Halting:
		return "halting"
	case Closed:
		return "closed"
	default:
		return "invalid"
	}
}

// running reports whether the listeners and dispatcher are live.
func (s State) running() bool {
	return s == Connected || s == Halting
}
