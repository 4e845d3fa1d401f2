package mesh

// State is the lifecycle of one media connection leg.
type State int

const (
	StateAbsent State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type Event int

const (
	// EventDial is an outbound connection attempt.
	EventDial Event = iota
	// EventAccept is an inbound request being answered.
	EventAccept
	// EventStream is a remote track becoming available.
	EventStream
	// EventClose is either side closing, or the participant leaving.
	EventClose
)

var transitions = map[State]map[Event]State{
	StateAbsent: {
		EventDial:   StateConnecting,
		EventAccept: StateConnected,
		EventClose:  StateClosed,
	},
	StateConnecting: {
		EventAccept: StateConnected,
		EventStream: StateConnected,
		EventClose:  StateClosed,
	},
	StateConnected: {
		EventStream: StateConnected,
		EventClose:  StateClosed,
	},
	// Closed is terminal; every event is ignored.
	StateClosed: {},
}

// Next applies e to s. ok is false when the event is ignored in state s, in
// which case s is returned unchanged.
func Next(s State, e Event) (next State, ok bool) {
	next, ok = transitions[s][e]
	if !ok {
		return s, false
	}
	return next, true
}
