package order

// State is a step of the order lifecycle:
//
//	PENDING -> ROUTING -> BUILDING -> SUBMITTED -> CONFIRMED
//	               \          \           \
//	                +----------+-----------+--> FAILED
//
// CONFIRMED is final. FAILED is final for a single execution attempt, but a
// queue-level retry re-enters ROUTING from it.
type State string

const (
	StatePending   State = "PENDING"
	StateRouting   State = "ROUTING"
	StateBuilding  State = "BUILDING"
	StateSubmitted State = "SUBMITTED"
	StateConfirmed State = "CONFIRMED"
	StateFailed    State = "FAILED"
)

// within-attempt edges
var transitions = map[State][]State{
	StatePending:   {StateRouting},
	StateRouting:   {StateBuilding, StateFailed},
	StateBuilding:  {StateSubmitted, StateFailed},
	StateSubmitted: {StateConfirmed, StateFailed},
}

// restartable lists the states a new execution attempt may start from.
// FAILED is the queue retry path; ROUTING, BUILDING and SUBMITTED are left
// behind by an attempt that crashed before reaching a terminal state and are
// seen again when the queue redelivers the job.
var restartable = map[State]bool{
	StatePending:   true,
	StateFailed:    true,
	StateRouting:   true,
	StateBuilding:  true,
	StateSubmitted: true,
}

func (s State) Valid() bool {
	switch s {
	case StatePending, StateRouting, StateBuilding, StateSubmitted, StateConfirmed, StateFailed:
		return true
	}
	return false
}

func (s State) IsTerminal() bool {
	return s == StateConfirmed || s == StateFailed
}

func (s State) String() string { return string(s) }

// CanTransition reports whether to directly follows from inside one attempt.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanRestart reports whether a new execution attempt may begin from s.
func CanRestart(s State) bool {
	return restartable[s]
}
