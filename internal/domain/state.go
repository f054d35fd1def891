package domain

type State string

const (
	StateDraft     State = "draft"
	StateReserved  State = "reserved"
	StatePaid      State = "paid"
	StateFulfilled State = "fulfilled"
	StateCanceled  State = "canceled"
	StateExpired   State = "expired"
)

var validNext = map[State]map[State]bool{
	StateDraft:     {StateReserved: true, StateCanceled: true},
	StateReserved:  {StatePaid: true, StateCanceled: true, StateExpired: true},
	StatePaid:      {StateFulfilled: true, StateCanceled: true, StateExpired: true},
	StateFulfilled: {},
	StateCanceled:  {},
	StateExpired:   {},
}

func CanTransition(from, to State) bool {
	return validNext[from][to]
}

// Sources returns the states from which to is reachable.
func Sources(to State) []State {
	var out []State
	for _, from := range []State{StateDraft, StateReserved, StatePaid} {
		if validNext[from][to] {
			out = append(out, from)
		}
	}
	return out
}

func (s State) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s State) Terminal() bool {
	return s == StateFulfilled || s == StateCanceled || s == StateExpired
}

// HoldsStock reports whether a sale in this state owns units in its slot's reserved counter.
func (s State) HoldsStock() bool {
	return s == StateReserved || s == StatePaid
}
