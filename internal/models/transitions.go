package models

// stayTransitions maps each state to the states it may move to. The
// checked_out -> discarded edge is the administrative delete-checkout
// reversal; discarded and sinpa accept nothing.
var stayTransitions = map[StayState][]StayState{
	StayPending:    {StayActive, StayDiscarded},
	StayActive:     {StayCheckedOut, StaySinpa},
	StayCheckedOut: {StayDiscarded},
}

// CanTransition reports whether a stay may move from one state to another.
func CanTransition(from, to StayState) bool {
	for _, next := range stayTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
