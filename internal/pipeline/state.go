package pipeline

// State is a Driver lifecycle state.
type State string

const (
	Idle           State = "Idle"
	ReadingSources State = "ReadingSources"
	Validating     State = "Validating"
	Normalizing    State = "Normalizing"
	Merging        State = "Merging"
	Loading        State = "Loading"
	Completed      State = "Completed"
	Failed         State = "Failed"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool { return s == Completed || s == Failed }

// next lists the legal successors of each state. Any non-terminal state
// may fail.
var next = map[State]State{
	Idle:           ReadingSources,
	ReadingSources: Validating,
	Validating:     Normalizing,
	Normalizing:    Merging,
	Merging:        Loading,
	Loading:        Completed,
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	return to == Failed || next[from] == to
}
