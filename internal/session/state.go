package session

// State is the lifecycle phase of a session turn.
type State string

// Turn lifecycle states. AwaitingModel, Parsing, and Dispatching cycle
// once per round; Done and Aborted are terminal for the turn.
const (
	StateIdle          State = "idle"
	StateAwaitingModel State = "awaiting_model"
	StateParsing       State = "parsing"
	StateDispatching   State = "dispatching"
	StateDone          State = "done"
	StateAborted       State = "aborted"
)

// Terminal reports whether the state ends a turn.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}
