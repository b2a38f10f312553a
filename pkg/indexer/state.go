package indexer

// State is a step of the submission state machine. A submission moves
// through the states in declaration order and ends in StateDone or
// StateFailed.
type State string

const (
	StateCloning     State = "cloning"
	StateDiscovering State = "discovering-versions"
	StateMirroring   State = "mirroring"
	StateGenerating  State = "generating-artifacts"
	StateCommitting  State = "committing"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Terminal reports whether s ends a submission.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
