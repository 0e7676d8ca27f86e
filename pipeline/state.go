package pipeline

// State is the pipeline-level state of one run.
type State int32

const (
	// StatePending is the initial state before any stage has started.
	StatePending State = iota

	// StateTesting runs the full build matrix.
	StateTesting

	// StateBuilding produces the single distributable artifact.
	StateBuilding

	// StateGating evaluates the tag-ancestry gate.
	StateGating

	// StatePublishing uploads the artifact to the package index.
	StatePublishing

	// StateDone is the terminal success state.
	StateDone

	// StateAborted is the terminal failure state; the run's error carries
	// the first failing stage's diagnostics.
	StateAborted
)

// String returns the lower-case stage name used in logs and error stages.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateTesting:
		return "test"
	case StateBuilding:
		return "build"
	case StateGating:
		return "gate"
	case StatePublishing:
		return "publish"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}
