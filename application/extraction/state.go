package extraction

import "fmt"

// State is the lifecycle position of one pipeline run
type State int

const (
	StateIdle State = iota
	StateSourceOpened
	StateTrackSelected
	StateDestOpened
	StateWriting
	StateFinalized
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:          "idle",
	StateSourceOpened:  "source_opened",
	StateTrackSelected: "track_selected",
	StateDestOpened:    "dest_opened",
	StateWriting:       "writing",
	StateFinalized:     "finalized",
	StateFailed:        "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateFailed
}

// Failure records the state a run was in when it failed
type Failure struct {
	State State
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%v (while %s)", f.Err, f.State)
}

func (f *Failure) Unwrap() error {
	return f.Err
}
