package monitor

// State describes what the monitor observed on its latest tick.
type State int

const (
	StateIdle      State = iota // Nothing playing or playback unavailable
	StateRecording              // Playing from the tracked collection
	StateUntracked              // Playing from another context, skips are not recorded
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateUntracked:
		return "untracked"
	default:
		return "unknown"
	}
}
