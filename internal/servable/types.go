package servable

import (
	"fmt"
	"strconv"
)

// ID names one version of one model.
type ID struct {
	Name    string
	Version int64
}

func (id ID) String() string {
	return id.Name + "/" + strconv.FormatInt(id.Version, 10)
}

// State is a servable's position in its load lifecycle.
type State int

const (
	StateStart State = iota
	StateLoading
	StateAvailable
	StateUnloading
	StateEnd
)

// String returns the name mirrored into current-models.
func (s State) String() string {
	switch s {
	case StateStart:
		return "kStart"
	case StateLoading:
		return "kLoading"
	case StateAvailable:
		return "kAvailable"
	case StateUnloading:
		return "kUnloading"
	case StateEnd:
		return "kEnd"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event reports that a servable entered State.
type Event struct {
	ID    ID
	State State
}

func (e Event) Type() string {
	return e.State.String()
}

// Status is one row of a manager snapshot.
type Status struct {
	ID           ID     `json:"-"`
	Model        string `json:"model"`
	Version      int64  `json:"version"`
	State        string `json:"state"`
	ArtifactPath string `json:"artifact_path"`
	Error        string `json:"error,omitempty"`
}
