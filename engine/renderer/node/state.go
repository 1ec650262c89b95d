package node

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/pipeline"
)

// Phase is the node's progress towards dispatching.
type Phase int

const (
	// PhaseLoading waits for the compute pipeline. Nothing is recorded.
	PhaseLoading Phase = iota
	// PhaseReady dispatches every tick.
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// State is Loading or Ready with a frame parity. Parity only advances in the ping-pong
// variant.
type State struct {
	Phase  Phase
	Parity uint32
}

func (s State) String() string {
	if s.Phase == PhaseReady {
		return fmt.Sprintf("ready(%d)", s.Parity)
	}
	return s.Phase.String()
}

// Transition applies one pipeline poll to a node state. A node never leaves Ready, and
// a failed pipeline is returned as an error rather than a state.
//
// Parameters:
//   - s: the current node state
//   - ps: the pipeline state observed this tick
//
// Returns:
//   - State: the next node state
//   - error: the pipeline's error if it failed to compile
func Transition(s State, ps pipeline.State) (State, error) {
	if s.Phase == PhaseReady {
		return s, nil
	}
	switch ps.Status {
	case pipeline.StatusReady:
		return State{Phase: PhaseReady}, nil
	case pipeline.StatusFailed:
		if ps.Err == nil {
			return s, fmt.Errorf("compute pipeline failed")
		}
		return s, ps.Err
	default:
		return s, nil
	}
}

// WorkgroupCount returns the dispatch size covering a width by height texture with square
// workgroups. Remainders are truncated, so texels past the last full workgroup are never
// written.
//
// Parameters:
//   - width: texture width in texels
//   - height: texture height in texels
//   - size: workgroup edge length
//
// Returns:
//   - [3]uint32: the workgroup counts {width/size, height/size, 1}
func WorkgroupCount(width, height, size uint32) [3]uint32 {
	if size == 0 {
		return [3]uint32{0, 0, 1}
	}
	return [3]uint32{width / size, height / size, 1}
}
