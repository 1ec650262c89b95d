package pipeline

import "fmt"

// Handle identifies a queued compute pipeline. Handles are never reused.
type Handle uint64

// Status is the compilation phase of a queued pipeline.
type Status int

const (
	// StatusQueued means the shader source is not available yet, or the pipeline was
	// evicted and will be rebuilt.
	StatusQueued Status = iota

	// StatusCompiling means validation and pipeline creation are running.
	StatusCompiling

	// StatusReady means the pipeline can be bound.
	StatusReady

	// StatusFailed is terminal; State.Err holds the *CompileError.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusCompiling:
		return "compiling"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// State is the observable state of a Handle.
type State struct {
	Status Status
	Err    error
}

// CompileError names the shader and entry point that failed along with the
// underlying diagnostic.
type CompileError struct {
	ShaderRef  string
	EntryPoint string
	Err        error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("failed to compile %s (entry point %s): %v", e.ShaderRef, e.EntryPoint, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}
