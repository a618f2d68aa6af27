package index

import "fmt"

// BuildError means the index could not be constructed, usually because
// the embedding capability is unavailable. The caller decides whether
// to abort or degrade.
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string { return fmt.Sprintf("building index: %v", e.Err) }
func (e *BuildError) Unwrap() error { return e.Err }

// LoadFailure distinguishes why a snapshot could not be loaded.
type LoadFailure int

const (
	// LoadNotFound means no snapshot exists at the directory.
	LoadNotFound LoadFailure = iota
	// LoadCorrupt means a snapshot exists but could not be decoded.
	LoadCorrupt
)

// LoadError reports a failed snapshot load, keeping absence distinct
// from corruption so the caller can decide to rebuild.
type LoadError struct {
	Failure LoadFailure
	Dir     string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Failure == LoadNotFound {
		return fmt.Sprintf("no index snapshot at %s", e.Dir)
	}
	return fmt.Sprintf("corrupt index snapshot at %s: %v", e.Dir, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
