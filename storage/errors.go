package storage

// notFoundError is returned when a task or sprint row does not exist.
type notFoundError struct {
	kind string
	id   string
}

func (e notFoundError) Error() string {
	return e.kind + " " + e.id + " not found"
}

func (notFoundError) NotFound() {}

// permissionError is returned before any write when the actor lacks the
// privilege for the mutation.
type permissionError struct {
	reason string
}

func (e permissionError) Error() string {
	return "permission denied: " + e.reason
}

func (permissionError) PermissionDenied() {}

// invalidError is returned for requests that are well-formed but make no
// sense, like a disposition targeting the transitioning sprint itself.
type invalidError struct {
	reason string
}

func (e invalidError) Error() string {
	return "invalid request: " + e.reason
}

func (invalidError) InvalidInput() {}
