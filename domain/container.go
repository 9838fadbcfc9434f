package domain

// ContainerRef identifies either the single backlog or one sprint. The zero
// value is the backlog.
type ContainerRef struct {
	sprintID string
	isSprint bool
}

// Backlog returns the ref for the backlog container.
func Backlog() ContainerRef {
	return ContainerRef{}
}

// SprintRef returns the ref for the sprint with the given id.
func SprintRef(id string) ContainerRef {
	return ContainerRef{sprintID: id, isSprint: true}
}

// RefFromSprintID maps a task's nullable sprint id onto a container ref.
func RefFromSprintID(id *string) ContainerRef {
	if id == nil {
		return Backlog()
	}
	return SprintRef(*id)
}

// IsBacklog reports whether the ref names the backlog.
func (r ContainerRef) IsBacklog() bool {
	return !r.isSprint
}

// SprintID returns the sprint id and true when the ref names a sprint.
func (r ContainerRef) SprintID() (string, bool) {
	return r.sprintID, r.isSprint
}

// SprintIDPtr returns the nullable sprint id form used on the wire and on
// Task.SprintID.
func (r ContainerRef) SprintIDPtr() *string {
	if !r.isSprint {
		return nil
	}
	id := r.sprintID
	return &id
}

func (r ContainerRef) String() string {
	if !r.isSprint {
		return "backlog"
	}
	return "sprint:" + r.sprintID
}
