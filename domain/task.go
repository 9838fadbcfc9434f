package domain

// TaskStatus is a step in the project's workflow. The set is ordered and
// project-configurable; these are the statuses every project carries.
type TaskStatus string

const (
	StatusTodo        TaskStatus = "TODO"
	StatusInProgress  TaskStatus = "IN_PROGRESS"
	StatusReadyToTest TaskStatus = "READY_TO_TEST"
	StatusBlocked     TaskStatus = "BLOCKED"
	StatusDone        TaskStatus = "DONE"
	StatusLive        TaskStatus = "LIVE"
)

// Closed reports whether the status counts as finished work for sprint
// completion purposes.
func (s TaskStatus) Closed() bool {
	return s == StatusDone || s == StatusLive
}

// Priority of a task.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Task represents a single unit of work on the board. SprintID nil means the
// task sits in the backlog. Order totals-orders the task inside its container;
// ties are broken by position in the container's list.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
	EpicID      string     `json:"epicId,omitempty"`
	Team        string     `json:"team,omitempty"`
	SprintID    *string    `json:"sprintId"`
	Order       int        `json:"order"`
	SplitFrom   string     `json:"splitFrom,omitempty"`
	SplitTasks  []string   `json:"splitTasks,omitempty"`
}

// Container returns the ref of the container the task belongs to.
func (t Task) Container() ContainerRef {
	if t.SprintID == nil {
		return Backlog()
	}
	return SprintRef(*t.SprintID)
}

// TransferOptions controls what a continuation task copies from its original.
type TransferOptions struct {
	Description bool `json:"description"`
	Comments    bool `json:"comments"`
}
