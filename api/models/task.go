package models

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Rank orders statuses along the lifecycle. Both terminal states share the top rank.
func (s TaskStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s TaskStatus) Valid() bool {
	return s.Rank() >= 0
}

// CanTransitionTo reports whether a task in status s may move to next.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	return next.Valid() && next.Rank() > s.Rank()
}

type ResultFile struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

type Task struct {
	ID      string
	Status  TaskStatus
	Results []ResultFile
}
