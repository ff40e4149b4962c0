package index

import (
	"fmt"
	"time"
)

const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusErrored   = "errored"

	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// State is the progress of a full sync. It is persisted after every batch so
// that a sync survives restarts between batches.
type State struct {
	ID        string              `json:"id"`
	Status    string              `json:"status"`
	Running   bool                `json:"running"`
	Started   time.Time           `json:"started"`
	Finished  *time.Time          `json:"finished,omitempty"`
	BatchSize int                 `json:"batch_size"`
	Page      int                 `json:"page"`
	Total     int                 `json:"total"`
	Processed int                 `json:"processed"`
	Success   int                 `json:"success"`
	Skipped   int                 `json:"skipped"`
	Messages  map[string][]string `json:"messages"`
}

func idleState() *State {
	return &State{Status: StatusIdle, Messages: map[string][]string{}}
}

// TotalPages is the number of batches needed to cover Total.
func (s *State) TotalPages() int {
	if s.BatchSize <= 0 {
		return 0
	}
	return (s.Total + s.BatchSize - 1) / s.BatchSize
}

// Summary reads "processed/succeeded/skipped".
func (s *State) Summary() string {
	return fmt.Sprintf("%d processed of %d, %d succeeded, %d skipped", s.Processed, s.Total, s.Success, s.Skipped)
}

func (s *State) addMessage(severity string, message string) {
	if s.Messages == nil {
		s.Messages = map[string][]string{}
	}
	s.Messages[severity] = append(s.Messages[severity], message)
}

func (s *State) finish(status string, now time.Time) {
	s.Status = status
	s.Running = false
	s.Finished = &now
}

func (s *State) isComplete() bool {
	return s.Processed >= s.Total || s.Page > s.TotalPages()
}
