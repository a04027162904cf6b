package models

import "time"

// SessionStatus represents the status of a record build session.
type SessionStatus string

const (
	SessionStatusPending  SessionStatus = "pending"
	SessionStatusRunning  SessionStatus = "running"
	SessionStatusComplete SessionStatus = "complete"
	SessionStatusError    SessionStatus = "error"
)

// BuildSession tracks one record-building run over a session window.
type BuildSession struct {
	ID            string        `json:"id"`
	InstrumentID  string        `json:"instrumentId"`
	Start         time.Time     `json:"start"`
	End           time.Time     `json:"end"`
	Status        SessionStatus `json:"status"`
	ActivityCount int           `json:"activityCount,omitempty"`
	FileCount     int           `json:"fileCount,omitempty"`
	SkippedCount  int           `json:"skippedCount,omitempty"`
	RecordID      string        `json:"recordId,omitempty"`
	Error         string        `json:"error,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// NewBuildSession creates a new BuildSession in pending status.
func NewBuildSession(id, instrumentID string, start, end time.Time) *BuildSession {
	return &BuildSession{
		ID:           id,
		InstrumentID: instrumentID,
		Start:        start,
		End:          end,
		Status:       SessionStatusPending,
		CreatedAt:    time.Now(),
	}
}
