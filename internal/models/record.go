package models

import "time"

// RecordInfo describes a stored activity record document.
type RecordInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}
