package domain

import "time"

// Notification is an applicant-facing message emitted after a committed
// project transition.
type Notification struct {
	ID         string        `json:"id"`
	ProjectID  int64         `json:"project_id"`
	Event      ProjectEvent  `json:"event"`
	Status     ProjectStatus `json:"status"`
	Recipients []string      `json:"recipients"`
	Message    string        `json:"message,omitempty"`
	Actor      string        `json:"actor,omitempty"`
	At         time.Time     `json:"at"`
}
