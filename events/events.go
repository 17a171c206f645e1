package events

import "time"

// ShareEvent is published for every accepted submission.
type ShareEvent struct {
	Account string    `json:"account"`
	Worker  string    `json:"worker"`
	JobID   string    `json:"job_id"`
	Height  uint32    `json:"height"`
	Time    time.Time `json:"time"`
}
