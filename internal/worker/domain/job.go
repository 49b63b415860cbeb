package domain

// JobMessage is the queue payload pointing at a persisted verification job.
type JobMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
}
