package backfill

// Job is the queue payload for a queued history fetch
type Job struct {
	Username string `json:"username"`
	Limit    int    `json:"limit,omitempty"`
}
