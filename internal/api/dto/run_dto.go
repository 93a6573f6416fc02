package dto

// WebhookEvent is the platform webhook envelope: the event type routes to a
// trigger, the object id becomes the run's resource id, and the data block is
// snapshotted as the run payload.
type WebhookEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"type" binding:"required"`
	Data      struct {
		ObjectID string                 `json:"object_id" binding:"required"`
		Object   map[string]interface{} `json:"object"`
	} `json:"data" binding:"required"`
}

// CreateRunRequest starts a run by hand, mostly for manual replays and
// backfills.
type CreateRunRequest struct {
	TriggerType string `json:"trigger_type" binding:"required"`
	ResourceID  string `json:"resource_id" binding:"required"`
	Payload     string `json:"payload"`
}

type ListRunsRequest struct {
	TriggerType string `form:"trigger_type"`
	Status      string `form:"status"`
	PageSize    int    `form:"page_size"`
	Cursor      string `form:"cursor"`
}

type ListRunsResponse struct {
	Runs       []RunDTO `json:"runs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type RunDTO struct {
	CorrelationID string `json:"correlation_id"`
	TriggerType   string `json:"trigger_type"`
	ResourceID    string `json:"resource_id"`
	Stage         string `json:"stage"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	LastError     string `json:"last_error,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type JobDTO struct {
	JobID         string `json:"job_id"`
	CorrelationID string `json:"correlation_id"`
	Stage         string `json:"stage"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	MaxAttempts   int    `json:"max_attempts"`
	ScheduledAt   string `json:"scheduled_at"`
	LockOwner     string `json:"lock_owner,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type RunDetailResponse struct {
	Run  RunDTO   `json:"run"`
	Jobs []JobDTO `json:"jobs"`
}

type StatsResponse struct {
	Runs        map[string]int `json:"runs"`
	Jobs        map[string]int `json:"jobs"`
	DeadLetters int            `json:"dead_letters"`
}

type ReplayRequest struct {
	BatchSize int `json:"batch_size"`
}

type ReplayResponse struct {
	Delivered int `json:"delivered"`
}
