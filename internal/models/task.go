package models

import "time"

// Task asks the worker to run one collection/aggregation cycle.
type Task struct {
	ID         string    `json:"id"`
	Timeframe  string    `json:"timeframe"`
	Source     string    `json:"source"` // scheduler, api, cli
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
}

// UpdateEvent is published on the updates channel after a timeframe is cached.
type UpdateEvent struct {
	Timeframe   string    `json:"timeframe"`
	Instruments int       `json:"instruments"`
	Records     int       `json:"records"`
	OpenTime    *int64    `json:"openTime"`
	CloseTime   *int64    `json:"closeTime"`
	UpdatedAt   time.Time `json:"updated_at"`
}
