package webhook

import "time"

// Delivery is the JSON envelope posted to a job's webhook URL. Data holds a
// Compressed or Failed body depending on Event.
type Delivery struct {
	ID         string    `json:"id"`
	Event      string    `json:"event"`
	JobID      string    `json:"job_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type Compressed struct {
	Status      string    `json:"status"`
	SourceType  string    `json:"source_type"`
	ObjectKey   string    `json:"object_key"`
	RequestedAt time.Time `json:"requested_at"`
	Output      Output    `json:"output"`
}

type Output struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Bytes       int    `json:"bytes"`
	SourceBytes int    `json:"source_bytes"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Passthrough bool   `json:"passthrough"`
}

type Failed struct {
	Status      string    `json:"status"`
	SourceType  string    `json:"source_type"`
	ObjectKey   string    `json:"object_key"`
	RequestedAt time.Time `json:"requested_at"`
	Error       string    `json:"error"`
}
