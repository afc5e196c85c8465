package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/laundrylens/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeCompressUpload = "upload:compress"

type CompressPayload struct {
	JobID       string                     `json:"job_id"`
	UserID      string                     `json:"user_id,omitempty"`
	SourceType  string                     `json:"source_type"`
	WebhookURL  string                     `json:"webhook_url,omitempty"`
	ObjectKey   string                     `json:"object_key"`
	FileName    string                     `json:"file_name,omitempty"`
	ContentType string                     `json:"content_type,omitempty"`
	Settings    domain.CompressionSettings `json:"settings"`
	RequestedAt time.Time                  `json:"requested_at"`
}

func NewCompressTask(payload CompressPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal compress payload: %w", err)
	}
	return asynq.NewTask(TypeCompressUpload, body), nil
}

func ParseCompressPayload(task *asynq.Task) (CompressPayload, error) {
	var payload CompressPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return CompressPayload{}, fmt.Errorf("unmarshal compress payload: %w", err)
	}
	if payload.JobID == "" {
		return CompressPayload{}, fmt.Errorf("compress payload is missing job_id")
	}
	return payload, nil
}
