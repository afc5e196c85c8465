package queue

import (
	"testing"
	"time"

	"github.com/dunamismax/laundrylens/internal/domain"
	"github.com/hibiken/asynq"
)

func TestCompressTaskRoundTrip(t *testing.T) {
	payload := CompressPayload{
		JobID:       "job-123",
		SourceType:  domain.SourceTypeS3Presigned,
		ObjectKey:   "uploads/job-123/source",
		FileName:    "label.png",
		ContentType: "image/png",
		Settings:    domain.CompressionSettings{MaxWidth: 1280, Quality: 0.6},
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewCompressTask(payload)
	if err != nil {
		t.Fatalf("NewCompressTask returned error: %v", err)
	}
	if task.Type() != TypeCompressUpload {
		t.Fatalf("expected task type %q, got %q", TypeCompressUpload, task.Type())
	}

	parsed, err := ParseCompressPayload(task)
	if err != nil {
		t.Fatalf("ParseCompressPayload returned error: %v", err)
	}

	if parsed.JobID != payload.JobID {
		t.Fatalf("expected job_id %q, got %q", payload.JobID, parsed.JobID)
	}
	if parsed.Settings != payload.Settings {
		t.Fatalf("expected settings %+v, got %+v", payload.Settings, parsed.Settings)
	}
}

func TestParseCompressPayloadRejectsGarbage(t *testing.T) {
	if _, err := ParseCompressPayload(asynq.NewTask(TypeCompressUpload, []byte("{"))); err == nil {
		t.Fatal("expected error for malformed payload")
	}
	if _, err := ParseCompressPayload(asynq.NewTask(TypeCompressUpload, []byte(`{"object_key":"x"}`))); err == nil {
		t.Fatal("expected error for payload without job_id")
	}
}

func TestTaskOptionsUseJobScopedID(t *testing.T) {
	c := &Client{cfg: ClientConfig{Queue: "compress", MaxRetry: 2}.withDefaults()}

	opts := c.taskOptions(CompressPayload{JobID: "job-9"})
	found := map[asynq.OptionType]any{}
	for _, opt := range opts {
		found[opt.Type()] = opt.Value()
	}

	if found[asynq.QueueOpt] != "compress" {
		t.Fatalf("expected queue compress, got %v", found[asynq.QueueOpt])
	}
	if found[asynq.TaskIDOpt] != "upload:compress:job-9" {
		t.Fatalf("expected job-scoped task id, got %v", found[asynq.TaskIDOpt])
	}
	if found[asynq.MaxRetryOpt] != 2 {
		t.Fatalf("expected max retry 2, got %v", found[asynq.MaxRetryOpt])
	}
	if found[asynq.TimeoutOpt] != 3*time.Minute {
		t.Fatalf("expected default 3m timeout, got %v", found[asynq.TimeoutOpt])
	}
	if found[asynq.RetentionOpt] != 24*time.Hour {
		t.Fatalf("expected default 24h retention, got %v", found[asynq.RetentionOpt])
	}
}
