package queue

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

// ErrAlreadyQueued is returned when a job already has a pending or retained
// compress task.
var ErrAlreadyQueued = errors.New("job is already queued")

type ClientConfig struct {
	Queue     string
	MaxRetry  int
	Timeout   time.Duration
	Retention time.Duration
}

type Client struct {
	client *asynq.Client
	cfg    ClientConfig
}

func NewClient(redisOpt asynq.RedisClientOpt, cfg ClientConfig) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		cfg:    cfg.withDefaults(),
	}
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Queue == "" {
		c.Queue = "default"
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	return c
}

// EnqueueCompress schedules a compress task keyed by job ID, so a job cannot
// be queued twice while its task is pending or retained.
func (c *Client) EnqueueCompress(ctx context.Context, payload CompressPayload) (*asynq.TaskInfo, error) {
	task, err := NewCompressTask(payload)
	if err != nil {
		return nil, err
	}

	info, err := c.client.EnqueueContext(ctx, task, c.taskOptions(payload)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, ErrAlreadyQueued
	}
	return info, err
}

func (c *Client) taskOptions(payload CompressPayload) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(c.cfg.Queue),
		asynq.TaskID(compressTaskID(payload.JobID)),
		asynq.MaxRetry(c.cfg.MaxRetry),
		asynq.Timeout(c.cfg.Timeout),
		asynq.Retention(c.cfg.Retention),
	}
}

func compressTaskID(jobID string) string {
	return TypeCompressUpload + ":" + jobID
}

func (c *Client) Close() error {
	return c.client.Close()
}
