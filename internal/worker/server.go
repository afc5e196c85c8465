package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/laundrylens/internal/compress"
	"github.com/dunamismax/laundrylens/internal/config"
	"github.com/dunamismax/laundrylens/internal/domain"
	"github.com/dunamismax/laundrylens/internal/events"
	"github.com/dunamismax/laundrylens/internal/pipeline"
	"github.com/dunamismax/laundrylens/internal/queue"
	"github.com/dunamismax/laundrylens/internal/store"
	"github.com/dunamismax/laundrylens/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger          *log.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  processor
	objectProcessor processor
	defaults        domain.CompressionSettings
	webhookClient   webhookSender
	publisher       eventPublisher
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
	// retryState reads the attempt counters of a task; nil uses asynq's.
	retryState func(context.Context) (retried, maxRetry int, ok bool)
}

type processor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint string, d webhook.Delivery) error
}

type eventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// ObjectStorage is the bucket access the object-store pipeline needs.
type ObjectStorage interface {
	pipeline.ObjectReader
	pipeline.ObjectWriter
}

// Dependencies are the collaborators of a worker Server. Storage, Webhook,
// Publisher and Usage are optional.
type Dependencies struct {
	Storage    ObjectStorage
	Rasterizer compress.Rasterizer
	Defaults   domain.CompressionSettings
	Webhook    webhookSender
	Publisher  eventPublisher
	Jobs       store.JobStore
	Usage      store.UsageStore
	// MaxPixels bounds decoded source size; zero uses the compressor default.
	MaxPixels int
}

func NewServer(logger *log.Logger, queueCfg config.QueueConfig, workerCfg config.WorkerConfig, deps Dependencies) *Server {
	var objectProcessor processor
	if deps.Storage != nil {
		objectProcessor = pipeline.NewProcessor(
			pipeline.ObjectStoreFetcher{Storage: deps.Storage},
			pipeline.ObjectStoreEmitter{Storage: deps.Storage, OutputPrefix: "outputs"},
			deps.Rasterizer,
		).WithMaxPixels(deps.MaxPixels)
	}

	usageStore := deps.Usage
	if usageStore == nil {
		if jobAndUsageStore, ok := deps.Jobs.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	return &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:             make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor:  pipeline.NewLocalProcessor(workerCfg.LocalOutputDir, deps.Rasterizer).WithMaxPixels(deps.MaxPixels),
		objectProcessor: objectProcessor,
		defaults:        deps.Defaults,
		webhookClient:   deps.Webhook,
		publisher:       deps.Publisher,
		jobStore:        deps.Jobs,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("laundrylens/worker"),
	}
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeCompressUpload, s.handleCompress)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleCompress(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseCompressPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.compress_upload", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("job.content_type", payload.ContentType),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		outcome = "cancelled"
		return fmt.Errorf("wait for job slot: %w", ctx.Err())
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	settings := payload.Settings.WithDefaults(s.defaults)
	s.logger.Printf(
		"compressing job_id=%s source_type=%s object_key=%s max=%dx%d quality=%.2f",
		payload.JobID,
		payload.SourceType,
		payload.ObjectKey,
		settings.MaxWidth,
		settings.MaxHeight,
		settings.Quality,
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, err := s.process(ctx, payload, settings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compression failed")

		terminal := isTerminal(err)
		if !terminal && !s.finalAttempt(ctx) {
			s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
			outcome = "retry"
			return fmt.Errorf("compress upload: %w", err)
		}

		s.completeJob(ctx, payload.JobID, domain.JobStatusFailed, "", err.Error())
		s.reportFailure(ctx, payload, err)
		if terminal {
			return fmt.Errorf("compress upload: %w: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("compress upload: %w", err)
	}

	s.logger.Printf(
		"compressed job_id=%s output=%s bytes=%d->%d size=%dx%d passthrough=%t",
		payload.JobID,
		result.Output.Path,
		result.SourceBytes,
		result.Output.Bytes,
		result.Output.Width,
		result.Output.Height,
		result.Output.Passthrough,
	)
	s.completeJob(ctx, payload.JobID, domain.JobStatusSucceeded, result.Output.Path, "")
	if result.Output.Passthrough {
		s.metrics.passthroughTotal.Inc()
	}
	s.recordUsage(ctx, payload, result, time.Since(startedAt))
	s.reportSuccess(ctx, payload, result)

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "compressed")
	return nil
}

func (s *Server) process(ctx context.Context, payload queue.CompressPayload, settings domain.CompressionSettings) (pipeline.Result, error) {
	request := pipeline.Request{
		UploadID:    payload.JobID,
		SourceType:  payload.SourceType,
		ObjectKey:   payload.ObjectKey,
		FileName:    payload.FileName,
		ContentType: payload.ContentType,
		Options:     settings.Options(),
	}

	switch {
	case payload.SourceType == domain.SourceTypeLocalFile:
		return s.localProcessor.Process(ctx, request)
	case s.objectProcessor == nil:
		return pipeline.Result{}, fmt.Errorf("%w: %s without object storage", pipeline.ErrUnsupportedSourceType, payload.SourceType)
	default:
		return s.objectProcessor.Process(ctx, request)
	}
}

// isTerminal reports errors that no retry can fix.
func isTerminal(err error) bool {
	return errors.Is(err, compress.ErrInvalidInputKind) ||
		errors.Is(err, compress.ErrDecode) ||
		errors.Is(err, compress.ErrInvalidOptions) ||
		errors.Is(err, compress.ErrTooManyPixels) ||
		errors.Is(err, pipeline.ErrUnsupportedSourceType)
}

func asynqRetryState(ctx context.Context) (int, int, bool) {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 0, 0, false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return retried, maxRetry, ok
}

// finalAttempt reports whether asynq will not run the task again. A context
// without retry counters counts as the last attempt.
func (s *Server) finalAttempt(ctx context.Context) bool {
	state := s.retryState
	if state == nil {
		state = asynqRetryState
	}
	retried, maxRetry, ok := state(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) completeJob(ctx context.Context, jobID, status, outputKey, errMsg string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.Complete(ctx, jobID, status, outputKey, errMsg); err != nil {
		s.logger.Printf("job completion failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) reportSuccess(ctx context.Context, payload queue.CompressPayload, result pipeline.Result) {
	completedAt := time.Now().UTC()

	s.dispatchWebhook(ctx, payload, webhook.Delivery{
		Event:      events.RoutingKeyCompressed,
		JobID:      payload.JobID,
		OccurredAt: completedAt,
		Data: webhook.Compressed{
			Status:      domain.JobStatusSucceeded,
			SourceType:  payload.SourceType,
			ObjectKey:   payload.ObjectKey,
			RequestedAt: payload.RequestedAt,
			Output: webhook.Output{
				Key:         result.Output.Path,
				Name:        result.Output.Name,
				ContentType: result.Output.ContentType,
				Bytes:       result.Output.Bytes,
				SourceBytes: result.SourceBytes,
				Width:       result.Output.Width,
				Height:      result.Output.Height,
				Passthrough: result.Output.Passthrough,
			},
		},
	})

	s.publish(ctx, payload.JobID, events.RoutingKeyCompressed, events.Compressed{
		JobID:       payload.JobID,
		UserID:      payload.UserID,
		OutputKey:   result.Output.Path,
		OutputName:  result.Output.Name,
		Width:       result.Output.Width,
		Height:      result.Output.Height,
		SourceBytes: result.SourceBytes,
		OutputBytes: result.Output.Bytes,
		Passthrough: result.Output.Passthrough,
		DurationMS:  result.Duration.Milliseconds(),
		CompletedAt: completedAt,
	})
}

func (s *Server) reportFailure(ctx context.Context, payload queue.CompressPayload, cause error) {
	failedAt := time.Now().UTC()

	s.dispatchWebhook(ctx, payload, webhook.Delivery{
		Event:      events.RoutingKeyFailed,
		JobID:      payload.JobID,
		OccurredAt: failedAt,
		Data: webhook.Failed{
			Status:      domain.JobStatusFailed,
			SourceType:  payload.SourceType,
			ObjectKey:   payload.ObjectKey,
			RequestedAt: payload.RequestedAt,
			Error:       cause.Error(),
		},
	})

	s.publish(ctx, payload.JobID, events.RoutingKeyFailed, events.Failed{
		JobID:    payload.JobID,
		UserID:   payload.UserID,
		Error:    cause.Error(),
		FailedAt: failedAt,
	})
}

// dispatchWebhook delivers a notification. A failed delivery does not fail the
// job, since retrying the task would compress the upload again.
func (s *Server) dispatchWebhook(ctx context.Context, payload queue.CompressPayload, d webhook.Delivery) {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, d); err != nil {
		s.metrics.deliveryFailures.WithLabelValues("webhook").Inc()
		s.logger.Printf(
			"webhook delivery failed job_id=%s event=%s permanent=%t err=%v",
			payload.JobID, d.Event, webhook.IsPermanent(err), err,
		)
	}
}

func (s *Server) publish(ctx context.Context, jobID, routingKey string, body any) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, routingKey, body); err != nil {
		s.metrics.deliveryFailures.WithLabelValues("event").Inc()
		s.logger.Printf("event publish failed job_id=%s routing_key=%s err=%v", jobID, routingKey, err)
	}
}

func (s *Server) recordUsage(ctx context.Context, payload queue.CompressPayload, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" && s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, payload.JobID)
		if err != nil {
			s.logger.Printf("usage lookup failed job_id=%s err=%v", payload.JobID, err)
		} else if ok {
			userID = strings.TrimSpace(job.UserID)
		}
	}
	if userID == "" {
		userID = "anonymous"
	}

	pixelsProcessed := int64(result.Output.Width) * int64(result.Output.Height)

	bytesSaved := int64(result.SourceBytes - result.Output.Bytes)
	if bytesSaved < 0 {
		bytesSaved = 0
	}

	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           payload.JobID,
		PixelsProcessed: pixelsProcessed,
		BytesSaved:      bytesSaved,
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", payload.JobID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(pixelsProcessed))
	s.metrics.bytesSavedTotal.Add(float64(bytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}
