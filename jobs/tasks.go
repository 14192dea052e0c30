package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/evdms/evdms/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskQuotationExpire persists the expired status of overdue quotations.
	TaskQuotationExpire = "quotations:expire"
)

// QuotationExpirePayload is the task body. An empty payload is valid.
type QuotationExpirePayload struct {
	Trigger string `json:"trigger,omitempty"`
}

// NewQuotationExpireTask constructs the sweep task. trigger is recorded in
// logs only ("cron", "manual").
func NewQuotationExpireTask(trigger string) (*asynq.Task, error) {
	data, err := json.Marshal(QuotationExpirePayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskQuotationExpire, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(5*time.Minute)), nil
}

// Sweeper persists expiry of overdue quotations.
type Sweeper interface {
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
}

// QuotationExpireJob runs the sweep for the worker.
type QuotationExpireJob struct {
	sweeper Sweeper
	log     *slog.Logger
	metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewQuotationExpireJob wires the job. logger and metrics may be nil.
func NewQuotationExpireJob(sweeper Sweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *QuotationExpireJob {
	return &QuotationExpireJob{sweeper: sweeper, log: logger, metrics: metrics}
}

// WithClock overrides the time source.
func (j *QuotationExpireJob) WithClock(clock func() time.Time) {
	j.clock = clock
}

// Handle processes TaskQuotationExpire tasks.
func (j *QuotationExpireJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload QuotationExpirePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			j.logger().Warn("quotation expire payload", slog.Any("error", err))
			return asynq.SkipRetry
		}
	}
	tracker := j.metrics.Track(TaskQuotationExpire)
	expired, err := j.sweeper.ExpireOverdue(ctx, j.now())
	j.metrics.AddProcessed(TaskQuotationExpire, expired)
	if err != nil {
		j.logger().Error("quotation expire sweep", slog.Int("expired", expired), slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger().Info("quotation expire sweep", slog.Int("expired", expired), slog.String("trigger", payload.Trigger))
	return tracker.End(nil)
}

func (j *QuotationExpireJob) logger() *slog.Logger {
	if j.log == nil {
		return slog.Default()
	}
	return j.log
}

func (j *QuotationExpireJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
