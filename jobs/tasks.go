package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tesoro-fin/tesoro/internal/recon"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeBulkReconcile is the task type for queued bulk
	// reconciliation runs.
	TaskTypeBulkReconcile = "recon:bulk"
)

// BulkReconcilePayload describes one queued bulk run. Dates use the
// 2006-01-02 layout; empty strings leave the bound open.
type BulkReconcilePayload struct {
	AccountID int64  `json:"account_id"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Threshold int    `json:"threshold,omitempty"`
}

// NewBulkReconcileTask constructs an Asynq task.
func NewBulkReconcileTask(payload BulkReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeBulkReconcile, data), nil
}

// NewBulkReconcileHandler builds the Asynq handler executing queued bulk
// runs against the engine.
func NewBulkReconcileHandler(svc *recon.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload BulkReconcilePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		dr, err := payloadDateRange(payload)
		if err != nil {
			logger.Warn("bulk reconcile task has invalid dates", slog.Any("error", err))
			return asynq.SkipRetry
		}
		result, err := svc.RunBulk(ctx, payload.AccountID, dr, payload.Threshold)
		if err != nil {
			// A busy account retries later through asynq's backoff; the
			// lock holder will finish and free it.
			return err
		}
		logger.Info("queued bulk run finished",
			slog.String("run_id", result.RunID),
			slog.Int64("account_id", payload.AccountID),
			slog.Int("matched", result.Matched),
			slog.Int("skipped", result.Skipped),
			slog.Int("failed", result.Failed))
		return nil
	}
}

func payloadDateRange(p BulkReconcilePayload) (recon.DateRange, error) {
	var dr recon.DateRange
	if p.From != "" {
		t, err := time.Parse("2006-01-02", p.From)
		if err != nil {
			return dr, err
		}
		dr.From = t
	}
	if p.To != "" {
		t, err := time.Parse("2006-01-02", p.To)
		if err != nil {
			return dr, err
		}
		dr.To = t
	}
	return dr, nil
}
