// internal/core/services/tasks.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/stocklens/countd/internal/core/domain"
)

// Background task types handled by the worker process.
const (
	TypeMarkVerified     = "count:mark_verified"
	TypeSweepPhotoOrphan = "count:sweep_photo_orphans"
)

// MarkVerifiedPayload is the body of a mark-verified task.
type MarkVerifiedPayload struct {
	ItemCode string                     `json:"item_code"`
	Details  domain.VerificationDetails `json:"details"`
}

// SweepPhotoOrphansPayload scopes an orphaned-photo sweep to one session.
type SweepPhotoOrphansPayload struct {
	SessionID string `json:"session_id"`
}

// TaskEnqueuer hands side-effect work to the background queue. The workflow
// only ever enqueues; processors live in internal/workers.
type TaskEnqueuer interface {
	EnqueueMarkVerified(ctx context.Context, itemCode string, details domain.VerificationDetails) error
	EnqueueSweepPhotoOrphans(ctx context.Context, sessionID string) error
}

// TaskClient is the asynq-backed TaskEnqueuer.
type TaskClient struct {
	client *asynq.Client
	logger *slog.Logger
}

var _ TaskEnqueuer = (*TaskClient)(nil)

func NewTaskClient(client *asynq.Client, logger *slog.Logger) *TaskClient {
	return &TaskClient{
		client: client,
		logger: logger.With(slog.String("service", "task_client")),
	}
}

// EnqueueMarkVerified queues the best-effort verification flag write that
// follows a successful submission.
func (c *TaskClient) EnqueueMarkVerified(ctx context.Context, itemCode string, details domain.VerificationDetails) error {
	body, err := json.Marshal(MarkVerifiedPayload{ItemCode: itemCode, Details: details})
	if err != nil {
		return fmt.Errorf("marshal mark-verified payload: %w", err)
	}
	task := asynq.NewTask(TypeMarkVerified, body)
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue("default"),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return fmt.Errorf("enqueue mark-verified: %w", err)
	}
	c.logger.Debug("mark-verified task enqueued",
		slog.String("task_id", info.ID),
		slog.String("item_code", itemCode))
	return nil
}

// EnqueueSweepPhotoOrphans queues a storage sweep for photos whose draft was
// cancelled without cleanup.
func (c *TaskClient) EnqueueSweepPhotoOrphans(ctx context.Context, sessionID string) error {
	body, err := json.Marshal(SweepPhotoOrphansPayload{SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("marshal sweep payload: %w", err)
	}
	task := asynq.NewTask(TypeSweepPhotoOrphan, body)
	if _, err := c.client.EnqueueContext(ctx, task, asynq.Queue("low")); err != nil {
		return fmt.Errorf("enqueue photo sweep: %w", err)
	}
	return nil
}
