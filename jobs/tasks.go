package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueMaintenance receives housekeeping tasks.
	QueueMaintenance = "maintenance"
	// TaskSessionSweep removes expired sessions.
	TaskSessionSweep = "session:sweep"
	// DefaultSweepSpec runs the sweep every 15 minutes.
	DefaultSweepSpec = "*/15 * * * *"
)

// SweepPayload describes why a sweep was enqueued.
type SweepPayload struct {
	Reason string `json:"reason"`
}

// NewSweepTask constructs a session sweep task on the maintenance queue.
func NewSweepTask(reason string) (*asynq.Task, error) {
	data, err := json.Marshal(SweepPayload{Reason: reason})
	if err != nil {
		return nil, fmt.Errorf("marshal sweep payload: %w", err)
	}
	return asynq.NewTask(TaskSessionSweep, data, asynq.Queue(QueueMaintenance), asynq.MaxRetry(3)), nil
}

// Client submits maintenance tasks.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an asynq client.
func NewClient(redisOpts asynq.RedisConnOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueSweep enqueues a one-off sweep.
func (c *Client) EnqueueSweep(ctx context.Context, reason string) (*asynq.TaskInfo, error) {
	task, err := NewSweepTask(reason)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
