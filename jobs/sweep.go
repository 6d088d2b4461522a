package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Sweeper removes expired sessions. *goIdentity.Engine satisfies it.
type Sweeper interface {
	SweepExpiredSessions(ctx context.Context) (int, error)
}

// SweepJob handles TaskSessionSweep.
type SweepJob struct {
	sweeper Sweeper
	logger  *slog.Logger
}

// NewSweepJob constructs a SweepJob. A nil logger discards output.
func NewSweepJob(sweeper Sweeper, logger *slog.Logger) *SweepJob {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SweepJob{sweeper: sweeper, logger: logger}
}

// Handle runs one sweep. Malformed payloads are not retried.
func (j *SweepJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload SweepPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("decode sweep payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	start := time.Now()
	removed, err := j.sweeper.SweepExpiredSessions(ctx)
	if err != nil {
		j.logger.Error("session sweep failed", slog.String("job", TaskSessionSweep), slog.Any("error", err))
		return err
	}
	j.logger.Info("session sweep finished",
		slog.String("job", TaskSessionSweep),
		slog.String("reason", payload.Reason),
		slog.Int("removed", removed),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}
