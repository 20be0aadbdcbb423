package mission

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var TaskModule = fx.Module("task.mission",
	fx.Provide(NewTask),
)

type Task struct {
	missions *Service
}

type TaskParams struct {
	fx.In
	Missions *Service
}

func NewTask(p TaskParams) *Task {
	return &Task{missions: p.Missions}
}

// HandleExpireRunsTask sweeps overdue pending runs. The sweep is one
// conditional update, so overlapping invocations cannot double-expire a run.
func (t *Task) HandleExpireRunsTask(ctx context.Context, _ *asynq.Task) error {
	count, err := t.missions.ExpireOverdueRuns(ctx)
	if err != nil {
		zap.L().Error("mission run expiry sweep failed", zap.Error(err))
		return err
	}

	zap.L().Debug("mission run expiry sweep finished", zap.Int64("count", count))
	return nil
}
