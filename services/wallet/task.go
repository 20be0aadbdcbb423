package wallet

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var TaskModule = fx.Module("task.wallet",
	fx.Provide(NewTask),
)

// ReconcilePayload identifies the wallet to audit.
type ReconcilePayload struct {
	WalletID string `json:"wallet_id"`
	TraceID  string `json:"trace_id,omitempty"`
}

type Task struct {
	wallets *Service
}

type TaskParams struct {
	fx.In
	Wallets *Service
}

func NewTask(p TaskParams) *Task {
	return &Task{wallets: p.Wallets}
}

// HandleReconcileTask rebuilds a wallet balance from its transaction trail.
// Drift is an operator alert, not a retryable condition, so the task
// succeeds either way and the report is logged.
func (t *Task) HandleReconcileTask(ctx context.Context, task *asynq.Task) error {
	var payload ReconcilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	report, err := t.wallets.Reconcile(ctx, payload.WalletID)
	if err != nil {
		zap.L().Error("wallet reconcile failed",
			zap.String("wallet_id", payload.WalletID),
			zap.Error(err),
		)
		return err
	}

	zap.L().Info("wallet reconciled",
		zap.String("wallet_id", report.WalletID),
		zap.Bool("consistent", report.Consistent),
		zap.Int64("balance", report.Balance),
		zap.Int64("ledger_sum", report.LedgerSum),
	)
	return nil
}
