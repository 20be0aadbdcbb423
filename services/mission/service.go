package mission

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"placequest-core/pkg/config"
	"placequest-core/pkg/errutil"
	"placequest-core/pkg/task"
	"placequest-core/pkg/taskname"
	"placequest-core/services/antispoof"
	"placequest-core/services/wallet"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service orchestrates the mission-run state machine. Every state transition
// is a conditional update keyed on the state the caller observed; zero rows
// affected means a concurrent writer won and the caller gets a conflict.
type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	wallets  *wallet.Service
	checker  antispoof.Checker
	tokens   TokenStore
	missions *Cache
	enqueuer task.Enqueuer
	cfg      config.MissionConfig
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Wallets  *wallet.Service
	Checker  antispoof.Checker
	Tokens   TokenStore
	Config   *config.Config
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		wallets:  p.Wallets,
		checker:  p.Checker,
		tokens:   p.Tokens,
		missions: NewCache(p.DB, p.Config.Mission.MissionCacheTTL),
		enqueuer: p.Enqueuer,
		cfg:      p.Config.Mission,
	}
}

// StartMissionRun opens a run for the user on the mission. The unique
// active_lock_key makes "at most one active run per (user, mission)" hold
// even when two requests race past the eligibility checks.
func (s *Service) StartMissionRun(ctx context.Context, userID, missionID string) (*MissionRun, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("user_id", userID),
		zap.String("mission_id", missionID),
	}

	m, _, err := s.missions.Get(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if m.Status != MissionStatusActive {
		return nil, errutil.NotFound("mission not found", nil)
	}

	now := time.Now()
	if !m.InWindow(now) {
		return nil, errutil.UnprocessableEntity("mission is not currently running", nil)
	}

	if m.MaxRunsPerUser > 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&MissionRun{}).
			Where("mission_id = ? AND user_id = ? AND status = ?", missionID, userID, RunStatusApproved).
			Count(&count).Error; err != nil {
			return nil, err
		}
		if count >= int64(m.MaxRunsPerUser) {
			return nil, errutil.Conflict("mission run limit reached for user", nil)
		}
	}

	if m.MaxTotalRuns > 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&MissionRun{}).
			Where("mission_id = ? AND status = ?", missionID, RunStatusApproved).
			Count(&count).Error; err != nil {
			return nil, err
		}
		if count >= int64(m.MaxTotalRuns) {
			return nil, errutil.Conflict("mission run limit reached", nil)
		}
	}

	lockKey := ActiveRunLockKey(missionID, userID)
	run := &MissionRun{
		ID:            s.node.Generate().String(),
		UserID:        userID,
		MissionID:     missionID,
		Status:        RunStatusPendingGPS,
		ActiveLockKey: &lockKey,
		ExpiresAt:     now.Add(s.cfg.RunTTL),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("an active run already exists for this mission", err)
		}
		return nil, err
	}

	zap.L().Info("mission run started", append(opts, zap.String("run_id", run.ID))...)

	return run, nil
}

// GetMissionRun reads a run on behalf of its owner.
func (s *Service) GetMissionRun(ctx context.Context, runID, userID string) (*MissionRun, error) {
	return s.loadRunForUser(ctx, runID, userID)
}

// IssueQRToken mints a single-use token for the mission's on-site QR code.
func (s *Service) IssueQRToken(ctx context.Context, missionID string) (string, error) {
	m, _, err := s.missions.Get(ctx, missionID)
	if err != nil {
		return "", err
	}

	return s.tokens.Issue(ctx, QRTokenClaims{MissionID: m.ID, PlaceID: m.PlaceID}, s.cfg.QRTokenTTL)
}

// ApproveAndReward finalizes a reviewed run and credits the reward, both in
// one transaction. Safe to call any number of times with the same key: the
// first call pays, every later call returns the recorded outcome.
func (s *Service) ApproveAndReward(ctx context.Context, runID, idempotencyKey string) (*MissionRun, *wallet.WalletTransaction, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("run_id", runID),
	}

	if idempotencyKey == "" {
		idempotencyKey = ApprovalIdempotencyKey(runID)
	}

	if existing, err := s.wallets.FindTransactionByKey(ctx, idempotencyKey); err != nil {
		return nil, nil, err
	} else if existing != nil {
		run, err := s.loadRun(ctx, s.db, runID)
		if err != nil {
			return nil, nil, err
		}
		zap.L().Info("approval replayed from idempotency key", opts...)
		return run, existing, nil
	}

	var (
		run *MissionRun
		wtx *wallet.WalletTransaction
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		run, err = s.loadRun(ctx, tx, runID)
		if err != nil {
			return err
		}

		if run.Status.Terminal() {
			// Already settled one way or the other; report it, change nothing.
			return nil
		}
		if run.Status != RunStatusPendingReview {
			return errutil.Conflict("mission run is not awaiting review", nil)
		}

		m, _, err := s.missions.Get(ctx, run.MissionID)
		if err != nil {
			return err
		}

		now := time.Now()
		res := tx.WithContext(ctx).Model(&MissionRun{}).
			Where("id = ? AND status = ?", runID, RunStatusPendingReview).
			Updates(map[string]any{
				"status":          RunStatusApproved,
				"reviewed_at":     now,
				"rewarded_at":     now,
				"reward_amount":   m.RewardAmount,
				"active_lock_key": nil,
				"updated_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("mission run state changed during approval", nil)
		}

		wtx, err = s.wallets.Credit(ctx, tx, run.UserID, m.RewardAmount, idempotencyKey, run.ID)
		if err != nil {
			return err
		}

		run, err = s.loadRun(ctx, tx, runID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	if wtx != nil {
		zap.L().Info("mission run approved and rewarded",
			append(opts, zap.Int64("amount", wtx.Amount), zap.String("wallet_id", wtx.WalletID))...)
		s.enqueueReconcile(wtx.WalletID, opts)
	}

	return run, wtx, nil
}

// RejectMissionRun finalizes a reviewed run without payout.
func (s *Service) RejectMissionRun(ctx context.Context, runID, reason string) (*MissionRun, error) {
	run, err := s.loadRun(ctx, s.db, runID)
	if err != nil {
		return nil, err
	}

	if run.Status.Terminal() {
		return run, nil
	}
	if run.Status != RunStatusPendingReview {
		return nil, errutil.Conflict("mission run is not awaiting review", nil)
	}

	now := time.Now()
	res := s.db.WithContext(ctx).Model(&MissionRun{}).
		Where("id = ? AND status = ?", runID, RunStatusPendingReview).
		Updates(map[string]any{
			"status":          RunStatusRejected,
			"reviewed_at":     now,
			"rejected_at":     now,
			"reject_reason":   reason,
			"active_lock_key": nil,
			"updated_at":      now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, errutil.Conflict("mission run state changed during rejection", nil)
	}

	return s.loadRun(ctx, s.db, runID)
}

// CancelMissionRun lets the owner abandon a pending run, freeing the active
// slot for a fresh attempt.
func (s *Service) CancelMissionRun(ctx context.Context, runID, userID string) (*MissionRun, error) {
	run, err := s.loadRunForUser(ctx, runID, userID)
	if err != nil {
		return nil, err
	}

	if run.Status.Terminal() {
		return nil, errutil.Conflict("mission run is already finished", nil)
	}

	res := s.db.WithContext(ctx).Model(&MissionRun{}).
		Where("id = ? AND status IN ?", runID, PendingStatuses).
		Updates(map[string]any{
			"status":          RunStatusCancelled,
			"active_lock_key": nil,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, errutil.Conflict("mission run state changed during cancellation", nil)
	}

	return s.loadRun(ctx, s.db, runID)
}

// ExpireOverdueRuns transitions every overdue pending run to EXPIRED in one
// conditional update. Concurrent sweepers are harmless: a row moves at most
// once because only pending states match.
func (s *Service) ExpireOverdueRuns(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&MissionRun{}).
		Where("status IN ? AND expires_at < ?", PendingStatuses, time.Now()).
		Updates(map[string]any{
			"status":          RunStatusExpired,
			"active_lock_key": nil,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}

	if res.RowsAffected > 0 {
		zap.L().Info("expired overdue mission runs", zap.Int64("count", res.RowsAffected))
	}

	return res.RowsAffected, nil
}

func (s *Service) enqueueReconcile(walletID string, opts []zap.Field) {
	if s.enqueuer == nil {
		return
	}

	payload, _ := json.Marshal(wallet.ReconcilePayload{WalletID: walletID})
	if _, err := s.enqueuer.Enqueue(
		asynq.NewTask(taskname.WalletReconcile, payload),
		asynq.Queue("low"),
	); err != nil {
		// Audit only; the reward is already committed.
		zap.L().Warn("failed to enqueue wallet reconcile", append(opts, zap.Error(err))...)
	}
}

func (s *Service) loadRun(ctx context.Context, tx *gorm.DB, runID string) (*MissionRun, error) {
	var run MissionRun
	err := tx.WithContext(ctx).Where("id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("mission run not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Service) loadRunForUser(ctx context.Context, runID, userID string) (*MissionRun, error) {
	run, err := s.loadRun(ctx, s.db, runID)
	if err != nil {
		return nil, err
	}
	if run.UserID != userID {
		return nil, errutil.Forbidden("mission run belongs to another user", nil)
	}
	return run, nil
}
