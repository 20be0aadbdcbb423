package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"placequest-core/pkg/db/pagination"
	"placequest-core/pkg/errutil"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service is the sole authority over wallet balance mutation. Every mutation
// is a version-checked conditional update paired with exactly one
// WalletTransaction; a version mismatch surfaces as a conflict and is never
// retried here.
type Service struct {
	db   *gorm.DB
	node *snowflake.Node
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
	}
}

// FindTransactionByKey returns the transaction recorded under the
// idempotency key, or nil when the key has never been used.
func (s *Service) FindTransactionByKey(ctx context.Context, key string) (*WalletTransaction, error) {
	var wtx WalletTransaction
	err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&wtx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wtx, nil
}

// GetOrCreate loads the user's wallet, lazily creating it with balance 0 and
// version 1 on first use. A creation race is resolved by reloading the row
// the winner inserted.
func (s *Service) GetOrCreate(ctx context.Context, tx *gorm.DB, userID string) (*Wallet, error) {
	var w Wallet
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error
	if err == nil {
		return &w, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now()
	w = Wallet{
		ID:        s.node.Generate().String(),
		UserID:    userID,
		Balance:   0,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error; err != nil {
				return nil, err
			}
			return &w, nil
		}
		return nil, err
	}

	return &w, nil
}

// Credit moves amount into the user's wallet inside the caller's
// transaction. The caller owns the transaction boundary so the credit
// commits or rolls back together with whatever triggered it.
func (s *Service) Credit(ctx context.Context, tx *gorm.DB, userID string, amount int64, idempotencyKey, missionRunID string) (*WalletTransaction, error) {
	if amount <= 0 {
		return nil, errutil.BadRequest("credit amount must be positive", nil)
	}

	w, err := s.GetOrCreate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	return s.credit(ctx, tx, w, amount, idempotencyKey, missionRunID)
}

// credit applies the version-checked balance bump for an already-loaded
// wallet. Zero rows affected means another writer moved the version since
// the read.
func (s *Service) credit(ctx context.Context, tx *gorm.DB, w *Wallet, amount int64, idempotencyKey, missionRunID string) (*WalletTransaction, error) {
	res := tx.WithContext(ctx).Model(&Wallet{}).
		Where("id = ? AND version = ?", w.ID, w.Version).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", amount),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, errutil.Conflict("wallet version conflict", nil)
	}

	metaBytes, _ := json.Marshal(map[string]string{"mission_run_id": missionRunID})
	wtx := &WalletTransaction{
		ID:             s.node.Generate().String(),
		WalletID:       w.ID,
		Type:           TypeReward,
		Status:         StatusCompleted,
		Amount:         amount,
		BalanceBefore:  w.Balance,
		BalanceAfter:   w.Balance + amount,
		IdempotencyKey: idempotencyKey,
		MissionRunID:   missionRunID,
		Metadata:       datatypes.JSON(metaBytes),
		CreatedAt:      time.Now(),
	}
	if err := tx.WithContext(ctx).Create(wtx).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("idempotency key already used", err)
		}
		return nil, err
	}

	return wtx, nil
}

// GetWallet returns the user's wallet.
func (s *Service) GetWallet(ctx context.Context, userID string) (*Wallet, error) {
	var w Wallet
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("wallet not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListTransactions returns a page of the wallet's audit trail, newest first.
func (s *Service) ListTransactions(ctx context.Context, walletID string, p pagination.Pagination) ([]*WalletTransaction, *pagination.PageInfo, error) {
	if p.Limit <= 0 {
		p.Limit = 20
	}

	// Snowflake IDs are time-ordered, so descending id is newest-first and
	// the id alone is a stable cursor.
	q := s.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("id DESC").
		Limit(p.Limit + 1)

	if p.Cursor != "" {
		cursor, err := pagination.DecodeCursor(p.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid pagination cursor", err)
		}
		q = q.Where("id < ?", cursor.ID)
	}

	var txs []*WalletTransaction
	if err := q.Find(&txs).Error; err != nil {
		return nil, nil, err
	}

	txs, page := pagination.BuildCursorPage(txs, p.Limit, func(wtx *WalletTransaction) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{ID: wtx.ID})
		return cursor
	})

	return txs, page, nil
}

// ReconcileReport is the outcome of rebuilding a wallet balance from its
// transaction trail.
type ReconcileReport struct {
	WalletID         string `json:"wallet_id"`
	Balance          int64  `json:"balance"`
	LedgerSum        int64  `json:"ledger_sum"`
	LastBalanceAfter int64  `json:"last_balance_after"`
	Consistent       bool   `json:"consistent"`
}

// Reconcile independently reconstructs the balance by summing completed
// transactions and compares it against the wallet row and the newest
// transaction's BalanceAfter.
func (s *Service) Reconcile(ctx context.Context, walletID string) (*ReconcileReport, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	var w Wallet
	err := s.db.WithContext(ctx).Where("id = ?", walletID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("wallet not found", nil)
	}
	if err != nil {
		return nil, err
	}

	var sum int64
	if err := s.db.WithContext(ctx).Model(&WalletTransaction{}).
		Where("wallet_id = ? AND status = ?", walletID, StatusCompleted).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error; err != nil {
		return nil, err
	}

	lastAfter := int64(0)
	var last WalletTransaction
	err = s.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("id DESC").
		First(&last).Error
	if err == nil {
		lastAfter = last.BalanceAfter
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	report := &ReconcileReport{
		WalletID:         walletID,
		Balance:          w.Balance,
		LedgerSum:        sum,
		LastBalanceAfter: lastAfter,
		Consistent:       sum == w.Balance && (lastAfter == w.Balance || lastAfter == 0),
	}

	if !report.Consistent {
		zap.L().Error("wallet ledger drift detected",
			zap.String("wallet_id", walletID),
			zap.Int64("balance", w.Balance),
			zap.Int64("ledger_sum", sum),
			zap.Int64("last_balance_after", lastAfter),
		)
	}

	return report, nil
}
