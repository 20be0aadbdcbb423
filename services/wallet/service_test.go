package wallet

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"placequest-core/pkg/db/pagination"
	"placequest-core/pkg/errutil"
	"placequest-core/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Wallet{}, &WalletTransaction{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node}), db
}

func TestCreditCreatesWalletLazily(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	var wtx *WalletTransaction
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		wtx, err = svc.Credit(ctx, tx, "user-1", 1000, "key-1", "run-1")
		return err
	})
	require.NoError(t, err)

	require.Equal(t, int64(1000), wtx.Amount)
	require.Equal(t, int64(0), wtx.BalanceBefore)
	require.Equal(t, int64(1000), wtx.BalanceAfter)
	require.Equal(t, StatusCompleted, wtx.Status)

	w, err := svc.GetWallet(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), w.Balance)
	require.Equal(t, int64(2), w.Version) // 1 on creation, +1 for the credit
}

func TestCreditAccumulatesAndBumpsVersion(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	for i, key := range []string{"key-1", "key-2", "key-3"} {
		err := db.Transaction(func(tx *gorm.DB) error {
			_, err := svc.Credit(ctx, tx, "user-1", 500, key, "run-1")
			return err
		})
		require.NoError(t, err, "credit %d", i)
	}

	w, err := svc.GetWallet(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1500), w.Balance)
	require.Equal(t, int64(4), w.Version)

	txs, _, err := svc.ListTransactions(ctx, w.ID, pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, txs, 3)
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	svc, db := newTestService(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Credit(context.Background(), tx, "user-1", 0, "key-1", "run-1")
		return err
	})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusBadRequest, be.Status())
}

func TestCreditDuplicateKeyRollsBackBalance(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Credit(ctx, tx, "user-1", 1000, "key-1", "run-1")
		return err
	})
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Credit(ctx, tx, "user-1", 1000, "key-1", "run-1")
		return err
	})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())

	// The balance bump inside the failed transaction must not survive.
	w, err := svc.GetWallet(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), w.Balance)
	require.Equal(t, int64(2), w.Version)
}

func TestCreditStaleVersionConflicts(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	var stale *Wallet
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		stale, err = svc.GetOrCreate(ctx, tx, "user-1")
		return err
	})
	require.NoError(t, err)

	// Another writer bumps the version after our read.
	require.NoError(t, db.Model(&Wallet{}).
		Where("id = ?", stale.ID).
		Update("version", gorm.Expr("version + 1")).Error)

	_, err = svc.credit(ctx, db, stale, 1000, "key-1", "run-1")
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())

	w, err := svc.GetWallet(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), w.Balance)
}

func TestFindTransactionByKey(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	wtx, err := svc.FindTransactionByKey(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, wtx)

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Credit(ctx, tx, "user-1", 250, "key-1", "run-1")
		return err
	})
	require.NoError(t, err)

	wtx, err = svc.FindTransactionByKey(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, wtx)
	require.Equal(t, int64(250), wtx.Amount)
}

func TestGetWalletNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetWallet(context.Background(), "nobody")
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestReconcileConsistent(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	for _, key := range []string{"key-1", "key-2"} {
		err := db.Transaction(func(tx *gorm.DB) error {
			_, err := svc.Credit(ctx, tx, "user-1", 300, key, "run-1")
			return err
		})
		require.NoError(t, err)
	}

	w, err := svc.GetWallet(ctx, "user-1")
	require.NoError(t, err)

	report, err := svc.Reconcile(ctx, w.ID)
	require.NoError(t, err)
	require.True(t, report.Consistent)
	require.Equal(t, int64(600), report.LedgerSum)
	require.Equal(t, int64(600), report.Balance)
}

func TestReconcileDetectsTampering(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Credit(ctx, tx, "user-1", 300, "key-1", "run-1")
		return err
	})
	require.NoError(t, err)

	w, err := svc.GetWallet(ctx, "user-1")
	require.NoError(t, err)

	// Balance mutated outside the ledger.
	require.NoError(t, db.Model(&Wallet{}).
		Where("id = ?", w.ID).
		Update("balance", 9999).Error)

	report, err := svc.Reconcile(ctx, w.ID)
	require.NoError(t, err)
	require.False(t, report.Consistent)
}

func TestListTransactionsPaginates(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			_, err := svc.Credit(ctx, tx, "user-1", 100, fmt.Sprintf("key-%d", i), "run-1")
			return err
		})
		require.NoError(t, err)
	}

	w, err := svc.GetWallet(ctx, "user-1")
	require.NoError(t, err)

	seen := make(map[string]bool)
	page := pagination.Pagination{Limit: 2}
	for {
		txs, info, err := svc.ListTransactions(ctx, w.ID, page)
		require.NoError(t, err)
		require.LessOrEqual(t, len(txs), 2)
		for _, wtx := range txs {
			require.False(t, seen[wtx.ID], "transaction %s returned twice", wtx.ID)
			seen[wtx.ID] = true
		}
		if !info.HasMore {
			break
		}
		page.Cursor = info.NextCursor
	}

	require.Len(t, seen, 5)
}

func TestListTransactionsRejectsBadCursor(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.ListTransactions(context.Background(), "wallet-1", pagination.Pagination{Cursor: "???"})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusBadRequest, be.Status())
}
