package ledger

import (
	"context"
	"sync"
	"testing"

	"promohive/pkg/db/pagination"
	"promohive/pkg/money"
	"promohive/pkg/taskname"
	"promohive/services/account"
	"promohive/services/testutil"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type enqueuerMock struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (m *enqueuerMock) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, t)
	return &asynq.TaskInfo{}, nil
}

type fixture struct {
	db       *gorm.DB
	svc      *Service
	accounts *account.Service
	tasks    *enqueuerMock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t, &account.Account{}, &Entry{})
	node := testutil.NewNode(t)
	accounts := account.NewService(account.ServiceParams{DB: db, Node: node})
	tasks := &enqueuerMock{}
	svc := NewService(ServiceParams{DB: db, Node: node, Accounts: accounts, Tasks: tasks})
	return &fixture{db: db, svc: svc, accounts: accounts, tasks: tasks}
}

func (f *fixture) account(t *testing.T, username string) *account.Account {
	t.Helper()
	acc, err := f.accounts.Register(context.Background(), account.RegisterParams{Username: username, Email: username + "@example.com"})
	require.NoError(t, err)
	return acc
}

func (f *fixture) balance(t *testing.T, id string) *account.Account {
	t.Helper()
	acc, err := f.accounts.Get(context.Background(), id)
	require.NoError(t, err)
	return acc
}

func TestRecordCompletedCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "alice")

	entry, err := f.svc.Record(ctx, RecordParams{AccountID: acc.ID, Kind: KindCredit, Amount: 500, Description: "task reward"})
	require.NoError(t, err)
	require.Equal(t, DirectionCredit, entry.Direction)
	require.Equal(t, StatusCompleted, entry.Status)
	require.Equal(t, GenesisHash, entry.PreviousHash)
	require.NotEmpty(t, entry.TransactionID)
	require.NotNil(t, entry.SettledAt)

	got := f.balance(t, acc.ID)
	require.Equal(t, money.Money(500), got.Balance)
	require.Equal(t, money.Money(500), got.TotalEarned)

	second, err := f.svc.Record(ctx, RecordParams{AccountID: acc.ID, Kind: KindDeposit, Amount: 250})
	require.NoError(t, err)
	require.Equal(t, entry.Hash, second.PreviousHash)

	got = f.balance(t, acc.ID)
	require.Equal(t, money.Money(750), got.Balance)
	require.Equal(t, money.Money(500), got.TotalEarned, "deposits are not earnings")

	require.Len(t, f.tasks.tasks, 2)
	require.Equal(t, taskname.LedgerEntrySettled, f.tasks.tasks[0].Type())

	ev, err := ParseSettledTask(f.tasks.tasks[0])
	require.NoError(t, err)
	require.Equal(t, entry.ID, ev.EntryID)
	require.Equal(t, int64(500), ev.Amount)
}

func TestRecordValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "bob")

	tests := []struct {
		name string
		p    RecordParams
		err  error
	}{
		{"zero amount", RecordParams{AccountID: acc.ID, Kind: KindCredit}, money.ErrInvalidAmount},
		{"negative amount", RecordParams{AccountID: acc.ID, Kind: KindCredit, Amount: -5}, money.ErrInvalidAmount},
		{"unknown kind", RecordParams{AccountID: acc.ID, Kind: "bonus", Amount: 5}, ErrInvalidKind},
		{"credit kind debited", RecordParams{AccountID: acc.ID, Kind: KindReferralBonus, Direction: DirectionDebit, Amount: 5}, ErrDirectionMismatch},
		{"recorded as failed", RecordParams{AccountID: acc.ID, Kind: KindCredit, Status: StatusFailed, Amount: 5}, ErrInvalidStatus},
		{"unknown account", RecordParams{AccountID: "missing", Kind: KindCredit, Amount: 5}, account.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Record(ctx, tt.p)
			require.ErrorIs(t, err, tt.err)
		})
	}

	var count int64
	require.NoError(t, f.db.Model(&Entry{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestDebitBeyondBalanceWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "carol")

	_, err := f.svc.Record(ctx, RecordParams{AccountID: acc.ID, Kind: KindCredit, Amount: 100})
	require.NoError(t, err)

	_, err = f.svc.Record(ctx, RecordParams{AccountID: acc.ID, Kind: KindDebit, Amount: 101})
	require.ErrorIs(t, err, account.ErrInsufficientFunds)

	page, err := f.svc.History(ctx, acc.ID, pagination.Pagination{Limit: 50})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, money.Money(100), f.balance(t, acc.ID).Balance)
}

func TestPendingEntrySettlesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "dave")

	_, err := f.svc.Record(ctx, RecordParams{AccountID: acc.ID, Kind: KindCredit, Amount: 1000})
	require.NoError(t, err)

	pending, err := f.svc.Record(ctx, RecordParams{AccountID: acc.ID, Kind: KindWithdrawal, Amount: 1000, Status: StatusPending})
	require.NoError(t, err)
	require.Nil(t, pending.SettledAt)
	require.Equal(t, money.Money(1000), f.balance(t, acc.ID).Balance, "pending entries do not move the balance")

	settled, err := f.svc.Settle(ctx, nil, pending.ID, StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, settled.Status)

	got := f.balance(t, acc.ID)
	require.Zero(t, got.Balance)
	require.Equal(t, money.Money(1000), got.TotalWithdrawn)

	_, err = f.svc.Settle(ctx, nil, pending.ID, StatusCompleted)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	_, err = f.svc.Settle(ctx, nil, pending.ID, StatusFailed)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	require.Zero(t, f.balance(t, acc.ID).Balance)

	_, err = f.svc.Settle(ctx, nil, "missing", StatusCompleted)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSettleRollsBackOnInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "erin")

	_, err := f.svc.Record(ctx, RecordParams{AccountID: acc.ID, Kind: KindCredit, Amount: 500})
	require.NoError(t, err)
	pending, err := f.svc.Record(ctx, RecordParams{AccountID: acc.ID, Kind: KindWithdrawal, Amount: 500, Status: StatusPending})
	require.NoError(t, err)
	_, err = f.svc.Record(ctx, RecordParams{AccountID: acc.ID, Kind: KindDebit, Amount: 200})
	require.NoError(t, err)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.Settle(ctx, tx, pending.ID, StatusCompleted)
		return err
	})
	require.ErrorIs(t, err, account.ErrInsufficientFunds)

	still, err := f.svc.Get(ctx, pending.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, still.Status)
	require.Equal(t, money.Money(300), f.balance(t, acc.ID).Balance)

	failed, err := f.svc.Settle(ctx, nil, pending.ID, StatusFailed)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, failed.Status)
	require.Equal(t, money.Money(300), f.balance(t, acc.ID).Balance)
}

func TestReverse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "frank")

	credit, err := f.svc.Record(ctx, RecordParams{AccountID: acc.ID, Kind: KindCredit, Amount: 400})
	require.NoError(t, err)

	reversal, err := f.svc.Reverse(ctx, credit.ID, "", nil)
	require.NoError(t, err)
	require.Equal(t, KindDebit, reversal.Kind)
	require.Equal(t, credit.ID, *reversal.ReversalOf)
	require.Zero(t, f.balance(t, acc.ID).Balance)

	_, err = f.svc.Reverse(ctx, credit.ID, "", nil)
	require.ErrorIs(t, err, ErrAlreadyReversed)

	_, err = f.svc.Reverse(ctx, reversal.ID, "", nil)
	require.ErrorIs(t, err, ErrNotReversible)

	original, err := f.svc.Get(ctx, credit.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, original.Status)
	require.Equal(t, credit.Hash, original.Hash)
}

func TestBalanceMatchesCompletedEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "gina")

	steps := []RecordParams{
		{Kind: KindDeposit, Amount: 5000},
		{Kind: KindCredit, Amount: 750},
		{Kind: KindReferralBonus, Amount: 112},
		{Kind: KindLevelUpgrade, Amount: 5000},
		{Kind: KindWithdrawal, Amount: 300, Status: StatusPending},
		{Kind: KindDebit, Amount: 62},
	}
	for _, p := range steps {
		p.AccountID = acc.ID
		_, err := f.svc.Record(ctx, p)
		require.NoError(t, err)
	}

	res, err := f.svc.Reconcile(ctx, acc.ID)
	require.NoError(t, err)
	require.True(t, res.ChainValid)
	require.Equal(t, money.Money(800), res.Balance)
	require.Equal(t, res.Balance, res.LedgerBalance)
	require.True(t, res.Consistent())
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "hank")

	first, err := f.svc.Record(ctx, RecordParams{AccountID: acc.ID, Kind: KindCredit, Amount: 100})
	require.NoError(t, err)
	_, err = f.svc.Record(ctx, RecordParams{AccountID: acc.ID, Kind: KindCredit, Amount: 200})
	require.NoError(t, err)

	valid, err := f.svc.VerifyChain(ctx, acc.ID)
	require.NoError(t, err)
	require.True(t, valid)

	require.NoError(t, f.db.Model(&Entry{}).Where("id = ?", first.ID).Update("amount", 10000).Error)

	valid, err = f.svc.VerifyChain(ctx, acc.ID)
	require.NoError(t, err)
	require.False(t, valid)
}

func TestConcurrentRecordsKeepChainLinear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "ivy")

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Record(ctx, RecordParams{AccountID: acc.ID, Kind: KindCredit, Amount: 10})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	res, err := f.svc.Reconcile(ctx, acc.ID)
	require.NoError(t, err)
	require.True(t, res.Consistent())
	require.Equal(t, money.Money(100), res.Balance)
}
