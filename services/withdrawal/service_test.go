package withdrawal

import (
	"context"
	"errors"
	"sync"
	"testing"

	"promohive/pkg/access"
	"promohive/pkg/db/pagination"
	"promohive/pkg/money"
	"promohive/services/account"
	"promohive/services/audit"
	"promohive/services/ledger"
	"promohive/services/level"
	"promohive/services/testutil"
	"promohive/services/wallet"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var finance = access.Actor{ID: "fin-1", Role: access.RoleFinanceAdmin}

type sequenceMock struct {
	next int
}

func (m *sequenceMock) Next(_ context.Context, prefix string) (string, error) {
	m.next++
	return prefix + "-250101-00" + string(rune('A'+m.next)) + "XY", nil
}

type fixture struct {
	db       *gorm.DB
	svc      *Service
	accounts *account.Service
	ledger   *ledger.Service
	wallet   *wallet.Wallet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t, &account.Account{}, &ledger.Entry{}, &level.Level{}, &audit.Log{}, &wallet.Wallet{}, &Request{})
	node := testutil.NewNode(t)
	authz, err := access.NewEnforcer()
	require.NoError(t, err)
	ctx := context.Background()

	accounts := account.NewService(account.ServiceParams{DB: db, Node: node})
	audits := audit.NewService(audit.ServiceParams{DB: db, Node: node})
	entries := ledger.NewService(ledger.ServiceParams{DB: db, Node: node, Accounts: accounts})
	levels := level.NewService(level.ServiceParams{DB: db, Accounts: accounts, Ledger: entries, Audit: audits, Authz: authz})
	require.NoError(t, levels.Seed(ctx))
	wallets := wallet.NewService(wallet.ServiceParams{DB: db, Node: node, Audit: audits, Authz: authz})
	w, err := wallets.Create(ctx, finance, wallet.CreateParams{Chain: "TRC20", Currency: "USDT", Address: "TXpayout"}, "")
	require.NoError(t, err)

	svc := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Accounts: accounts,
		Levels:   levels,
		Wallets:  wallets,
		Ledger:   entries,
		Audit:    audits,
		Authz:    authz,
		Sequence: &sequenceMock{},
	})
	return &fixture{db: db, svc: svc, accounts: accounts, ledger: entries, wallet: w}
}

func (f *fixture) member(t *testing.T, username string, balance money.Money) *account.Account {
	t.Helper()
	ctx := context.Background()
	acc, err := f.accounts.Register(ctx, account.RegisterParams{Username: username, Email: username + "@example.com"})
	require.NoError(t, err)
	_, err = f.accounts.SetStatus(ctx, nil, acc.ID, account.StatusActive, "admin")
	require.NoError(t, err)
	if balance > 0 {
		_, err = f.ledger.Record(ctx, ledger.RecordParams{AccountID: acc.ID, Kind: ledger.KindDeposit, Amount: balance})
		require.NoError(t, err)
	}
	return acc
}

func (f *fixture) account(t *testing.T, id string) *account.Account {
	t.Helper()
	acc, err := f.accounts.Get(context.Background(), id)
	require.NoError(t, err)
	return acc
}

func TestMinimumWithdrawalScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "ann", 1000)

	_, err := f.svc.Request(ctx, user.ID, 999, f.wallet.ID)
	require.ErrorIs(t, err, ErrBelowMinimum)

	req, err := f.svc.Request(ctx, user.ID, 1000, f.wallet.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, req.Status)
	require.Equal(t, "WDR-250101-00BXY", req.Reference, "refused requests do not consume references")
	require.Equal(t, money.Money(1000), f.account(t, user.ID).Balance, "pending request does not debit")

	entry, err := f.ledger.Get(ctx, req.LedgerEntryID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPending, entry.Status)
	require.Equal(t, req.ID, *entry.RelatedWithdrawalID)

	approved, err := f.svc.Approve(ctx, finance, Decision{RequestID: req.ID})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, approved.Status)
	require.NotNil(t, approved.CompletedAt)

	acc := f.account(t, user.ID)
	require.Equal(t, money.Money(0), acc.Balance)
	require.Equal(t, money.Money(1000), acc.TotalWithdrawn)

	stored, err := f.svc.Get(ctx, nil, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)
	require.Equal(t, finance.ID, *stored.ApprovedBy)

	_, err = f.svc.Approve(ctx, finance, Decision{RequestID: req.ID})
	require.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "ann", 5000)

	_, err := f.svc.Request(ctx, user.ID, 0, f.wallet.ID)
	require.ErrorIs(t, err, money.ErrInvalidAmount)

	_, err = f.svc.Request(ctx, user.ID, 6000, f.wallet.ID)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = f.svc.Request(ctx, user.ID, 2000, "unknown-wallet")
	require.ErrorIs(t, err, wallet.ErrNotFound)

	var n int64
	require.NoError(t, f.db.Model(&Request{}).Count(&n).Error)
	require.Zero(t, n)
	require.NoError(t, f.db.Model(&ledger.Entry{}).Where("kind = ?", ledger.KindWithdrawal).Count(&n).Error)
	require.Zero(t, n)
}

func TestApproveFailsWhenBalanceDroppedSinceRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "ann", 2000)

	req, err := f.svc.Request(ctx, user.ID, 1500, f.wallet.ID)
	require.NoError(t, err)

	_, err = f.ledger.Record(ctx, ledger.RecordParams{AccountID: user.ID, Kind: ledger.KindDebit, Amount: 1000})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, finance, Decision{RequestID: req.ID})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	stored, err := f.svc.Get(ctx, nil, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status, "failed approval rolls back")
	require.Nil(t, stored.ApprovedBy)

	entry, err := f.ledger.Get(ctx, req.LedgerEntryID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPending, entry.Status)
	require.Equal(t, money.Money(1000), f.account(t, user.ID).Balance)
}

func TestApproveRacesDebit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "ann", 1500)

	req, err := f.svc.Request(ctx, user.ID, 1000, f.wallet.ID)
	require.NoError(t, err)

	var (
		wg         sync.WaitGroup
		approveErr error
		debitErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, approveErr = f.svc.Approve(ctx, finance, Decision{RequestID: req.ID})
	}()
	go func() {
		defer wg.Done()
		_, debitErr = f.ledger.Record(ctx, ledger.RecordParams{AccountID: user.ID, Kind: ledger.KindDebit, Amount: 1000})
	}()
	wg.Wait()

	succeeded := 0
	for _, err := range []error{approveErr, debitErr} {
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, errors.Is(err, ErrInsufficientBalance) || errors.Is(err, account.ErrInsufficientFunds), err)
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, money.Money(500), f.account(t, user.ID).Balance)
}

func TestDeny(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "ann", 3000)

	req, err := f.svc.Request(ctx, user.ID, 2000, f.wallet.ID)
	require.NoError(t, err)

	_, err = f.svc.Deny(ctx, finance, Decision{RequestID: req.ID})
	require.Error(t, err)

	denied, err := f.svc.Deny(ctx, finance, Decision{RequestID: req.ID, Reason: "wallet flagged"})
	require.NoError(t, err)
	require.Equal(t, StatusRejected, denied.Status)
	require.Equal(t, "wallet flagged", *denied.RejectionReason)

	entry, err := f.ledger.Get(ctx, req.LedgerEntryID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusFailed, entry.Status)
	require.Equal(t, money.Money(3000), f.account(t, user.ID).Balance)

	_, err = f.svc.Approve(ctx, finance, Decision{RequestID: req.ID})
	require.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestDecisionsRequireFinance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "ann", 3000)
	req, err := f.svc.Request(ctx, user.ID, 2000, f.wallet.ID)
	require.NoError(t, err)

	support := access.Actor{ID: "sup", Role: access.RoleSupportAdmin}
	_, err = f.svc.Approve(ctx, support, Decision{RequestID: req.ID})
	require.ErrorIs(t, err, access.ErrForbidden)
	_, err = f.svc.Deny(ctx, support, Decision{RequestID: req.ID, Reason: "no"})
	require.ErrorIs(t, err, access.ErrForbidden)
	_, err = f.svc.Pending(ctx, support, pagination.Pagination{Limit: 10})
	require.ErrorIs(t, err, access.ErrForbidden)

	page, err := f.svc.Pending(ctx, finance, pagination.Pagination{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	mine, err := f.svc.ListByUser(ctx, user.ID, pagination.Pagination{Limit: 10})
	require.NoError(t, err)
	require.Len(t, mine.Items, 1)
}
