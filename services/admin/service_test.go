package admin

import (
	"context"
	"testing"

	"promohive/pkg/access"
	"promohive/pkg/db/pagination"
	"promohive/pkg/money"
	"promohive/services/account"
	"promohive/services/assignment"
	"promohive/services/audit"
	"promohive/services/catalog"
	"promohive/services/ledger"
	"promohive/services/level"
	"promohive/services/referral"
	"promohive/services/testutil"
	"promohive/services/wallet"
	"promohive/services/withdrawal"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var (
	content = access.Actor{ID: "content-1", Role: access.RoleContentAdmin}
	support = access.Actor{ID: "support-1", Role: access.RoleSupportAdmin}
	finance = access.Actor{ID: "finance-1", Role: access.RoleFinanceAdmin}
	super   = access.Actor{ID: "super-1", Role: access.RoleSuperAdmin}
)

type fixture struct {
	svc      *Service
	accounts *account.Service
	audit    *audit.Service
	catalog  *catalog.Service
	wallets  *wallet.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t,
		&account.Account{}, &ledger.Entry{}, &level.Level{}, &audit.Log{}, &wallet.Wallet{},
		&referral.Referral{}, &catalog.Task{}, &assignment.Assignment{}, &withdrawal.Request{},
	)
	node := testutil.NewNode(t)
	authz, err := access.NewEnforcer()
	require.NoError(t, err)

	accounts := account.NewService(account.ServiceParams{DB: db, Node: node})
	audits := audit.NewService(audit.ServiceParams{DB: db, Node: node})
	entries := ledger.NewService(ledger.ServiceParams{DB: db, Node: node, Accounts: accounts})
	levels := level.NewService(level.ServiceParams{DB: db, Accounts: accounts, Ledger: entries, Audit: audits, Authz: authz})
	require.NoError(t, levels.Seed(context.Background()))
	wallets := wallet.NewService(wallet.ServiceParams{DB: db, Node: node, Audit: audits, Authz: authz})
	referrals := referral.NewService(referral.ServiceParams{DB: db, Node: node, Accounts: accounts, Levels: levels, Ledger: entries})
	tasks := catalog.NewService(catalog.ServiceParams{DB: db, Node: node, Audit: audits, Authz: authz})
	assignments := assignment.NewService(assignment.ServiceParams{
		DB: db, Node: node, Accounts: accounts, Catalog: tasks, Ledger: entries,
		Referrals: referrals, Audit: audits, Authz: authz,
	})
	withdrawals := withdrawal.NewService(withdrawal.ServiceParams{
		DB: db, Node: node, Accounts: accounts, Levels: levels, Wallets: wallets,
		Ledger: entries, Audit: audits, Authz: authz,
	})

	svc := NewService(ServiceParams{
		DB:          db,
		Accounts:    accounts,
		Ledger:      entries,
		Levels:      levels,
		Wallets:     wallets,
		Catalog:     tasks,
		Assignments: assignments,
		Withdrawals: withdrawals,
		Audit:       audits,
		Authz:       authz,
	})
	return &fixture{svc: svc, accounts: accounts, audit: audits, catalog: tasks, wallets: wallets}
}

func (f *fixture) member(t *testing.T, username string) *account.Account {
	t.Helper()
	acc, err := f.accounts.Register(context.Background(), account.RegisterParams{Username: username, Email: username + "@example.com"})
	require.NoError(t, err)
	return acc
}

func (f *fixture) account(t *testing.T, id string) *account.Account {
	t.Helper()
	acc, err := f.accounts.Get(context.Background(), id)
	require.NoError(t, err)
	return acc
}

func (f *fixture) actions(t *testing.T, targetID string) []string {
	t.Helper()
	page, err := f.audit.List(context.Background(), audit.Filter{TargetID: targetID}, pagination.Pagination{Limit: 50})
	require.NoError(t, err)
	out := make([]string, 0, len(page.Items))
	for _, l := range page.Items {
		out = append(out, l.Action)
	}
	return out
}

func TestCreditUserBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "ann")

	_, err := f.svc.CreditUserBalance(ctx, content, BalanceParams{UserID: user.ID, Amount: 1000, Reason: "bonus"})
	require.ErrorIs(t, err, access.ErrForbidden)
	require.Equal(t, money.Money(0), f.account(t, user.ID).Balance)

	_, err = f.svc.CreditUserBalance(ctx, finance, BalanceParams{UserID: user.ID, Amount: MaxManualAmount + 1, Reason: "too much"})
	require.ErrorIs(t, err, ErrAmountTooLarge)

	_, err = f.svc.CreditUserBalance(ctx, finance, BalanceParams{UserID: user.ID, Amount: 0, Reason: "nothing"})
	require.ErrorIs(t, err, money.ErrInvalidAmount)

	entry, err := f.svc.CreditUserBalance(ctx, finance, BalanceParams{UserID: user.ID, Amount: 2500, Reason: "contest prize", IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	require.Equal(t, ledger.KindCredit, entry.Kind)
	require.Equal(t, ledger.StatusCompleted, entry.Status)

	acc := f.account(t, user.ID)
	require.Equal(t, money.Money(2500), acc.Balance)
	require.Equal(t, money.Money(2500), acc.TotalEarned)
	require.Contains(t, f.actions(t, user.ID), "balance_credited")
}

func TestDebitUserBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "bob")

	_, err := f.svc.CreditUserBalance(ctx, finance, BalanceParams{UserID: user.ID, Amount: 1000, Reason: "seed"})
	require.NoError(t, err)

	_, err = f.svc.DebitUserBalance(ctx, finance, BalanceParams{UserID: user.ID, Amount: 1001, Reason: "chargeback"})
	require.ErrorIs(t, err, account.ErrInsufficientFunds)
	require.Equal(t, money.Money(1000), f.account(t, user.ID).Balance)
	require.NotContains(t, f.actions(t, user.ID), "balance_debited", "failed debit leaves no audit row")

	entry, err := f.svc.DebitUserBalance(ctx, super, BalanceParams{UserID: user.ID, Amount: 400, Reason: "chargeback"})
	require.NoError(t, err)
	require.Equal(t, ledger.DirectionDebit, entry.Direction)

	acc := f.account(t, user.ID)
	require.Equal(t, money.Money(600), acc.Balance)
	require.Equal(t, money.Money(1000), acc.TotalEarned)
	require.Equal(t, money.Money(0), acc.TotalWithdrawn)
}

func TestApproveDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "cat")
	w, err := f.wallets.Create(ctx, finance, wallet.CreateParams{Chain: "trc20", Currency: "usdt", Address: "TXdeposit"}, "")
	require.NoError(t, err)

	_, err = f.svc.ApproveDeposit(ctx, support, DepositParams{UserID: user.ID, Amount: 5000, WalletID: w.ID})
	require.ErrorIs(t, err, access.ErrForbidden)

	_, err = f.svc.ApproveDeposit(ctx, finance, DepositParams{UserID: user.ID, Amount: 5000, WalletID: "missing"})
	require.ErrorIs(t, err, wallet.ErrNotFound)

	entry, err := f.svc.ApproveDeposit(ctx, finance, DepositParams{UserID: user.ID, Amount: 5000, WalletID: w.ID, TxRef: "0xabc"})
	require.NoError(t, err)
	require.Equal(t, ledger.KindDeposit, entry.Kind)
	require.NotNil(t, entry.WalletID)
	require.Equal(t, w.ID, *entry.WalletID)
	require.Contains(t, string(entry.Metadata), "0xabc")

	acc := f.account(t, user.ID)
	require.Equal(t, money.Money(5000), acc.Balance)
	require.Equal(t, money.Money(0), acc.TotalEarned, "deposits are not earnings")
	require.Contains(t, f.actions(t, user.ID), "deposit_approved")
}

func TestUserLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "dan")
	other := f.member(t, "eve")

	_, err := f.svc.ApproveUser(ctx, content, user.ID, "")
	require.ErrorIs(t, err, access.ErrForbidden)

	acc, err := f.svc.ApproveUser(ctx, support, user.ID, "10.0.0.2")
	require.NoError(t, err)
	require.Equal(t, account.StatusActive, acc.Status)
	require.True(t, acc.IsActive())

	acc, err = f.svc.RejectUser(ctx, support, other.ID, "duplicate identity", "")
	require.NoError(t, err)
	require.Equal(t, account.StatusBanned, acc.Status)

	_, err = f.svc.ApproveUser(ctx, support, "missing", "")
	require.ErrorIs(t, err, account.ErrNotFound)

	require.Equal(t, []string{"user_approved"}, f.actions(t, user.ID))
	require.Equal(t, []string{"user_rejected"}, f.actions(t, other.ID))
}

func TestUpdateUserLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "fay")

	_, err := f.svc.UpdateUserLevel(ctx, support, user.ID, 2, "")
	require.ErrorIs(t, err, access.ErrForbidden)

	_, err = f.svc.UpdateUserLevel(ctx, finance, user.ID, 99, "")
	require.ErrorIs(t, err, level.ErrNotFound)

	acc, err := f.svc.UpdateUserLevel(ctx, finance, user.ID, 2, "")
	require.NoError(t, err)
	require.Equal(t, 2, acc.LevelID)
	require.Equal(t, money.Money(0), acc.Balance, "assigning a level charges nothing")
	require.Contains(t, f.actions(t, user.ID), "user_level_updated")
}

func TestUpdateUserRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "gus")

	_, err := f.svc.UpdateUserRole(ctx, finance, user.ID, "support_admin", "")
	require.ErrorIs(t, err, access.ErrForbidden)

	_, err = f.svc.UpdateUserRole(ctx, access.Actor{ID: user.ID, Role: access.RoleSuperAdmin}, user.ID, "content_admin", "")
	require.ErrorIs(t, err, ErrOwnRole)

	_, err = f.svc.UpdateUserRole(ctx, super, user.ID, "overlord", "")
	require.Error(t, err)

	acc, err := f.svc.UpdateUserRole(ctx, super, user.ID, "support_admin", "")
	require.NoError(t, err)
	require.Equal(t, access.RoleSupportAdmin, acc.Role)
	require.Contains(t, f.actions(t, user.ID), "user_role_updated")
}

func TestListUsersAndDashboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	active := f.member(t, "hal")
	f.member(t, "ivy")
	f.member(t, "jon")
	_, err := f.svc.ApproveUser(ctx, support, active.ID, "")
	require.NoError(t, err)

	_, err = f.catalog.Create(ctx, content, catalog.CreateParams{
		Title: "Follow us", Type: catalog.TypeMarketing, RewardAmount: 300, ProofType: catalog.ProofLink,
	}, "")
	require.NoError(t, err)

	_, err = f.svc.ListUsers(ctx, content, "", pagination.Pagination{Limit: 10})
	require.ErrorIs(t, err, access.ErrForbidden)

	page, err := f.svc.ListUsers(ctx, support, account.StatusPendingApproval, pagination.Pagination{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)

	_, err = f.svc.ListUsers(ctx, support, "dormant", pagination.Pagination{Limit: 10})
	require.Error(t, err)

	stats, err := f.svc.DashboardStats(ctx, content)
	require.NoError(t, err)
	require.Equal(t, DashboardStats{TotalUsers: 3, PendingUsers: 2, ActiveTasks: 1}, *stats)

	_, err = f.svc.DashboardStats(ctx, access.Actor{ID: active.ID, Role: access.RoleUser})
	require.ErrorIs(t, err, access.ErrForbidden)
}
