package level

import (
	"context"
	"testing"

	"promohive/pkg/access"
	"promohive/pkg/money"
	"promohive/services/account"
	"promohive/services/audit"
	"promohive/services/ledger"
	"promohive/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixture struct {
	db       *gorm.DB
	svc      *Service
	accounts *account.Service
	ledger   *ledger.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t, &account.Account{}, &ledger.Entry{}, &audit.Log{}, &Level{})
	node := testutil.NewNode(t)
	authz, err := access.NewEnforcer()
	require.NoError(t, err)

	accounts := account.NewService(account.ServiceParams{DB: db, Node: node})
	entries := ledger.NewService(ledger.ServiceParams{DB: db, Node: node, Accounts: accounts})
	svc := NewService(ServiceParams{
		DB:       db,
		Accounts: accounts,
		Ledger:   entries,
		Audit:    audit.NewService(audit.ServiceParams{DB: db, Node: node}),
		Authz:    authz,
	})
	require.NoError(t, svc.Seed(context.Background()))
	return &fixture{db: db, svc: svc, accounts: accounts, ledger: entries}
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

func TestDefaultLadder(t *testing.T) {
	ladder := DefaultLadder()
	require.Len(t, ladder, 10)

	shares := []int64{15, 30, 45, 50, 55, 60, 65, 70, 75, 80}
	for i, l := range ladder {
		require.Equal(t, i, l.ID)
		require.Equal(t, shares[i], l.EarningSharePercent, "level %d", i)
		require.Equal(t, money.Cents(int64(i)*5000), l.UpgradePrice)
	}
	require.Equal(t, money.Cents(1000), ladder[0].MinimumWithdrawal)
	require.Equal(t, money.Cents(15000), ladder[3].MinimumWithdrawal)
}

func TestSeedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Seed(ctx))
	levels, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, levels, 10)
	require.Equal(t, 0, levels[0].ID)
	require.Equal(t, 9, levels[9].ID)
}

func TestGetUnknownLevel(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), nil, 42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	finance := access.Actor{ID: "fin-1", Role: access.RoleFinanceAdmin}

	t.Run("finance admin changes share", func(t *testing.T) {
		share := int64(33)
		lvl, err := f.svc.Update(ctx, finance, 1, UpdateParams{EarningSharePercent: &share})
		require.NoError(t, err)
		require.Equal(t, int64(33), lvl.EarningSharePercent)
		require.Equal(t, money.Cents(5000), lvl.UpgradePrice)

		var logs []audit.Log
		require.NoError(t, f.db.Where("action = ?", "level_updated").Find(&logs).Error)
		require.Len(t, logs, 1)
		require.Equal(t, "fin-1", logs[0].AdminID)
	})

	t.Run("content admin is refused", func(t *testing.T) {
		name := "Gold"
		_, err := f.svc.Update(ctx, access.Actor{ID: "c-1", Role: access.RoleContentAdmin}, 1, UpdateParams{Name: &name})
		require.ErrorIs(t, err, access.ErrForbidden)
	})

	t.Run("share out of range", func(t *testing.T) {
		share := int64(101)
		_, err := f.svc.Update(ctx, finance, 1, UpdateParams{EarningSharePercent: &share})
		require.ErrorIs(t, err, ErrInvalidShare)
	})

	t.Run("negative minimum", func(t *testing.T) {
		minimum := money.Cents(-1)
		_, err := f.svc.Update(ctx, finance, 1, UpdateParams{MinimumWithdrawal: &minimum})
		require.ErrorIs(t, err, ErrNegativeSettings)
	})

	t.Run("unknown level", func(t *testing.T) {
		name := "Ghost"
		_, err := f.svc.Update(ctx, finance, 77, UpdateParams{Name: &name})
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpgrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("debits the price and sets the level", func(t *testing.T) {
		acc := f.member(t, "climber", 12000)

		got, entry, err := f.svc.Upgrade(ctx, acc.ID, 2)
		require.NoError(t, err)
		require.Equal(t, 2, got.LevelID)
		require.Equal(t, money.Cents(2000), got.Balance)
		require.Equal(t, ledger.KindLevelUpgrade, entry.Kind)
		require.Equal(t, money.Cents(10000), entry.Amount)
	})

	t.Run("insufficient funds leaves the level", func(t *testing.T) {
		acc := f.member(t, "short", 4999)

		_, _, err := f.svc.Upgrade(ctx, acc.ID, 1)
		require.ErrorIs(t, err, account.ErrInsufficientFunds)

		got, err := f.accounts.Get(ctx, acc.ID)
		require.NoError(t, err)
		require.Equal(t, 0, got.LevelID)
		require.Equal(t, money.Cents(4999), got.Balance)
	})

	t.Run("downgrade refused", func(t *testing.T) {
		acc := f.member(t, "steady", 5000)
		_, _, err := f.svc.Upgrade(ctx, acc.ID, 1)
		require.NoError(t, err)

		_, _, err = f.svc.Upgrade(ctx, acc.ID, 1)
		require.ErrorIs(t, err, ErrNotAnUpgrade)
	})

	t.Run("inactive account", func(t *testing.T) {
		acc, err := f.accounts.Register(ctx, account.RegisterParams{Username: "pending", Email: "pending@example.com"})
		require.NoError(t, err)

		_, _, err = f.svc.Upgrade(ctx, acc.ID, 1)
		require.ErrorIs(t, err, account.ErrInactive)
	})
}
