package account

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"promohive/pkg/db/pagination"
	"promohive/pkg/dns"
	"promohive/pkg/errutil"
	"promohive/pkg/money"
	"promohive/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &Account{})
	return NewService(ServiceParams{DB: db, Node: testutil.NewNode(t)})
}

func seedAccount(t *testing.T, s *Service, username string, balance money.Money) *Account {
	t.Helper()
	acc, err := s.Register(context.Background(), RegisterParams{Username: username, Email: username + "@example.com"})
	require.NoError(t, err)
	if balance > 0 {
		acc, err = s.ApplyDelta(context.Background(), nil, Delta{AccountID: acc.ID, Amount: balance})
		require.NoError(t, err)
	}
	return acc
}

func TestRegister(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	referrer := seedAccount(t, s, "alice", 0)
	require.True(t, strings.HasPrefix(referrer.ReferralCode, "REF-ALICE-"))
	require.Equal(t, StatusPendingApproval, referrer.Status)
	require.Zero(t, referrer.Balance)

	acc, err := s.Register(ctx, RegisterParams{Username: "bob", Email: "BOB@example.com", ReferralCode: referrer.ReferralCode})
	require.NoError(t, err)
	require.NotNil(t, acc.ReferrerID)
	require.Equal(t, referrer.ID, *acc.ReferrerID)
	require.Equal(t, "bob@example.com", acc.Email)

	_, err = s.Register(ctx, RegisterParams{Username: "carol", Email: "carol@example.com", ReferralCode: "REF-NOPE-000000"})
	require.ErrorIs(t, err, ErrUnknownReferralCode)

	_, err = s.Register(ctx, RegisterParams{Username: "bob", Email: "other@example.com"})
	require.ErrorIs(t, err, ErrAlreadyExists)

	blank, err := s.Register(ctx, RegisterParams{Username: "dora", Email: "dora@example.com", ReferralCode: "   "})
	require.NoError(t, err)
	require.Nil(t, blank.ReferrerID, "a blank referral code attaches no referrer")

	padded, err := s.Register(ctx, RegisterParams{Username: "ed", Email: "ed@example.com", ReferralCode: "  " + referrer.ReferralCode + " "})
	require.NoError(t, err)
	require.NotNil(t, padded.ReferrerID)
	require.Equal(t, referrer.ID, *padded.ReferrerID)

	_, err = s.FindByReferralCode(ctx, " \t ")
	require.ErrorIs(t, err, ErrNotFound)
}

type domainsMock map[string]error

func (m domainsMock) CheckEmailDomain(_ context.Context, domain string) error {
	return m[domain]
}

func TestRegisterChecksEmailDomain(t *testing.T) {
	db := testutil.NewTestDB(t, &Account{})
	s := NewService(ServiceParams{DB: db, Node: testutil.NewNode(t), Domains: domainsMock{
		"nomail.test": dns.ErrNoMailExchanger,
		"flaky.test":  errors.New("i/o timeout"),
	}})
	ctx := context.Background()

	_, err := s.Register(ctx, RegisterParams{Username: "dan", Email: "dan@nomail.test"})
	require.ErrorIs(t, err, dns.ErrNoMailExchanger)
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	_, err = s.Register(ctx, RegisterParams{Username: "eve", Email: "eve@flaky.test"})
	require.NoError(t, err, "an unreachable resolver does not block registration")

	_, err = s.Register(ctx, RegisterParams{Username: "fay", Email: "fay@example.com"})
	require.NoError(t, err)
}

func TestApplyDelta(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "dave", 0)

	t.Run("credit counts towards earnings", func(t *testing.T) {
		got, err := s.ApplyDelta(ctx, nil, Delta{AccountID: acc.ID, Amount: 500, CountEarned: true})
		require.NoError(t, err)
		require.Equal(t, money.Money(500), got.Balance)
		require.Equal(t, money.Money(500), got.TotalEarned)
	})

	t.Run("debit beyond balance is refused", func(t *testing.T) {
		_, err := s.ApplyDelta(ctx, nil, Delta{AccountID: acc.ID, Amount: -501})
		require.ErrorIs(t, err, ErrInsufficientFunds)

		got, err := s.Get(ctx, acc.ID)
		require.NoError(t, err)
		require.Equal(t, money.Money(500), got.Balance)
	})

	t.Run("withdrawal counts towards withdrawn", func(t *testing.T) {
		got, err := s.ApplyDelta(ctx, nil, Delta{AccountID: acc.ID, Amount: -500, CountWithdrawn: true})
		require.NoError(t, err)
		require.Zero(t, got.Balance)
		require.Equal(t, money.Money(500), got.TotalWithdrawn)
	})

	t.Run("zero delta is invalid", func(t *testing.T) {
		_, err := s.ApplyDelta(ctx, nil, Delta{AccountID: acc.ID})
		require.ErrorIs(t, err, money.ErrInvalidAmount)
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := s.ApplyDelta(ctx, nil, Delta{AccountID: "missing", Amount: -1})
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "erin", 1000)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.ApplyDelta(ctx, nil, Delta{AccountID: acc.ID, Amount: -300})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, ErrInsufficientFunds)
	}
	require.Equal(t, 3, ok)

	got, err := s.Get(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, money.Money(100), got.Balance)
}

func TestSetStatusRecordsApprover(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "frank", 0)

	got, err := s.SetStatus(ctx, nil, acc.ID, StatusActive, "admin-1")
	require.NoError(t, err)
	require.True(t, got.IsActive())
	require.NotNil(t, got.ApprovedBy)
	require.Equal(t, "admin-1", *got.ApprovedBy)
	require.NotNil(t, got.ApprovedAt)

	_, err = s.SetStatus(ctx, nil, acc.ID, Status("deleted"), "admin-1")
	require.Error(t, err)

	_, err = s.SetStatus(ctx, nil, "missing", StatusBanned, "admin-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListByStatus(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	a := seedAccount(t, s, "gina", 0)
	seedAccount(t, s, "hank", 0)
	_, err := s.SetStatus(ctx, nil, a.ID, StatusActive, "admin-1")
	require.NoError(t, err)

	page, err := s.List(ctx, StatusPendingApproval, pagination.Pagination{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "hank", page.Items[0].Username)
	require.Equal(t, int64(1), page.PageInfo.Total)

	total, err := s.Count(ctx, "")
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
}

func TestNewReferralCode(t *testing.T) {
	code, err := NewReferralCode("Zoë Smith")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(code, "REF-ZOE-SMITH-"), code)

	code, err = NewReferralCode("!!!")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(code, "REF-USER-"), code)
}
