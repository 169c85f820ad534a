package assignment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"promohive/pkg/access"
	"promohive/pkg/money"
	"promohive/services/account"
	"promohive/services/audit"
	"promohive/services/catalog"
	"promohive/services/ledger"
	"promohive/services/level"
	"promohive/services/referral"
	"promohive/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var (
	support = access.Actor{ID: "support-1", Role: access.RoleSupportAdmin}
	content = access.Actor{ID: "content-1", Role: access.RoleContentAdmin}
)

type objectStoreMock struct {
	keys []string
}

func (m *objectStoreMock) PresignUpload(_ context.Context, key string) (string, error) {
	m.keys = append(m.keys, key)
	return "https://uploads.example.com/" + key + "?sig=1", nil
}

type fixture struct {
	db       *gorm.DB
	svc      *Service
	accounts *account.Service
	catalog  *catalog.Service
	objects  *objectStoreMock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t,
		&account.Account{}, &ledger.Entry{}, &level.Level{}, &audit.Log{},
		&referral.Referral{}, &catalog.Task{}, &Assignment{},
	)
	node := testutil.NewNode(t)
	authz, err := access.NewEnforcer()
	require.NoError(t, err)

	accounts := account.NewService(account.ServiceParams{DB: db, Node: node})
	audits := audit.NewService(audit.ServiceParams{DB: db, Node: node})
	entries := ledger.NewService(ledger.ServiceParams{DB: db, Node: node, Accounts: accounts})
	levels := level.NewService(level.ServiceParams{DB: db, Accounts: accounts, Ledger: entries, Audit: audits, Authz: authz})
	require.NoError(t, levels.Seed(context.Background()))
	referrals := referral.NewService(referral.ServiceParams{DB: db, Node: node, Accounts: accounts, Levels: levels, Ledger: entries})
	tasks := catalog.NewService(catalog.ServiceParams{DB: db, Node: node, Audit: audits, Authz: authz})
	objects := &objectStoreMock{}

	svc := NewService(ServiceParams{
		DB:        db,
		Node:      node,
		Accounts:  accounts,
		Catalog:   tasks,
		Ledger:    entries,
		Referrals: referrals,
		Audit:     audits,
		Authz:     authz,
		Objects:   objects,
	})
	return &fixture{db: db, svc: svc, accounts: accounts, catalog: tasks, objects: objects}
}

func (f *fixture) member(t *testing.T, username, referralCode string) *account.Account {
	t.Helper()
	ctx := context.Background()
	acc, err := f.accounts.Register(ctx, account.RegisterParams{Username: username, Email: username + "@example.com", ReferralCode: referralCode})
	require.NoError(t, err)
	acc, err = f.accounts.SetStatus(ctx, nil, acc.ID, account.StatusActive, "admin")
	require.NoError(t, err)
	return acc
}

func (f *fixture) task(t *testing.T, p catalog.CreateParams) *catalog.Task {
	t.Helper()
	if p.Title == "" {
		p.Title = "Share the launch post"
	}
	if p.Type == "" {
		p.Type = catalog.TypeMarketing
	}
	if p.RewardAmount == 0 {
		p.RewardAmount = 500
	}
	if p.ProofType == "" {
		p.ProofType = catalog.ProofLink
	}
	task, err := f.catalog.Create(context.Background(), content, p, "")
	require.NoError(t, err)
	return task
}

// submitted takes an assignment of task for user all the way to proof_pending.
func (f *fixture) submitted(t *testing.T, userID, taskID string) *Assignment {
	t.Helper()
	ctx := context.Background()
	a, err := f.svc.Accept(ctx, userID, taskID)
	require.NoError(t, err)
	a, err = f.svc.SubmitProof(ctx, a.ID, userID, Proof{URL: "https://social.example.com/post/1"})
	require.NoError(t, err)
	require.Equal(t, StatusProofPending, a.Status)
	return a
}

func (f *fixture) balance(t *testing.T, id string) money.Money {
	t.Helper()
	acc, err := f.accounts.Get(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance
}

func (f *fixture) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

func TestAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "ann", "")

	t.Run("takes a slot", func(t *testing.T) {
		task := f.task(t, catalog.CreateParams{Slots: 5})
		a, err := f.svc.Accept(ctx, user.ID, task.ID)
		require.NoError(t, err)
		require.Equal(t, StatusAccepted, a.Status)

		got, err := f.catalog.Get(ctx, nil, task.ID)
		require.NoError(t, err)
		require.Equal(t, 1, got.ActiveSlots)

		_, err = f.svc.Accept(ctx, user.ID, task.ID)
		require.ErrorIs(t, err, ErrAlreadyAssigned)
	})

	t.Run("level gate", func(t *testing.T) {
		task := f.task(t, catalog.CreateParams{EligibilityLevel: 2})
		_, err := f.svc.Accept(ctx, user.ID, task.ID)
		require.ErrorIs(t, err, ErrInsufficientLevel)
	})

	t.Run("eligibility rule", func(t *testing.T) {
		gated := f.task(t, catalog.CreateParams{EligibilityRule: "total_earned >= 10000"})
		_, err := f.svc.Accept(ctx, user.ID, gated.ID)
		require.ErrorIs(t, err, ErrNotEligible)

		open := f.task(t, catalog.CreateParams{EligibilityRule: `level == 0 && role == "user"`})
		_, err = f.svc.Accept(ctx, user.ID, open.ID)
		require.NoError(t, err)

		_, err = f.catalog.Create(ctx, content, catalog.CreateParams{
			Title: "Broken", Type: catalog.TypeMarketing, RewardAmount: 100, ProofType: catalog.ProofLink,
			EligibilityRule: "level >",
		}, "")
		require.Error(t, err)
	})

	t.Run("paused task", func(t *testing.T) {
		task := f.task(t, catalog.CreateParams{})
		_, err := f.catalog.SetStatus(ctx, content, task.ID, catalog.StatusPaused, "")
		require.NoError(t, err)
		_, err = f.svc.Accept(ctx, user.ID, task.ID)
		require.ErrorIs(t, err, catalog.ErrNotActive)
	})

	t.Run("no slots left", func(t *testing.T) {
		task := f.task(t, catalog.CreateParams{Slots: 1})
		other := f.member(t, "ben", "")
		_, err := f.svc.Accept(ctx, other.ID, task.ID)
		require.NoError(t, err)
		_, err = f.svc.Accept(ctx, user.ID, task.ID)
		require.ErrorIs(t, err, catalog.ErrSlotsExhausted)
	})

	t.Run("inactive member", func(t *testing.T) {
		task := f.task(t, catalog.CreateParams{})
		pending, err := f.accounts.Register(ctx, account.RegisterParams{Username: "newbie", Email: "newbie@example.com"})
		require.NoError(t, err)
		_, err = f.svc.Accept(ctx, pending.ID, task.ID)
		require.ErrorIs(t, err, account.ErrInactive)
	})

	t.Run("repeatable task opens a new cycle after review", func(t *testing.T) {
		task := f.task(t, catalog.CreateParams{Repeatable: true})
		a := f.submitted(t, user.ID, task.ID)

		_, err := f.svc.Accept(ctx, user.ID, task.ID)
		require.ErrorIs(t, err, ErrAlreadyAssigned)

		_, err = f.svc.Review(ctx, support, ReviewParams{AssignmentID: a.ID, Approved: true})
		require.NoError(t, err)

		again, err := f.svc.Accept(ctx, user.ID, task.ID)
		require.NoError(t, err)
		require.NotEqual(t, a.ID, again.ID)
	})
}

func TestSubmitProof(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "ann", "")
	stranger := f.member(t, "eve", "")

	t.Run("from in progress", func(t *testing.T) {
		task := f.task(t, catalog.CreateParams{ProofType: catalog.ProofText})
		a, err := f.svc.Accept(ctx, user.ID, task.ID)
		require.NoError(t, err)
		a, err = f.svc.Start(ctx, a.ID, user.ID)
		require.NoError(t, err)
		require.Equal(t, StatusInProgress, a.Status)

		_, err = f.svc.SubmitProof(ctx, a.ID, user.ID, Proof{URL: "https://x"})
		require.ErrorIs(t, err, ErrMissingProof)

		a, err = f.svc.SubmitProof(ctx, a.ID, user.ID, Proof{Text: "done, see handle @ann"})
		require.NoError(t, err)
		require.Equal(t, StatusProofPending, a.Status)
		require.NotNil(t, a.SubmittedAt)
	})

	t.Run("twice is an invalid state", func(t *testing.T) {
		task := f.task(t, catalog.CreateParams{})
		a := f.submitted(t, user.ID, task.ID)
		_, err := f.svc.SubmitProof(ctx, a.ID, user.ID, Proof{URL: "https://again"})
		require.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("someone else's assignment", func(t *testing.T) {
		task := f.task(t, catalog.CreateParams{})
		a, err := f.svc.Accept(ctx, user.ID, task.ID)
		require.NoError(t, err)
		_, err = f.svc.SubmitProof(ctx, a.ID, stranger.ID, Proof{URL: "https://mine"})
		require.ErrorIs(t, err, ErrNotOwner)
		_, err = f.svc.Start(ctx, a.ID, stranger.ID)
		require.ErrorIs(t, err, ErrNotOwner)
	})
}

func TestProofUploadURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "ann", "")

	image := f.task(t, catalog.CreateParams{ProofType: catalog.ProofImage})
	a, err := f.svc.Accept(ctx, user.ID, image.ID)
	require.NoError(t, err)

	url, key, err := f.svc.ProofUploadURL(ctx, a.ID, user.ID, "../../screenshot.png")
	require.NoError(t, err)
	require.Equal(t, "proofs/"+user.ID+"/"+a.ID+"/screenshot.png", key)
	require.Contains(t, url, key)

	link := f.task(t, catalog.CreateParams{ProofType: catalog.ProofLink})
	b, err := f.svc.Accept(ctx, user.ID, link.ID)
	require.NoError(t, err)
	_, _, err = f.svc.ProofUploadURL(ctx, b.ID, user.ID, "x.png")
	require.ErrorIs(t, err, ErrUploadNotNeeded)
}

func TestApprovalCreditsTaskAndReferrer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	referrer := f.member(t, "bob", "")
	earner := f.member(t, "ann", referrer.ReferralCode)
	task := f.task(t, catalog.CreateParams{RewardAmount: 500})
	a := f.submitted(t, earner.ID, task.ID)

	res, err := f.svc.Review(ctx, support, ReviewParams{AssignmentID: a.ID, Approved: true})
	require.NoError(t, err)
	require.False(t, res.AlreadyApproved)
	require.Equal(t, StatusApproved, res.Assignment.Status)
	require.Equal(t, money.Money(500), res.Credit.Amount)
	require.Equal(t, res.Credit.ID, *res.Assignment.CreditEntryID)
	require.NotNil(t, res.Referral)
	require.Equal(t, money.Money(75), res.Referral.RewardAmount)
	require.Equal(t, referral.RewardCredited, res.Referral.RewardStatus)
	require.Equal(t, res.Credit.ID, res.Referral.SourceEntryID)

	require.Equal(t, money.Money(500), f.balance(t, earner.ID))
	require.Equal(t, money.Money(75), f.balance(t, referrer.ID))
	require.Equal(t, int64(1), f.count(t, &audit.Log{}, "action = ? AND target_id = ?", "proof_approved", a.ID))
}

func TestSequentialReapprovalDoesNotCreditTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	referrer := f.member(t, "bob", "")
	earner := f.member(t, "ann", referrer.ReferralCode)
	a := f.submitted(t, earner.ID, f.task(t, catalog.CreateParams{RewardAmount: 500}).ID)

	first, err := f.svc.Review(ctx, support, ReviewParams{AssignmentID: a.ID, Approved: true})
	require.NoError(t, err)

	second, err := f.svc.Review(ctx, support, ReviewParams{AssignmentID: a.ID, Approved: true})
	require.NoError(t, err)
	require.True(t, second.AlreadyApproved)
	require.Equal(t, first.Credit.ID, second.Credit.ID)
	require.NotNil(t, second.Referral, "the replay carries the original referral")
	require.Equal(t, first.Referral.ID, second.Referral.ID)
	require.NotNil(t, second.Bonus)
	require.Equal(t, first.Bonus.ID, second.Bonus.ID)

	require.Equal(t, money.Money(500), f.balance(t, earner.ID))
	require.Equal(t, money.Money(75), f.balance(t, referrer.ID))
	require.Equal(t, int64(1), f.count(t, &ledger.Entry{}, "kind = ?", ledger.KindCredit))
	require.Equal(t, int64(1), f.count(t, &referral.Referral{}, "1 = 1"))
}

func TestConcurrentApprovalsCreditOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	earner := f.member(t, "ann", "")
	a := f.submitted(t, earner.ID, f.task(t, catalog.CreateParams{RewardAmount: 500}).ID)

	const reviewers = 8
	var wg sync.WaitGroup
	results := make([]*ReviewResult, reviewers)
	errs := make([]error, reviewers)
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Review(ctx, support, ReviewParams{AssignmentID: a.ID, Approved: true})
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := range results {
		require.NoError(t, errs[i])
		if !results[i].AlreadyApproved {
			fresh++
		}
	}
	require.Equal(t, 1, fresh)
	require.Equal(t, money.Money(500), f.balance(t, earner.ID))
	require.Equal(t, int64(1), f.count(t, &ledger.Entry{}, "kind = ? AND related_task_assignment_id = ?", ledger.KindCredit, a.ID))

	got, err := f.svc.Get(ctx, nil, a.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, got.Status)
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "ann", "")
	task := f.task(t, catalog.CreateParams{Slots: 1})
	a := f.submitted(t, user.ID, task.ID)

	_, err := f.svc.Review(ctx, support, ReviewParams{AssignmentID: a.ID, Approved: false})
	require.Error(t, err, "a reason is required")

	res, err := f.svc.Review(ctx, support, ReviewParams{AssignmentID: a.ID, Approved: false, Reason: "screenshot is cropped"})
	require.NoError(t, err)
	require.Equal(t, StatusRejected, res.Assignment.Status)
	require.Equal(t, "screenshot is cropped", *res.Assignment.RejectionReason)
	require.Nil(t, res.Credit)

	require.Equal(t, money.Money(0), f.balance(t, user.ID))
	require.Equal(t, int64(0), f.count(t, &ledger.Entry{}, "account_id = ?", user.ID))

	got, err := f.catalog.Get(ctx, nil, task.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.ActiveSlots)

	_, err = f.svc.Review(ctx, support, ReviewParams{AssignmentID: a.ID, Approved: true})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestReviewRequiresSupport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.member(t, "ann", "")
	a := f.submitted(t, user.ID, f.task(t, catalog.CreateParams{}).ID)

	for _, actor := range []access.Actor{content, {ID: "fin", Role: access.RoleFinanceAdmin}, {ID: user.ID, Role: access.RoleUser}} {
		_, err := f.svc.Review(ctx, actor, ReviewParams{AssignmentID: a.ID, Approved: true})
		require.True(t, errors.Is(err, access.ErrForbidden), actor.Role)
	}
	require.Equal(t, money.Money(0), f.balance(t, user.ID))
}
