package account

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"promohive/pkg/access"
	"promohive/pkg/db/option"
	"promohive/pkg/db/pagination"
	"promohive/pkg/dns"
	"promohive/pkg/errutil"
	"promohive/pkg/logger"
	"promohive/pkg/money"
	"promohive/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound            = errutil.Sentinel(errutil.StatusNotFound, "account not found")
	ErrInsufficientFunds   = errutil.Sentinel(errutil.StatusUnprocessableEntity, "insufficient funds")
	ErrInactive            = errutil.Sentinel(errutil.StatusForbidden, "account is not active")
	ErrUnknownReferralCode = errutil.Sentinel(errutil.StatusValidationFailed, "unknown referral code")
	ErrAlreadyExists       = errutil.Sentinel(errutil.StatusConflict, "username or email already registered")
)

// DomainChecker reports whether an email domain can receive mail.
type DomainChecker interface {
	CheckEmailDomain(ctx context.Context, domain string) error
}

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	repo    repository.Repository[Account]
	domains DomainChecker
	now     func() time.Time
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Domains DomainChecker `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		repo:    repository.ProvideStore[Account](p.DB),
		domains: p.Domains,
		now:     time.Now,
	}
}

func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	return s.GetTx(ctx, nil, id)
}

// GetTx reads the account through tx when it is non-nil.
func (s *Service) GetTx(ctx context.Context, tx *gorm.DB, id string) (*Account, error) {
	acc, err := s.repo.WithTrx(tx).FindOne(ctx, &Account{ID: id})
	if err != nil {
		return nil, errutil.Unavailable("failed to load account", err)
	}
	if acc == nil || id == "" {
		return nil, ErrNotFound
	}
	return acc, nil
}

// Lock reads the account with a row lock held until tx ends. Writers that
// depend on per-account ordering take it first.
func (s *Service) Lock(ctx context.Context, tx *gorm.DB, id string) (*Account, error) {
	acc, err := s.repo.WithTrx(tx).FindOne(ctx, &Account{ID: id}, option.WithLockingUpdate())
	if err != nil {
		return nil, errutil.Unavailable("failed to lock account", err)
	}
	if acc == nil || id == "" {
		return nil, ErrNotFound
	}
	return acc, nil
}

// ApplyDelta moves an account balance by d.Amount in one conditional UPDATE.
// A debit only matches rows whose balance covers it, so concurrent debits can
// never both pass against the same funds. Credits cannot fail on funds.
// The caller owns tx and must pair the call with its ledger write.
func (s *Service) ApplyDelta(ctx context.Context, tx *gorm.DB, d Delta) (*Account, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("account_id", d.AccountID), zap.Int64("amount", d.Amount.Int64()))

	if d.Amount == 0 {
		return nil, money.ErrInvalidAmount.Wrap(errors.New("zero delta"))
	}
	if tx == nil {
		tx = s.db
	}

	updates := map[string]any{
		"balance":    gorm.Expr("balance + ?", d.Amount),
		"updated_at": s.now(),
	}
	if d.CountEarned && d.Amount.IsPositive() {
		updates["total_earned"] = gorm.Expr("total_earned + ?", d.Amount)
	}
	if d.CountWithdrawn && d.Amount.IsNegative() {
		updates["total_withdrawn"] = gorm.Expr("total_withdrawn + ?", d.Amount.Abs())
	}

	q := tx.WithContext(ctx).Model(&Account{}).Where("id = ?", d.AccountID)
	if d.Amount.IsNegative() {
		q = q.Where("balance >= ?", d.Amount.Abs())
	}

	res := q.Updates(updates)
	if res.Error != nil {
		zapLog.Error("failed to apply balance delta", zap.Error(res.Error))
		return nil, errutil.Unavailable("failed to apply balance delta", res.Error)
	}

	if res.RowsAffected == 0 {
		if _, err := s.GetTx(ctx, tx, d.AccountID); err != nil {
			return nil, err
		}
		zapLog.Warn("balance delta refused, insufficient funds")
		return nil, ErrInsufficientFunds
	}

	return s.GetTx(ctx, tx, d.AccountID)
}

// FindByReferralCode resolves a trimmed, non-empty code. An empty code would
// match any row through gorm's zero-value struct query, so it never reaches
// the store.
func (s *Service) FindByReferralCode(ctx context.Context, code string) (*Account, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrNotFound
	}
	acc, err := s.repo.FindOne(ctx, &Account{ReferralCode: code})
	if err != nil {
		return nil, errutil.Unavailable("failed to load account", err)
	}
	if acc == nil {
		return nil, ErrNotFound
	}
	return acc, nil
}

// Register opens an account with a zero balance at level 0 awaiting approval.
func (s *Service) Register(ctx context.Context, p RegisterParams) (*Account, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("username", p.Username))

	username := strings.TrimSpace(p.Username)
	email := strings.ToLower(strings.TrimSpace(p.Email))
	if username == "" || email == "" || !strings.Contains(email, "@") {
		return nil, errutil.ValidationFailed("username and a valid email are required", nil)
	}

	if s.domains != nil {
		domain := email[strings.LastIndex(email, "@")+1:]
		err := s.domains.CheckEmailDomain(ctx, domain)
		if errors.Is(err, dns.ErrNoMailExchanger) {
			return nil, errutil.ValidationFailed("email domain cannot receive mail", err)
		}
		if err != nil {
			zapLog.Warn("email domain check unavailable", zap.String("domain", domain), zap.Error(err))
		}
	}

	acc := &Account{
		ID:       s.node.Generate().String(),
		Username: username,
		Email:    email,
		Status:   StatusPendingApproval,
		Role:     access.RoleUser,
	}

	if referralCode := strings.TrimSpace(p.ReferralCode); referralCode != "" {
		referrer, err := s.FindByReferralCode(ctx, referralCode)
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnknownReferralCode
		}
		if err != nil {
			return nil, err
		}
		acc.ReferrerID = &referrer.ID
	}

	code, err := NewReferralCode(username)
	if err != nil {
		return nil, errutil.Internal("failed to generate referral code", err)
	}
	acc.ReferralCode = code

	if err := s.repo.Create(ctx, acc); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyExists
		}
		zapLog.Error("failed to create account", zap.Error(err))
		return nil, errutil.Unavailable("failed to create account", err)
	}

	zapLog.Info("account registered", zap.String("account_id", acc.ID))
	return acc, nil
}

// NewReferralCode is REF-<SLUGGED-USERNAME>-<6 random chars>.
func NewReferralCode(username string) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	suffix := make([]byte, 6)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		suffix[i] = chars[n.Int64()]
	}

	base := strings.ToUpper(slug.Make(username))
	if base == "" {
		base = "USER"
	}
	if len(base) > 24 {
		base = base[:24]
	}
	return fmt.Sprintf("REF-%s-%s", base, suffix), nil
}

// SetStatus moves the account to status, recording the approving admin when it
// becomes active.
func (s *Service) SetStatus(ctx context.Context, tx *gorm.DB, id string, status Status, adminID string) (*Account, error) {
	if !status.Valid() {
		return nil, errutil.ValidationFailed(fmt.Sprintf("invalid account status %q", status), nil)
	}

	updates := map[string]any{"status": status, "updated_at": s.now()}
	if status == StatusActive {
		now := s.now()
		updates["approved_by"] = adminID
		updates["approved_at"] = now
	}

	if err := s.repo.WithTrx(tx).Update(ctx, id, updates); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errutil.Unavailable("failed to update account status", err)
	}
	return s.GetTx(ctx, tx, id)
}

func (s *Service) SetLevel(ctx context.Context, tx *gorm.DB, id string, levelID int) (*Account, error) {
	if err := s.repo.WithTrx(tx).Update(ctx, id, map[string]any{"level_id": levelID, "updated_at": s.now()}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errutil.Unavailable("failed to update account level", err)
	}
	return s.GetTx(ctx, tx, id)
}

func (s *Service) SetRole(ctx context.Context, tx *gorm.DB, id string, role access.Role) (*Account, error) {
	if err := s.repo.WithTrx(tx).Update(ctx, id, map[string]any{"role": role, "updated_at": s.now()}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errutil.Unavailable("failed to update account role", err)
	}
	return s.GetTx(ctx, tx, id)
}

// List pages through accounts, optionally filtered by status, newest first.
func (s *Service) List(ctx context.Context, status Status, p pagination.Pagination) (*pagination.Page[Account], error) {
	query := &Account{Status: status}

	total, err := s.repo.Count(ctx, query)
	if err != nil {
		return nil, errutil.Unavailable("failed to count accounts", err)
	}

	items, err := s.repo.Find(ctx, query,
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc", Allow: map[string]bool{"created_at": true}}),
		option.ApplyPagination(p),
	)
	if err != nil {
		return nil, errutil.Unavailable("failed to list accounts", err)
	}

	return &pagination.Page[Account]{Items: items, PageInfo: pagination.BuildPageInfo(p, total)}, nil
}

func (s *Service) Count(ctx context.Context, status Status) (int64, error) {
	total, err := s.repo.Count(ctx, &Account{Status: status})
	if err != nil {
		return 0, errutil.Unavailable("failed to count accounts", err)
	}
	return total, nil
}

// Referred lists the accounts whose referrer is referrerID.
func (s *Service) Referred(ctx context.Context, referrerID string) ([]*Account, error) {
	items, err := s.repo.Find(ctx, &Account{}, option.WithWhere("referrer_id = ?", referrerID))
	if err != nil {
		return nil, errutil.Unavailable("failed to list referred accounts", err)
	}
	return items, nil
}
