package admin

import (
	"context"
	"fmt"
	"strings"

	"promohive/pkg/access"
	"promohive/pkg/db/pagination"
	"promohive/pkg/errutil"
	"promohive/pkg/logger"
	"promohive/pkg/money"
	"promohive/services/account"
	"promohive/services/assignment"
	"promohive/services/audit"
	"promohive/services/catalog"
	"promohive/services/ledger"
	"promohive/services/level"
	"promohive/services/wallet"
	"promohive/services/withdrawal"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	ErrAmountTooLarge = errutil.Sentinel(errutil.StatusValidationFailed, "amount exceeds the 100000.00 manual adjustment limit")
	ErrOwnRole        = errutil.Sentinel(errutil.StatusForbidden, "admins cannot change their own role")
)

type Service struct {
	db          *gorm.DB
	accounts    *account.Service
	ledger      *ledger.Service
	levels      *level.Service
	wallets     *wallet.Service
	catalog     *catalog.Service
	assignments *assignment.Service
	withdrawals *withdrawal.Service
	audit       *audit.Service
	authz       access.Authorizer
}

type ServiceParams struct {
	fx.In
	DB          *gorm.DB
	Accounts    *account.Service
	Ledger      *ledger.Service
	Levels      *level.Service
	Wallets     *wallet.Service
	Catalog     *catalog.Service
	Assignments *assignment.Service
	Withdrawals *withdrawal.Service
	Audit       *audit.Service
	Authz       access.Authorizer
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		accounts:    p.Accounts,
		ledger:      p.Ledger,
		levels:      p.Levels,
		wallets:     p.Wallets,
		catalog:     p.Catalog,
		assignments: p.Assignments,
		withdrawals: p.Withdrawals,
		audit:       p.Audit,
		authz:       p.Authz,
	}
}

func validateManual(amount money.Money) error {
	if err := money.Positive(amount); err != nil {
		return err
	}
	if amount > MaxManualAmount {
		return ErrAmountTooLarge
	}
	return nil
}

// book records a completed entry and its audit row in one transaction and
// announces the entry after commit.
func (s *Service) book(ctx context.Context, actor access.Actor, rp ledger.RecordParams, a audit.Entry) (*ledger.Entry, error) {
	var entry *ledger.Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if entry, err = s.ledger.RecordTx(ctx, tx, rp); err != nil {
			return err
		}
		a.AdminID = actor.ID
		a.TargetType = "user"
		a.TargetID = rp.AccountID
		if a.Metadata == nil {
			a.Metadata = map[string]any{}
		}
		a.Metadata["entry_id"] = entry.ID
		a.Metadata["amount"] = rp.Amount.String()
		_, err = s.audit.Record(ctx, tx, a)
		return err
	})
	if err != nil {
		logger.FromContext(ctx).Warn("admin balance operation failed",
			zap.String("admin_id", actor.ID),
			zap.String("action", a.Action),
			zap.String("user_id", rp.AccountID),
			zap.Error(err),
		)
		return nil, err
	}

	s.ledger.Announce(ctx, entry)
	logger.FromContext(ctx).Info("admin balance operation",
		zap.String("admin_id", actor.ID),
		zap.String("action", a.Action),
		zap.String("user_id", rp.AccountID),
		zap.Int64("amount", rp.Amount.Int64()),
	)
	return entry, nil
}

// CreditUserBalance adds a manual credit that counts towards total earned.
func (s *Service) CreditUserBalance(ctx context.Context, actor access.Actor, p BalanceParams) (*ledger.Entry, error) {
	if err := s.authz.Check(actor.Role, access.ActionBalanceCredit); err != nil {
		return nil, err
	}
	if err := validateManual(p.Amount); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(p.Reason)
	return s.book(ctx, actor, ledger.RecordParams{
		AccountID:   p.UserID,
		Kind:        ledger.KindCredit,
		Amount:      p.Amount,
		Description: reason,
		Metadata:    map[string]any{"admin_id": actor.ID, "reason": reason},
	}, audit.Entry{Action: "balance_credited", Metadata: map[string]any{"reason": reason}, IPAddress: p.IPAddress})
}

// DebitUserBalance removes funds. It fails with insufficient funds rather than
// letting the balance go negative.
func (s *Service) DebitUserBalance(ctx context.Context, actor access.Actor, p BalanceParams) (*ledger.Entry, error) {
	if err := s.authz.Check(actor.Role, access.ActionBalanceDebit); err != nil {
		return nil, err
	}
	if err := validateManual(p.Amount); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(p.Reason)
	return s.book(ctx, actor, ledger.RecordParams{
		AccountID:   p.UserID,
		Kind:        ledger.KindDebit,
		Amount:      p.Amount,
		Description: reason,
		Metadata:    map[string]any{"admin_id": actor.ID, "reason": reason},
	}, audit.Entry{Action: "balance_debited", Metadata: map[string]any{"reason": reason}, IPAddress: p.IPAddress})
}

// ApproveDeposit books funds the member sent to one of our wallets.
// Deposits do not count as earnings.
func (s *Service) ApproveDeposit(ctx context.Context, actor access.Actor, p DepositParams) (*ledger.Entry, error) {
	if err := s.authz.Check(actor.Role, access.ActionDepositApprove); err != nil {
		return nil, err
	}
	if err := money.Positive(p.Amount); err != nil {
		return nil, err
	}
	if p.WalletID != "" {
		if _, err := s.wallets.Get(ctx, nil, p.WalletID); err != nil {
			return nil, err
		}
	}

	metadata := map[string]any{"approved_by": actor.ID}
	if p.TxRef != "" {
		metadata["tx_ref"] = p.TxRef
	}
	return s.book(ctx, actor, ledger.RecordParams{
		AccountID:   p.UserID,
		Kind:        ledger.KindDeposit,
		Amount:      p.Amount,
		WalletID:    p.WalletID,
		Description: "Deposit approved",
		Metadata:    metadata,
	}, audit.Entry{Action: "deposit_approved", Metadata: map[string]any{"tx_ref": p.TxRef, "wallet_id": p.WalletID}, IPAddress: p.IPAddress})
}

// UpdateUserLevel assigns a level directly, without charging the upgrade price.
func (s *Service) UpdateUserLevel(ctx context.Context, actor access.Actor, userID string, levelID int, ip string) (*account.Account, error) {
	if err := s.authz.Check(actor.Role, access.ActionUserLevelUpdate); err != nil {
		return nil, err
	}

	var out *account.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.levels.Get(ctx, tx, levelID); err != nil {
			return err
		}
		before, err := s.accounts.Lock(ctx, tx, userID)
		if err != nil {
			return err
		}
		if out, err = s.accounts.SetLevel(ctx, tx, userID, levelID); err != nil {
			return err
		}
		_, err = s.audit.Record(ctx, tx, audit.Entry{
			AdminID:    actor.ID,
			Action:     "user_level_updated",
			TargetType: "user",
			TargetID:   userID,
			Metadata:   map[string]any{"from_level": before.LevelID, "to_level": levelID},
			IPAddress:  ip,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) setStatus(ctx context.Context, actor access.Actor, userID string, status account.Status, action string, metadata map[string]any, ip string) (*account.Account, error) {
	var out *account.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if out, err = s.accounts.SetStatus(ctx, tx, userID, status, actor.ID); err != nil {
			return err
		}
		_, err = s.audit.Record(ctx, tx, audit.Entry{
			AdminID:    actor.ID,
			Action:     action,
			TargetType: "user",
			TargetID:   userID,
			Metadata:   metadata,
			IPAddress:  ip,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("account status changed", zap.String("user_id", userID), zap.String("status", string(status)), zap.String("admin_id", actor.ID))
	return out, nil
}

func (s *Service) ApproveUser(ctx context.Context, actor access.Actor, userID, ip string) (*account.Account, error) {
	if err := s.authz.Check(actor.Role, access.ActionUserApprove); err != nil {
		return nil, err
	}
	return s.setStatus(ctx, actor, userID, account.StatusActive, "user_approved", nil, ip)
}

// RejectUser bans a registration. The account row is kept.
func (s *Service) RejectUser(ctx context.Context, actor access.Actor, userID, reason, ip string) (*account.Account, error) {
	if err := s.authz.Check(actor.Role, access.ActionUserReject); err != nil {
		return nil, err
	}
	return s.setStatus(ctx, actor, userID, account.StatusBanned, "user_rejected", map[string]any{"reason": reason}, ip)
}

func (s *Service) UpdateUserRole(ctx context.Context, actor access.Actor, userID, role, ip string) (*account.Account, error) {
	if err := s.authz.Check(actor.Role, access.ActionRoleUpdate); err != nil {
		return nil, err
	}
	if actor.ID == userID {
		return nil, ErrOwnRole
	}
	newRole, err := access.ParseRole(role)
	if err != nil {
		return nil, err
	}

	var out *account.Account
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, err := s.accounts.Lock(ctx, tx, userID)
		if err != nil {
			return err
		}
		if out, err = s.accounts.SetRole(ctx, tx, userID, newRole); err != nil {
			return err
		}
		_, err = s.audit.Record(ctx, tx, audit.Entry{
			AdminID:    actor.ID,
			Action:     "user_role_updated",
			TargetType: "user",
			TargetID:   userID,
			Metadata:   map[string]any{"from_role": before.Role, "to_role": newRole},
			IPAddress:  ip,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) ListUsers(ctx context.Context, actor access.Actor, status account.Status, p pagination.Pagination) (*pagination.Page[account.Account], error) {
	if err := s.authz.Check(actor.Role, access.ActionUserView); err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, errutil.ValidationFailed(fmt.Sprintf("invalid account status %q", status), nil)
	}
	return s.accounts.List(ctx, status, p)
}

// DashboardStats gathers the admin overview counters concurrently.
func (s *Service) DashboardStats(ctx context.Context, actor access.Actor) (*DashboardStats, error) {
	if err := s.authz.Check(actor.Role, access.ActionView); err != nil {
		return nil, err
	}

	var stats DashboardStats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats.TotalUsers, err = s.accounts.Count(gctx, "")
		return err
	})
	g.Go(func() (err error) {
		stats.PendingUsers, err = s.accounts.Count(gctx, account.StatusPendingApproval)
		return err
	})
	g.Go(func() (err error) {
		stats.ActiveTasks, err = s.catalog.CountActive(gctx)
		return err
	})
	g.Go(func() (err error) {
		stats.PendingProofs, err = s.assignments.CountPendingProofs(gctx)
		return err
	})
	g.Go(func() (err error) {
		stats.PendingWithdrawals, err = s.withdrawals.CountPending(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &stats, nil
}
