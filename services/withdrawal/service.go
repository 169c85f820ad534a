package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"promohive/pkg/access"
	"promohive/pkg/db/option"
	"promohive/pkg/db/pagination"
	"promohive/pkg/errutil"
	"promohive/pkg/logger"
	"promohive/pkg/metrics"
	"promohive/pkg/money"
	"promohive/pkg/repository"
	"promohive/pkg/sequence"
	"promohive/services/account"
	"promohive/services/audit"
	"promohive/services/ledger"
	"promohive/services/level"
	"promohive/services/wallet"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound            = errutil.Sentinel(errutil.StatusNotFound, "withdrawal request not found")
	ErrAlreadyProcessed    = errutil.Sentinel(errutil.StatusConflict, "withdrawal request already processed")
	ErrInsufficientBalance = errutil.Sentinel(errutil.StatusUnprocessableEntity, "insufficient balance")
	ErrBelowMinimum        = errutil.Sentinel(errutil.StatusUnprocessableEntity, "amount is below the minimum withdrawal for this level")
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	requests repository.Repository[Request]
	accounts *account.Service
	levels   *level.Service
	wallets  *wallet.Service
	ledger   *ledger.Service
	audit    *audit.Service
	authz    access.Authorizer
	seq      sequence.Generator
	now      func() time.Time
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Accounts *account.Service
	Levels   *level.Service
	Wallets  *wallet.Service
	Ledger   *ledger.Service
	Audit    *audit.Service
	Authz    access.Authorizer
	Sequence sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		requests: repository.ProvideStore[Request](p.DB),
		accounts: p.Accounts,
		levels:   p.Levels,
		wallets:  p.Wallets,
		ledger:   p.Ledger,
		audit:    p.Audit,
		authz:    p.Authz,
		seq:      p.Sequence,
		now:      time.Now,
	}
}

func (s *Service) Get(ctx context.Context, tx *gorm.DB, id string) (*Request, error) {
	r, err := s.requests.WithTrx(tx).FindOne(ctx, &Request{ID: id})
	if err != nil {
		return nil, errutil.Unavailable("failed to load withdrawal request", err)
	}
	if r == nil || id == "" {
		return nil, ErrNotFound
	}
	return r, nil
}

func (s *Service) reference(ctx context.Context) (string, error) {
	if s.seq != nil {
		ref, err := s.seq.Next(ctx, sequence.PrefixWithdrawal)
		if err == nil {
			return ref, nil
		}
		logger.FromContext(ctx).Warn("sequence unavailable, using random withdrawal reference", zap.Error(err))
	}
	return sequence.Random(sequence.PrefixWithdrawal)
}

// Request opens a pending withdrawal. Balance and the minimum for the
// member's current level are checked against the locked account row; the
// balance itself is not touched until approval.
func (s *Service) Request(ctx context.Context, userID string, amount money.Money, walletID string) (*Request, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("user_id", userID), zap.Int64("amount", amount.Int64()))

	if err := money.Positive(amount); err != nil {
		return nil, err
	}

	var (
		req   *Request
		entry *ledger.Entry
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.wallets.GetActive(ctx, tx, walletID); err != nil {
			return err
		}

		acc, err := s.accounts.Lock(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !acc.IsActive() {
			return account.ErrInactive
		}
		if amount > acc.Balance {
			return ErrInsufficientBalance
		}

		lvl, err := s.levels.Get(ctx, tx, acc.LevelID)
		if err != nil {
			return err
		}
		if amount < lvl.MinimumWithdrawal {
			return ErrBelowMinimum.Wrap(fmt.Errorf("minimum is %s", lvl.MinimumWithdrawal))
		}

		ref, err := s.reference(ctx)
		if err != nil {
			return errutil.Internal("failed to generate withdrawal reference", err)
		}

		req = &Request{
			ID:        s.node.Generate().String(),
			Reference: ref,
			UserID:    userID,
			Amount:    amount,
			WalletID:  walletID,
			Status:    StatusPending,
		}

		entry, err = s.ledger.RecordTx(ctx, tx, ledger.RecordParams{
			AccountID:           userID,
			Kind:                ledger.KindWithdrawal,
			Amount:              amount,
			Status:              ledger.StatusPending,
			RelatedWithdrawalID: req.ID,
			WalletID:            walletID,
			Description:         "Withdrawal " + ref,
			Metadata:            map[string]any{"reference": ref},
		})
		if err != nil {
			return err
		}
		req.LedgerEntryID = entry.ID

		if err := s.requests.WithTrx(tx).Create(ctx, req); err != nil {
			return errutil.Unavailable("failed to create withdrawal request", err)
		}
		return nil
	})
	if err != nil {
		metrics.RecordWithdrawal("refused")
		zapLog.Info("withdrawal request refused", zap.Error(err))
		return nil, err
	}

	s.ledger.Announce(ctx, entry)
	metrics.RecordWithdrawal("requested")
	zapLog.Info("withdrawal requested", zap.String("request_id", req.ID), zap.String("reference", req.Reference))
	return req, nil
}

// claim moves a pending request to status in a conditional UPDATE. It fails
// with ErrAlreadyProcessed if another decision got there first.
func (s *Service) claim(ctx context.Context, tx *gorm.DB, id string, updates map[string]any) (*Request, error) {
	res := tx.WithContext(ctx).Model(&Request{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(updates)
	if res.Error != nil {
		return nil, errutil.Unavailable("failed to update withdrawal request", res.Error)
	}

	req, err := s.Get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyProcessed.Wrap(fmt.Errorf("request is %s", req.Status))
	}
	return req, nil
}

// Approve settles the pending withdrawal entry, which debits the balance in a
// conditional UPDATE. If the balance no longer covers the amount everything
// rolls back and the request stays pending.
func (s *Service) Approve(ctx context.Context, actor access.Actor, d Decision) (*Request, error) {
	if err := s.authz.Check(actor.Role, access.ActionWithdrawalApprove); err != nil {
		return nil, err
	}
	zapLog := logger.FromContext(ctx).With(zap.String("request_id", d.RequestID), zap.String("admin_id", actor.ID))

	var (
		req   *Request
		entry *ledger.Entry
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		var err error
		req, err = s.claim(ctx, tx, d.RequestID, map[string]any{
			"status":      StatusApproved,
			"approved_by": actor.ID,
			"approved_at": now,
			"updated_at":  now,
		})
		if err != nil {
			return err
		}

		entry, err = s.ledger.Settle(ctx, tx, req.LedgerEntryID, ledger.StatusCompleted)
		if errors.Is(err, account.ErrInsufficientFunds) {
			return ErrInsufficientBalance.Wrap(err)
		}
		if err != nil {
			return err
		}

		if err := tx.WithContext(ctx).Model(&Request{}).Where("id = ?", req.ID).
			Updates(map[string]any{"status": StatusCompleted, "completed_at": now, "updated_at": now}).Error; err != nil {
			return errutil.Unavailable("failed to complete withdrawal request", err)
		}
		req.Status = StatusCompleted
		req.CompletedAt = &now

		_, err = s.audit.Record(ctx, tx, audit.Entry{
			AdminID:    actor.ID,
			Action:     "withdrawal_approved",
			TargetType: "withdrawal_request",
			TargetID:   req.ID,
			Metadata:   map[string]any{"amount": req.Amount.String(), "reference": req.Reference, "wallet_id": req.WalletID},
			IPAddress:  d.IPAddress,
		})
		return err
	})
	if err != nil {
		metrics.RecordWithdrawal("approve_failed")
		zapLog.Warn("withdrawal approval failed", zap.Error(err))
		return nil, err
	}

	s.ledger.Announce(ctx, entry)
	metrics.RecordWithdrawal("completed")
	zapLog.Info("withdrawal approved", zap.Int64("amount", req.Amount.Int64()))
	return req, nil
}

// Deny rejects a pending request and fails its ledger entry without touching
// the balance.
func (s *Service) Deny(ctx context.Context, actor access.Actor, d Decision) (*Request, error) {
	if err := s.authz.Check(actor.Role, access.ActionWithdrawalDeny); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(d.Reason)
	if reason == "" {
		return nil, errutil.ValidationFailed("a reason is required to deny a withdrawal", nil)
	}

	var (
		req   *Request
		entry *ledger.Entry
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = s.claim(ctx, tx, d.RequestID, map[string]any{
			"status":           StatusRejected,
			"rejection_reason": reason,
			"updated_at":       s.now(),
		})
		if err != nil {
			return err
		}

		if entry, err = s.ledger.Settle(ctx, tx, req.LedgerEntryID, ledger.StatusFailed); err != nil {
			return err
		}

		_, err = s.audit.Record(ctx, tx, audit.Entry{
			AdminID:    actor.ID,
			Action:     "withdrawal_rejected",
			TargetType: "withdrawal_request",
			TargetID:   req.ID,
			Metadata:   map[string]any{"reason": reason, "amount": req.Amount.String()},
			IPAddress:  d.IPAddress,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.ledger.Announce(ctx, entry)
	metrics.RecordWithdrawal("rejected")
	logger.FromContext(ctx).Info("withdrawal denied", zap.String("request_id", req.ID), zap.String("admin_id", actor.ID))
	return req, nil
}

// Pending lists requests awaiting a decision, oldest first.
func (s *Service) Pending(ctx context.Context, actor access.Actor, p pagination.Pagination) (*pagination.Page[Request], error) {
	if err := s.authz.Check(actor.Role, access.ActionWithdrawalView); err != nil {
		return nil, err
	}
	return s.page(ctx, &Request{Status: StatusPending}, "asc", p)
}

func (s *Service) ListByUser(ctx context.Context, userID string, p pagination.Pagination) (*pagination.Page[Request], error) {
	return s.page(ctx, &Request{UserID: userID}, "desc", p)
}

func (s *Service) page(ctx context.Context, query *Request, order string, p pagination.Pagination) (*pagination.Page[Request], error) {
	total, err := s.requests.Count(ctx, query)
	if err != nil {
		return nil, errutil.Unavailable("failed to count withdrawal requests", err)
	}
	items, err := s.requests.Find(ctx, query,
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: order}),
		option.ApplyPagination(p),
	)
	if err != nil {
		return nil, errutil.Unavailable("failed to list withdrawal requests", err)
	}
	return &pagination.Page[Request]{Items: items, PageInfo: pagination.BuildPageInfo(p, total)}, nil
}

// CountPending feeds the admin dashboard.
func (s *Service) CountPending(ctx context.Context) (int64, error) {
	n, err := s.requests.Count(ctx, &Request{Status: StatusPending})
	if err != nil {
		return 0, errutil.Unavailable("failed to count withdrawal requests", err)
	}
	return n, nil
}
