package wallet

import (
	"context"
	"errors"
	"strings"
	"time"

	"promohive/pkg/access"
	"promohive/pkg/db/option"
	"promohive/pkg/errutil"
	"promohive/pkg/logger"
	"promohive/pkg/repository"
	"promohive/services/audit"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrNotFound = errutil.Sentinel(errutil.StatusNotFound, "wallet not found")

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	wallets repository.Repository[Wallet]
	audit   *audit.Service
	authz   access.Authorizer
	now     func() time.Time
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Audit *audit.Service
	Authz access.Authorizer
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		wallets: repository.ProvideStore[Wallet](p.DB),
		audit:   p.Audit,
		authz:   p.Authz,
		now:     time.Now,
	}
}

func (s *Service) Get(ctx context.Context, tx *gorm.DB, id string) (*Wallet, error) {
	w, err := s.wallets.WithTrx(tx).FindOne(ctx, &Wallet{ID: id})
	if err != nil {
		return nil, errutil.Unavailable("failed to load wallet", err)
	}
	if w == nil || id == "" {
		return nil, ErrNotFound
	}
	return w, nil
}

// GetActive is the lookup withdrawals use: an inactive wallet is as good as
// unknown.
func (s *Service) GetActive(ctx context.Context, tx *gorm.DB, id string) (*Wallet, error) {
	w, err := s.Get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !w.IsActive {
		return nil, ErrNotFound
	}
	return w, nil
}

// List returns active wallets, or all wallets when includeInactive is set.
func (s *Service) List(ctx context.Context, includeInactive bool) ([]*Wallet, error) {
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}),
	}
	if !includeInactive {
		opts = append(opts, option.WithWhere("is_active = ?", true))
	}
	items, err := s.wallets.Find(ctx, &Wallet{}, opts...)
	if err != nil {
		return nil, errutil.Unavailable("failed to list wallets", err)
	}
	return items, nil
}

func (s *Service) Create(ctx context.Context, actor access.Actor, p CreateParams, ip string) (*Wallet, error) {
	if err := s.authz.Check(actor.Role, access.ActionWalletManage); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Address) == "" || strings.TrimSpace(p.Chain) == "" || strings.TrimSpace(p.Currency) == "" {
		return nil, errutil.ValidationFailed("chain, currency and address are required", nil)
	}

	w := &Wallet{
		ID:        s.node.Generate().String(),
		Chain:     strings.ToUpper(strings.TrimSpace(p.Chain)),
		Currency:  strings.ToUpper(strings.TrimSpace(p.Currency)),
		Address:   strings.TrimSpace(p.Address),
		Label:     p.Label,
		IsActive:  true,
		CreatedBy: actor.ID,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.wallets.WithTrx(tx).Create(ctx, w); err != nil {
			return errutil.Unavailable("failed to create wallet", err)
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			AdminID:    actor.ID,
			Action:     "wallet_created",
			TargetType: "wallet",
			TargetID:   w.ID,
			Metadata:   map[string]any{"chain": w.Chain, "currency": w.Currency, "address": w.Address},
			IPAddress:  ip,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("wallet created", zap.String("wallet_id", w.ID), zap.String("chain", w.Chain))
	return w, nil
}

func (s *Service) Update(ctx context.Context, actor access.Actor, id string, p UpdateParams, ip string) (*Wallet, error) {
	if err := s.authz.Check(actor.Role, access.ActionWalletManage); err != nil {
		return nil, err
	}

	updates := map[string]any{"updated_at": s.now()}
	if p.Label != nil {
		updates["label"] = *p.Label
	}
	if p.Address != nil {
		if strings.TrimSpace(*p.Address) == "" {
			return nil, errutil.ValidationFailed("address cannot be empty", nil)
		}
		updates["address"] = strings.TrimSpace(*p.Address)
	}
	if p.IsActive != nil {
		updates["is_active"] = *p.IsActive
	}
	return s.apply(ctx, actor, id, "wallet_updated", updates, ip)
}

// Deactivate hides the wallet from new withdrawals. Requests already pending
// against it are unaffected.
func (s *Service) Deactivate(ctx context.Context, actor access.Actor, id, ip string) (*Wallet, error) {
	if err := s.authz.Check(actor.Role, access.ActionWalletManage); err != nil {
		return nil, err
	}
	return s.apply(ctx, actor, id, "wallet_deactivated", map[string]any{"is_active": false, "updated_at": s.now()}, ip)
}

func (s *Service) apply(ctx context.Context, actor access.Actor, id, action string, updates map[string]any, ip string) (*Wallet, error) {
	var out *Wallet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.wallets.WithTrx(tx).Update(ctx, id, updates); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return errutil.Unavailable("failed to update wallet", err)
		}

		var err error
		if out, err = s.Get(ctx, tx, id); err != nil {
			return err
		}

		metadata := make(map[string]any, len(updates))
		for k, v := range updates {
			if k != "updated_at" {
				metadata[k] = v
			}
		}
		_, err = s.audit.Record(ctx, tx, audit.Entry{
			AdminID:    actor.ID,
			Action:     action,
			TargetType: "wallet",
			TargetID:   id,
			Metadata:   metadata,
			IPAddress:  ip,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
