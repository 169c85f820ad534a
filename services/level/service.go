package level

import (
	"context"
	"errors"
	"fmt"
	"time"

	"promohive/pkg/access"
	"promohive/pkg/db/option"
	"promohive/pkg/errutil"
	"promohive/pkg/logger"
	"promohive/pkg/money"
	"promohive/pkg/repository"
	"promohive/services/account"
	"promohive/services/audit"
	"promohive/services/ledger"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound         = errutil.Sentinel(errutil.StatusNotFound, "level not found")
	ErrNotAnUpgrade     = errutil.Sentinel(errutil.StatusValidationFailed, "target level must be above the current level")
	ErrInvalidShare     = errutil.Sentinel(errutil.StatusValidationFailed, "earning share must be between 0 and 100")
	ErrNegativeSettings = errutil.Sentinel(errutil.StatusValidationFailed, "level amounts cannot be negative")
)

type Service struct {
	db       *gorm.DB
	levels   repository.Repository[Level]
	accounts *account.Service
	ledger   *ledger.Service
	audit    *audit.Service
	authz    access.Authorizer
	now      func() time.Time
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Accounts *account.Service
	Ledger   *ledger.Service
	Audit    *audit.Service
	Authz    access.Authorizer
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		levels:   repository.ProvideStore[Level](p.DB),
		accounts: p.Accounts,
		ledger:   p.Ledger,
		audit:    p.Audit,
		authz:    p.Authz,
		now:      time.Now,
	}
}

// Seed inserts the default ladder, leaving existing levels untouched.
func (s *Service) Seed(ctx context.Context) error {
	now := s.now()
	ladder := DefaultLadder()
	for _, l := range ladder {
		l.CreatedAt, l.UpdatedAt = now, now
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&ladder).Error; err != nil {
		return errutil.Unavailable("failed to seed levels", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, tx *gorm.DB, id int) (*Level, error) {
	l, err := s.levels.WithTrx(tx).FindOne(ctx, &Level{}, option.WithWhere("id = ?", id))
	if err != nil {
		return nil, errutil.Unavailable("failed to load level", err)
	}
	if l == nil {
		return nil, ErrNotFound.Wrap(fmt.Errorf("level %d", id))
	}
	return l, nil
}

func (s *Service) List(ctx context.Context) ([]*Level, error) {
	items, err := s.levels.Find(ctx, &Level{}, option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc", Allow: map[string]bool{"id": true}}))
	if err != nil {
		return nil, errutil.Unavailable("failed to list levels", err)
	}
	return items, nil
}

// Update changes a level's economic parameters. Accounts pick the new values
// up on their next payout or withdrawal.
func (s *Service) Update(ctx context.Context, actor access.Actor, id int, p UpdateParams) (*Level, error) {
	if err := s.authz.Check(actor.Role, access.ActionLevelUpdate); err != nil {
		return nil, err
	}

	updates := map[string]any{"updated_at": s.now()}
	if p.Name != nil {
		updates["name"] = *p.Name
	}
	if p.Description != nil {
		updates["description"] = *p.Description
	}
	if p.EarningSharePercent != nil {
		if *p.EarningSharePercent < 0 || *p.EarningSharePercent > 100 {
			return nil, ErrInvalidShare
		}
		updates["earning_share_percent"] = *p.EarningSharePercent
	}
	for column, amount := range map[string]*money.Money{"upgrade_price": p.UpgradePrice, "minimum_withdrawal": p.MinimumWithdrawal} {
		if amount == nil {
			continue
		}
		if amount.IsNegative() {
			return nil, ErrNegativeSettings
		}
		updates[column] = *amount
	}

	var out *Level
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Level{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return errutil.Unavailable("failed to update level", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		var err error
		if out, err = s.Get(ctx, tx, id); err != nil {
			return err
		}

		delete(updates, "updated_at")
		_, err = s.audit.Record(ctx, tx, audit.Entry{
			AdminID:    actor.ID,
			Action:     "level_updated",
			TargetType: "level",
			TargetID:   fmt.Sprintf("%d", id),
			Metadata:   updates,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Upgrade sells the user the target level: the price is debited as a
// level_upgrade entry and the level set in the same transaction.
func (s *Service) Upgrade(ctx context.Context, userID string, target int) (*account.Account, *ledger.Entry, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("account_id", userID), zap.Int("target_level", target))

	var (
		acc   *account.Account
		entry *ledger.Entry
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.accounts.Lock(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !current.IsActive() {
			return account.ErrInactive
		}
		if target <= current.LevelID {
			return ErrNotAnUpgrade
		}

		lvl, err := s.Get(ctx, tx, target)
		if err != nil {
			return err
		}

		if lvl.UpgradePrice.IsPositive() {
			entry, err = s.ledger.RecordTx(ctx, tx, ledger.RecordParams{
				AccountID:   userID,
				Kind:        ledger.KindLevelUpgrade,
				Amount:      lvl.UpgradePrice,
				Description: fmt.Sprintf("Upgrade to %s", lvl.Name),
				Metadata:    map[string]any{"from_level": current.LevelID, "to_level": target},
			})
			if err != nil {
				return err
			}
		}

		acc, err = s.accounts.SetLevel(ctx, tx, userID, target)
		return err
	})
	if err != nil {
		if !errors.Is(err, account.ErrInsufficientFunds) {
			zapLog.Warn("level upgrade failed", zap.Error(err))
		}
		return nil, nil, err
	}

	s.ledger.Announce(ctx, entry)
	zapLog.Info("level upgraded")
	return acc, entry, nil
}
