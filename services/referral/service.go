package referral

import (
	"context"
	"errors"
	"time"

	"promohive/pkg/db/option"
	"promohive/pkg/db/pagination"
	"promohive/pkg/errutil"
	"promohive/pkg/logger"
	"promohive/pkg/metrics"
	"promohive/pkg/money"
	"promohive/pkg/repository"
	"promohive/services/account"
	"promohive/services/ledger"
	"promohive/services/level"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	referrals repository.Repository[Referral]
	accounts  *account.Service
	levels    *level.Service
	ledger    *ledger.Service
	now       func() time.Time
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Accounts *account.Service
	Levels   *level.Service
	Ledger   *ledger.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		referrals: repository.ProvideStore[Referral](p.DB),
		accounts:  p.Accounts,
		levels:    p.Levels,
		ledger:    p.Ledger,
		now:       time.Now,
	}
}

// Payout is the outcome of PayReferral. Both fields are nil when nothing was
// owed. Entry is nil when the referral had already been paid.
type Payout struct {
	Referral *Referral
	Entry    *ledger.Entry
}

// PayReferral credits the earner's direct referrer with the referrer's
// current level share of gross. sourceEntryID is the ledger entry that
// earned gross; a second call for the same source returns the existing
// referral without paying again.
//
// With a nil tx the payout runs and announces in its own transaction.
// Otherwise the caller commits and announces Payout.Entry.
func (s *Service) PayReferral(ctx context.Context, tx *gorm.DB, earnerID string, gross money.Money, sourceEntryID string) (Payout, error) {
	if tx == nil {
		var out Payout
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			out, err = s.PayReferral(ctx, tx, earnerID, gross, sourceEntryID)
			return err
		})
		if err != nil {
			return Payout{}, err
		}
		s.ledger.Announce(ctx, out.Entry)
		return out, nil
	}

	zapLog := logger.FromContext(ctx).With(zap.String("earner_id", earnerID), zap.String("source_entry_id", sourceEntryID))

	if sourceEntryID == "" {
		return Payout{}, errutil.ValidationFailed("referral source entry is required", nil)
	}

	earner, err := s.accounts.GetTx(ctx, tx, earnerID)
	if err != nil {
		return Payout{}, err
	}
	if earner.ReferrerID == nil || *earner.ReferrerID == "" || *earner.ReferrerID == earner.ID {
		metrics.RecordReferral("no_referrer")
		return Payout{}, nil
	}

	referrer, err := s.accounts.GetTx(ctx, tx, *earner.ReferrerID)
	if errors.Is(err, account.ErrNotFound) {
		zapLog.Warn("referrer not found, skipping referral", zap.String("referrer_id", *earner.ReferrerID))
		metrics.RecordReferral("unresolved")
		return Payout{}, nil
	}
	if err != nil {
		return Payout{}, err
	}

	lvl, err := s.levels.Get(ctx, tx, referrer.LevelID)
	if errors.Is(err, level.ErrNotFound) {
		zapLog.Warn("referrer level not found, skipping referral", zap.Int("level_id", referrer.LevelID))
		metrics.RecordReferral("unresolved")
		return Payout{}, nil
	}
	if err != nil {
		return Payout{}, err
	}

	reward := gross.MulPercentFloor(lvl.EarningSharePercent)
	if !reward.IsPositive() {
		metrics.RecordReferral("zero")
		return Payout{}, nil
	}

	ref := &Referral{
		ID:            s.node.Generate().String(),
		ReferrerID:    referrer.ID,
		ReferredID:    earner.ID,
		SourceEntryID: sourceEntryID,
		RewardAmount:  reward,
		RewardStatus:  RewardPending,
		Tier:          DirectTier,
	}

	res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(ref)
	if res.Error != nil {
		return Payout{}, errutil.Unavailable("failed to create referral", res.Error)
	}
	if res.RowsAffected == 0 {
		existing, err := s.referrals.WithTrx(tx).FindOne(ctx, &Referral{
			ReferrerID:    referrer.ID,
			ReferredID:    earner.ID,
			SourceEntryID: sourceEntryID,
		})
		if err != nil {
			return Payout{}, errutil.Unavailable("failed to load referral", err)
		}
		zapLog.Info("referral already paid for source entry")
		metrics.RecordReferral("duplicate")
		return Payout{Referral: existing}, nil
	}

	entry, err := s.ledger.RecordTx(ctx, tx, ledger.RecordParams{
		AccountID:   referrer.ID,
		Kind:        ledger.KindReferralBonus,
		Amount:      reward,
		Description: "Referral bonus from " + earner.Username,
		Metadata: map[string]any{
			"referral_id":     ref.ID,
			"referred_id":     earner.ID,
			"source_entry_id": sourceEntryID,
			"share_percent":   lvl.EarningSharePercent,
			"level_id":        lvl.ID,
		},
	})
	if err != nil {
		return Payout{}, err
	}

	res = tx.WithContext(ctx).Model(&Referral{}).
		Where("id = ? AND reward_status = ?", ref.ID, RewardPending).
		Updates(map[string]any{"reward_status": RewardCredited, "ledger_entry_id": entry.ID, "updated_at": s.now()})
	if res.Error != nil {
		return Payout{}, errutil.Unavailable("failed to credit referral", res.Error)
	}
	ref.RewardStatus = RewardCredited
	ref.LedgerEntryID = &entry.ID

	zapLog.Info("referral credited",
		zap.String("referrer_id", referrer.ID),
		zap.Int64("reward", reward.Int64()),
		zap.Int64("share_percent", lvl.EarningSharePercent),
	)
	metrics.RecordReferral("credited")
	return Payout{Referral: ref, Entry: entry}, nil
}

// FindBySource returns the payout made for sourceEntryID, or an empty Payout
// when none was made.
func (s *Service) FindBySource(ctx context.Context, tx *gorm.DB, sourceEntryID string) (Payout, error) {
	if sourceEntryID == "" {
		return Payout{}, nil
	}
	ref, err := s.referrals.WithTrx(tx).FindOne(ctx, &Referral{SourceEntryID: sourceEntryID})
	if err != nil {
		return Payout{}, errutil.Unavailable("failed to load referral", err)
	}
	if ref == nil {
		return Payout{}, nil
	}

	out := Payout{Referral: ref}
	if ref.LedgerEntryID != nil {
		out.Entry, err = s.ledger.GetTx(ctx, tx, *ref.LedgerEntryID)
		if err != nil {
			return Payout{}, err
		}
	}
	return out, nil
}

func (s *Service) ListByReferrer(ctx context.Context, referrerID string, p pagination.Pagination) (*pagination.Page[Referral], error) {
	query := &Referral{ReferrerID: referrerID}
	total, err := s.referrals.Count(ctx, query)
	if err != nil {
		return nil, errutil.Unavailable("failed to count referrals", err)
	}
	items, err := s.referrals.Find(ctx, query,
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.ApplyPagination(p),
	)
	if err != nil {
		return nil, errutil.Unavailable("failed to list referrals", err)
	}
	return &pagination.Page[Referral]{Items: items, PageInfo: pagination.BuildPageInfo(p, total)}, nil
}

func (s *Service) Stats(ctx context.Context, referrerID string) (Stats, error) {
	referred, err := s.accounts.Referred(ctx, referrerID)
	if err != nil {
		return Stats{}, err
	}

	var row struct {
		Payouts int64
		Total   int64
	}
	err = s.db.WithContext(ctx).Model(&Referral{}).
		Select("COUNT(*) AS payouts, COALESCE(SUM(reward_amount), 0) AS total").
		Where("referrer_id = ? AND reward_status = ?", referrerID, RewardCredited).
		Scan(&row).Error
	if err != nil {
		return Stats{}, errutil.Unavailable("failed to summarise referrals", err)
	}

	return Stats{
		Referred:      int64(len(referred)),
		Payouts:       row.Payouts,
		TotalCredited: money.Cents(row.Total),
	}, nil
}
