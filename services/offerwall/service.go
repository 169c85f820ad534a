package offerwall

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"promohive/pkg/access"
	"promohive/pkg/config"
	"promohive/pkg/db/option"
	"promohive/pkg/db/pagination"
	"promohive/pkg/errutil"
	"promohive/pkg/logger"
	"promohive/pkg/metrics"
	"promohive/pkg/money"
	"promohive/pkg/repository"
	"promohive/services/account"
	"promohive/services/audit"
	"promohive/services/ledger"
	"promohive/services/level"
	"promohive/services/referral"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultMaxSharePercent caps the member share of an offer payout when no
// configuration is supplied.
const DefaultMaxSharePercent = 70

var (
	ErrInvalidSignature = errutil.Sentinel(errutil.StatusForbidden, "invalid postback signature")
	ErrPostbackDisabled = errutil.Sentinel(errutil.StatusForbidden, "offerwall postbacks are not configured")
	ErrTxRefConflict    = errutil.Sentinel(errutil.StatusConflict, "transaction reference belongs to another completion")
)

type Service struct {
	db          *gorm.DB
	node        *snowflake.Node
	offers      repository.Repository[Offer]
	completions repository.Repository[Completion]
	accounts    *account.Service
	levels      *level.Service
	ledger      *ledger.Service
	referrals   *referral.Service
	audit       *audit.Service
	authz       access.Authorizer
	secret      string
	maxShare    int64
	now         func() time.Time
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Accounts  *account.Service
	Levels    *level.Service
	Ledger    *ledger.Service
	Referrals *referral.Service
	Audit     *audit.Service
	Authz     access.Authorizer
	Config    *config.Config `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		db:          p.DB,
		node:        p.Node,
		offers:      repository.ProvideStore[Offer](p.DB),
		completions: repository.ProvideStore[Completion](p.DB),
		accounts:    p.Accounts,
		levels:      p.Levels,
		ledger:      p.Ledger,
		referrals:   p.Referrals,
		audit:       p.Audit,
		authz:       p.Authz,
		maxShare:    DefaultMaxSharePercent,
		now:         time.Now,
	}
	if p.Config != nil {
		s.secret = p.Config.Offerwall.Secret
		if p.Config.Offerwall.MaxSharePercent > 0 {
			s.maxShare = p.Config.Offerwall.MaxSharePercent
		}
	}
	return s
}

// Sign is the hex HMAC-SHA256 of "userID:txRef:amount" under secret.
func Sign(secret, userID, txRef, amount string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(userID + ":" + txRef + ":" + amount))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Service) VerifySignature(userID, txRef, amount, signature string) error {
	if s.secret == "" {
		return ErrPostbackDisabled
	}
	expected := Sign(s.secret, userID, txRef, amount)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		metrics.RecordOfferwall("bad_signature")
		return ErrInvalidSignature
	}
	return nil
}

// SharePercent is the member's level share, capped at the configured maximum.
func (s *Service) SharePercent(lvl *level.Level) int64 {
	if lvl.EarningSharePercent < s.maxShare {
		return lvl.EarningSharePercent
	}
	return s.maxShare
}

// TrackCompletion credits the member's share of an offer payout and runs the
// referral cascade on it. A repeated txRef returns the first completion and
// credits nothing.
func (s *Service) TrackCompletion(ctx context.Context, p CompletionParams) (*CompletionResult, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("user_id", p.UserID), zap.String("tx_ref", p.TxRef))

	p.TxRef = strings.TrimSpace(p.TxRef)
	if p.TxRef == "" || strings.TrimSpace(p.OfferID) == "" {
		return nil, errutil.ValidationFailed("offer id and transaction reference are required", nil)
	}
	if err := money.Positive(p.Earned); err != nil {
		return nil, err
	}

	var result *CompletionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acc, err := s.accounts.Lock(ctx, tx, p.UserID)
		if err != nil {
			return err
		}
		if !acc.IsActive() {
			return account.ErrInactive
		}
		lvl, err := s.levels.Get(ctx, tx, acc.LevelID)
		if err != nil {
			return err
		}

		share := s.SharePercent(lvl)
		completion := &Completion{
			ID:           s.node.Generate().String(),
			TxRef:        p.TxRef,
			UserID:       p.UserID,
			OfferID:      p.OfferID,
			Earned:       p.Earned,
			SharePercent: share,
			Reward:       p.Earned.MulPercentFloor(share),
			CreatedAt:    s.now(),
		}

		res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(completion)
		if res.Error != nil {
			return errutil.Unavailable("failed to record offerwall completion", res.Error)
		}
		if res.RowsAffected == 0 {
			result, err = s.duplicate(ctx, tx, p)
			return err
		}

		result = &CompletionResult{Completion: completion}
		if !completion.Reward.IsPositive() {
			return nil
		}

		credit, err := s.ledger.RecordTx(ctx, tx, ledger.RecordParams{
			AccountID:   p.UserID,
			Kind:        ledger.KindCredit,
			Amount:      completion.Reward,
			Description: fmt.Sprintf("Offerwall offer %s", p.OfferID),
			Metadata: map[string]any{
				"source":            "offerwall",
				"offer_id":          p.OfferID,
				"tx_ref":            p.TxRef,
				"original_amount":   p.Earned.String(),
				"reward_percentage": share,
			},
		})
		if err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Model(&Completion{}).
			Where("id = ?", completion.ID).
			Update("ledger_entry_id", credit.ID).Error; err != nil {
			return errutil.Unavailable("failed to link offerwall credit", err)
		}
		completion.LedgerEntryID = &credit.ID
		result.Credit = credit

		payout, err := s.referrals.PayReferral(ctx, tx, p.UserID, completion.Reward, credit.ID)
		if err != nil {
			return err
		}
		result.Bonus = payout.Entry
		return nil
	})
	if err != nil {
		metrics.RecordOfferwall("failed")
		zapLog.Warn("offerwall completion failed", zap.Error(err))
		return nil, err
	}

	switch {
	case result.Duplicate:
		metrics.RecordOfferwall("duplicate")
		zapLog.Info("offerwall postback replayed")
		return result, nil
	case result.Credit == nil:
		metrics.RecordOfferwall("zero")
	default:
		metrics.RecordOfferwall("credited")
	}

	s.ledger.Announce(ctx, result.Credit, result.Bonus)
	zapLog.Info("offerwall completion credited", zap.Int64("reward", result.Completion.Reward.Int64()))
	return result, nil
}

func (s *Service) duplicate(ctx context.Context, tx *gorm.DB, p CompletionParams) (*CompletionResult, error) {
	existing, err := s.completions.WithTrx(tx).FindOne(ctx, &Completion{TxRef: p.TxRef})
	if err != nil {
		return nil, errutil.Unavailable("failed to load offerwall completion", err)
	}
	if existing == nil {
		return nil, errutil.Internal("offerwall completion conflicted but was not found", nil)
	}
	if existing.UserID != p.UserID || existing.OfferID != p.OfferID {
		return nil, ErrTxRefConflict
	}

	out := &CompletionResult{Completion: existing, Duplicate: true}
	if existing.LedgerEntryID != nil {
		if out.Credit, err = s.ledger.GetTx(ctx, tx, *existing.LedgerEntryID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Service) ListCompletions(ctx context.Context, userID string, p pagination.Pagination) (*pagination.Page[Completion], error) {
	query := &Completion{UserID: userID}

	total, err := s.completions.Count(ctx, query)
	if err != nil {
		return nil, errutil.Unavailable("failed to count offerwall completions", err)
	}
	items, err := s.completions.Find(ctx, query,
		option.WithSortBy(option.QuerySortBy{OrderBy: "desc"}),
		option.ApplyPagination(p),
	)
	if err != nil {
		return nil, errutil.Unavailable("failed to list offerwall completions", err)
	}
	return &pagination.Page[Completion]{Items: items, PageInfo: pagination.BuildPageInfo(p, total)}, nil
}

// ListOffers returns the active, unexpired offers open to levelID.
func (s *Service) ListOffers(ctx context.Context, levelID int) ([]*Offer, error) {
	items, err := s.offers.Find(ctx, &Offer{Status: OfferActive},
		option.WithWhere("min_level <= ?", levelID),
		option.WithWhere("(expires_at IS NULL OR expires_at > ?)", s.now()),
		option.WithSortBy(option.QuerySortBy{SortBy: "cached_at", OrderBy: "desc", Allow: map[string]bool{"cached_at": true}}),
	)
	if err != nil {
		return nil, errutil.Unavailable("failed to list offers", err)
	}
	return items, nil
}

// UpsertOffer refreshes a cached offer by its network id.
func (s *Service) UpsertOffer(ctx context.Context, actor access.Actor, p OfferParams, ip string) (*Offer, error) {
	if err := s.authz.Check(actor.Role, access.ActionTaskCreate); err != nil {
		return nil, err
	}
	if p.Reward.IsNegative() || p.Payout.IsNegative() {
		return nil, money.ErrInvalidAmount
	}

	offer := &Offer{
		ID:          s.node.Generate().String(),
		OfferID:     strings.TrimSpace(p.OfferID),
		Title:       strings.TrimSpace(p.Title),
		Description: p.Description,
		Reward:      p.Reward,
		Payout:      p.Payout,
		MinLevel:    p.MinLevel,
		Status:      OfferActive,
		ExternalURL: p.ExternalURL,
		CachedAt:    s.now(),
		ExpiresAt:   p.ExpiresAt,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "offer_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "description", "reward", "payout", "min_level", "status", "external_url", "cached_at", "expires_at"}),
		}).Create(offer).Error; err != nil {
			return errutil.Unavailable("failed to save offer", err)
		}
		stored, err := s.offers.WithTrx(tx).FindOne(ctx, &Offer{OfferID: offer.OfferID})
		if err != nil {
			return errutil.Unavailable("failed to load offer", err)
		}
		if stored == nil {
			return errutil.Internal("offer vanished after upsert", nil)
		}
		offer = stored
		_, err = s.audit.Record(ctx, tx, audit.Entry{
			AdminID:    actor.ID,
			Action:     "offer_upserted",
			TargetType: "offer",
			TargetID:   offer.ID,
			Metadata:   map[string]any{"offer_id": offer.OfferID},
			IPAddress:  ip,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}

// ExpireOffers marks offers past their expiry as expired.
func (s *Service) ExpireOffers(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Offer{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", OfferActive, s.now()).
		Update("status", OfferExpired)
	if res.Error != nil {
		return 0, errutil.Unavailable("failed to expire offers", res.Error)
	}
	return res.RowsAffected, nil
}
