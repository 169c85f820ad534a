package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"promohive/pkg/db/option"
	"promohive/pkg/db/pagination"
	"promohive/pkg/errutil"
	"promohive/pkg/events"
	"promohive/pkg/logger"
	"promohive/pkg/metrics"
	"promohive/pkg/money"
	"promohive/pkg/repository"
	"promohive/services/ledger"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errutil.Sentinel(errutil.StatusNotFound, "notification not found")

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	repo      repository.Repository[Notification]
	publisher events.Publisher
	now       func() time.Time
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Publisher events.Publisher `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	pub := p.Publisher
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{
		db:        p.DB,
		node:      p.Node,
		repo:      repository.ProvideStore[Notification](p.DB),
		publisher: pub,
		now:       time.Now,
	}
}

// HandleSettledTask stores the member notification for a settled entry and
// forwards the event to the broker. A failed publish is retried by asynq; the
// inbox row is keyed by entry and is written once.
func (s *Service) HandleSettledTask(ctx context.Context, t *asynq.Task) error {
	ev, err := ledger.ParseSettledTask(t)
	if err != nil {
		return fmt.Errorf("invalid settled payload: %v: %w", err, asynq.SkipRetry)
	}

	zapLog := logger.FromContext(ctx).With(
		zap.String("task_type", t.Type()),
		zap.String("entry_id", ev.EntryID),
		zap.String("account_id", ev.AccountID),
	)

	if _, err := s.FromSettlement(ctx, ev); err != nil {
		metrics.RecordNotification("inbox", "failed")
		zapLog.Error("failed to store settlement notification", zap.Error(err))
		return err
	}

	if err := s.publisher.Publish(ctx, ev.AccountID, ev); err != nil {
		metrics.RecordNotification("kafka", "failed")
		zapLog.Warn("failed to publish settlement event", zap.Error(err))
		return err
	}
	metrics.RecordNotification("kafka", "sent")
	return nil
}

// FromSettlement writes the inbox row for ev, returning nil when ev needs no
// message or was already handled.
func (s *Service) FromSettlement(ctx context.Context, ev events.LedgerEntrySettled) (*Notification, error) {
	typ, title, body, ok := render(ev)
	if !ok {
		return nil, nil
	}

	meta, err := json.Marshal(map[string]any{
		"kind":           ev.Kind,
		"status":         ev.Status,
		"amount":         ev.Amount,
		"transaction_id": ev.TransactionID,
	})
	if err != nil {
		return nil, errutil.Internal("failed to encode notification metadata", err)
	}

	n := &Notification{
		ID:        s.node.Generate().String(),
		UserID:    ev.AccountID,
		EntryID:   &ev.EntryID,
		Title:     title,
		Body:      body,
		Type:      typ,
		Metadata:  meta,
		CreatedAt: s.now(),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(n)
	if res.Error != nil {
		return nil, errutil.Unavailable("failed to store notification", res.Error)
	}
	if res.RowsAffected == 0 {
		metrics.RecordNotification("inbox", "duplicate")
		return nil, nil
	}
	metrics.RecordNotification("inbox", "stored")
	return n, nil
}

func render(ev events.LedgerEntrySettled) (Type, string, string, bool) {
	amount := money.Cents(ev.Amount).String()
	completed := ev.Status == string(ledger.StatusCompleted)

	switch ledger.Kind(ev.Kind) {
	case ledger.KindCredit:
		return TypeProofReview, "Reward credited", fmt.Sprintf("$%s has been added to your balance.", amount), completed
	case ledger.KindReferralBonus:
		return TypeReferral, "Referral bonus", fmt.Sprintf("You earned a $%s referral bonus.", amount), completed
	case ledger.KindDeposit:
		return TypeDeposit, "Deposit approved", fmt.Sprintf("Your deposit of $%s is now available.", amount), completed
	case ledger.KindLevelUpgrade:
		return TypeLevelUpgrade, "Level upgraded", fmt.Sprintf("$%s was charged for your level upgrade.", amount), completed
	case ledger.KindWithdrawal:
		if completed {
			return TypeWithdrawal, "Withdrawal sent", fmt.Sprintf("Your withdrawal of $%s has been approved.", amount), true
		}
		return TypeWithdrawal, "Withdrawal declined", fmt.Sprintf("Your withdrawal of $%s was not approved. The funds remain in your balance.", amount), true
	case ledger.KindDebit:
		return TypeSystem, "Balance adjusted", fmt.Sprintf("$%s was deducted from your balance.", amount), completed
	}
	return "", "", "", false
}

func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, p pagination.Pagination) (*pagination.Page[Notification], error) {
	var opts []option.QueryOption
	if unreadOnly {
		opts = append(opts, option.WithWhere("is_read = ?", false))
	}
	query := &Notification{UserID: userID}

	total, err := s.repo.Count(ctx, query, opts...)
	if err != nil {
		return nil, errutil.Unavailable("failed to count notifications", err)
	}
	items, err := s.repo.Find(ctx, query, append(opts,
		option.WithSortBy(option.QuerySortBy{OrderBy: "desc"}),
		option.ApplyPagination(p),
	)...)
	if err != nil {
		return nil, errutil.Unavailable("failed to list notifications", err)
	}
	return &pagination.Page[Notification]{Items: items, PageInfo: pagination.BuildPageInfo(p, total)}, nil
}

func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	if res.Error != nil {
		return errutil.Unavailable("failed to update notification", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, errutil.Unavailable("failed to update notifications", res.Error)
	}
	return res.RowsAffected, nil
}
