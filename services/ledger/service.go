package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"promohive/pkg/db/option"
	"promohive/pkg/db/pagination"
	"promohive/pkg/errutil"
	"promohive/pkg/logger"
	"promohive/pkg/metrics"
	"promohive/pkg/money"
	"promohive/pkg/repository"
	"promohive/pkg/sequence"
	"promohive/pkg/task"
	"promohive/services/account"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = errutil.Sentinel(errutil.StatusNotFound, "ledger entry not found")
	ErrAlreadyProcessed  = errutil.Sentinel(errutil.StatusConflict, "ledger entry already settled")
	ErrAlreadyReversed   = errutil.Sentinel(errutil.StatusConflict, "ledger entry already reversed")
	ErrNotReversible     = errutil.Sentinel(errutil.StatusUnprocessableEntity, "only completed entries can be reversed")
	ErrInvalidKind       = errutil.Sentinel(errutil.StatusValidationFailed, "invalid ledger entry kind")
	ErrDirectionMismatch = errutil.Sentinel(errutil.StatusValidationFailed, "direction does not match entry kind")
	ErrInvalidStatus     = errutil.Sentinel(errutil.StatusValidationFailed, "invalid ledger entry status")
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	accounts *account.Service
	entries  repository.Repository[Entry]
	seq      sequence.Generator
	tasks    task.Enqueuer

	now func() time.Time
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Accounts *account.Service
	Sequence sequence.Generator `optional:"true"`
	Tasks    task.Enqueuer      `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	tasks := p.Tasks
	if tasks == nil {
		tasks = task.NopEnqueuer{}
	}
	return &Service{
		db:       p.DB,
		node:     p.Node,
		accounts: p.Accounts,
		entries:  repository.ProvideStore[Entry](p.DB),
		seq:      p.Sequence,
		tasks:    tasks,
		now:      time.Now,
	}
}

// Record writes one entry in its own transaction and announces it after commit.
func (s *Service) Record(ctx context.Context, p RecordParams) (*Entry, error) {
	var entry *Entry
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := s.RecordTx(ctx, tx, p)
		entry = e
		return err
	}); err != nil {
		return nil, err
	}

	s.Announce(ctx, entry)
	return entry, nil
}

// RecordTx appends an entry inside the caller's transaction. A completed entry
// applies its balance delta in the same transaction; a pending entry does not
// touch the balance until Settle. The caller calls Announce after commit.
func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, p RecordParams) (*Entry, error) {
	zapLog := logger.FromContext(ctx).With(
		zap.String("account_id", p.AccountID),
		zap.String("kind", string(p.Kind)),
		zap.Int64("amount", p.Amount.Int64()),
	)

	entry, err := s.newEntry(ctx, p)
	if err != nil {
		metrics.RecordRejection("invalid")
		return nil, err
	}

	if _, err := s.accounts.Lock(ctx, tx, p.AccountID); err != nil {
		return nil, err
	}

	if err := s.append(ctx, tx, entry); err != nil {
		zapLog.Error("failed to append ledger entry", zap.Error(err))
		return nil, err
	}

	if entry.Status == StatusCompleted {
		if _, err := s.accounts.ApplyDelta(ctx, tx, entry.Delta()); err != nil {
			if errors.Is(err, account.ErrInsufficientFunds) {
				metrics.RecordRejection("insufficient_funds")
			}
			return nil, err
		}
	}

	zapLog.Info("ledger entry recorded", zap.String("entry_id", entry.ID), zap.String("status", string(entry.Status)))
	return entry, nil
}

func (s *Service) newEntry(ctx context.Context, p RecordParams) (*Entry, error) {
	if err := money.Positive(p.Amount); err != nil {
		return nil, err
	}

	dir, ok := p.Kind.Direction()
	if !ok {
		return nil, ErrInvalidKind.Wrap(fmt.Errorf("kind %q", p.Kind))
	}
	if p.Direction != "" && p.Direction != dir {
		return nil, ErrDirectionMismatch.Wrap(fmt.Errorf("%s is a %s kind", p.Kind, dir))
	}

	status := p.Status
	if status == "" {
		status = StatusCompleted
	}
	if status != StatusCompleted && status != StatusPending {
		return nil, ErrInvalidStatus.Wrap(fmt.Errorf("cannot record an entry as %s", status))
	}

	txID := p.TransactionID
	if txID == "" {
		var err error
		if txID, err = s.nextTransactionID(ctx); err != nil {
			return nil, errutil.Internal("failed to generate transaction id", err)
		}
	}

	var meta datatypes.JSON
	if len(p.Metadata) > 0 {
		raw, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, errutil.ValidationFailed("invalid entry metadata", err)
		}
		meta = raw
	}

	return &Entry{
		ID:                      s.node.Generate().String(),
		AccountID:               p.AccountID,
		Kind:                    p.Kind,
		Amount:                  p.Amount,
		Direction:               dir,
		Status:                  status,
		TransactionID:           txID,
		RelatedTaskAssignmentID: nonEmpty(p.RelatedTaskAssignmentID),
		RelatedWithdrawalID:     nonEmpty(p.RelatedWithdrawalID),
		WalletID:                nonEmpty(p.WalletID),
		ReversalOf:              nonEmpty(p.ReversalOf),
		Description:             p.Description,
		Metadata:                meta,
	}, nil
}

func (s *Service) nextTransactionID(ctx context.Context) (string, error) {
	if s.seq != nil {
		id, err := s.seq.Next(ctx, sequence.PrefixTransaction)
		if err == nil {
			return id, nil
		}
		logger.FromContext(ctx).Warn("sequence unavailable, using random transaction id", zap.Error(err))
	}
	return sequence.Random(sequence.PrefixTransaction)
}

func nonEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func latestFirst(db *gorm.DB) *gorm.DB {
	return db.Order("created_at DESC").Order("id DESC")
}

func oldestFirst(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC").Order("id ASC")
}

// append links entry to the account's chain head and inserts it. The caller
// holds the account row lock, so the head cannot move underneath.
func (s *Service) append(ctx context.Context, tx *gorm.DB, entry *Entry) error {
	head, err := s.entries.WithTrx(tx).FindOne(ctx, &Entry{AccountID: entry.AccountID}, latestFirst)
	if err != nil {
		return errutil.Unavailable("failed to read ledger chain head", err)
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	entry.PreviousHash = GenesisHash
	if head != nil {
		entry.PreviousHash = head.Hash
		if !now.After(head.CreatedAt) {
			now = head.CreatedAt.UTC().Add(time.Millisecond)
		}
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if entry.Status.Terminal() {
		entry.SettledAt = &now
	}
	entry.Hash = entry.GenerateHash()

	if err := s.entries.WithTrx(tx).Create(ctx, entry); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if entry.ReversalOf != nil {
				return ErrAlreadyReversed
			}
			return errutil.Conflict("duplicate ledger entry", err)
		}
		return errutil.Unavailable("failed to write ledger entry", err)
	}
	return nil
}

// Settle moves a pending entry to outcome. The status change is conditional on
// the entry still being pending, so an entry settles at most once; a completed
// outcome applies the balance delta in the same transaction.
func (s *Service) Settle(ctx context.Context, tx *gorm.DB, entryID string, outcome Status) (*Entry, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("entry_id", entryID), zap.String("outcome", string(outcome)))

	if !outcome.Terminal() {
		return nil, ErrInvalidStatus.Wrap(fmt.Errorf("cannot settle to %s", outcome))
	}
	if tx == nil {
		var entry *Entry
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			entry, err = s.Settle(ctx, tx, entryID, outcome)
			return err
		})
		if err != nil {
			return nil, err
		}
		s.Announce(ctx, entry)
		return entry, nil
	}

	now := s.now().UTC()
	res := tx.WithContext(ctx).Model(&Entry{}).
		Where("id = ? AND status = ?", entryID, StatusPending).
		Updates(map[string]any{"status": outcome, "settled_at": now, "updated_at": now})
	if res.Error != nil {
		zapLog.Error("failed to settle ledger entry", zap.Error(res.Error))
		return nil, errutil.Unavailable("failed to settle ledger entry", res.Error)
	}

	entry, err := s.GetTx(ctx, tx, entryID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		zapLog.Warn("ledger entry already settled", zap.String("status", string(entry.Status)))
		return nil, ErrAlreadyProcessed
	}

	if outcome == StatusCompleted {
		if _, err := s.accounts.ApplyDelta(ctx, tx, entry.Delta()); err != nil {
			if errors.Is(err, account.ErrInsufficientFunds) {
				metrics.RecordRejection("insufficient_funds")
			}
			return nil, err
		}
	}

	return entry, nil
}

// Reverse books an opposite-direction entry for a completed one. History is
// never edited. A reversed credit may fail with insufficient funds.
func (s *Service) Reverse(ctx context.Context, entryID, description string, metadata map[string]any) (*Entry, error) {
	var reversal *Entry
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		original, err := s.GetTx(ctx, tx, entryID)
		if err != nil {
			return err
		}
		if original.Status != StatusCompleted {
			return ErrNotReversible
		}
		if original.ReversalOf != nil {
			return ErrNotReversible.Wrap(errors.New("entry is itself a reversal"))
		}

		kind := KindDebit
		if original.Direction == DirectionDebit {
			kind = KindCredit
		}
		if description == "" {
			description = fmt.Sprintf("Reversal of %s", original.TransactionID)
		}

		reversal, err = s.RecordTx(ctx, tx, RecordParams{
			AccountID:   original.AccountID,
			Kind:        kind,
			Amount:      original.Amount,
			ReversalOf:  original.ID,
			Description: description,
			Metadata:    metadata,
		})
		return err
	}); err != nil {
		return nil, err
	}

	s.Announce(ctx, reversal)
	return reversal, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Entry, error) {
	return s.GetTx(ctx, nil, id)
}

func (s *Service) GetTx(ctx context.Context, tx *gorm.DB, id string) (*Entry, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	entry, err := s.entries.WithTrx(tx).FindOne(ctx, &Entry{ID: id})
	if err != nil {
		return nil, errutil.Unavailable("failed to load ledger entry", err)
	}
	if entry == nil {
		return nil, ErrNotFound
	}
	return entry, nil
}

// FindByAssignment returns the credit booked for a task assignment, or nil.
func (s *Service) FindByAssignment(ctx context.Context, tx *gorm.DB, assignmentID string) (*Entry, error) {
	entry, err := s.entries.WithTrx(tx).FindOne(ctx, &Entry{RelatedTaskAssignmentID: &assignmentID, Kind: KindCredit})
	if err != nil {
		return nil, errutil.Unavailable("failed to load ledger entry", err)
	}
	return entry, nil
}

// History pages an account's entries, newest first.
func (s *Service) History(ctx context.Context, accountID string, p pagination.Pagination) (*pagination.Page[Entry], error) {
	query := &Entry{AccountID: accountID}

	total, err := s.entries.Count(ctx, query)
	if err != nil {
		return nil, errutil.Unavailable("failed to count ledger entries", err)
	}

	items, err := s.entries.Find(ctx, query, latestFirst, option.ApplyPagination(p))
	if err != nil {
		return nil, errutil.Unavailable("failed to list ledger entries", err)
	}

	return &pagination.Page[Entry]{Items: items, PageInfo: pagination.BuildPageInfo(p, total)}, nil
}

// Summarize sums the completed entries of an account by direction.
func (s *Service) Summarize(ctx context.Context, tx *gorm.DB, accountID string) (Summary, error) {
	if tx == nil {
		tx = s.db
	}

	var rows []struct {
		Direction Direction
		Total     int64
	}
	if err := tx.WithContext(ctx).Model(&Entry{}).
		Select("direction, COALESCE(SUM(amount), 0) AS total").
		Where("account_id = ? AND status = ?", accountID, StatusCompleted).
		Group("direction").
		Scan(&rows).Error; err != nil {
		return Summary{}, errutil.Unavailable("failed to summarize ledger", err)
	}

	var sum Summary
	for _, r := range rows {
		switch r.Direction {
		case DirectionCredit:
			sum.Credits = money.Cents(r.Total)
		case DirectionDebit:
			sum.Debits = money.Cents(r.Total)
		}
	}
	return sum, nil
}

// VerifyChain recomputes every hash of an account's chain in order.
func (s *Service) VerifyChain(ctx context.Context, accountID string) (bool, error) {
	entries, err := s.entries.Find(ctx, &Entry{AccountID: accountID}, oldestFirst)
	if err != nil {
		return false, errutil.Unavailable("failed to load ledger chain", err)
	}

	last := GenesisHash
	for _, e := range entries {
		if e.PreviousHash != last || e.Hash != e.GenerateHash() {
			logger.FromContext(ctx).Warn("ledger chain broken",
				zap.String("account_id", accountID),
				zap.String("entry_id", e.ID),
			)
			return false, nil
		}
		last = e.Hash
	}
	return true, nil
}

// Reconcile compares the stored balance with the balance implied by the
// account's completed entries.
func (s *Service) Reconcile(ctx context.Context, accountID string) (ReconcileResult, error) {
	acc, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return ReconcileResult{}, err
	}

	sum, err := s.Summarize(ctx, nil, accountID)
	if err != nil {
		return ReconcileResult{}, err
	}

	valid, err := s.VerifyChain(ctx, accountID)
	if err != nil {
		return ReconcileResult{}, err
	}

	return ReconcileResult{
		AccountID:     accountID,
		Balance:       acc.Balance,
		LedgerBalance: sum.Net(),
		ChainValid:    valid,
	}, nil
}

// Announce runs the post-commit side channel for entries: metrics and, for
// settled entries, the ledger:entry:settled task. Failures are logged only.
func (s *Service) Announce(ctx context.Context, entries ...*Entry) {
	for _, e := range entries {
		if e == nil {
			continue
		}
		metrics.RecordEntry(string(e.Kind), string(e.Status), e.Amount.Int64())

		if !e.Status.Terminal() {
			continue
		}

		t, err := NewSettledTask(e)
		if err != nil {
			logger.FromContext(ctx).Error("failed to build settled task", zap.String("entry_id", e.ID), zap.Error(err))
			continue
		}
		if _, err := s.tasks.Enqueue(ctx, t, asynq.Queue(task.QueueDefault), asynq.MaxRetry(10)); err != nil {
			logger.FromContext(ctx).Warn("failed to enqueue settled task", zap.String("entry_id", e.ID), zap.Error(err))
		}
	}
}
