package assignment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"promohive/pkg/access"
	"promohive/pkg/celengine"
	"promohive/pkg/db/option"
	"promohive/pkg/db/pagination"
	"promohive/pkg/errutil"
	"promohive/pkg/logger"
	"promohive/pkg/metrics"
	"promohive/pkg/repository"
	"promohive/pkg/storage"
	"promohive/services/account"
	"promohive/services/audit"
	"promohive/services/catalog"
	"promohive/services/ledger"
	"promohive/services/referral"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = errutil.Sentinel(errutil.StatusNotFound, "task assignment not found")
	ErrNotOwner          = errutil.Sentinel(errutil.StatusForbidden, "assignment belongs to another member")
	ErrInvalidState      = errutil.Sentinel(errutil.StatusConflict, "assignment is not in a state that allows this")
	ErrAlreadyAssigned   = errutil.Sentinel(errutil.StatusConflict, "task already assigned to this member")
	ErrInsufficientLevel = errutil.Sentinel(errutil.StatusUnprocessableEntity, "member level is below the task eligibility level")
	ErrMissingProof      = errutil.Sentinel(errutil.StatusValidationFailed, "proof does not match the task proof type")
	ErrDeadlinePassed    = errutil.Sentinel(errutil.StatusUnprocessableEntity, "task time limit has passed")
	ErrUploadNotNeeded   = errutil.Sentinel(errutil.StatusBadRequest, "task proof is not an uploaded file")
	ErrNotEligible       = errutil.Sentinel(errutil.StatusUnprocessableEntity, "member does not meet the task eligibility rule")
)

type Service struct {
	db          *gorm.DB
	node        *snowflake.Node
	assignments repository.Repository[Assignment]
	accounts    *account.Service
	catalog     *catalog.Service
	ledger      *ledger.Service
	referrals   *referral.Service
	audit       *audit.Service
	authz       access.Authorizer
	objects     storage.ObjectStore
	now         func() time.Time
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Accounts  *account.Service
	Catalog   *catalog.Service
	Ledger    *ledger.Service
	Referrals *referral.Service
	Audit     *audit.Service
	Authz     access.Authorizer
	Objects   storage.ObjectStore `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	objects := p.Objects
	if objects == nil {
		objects = storage.DisabledStore{}
	}
	return &Service{
		db:          p.DB,
		node:        p.Node,
		assignments: repository.ProvideStore[Assignment](p.DB),
		accounts:    p.Accounts,
		catalog:     p.Catalog,
		ledger:      p.Ledger,
		referrals:   p.Referrals,
		audit:       p.Audit,
		authz:       p.Authz,
		objects:     objects,
		now:         time.Now,
	}
}

func (s *Service) Get(ctx context.Context, tx *gorm.DB, id string) (*Assignment, error) {
	a, err := s.assignments.WithTrx(tx).FindOne(ctx, &Assignment{ID: id})
	if err != nil {
		return nil, errutil.Unavailable("failed to load assignment", err)
	}
	if a == nil || id == "" {
		return nil, ErrNotFound
	}
	return a, nil
}

// owned loads the assignment and checks it belongs to userID.
func (s *Service) owned(ctx context.Context, tx *gorm.DB, id, userID string) (*Assignment, error) {
	a, err := s.Get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, ErrNotOwner
	}
	return a, nil
}

func (s *Service) eligible(acc *account.Account, rule string) error {
	member := celengine.Member{
		Level:          acc.LevelID,
		Balance:        acc.Balance.Int64(),
		TotalEarned:    acc.TotalEarned.Int64(),
		TotalWithdrawn: acc.TotalWithdrawn.Int64(),
		CreatedAt:      acc.CreatedAt,
		Role:           string(acc.Role),
	}
	ok, err := celengine.Evaluate(rule, member.Attributes(s.now()))
	if err != nil {
		return errutil.Internal("failed to evaluate eligibility rule", err)
	}
	if !ok {
		return ErrNotEligible
	}
	return nil
}

// Accept opens an assignment of taskID for userID and takes one of the task's
// slots. The member's account row is locked first so two acceptances by the
// same member cannot both pass the already-assigned check.
func (s *Service) Accept(ctx context.Context, userID, taskID string) (*Assignment, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("user_id", userID), zap.String("task_id", taskID))

	var out *Assignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acc, err := s.accounts.Lock(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !acc.IsActive() {
			return account.ErrInactive
		}

		task, err := s.catalog.Get(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if !task.IsActive() {
			return catalog.ErrNotActive
		}
		if acc.LevelID < task.EligibilityLevel {
			return ErrInsufficientLevel
		}
		if task.EligibilityRule != "" {
			if err := s.eligible(acc, task.EligibilityRule); err != nil {
				return err
			}
		}

		var openOnly []option.QueryOption
		if task.Repeatable {
			openOnly = append(openOnly, option.ApplyOperator(option.Condition{
				Field:    "status",
				Operator: option.IN,
				Value:    []Status{StatusAccepted, StatusInProgress, StatusProofPending},
			}))
		}
		count, err := s.assignments.WithTrx(tx).Count(ctx, &Assignment{UserID: userID, TaskID: taskID}, openOnly...)
		if err != nil {
			return errutil.Unavailable("failed to check assignments", err)
		}
		if count > 0 {
			return ErrAlreadyAssigned
		}

		if _, err := s.catalog.ReserveSlot(ctx, tx, taskID); err != nil {
			return err
		}

		now := s.now()
		out = &Assignment{
			ID:         s.node.Generate().String(),
			TaskID:     taskID,
			UserID:     userID,
			Status:     StatusAccepted,
			AcceptedAt: now,
		}
		if err := s.assignments.WithTrx(tx).Create(ctx, out); err != nil {
			return errutil.Unavailable("failed to create assignment", err)
		}
		return nil
	})
	if err != nil {
		zapLog.Info("task acceptance refused", zap.Error(err))
		return nil, err
	}

	zapLog.Info("task accepted", zap.String("assignment_id", out.ID))
	return out, nil
}

// transition moves an owned assignment from one of from to the target status
// in one conditional UPDATE, then reports why nothing matched if so.
func (s *Service) transition(ctx context.Context, tx *gorm.DB, id, userID string, from []Status, updates map[string]any) (*Assignment, error) {
	res := tx.WithContext(ctx).Model(&Assignment{}).
		Where("id = ? AND user_id = ? AND status IN ?", id, userID, from).
		Updates(updates)
	if res.Error != nil {
		return nil, errutil.Unavailable("failed to update assignment", res.Error)
	}

	a, err := s.owned(ctx, tx, id, userID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, ErrInvalidState.Wrap(fmt.Errorf("assignment is %s", a.Status))
	}
	return a, nil
}

// Start marks an accepted assignment as being worked on.
func (s *Service) Start(ctx context.Context, id, userID string) (*Assignment, error) {
	return s.transition(ctx, s.db, id, userID,
		[]Status{StatusAccepted},
		map[string]any{"status": StatusInProgress, "updated_at": s.now()},
	)
}

// SubmitProof hands the assignment over for review. Image and video proofs
// carry the object key or URL of the upload; link proofs a URL; text proofs
// the text itself.
func (s *Service) SubmitProof(ctx context.Context, id, userID string, proof Proof) (*Assignment, error) {
	proof.URL = strings.TrimSpace(proof.URL)
	proof.Text = strings.TrimSpace(proof.Text)

	var out *Assignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := s.owned(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		task, err := s.catalog.Get(ctx, tx, a.TaskID)
		if err != nil {
			return err
		}

		switch task.ProofType {
		case catalog.ProofText:
			if proof.Text == "" {
				return ErrMissingProof
			}
		default:
			if proof.URL == "" {
				return ErrMissingProof
			}
		}

		now := s.now()
		if task.TimeLimitMinutes != nil && *task.TimeLimitMinutes > 0 {
			deadline := a.AcceptedAt.Add(time.Duration(*task.TimeLimitMinutes) * time.Minute)
			if now.After(deadline) {
				return ErrDeadlinePassed
			}
		}

		updates := map[string]any{"status": StatusProofPending, "submitted_at": now, "updated_at": now}
		if proof.URL != "" {
			updates["proof_url"] = proof.URL
		}
		if proof.Text != "" {
			updates["proof_text"] = proof.Text
		}
		out, err = s.transition(ctx, tx, id, userID, []Status{StatusAccepted, StatusInProgress}, updates)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("proof submitted", zap.String("assignment_id", id), zap.String("user_id", userID))
	return out, nil
}

// ProofUploadURL presigns an upload for an image or video proof. The returned
// key is what SubmitProof expects as the proof URL.
func (s *Service) ProofUploadURL(ctx context.Context, id, userID, filename string) (url, key string, err error) {
	a, err := s.owned(ctx, nil, id, userID)
	if err != nil {
		return "", "", err
	}
	if a.Status != StatusAccepted && a.Status != StatusInProgress {
		return "", "", ErrInvalidState
	}
	task, err := s.catalog.Get(ctx, nil, a.TaskID)
	if err != nil {
		return "", "", err
	}
	if !task.ProofType.Uploaded() {
		return "", "", ErrUploadNotNeeded
	}
	if strings.TrimSpace(filename) == "" {
		return "", "", errutil.ValidationFailed("filename is required", nil)
	}

	key = storage.ProofObjectKey(userID, id, filename)
	url, err = s.objects.PresignUpload(ctx, key)
	if err != nil {
		return "", "", errutil.Unavailable("failed to presign proof upload", err)
	}
	return url, key, nil
}

// Review adjudicates a submitted proof. Approval flips proof_pending to
// approved in a conditional UPDATE and books the task credit and the
// referral bonus in the same transaction, so concurrent or repeated
// approvals credit exactly once. The losers get the earlier credit back with
// AlreadyApproved set.
func (s *Service) Review(ctx context.Context, actor access.Actor, p ReviewParams) (*ReviewResult, error) {
	if err := s.authz.Check(actor.Role, access.ActionProofReview); err != nil {
		return nil, err
	}
	if !p.Approved && strings.TrimSpace(p.Reason) == "" {
		return nil, errutil.ValidationFailed("a rejection reason is required", nil)
	}

	zapLog := logger.FromContext(ctx).With(zap.String("assignment_id", p.AssignmentID), zap.String("reviewer_id", actor.ID))

	var result *ReviewResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if p.Approved {
			result, err = s.approve(ctx, tx, actor, p)
		} else {
			result, err = s.reject(ctx, tx, actor, p)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInvalidState) {
			metrics.RecordReview("invalid_state")
		}
		zapLog.Warn("review failed", zap.Error(err))
		return nil, err
	}

	switch {
	case result.AlreadyApproved:
		metrics.RecordReview("already_approved")
		zapLog.Info("assignment already approved, nothing credited")
		return result, nil
	case p.Approved:
		metrics.RecordReview("approved")
	default:
		metrics.RecordReview("rejected")
	}

	if p.Approved {
		s.ledger.Announce(ctx, result.Credit, result.Bonus)
	}
	zapLog.Info("assignment reviewed", zap.Bool("approved", p.Approved))
	return result, nil
}

func (s *Service) approve(ctx context.Context, tx *gorm.DB, actor access.Actor, p ReviewParams) (*ReviewResult, error) {
	now := s.now()
	res := tx.WithContext(ctx).Model(&Assignment{}).
		Where("id = ? AND status = ?", p.AssignmentID, StatusProofPending).
		Updates(map[string]any{"status": StatusApproved, "reviewed_by": actor.ID, "reviewed_at": now, "updated_at": now})
	if res.Error != nil {
		return nil, errutil.Unavailable("failed to approve assignment", res.Error)
	}

	a, err := s.Get(ctx, tx, p.AssignmentID)
	if err != nil {
		return nil, err
	}

	if res.RowsAffected == 0 {
		if a.Status != StatusApproved {
			return nil, ErrInvalidState.Wrap(fmt.Errorf("assignment is %s", a.Status))
		}
		prior, err := s.ledger.FindByAssignment(ctx, tx, a.ID)
		if err != nil {
			return nil, err
		}
		out := &ReviewResult{Assignment: a, Credit: prior, AlreadyApproved: true}
		if prior != nil {
			payout, err := s.referrals.FindBySource(ctx, tx, prior.ID)
			if err != nil {
				return nil, err
			}
			out.Referral, out.Bonus = payout.Referral, payout.Entry
		}
		return out, nil
	}

	task, err := s.catalog.Get(ctx, tx, a.TaskID)
	if err != nil {
		return nil, err
	}

	credit, err := s.ledger.RecordTx(ctx, tx, ledger.RecordParams{
		AccountID:               a.UserID,
		Kind:                    ledger.KindCredit,
		Amount:                  task.RewardAmount,
		RelatedTaskAssignmentID: a.ID,
		Description:             "Task reward: " + task.Title,
		Metadata:                map[string]any{"reason": "task_proof_approved", "task_id": task.ID, "reviewer_id": actor.ID},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.WithContext(ctx).Model(&Assignment{}).Where("id = ?", a.ID).
		Update("credit_entry_id", credit.ID).Error; err != nil {
		return nil, errutil.Unavailable("failed to link assignment credit", err)
	}
	a.CreditEntryID = &credit.ID

	payout, err := s.referrals.PayReferral(ctx, tx, a.UserID, task.RewardAmount, credit.ID)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{"credit_entry_id": credit.ID, "reward": task.RewardAmount.String()}
	if payout.Referral != nil {
		metadata["referral_id"] = payout.Referral.ID
	}
	if _, err := s.audit.Record(ctx, tx, audit.Entry{
		AdminID:    actor.ID,
		Action:     "proof_approved",
		TargetType: "task_assignment",
		TargetID:   a.ID,
		Metadata:   metadata,
		IPAddress:  p.IPAddress,
	}); err != nil {
		return nil, err
	}

	return &ReviewResult{Assignment: a, Credit: credit, Referral: payout.Referral, Bonus: payout.Entry}, nil
}

func (s *Service) reject(ctx context.Context, tx *gorm.DB, actor access.Actor, p ReviewParams) (*ReviewResult, error) {
	now := s.now()
	reason := strings.TrimSpace(p.Reason)
	res := tx.WithContext(ctx).Model(&Assignment{}).
		Where("id = ? AND status = ?", p.AssignmentID, StatusProofPending).
		Updates(map[string]any{
			"status":           StatusRejected,
			"rejection_reason": reason,
			"reviewed_by":      actor.ID,
			"reviewed_at":      now,
			"updated_at":       now,
		})
	if res.Error != nil {
		return nil, errutil.Unavailable("failed to reject assignment", res.Error)
	}

	a, err := s.Get(ctx, tx, p.AssignmentID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, ErrInvalidState.Wrap(fmt.Errorf("assignment is %s", a.Status))
	}

	if err := s.catalog.ReleaseSlot(ctx, tx, a.TaskID); err != nil {
		return nil, err
	}

	if _, err := s.audit.Record(ctx, tx, audit.Entry{
		AdminID:    actor.ID,
		Action:     "proof_rejected",
		TargetType: "task_assignment",
		TargetID:   a.ID,
		Metadata:   map[string]any{"reason": reason},
		IPAddress:  p.IPAddress,
	}); err != nil {
		return nil, err
	}
	return &ReviewResult{Assignment: a}, nil
}

// PendingProofs lists submissions awaiting review, oldest first.
func (s *Service) PendingProofs(ctx context.Context, actor access.Actor, p pagination.Pagination) (*pagination.Page[Assignment], error) {
	if err := s.authz.Check(actor.Role, access.ActionProofView); err != nil {
		return nil, err
	}
	return s.page(ctx, &Assignment{Status: StatusProofPending}, "asc", p)
}

func (s *Service) ListByUser(ctx context.Context, userID string, p pagination.Pagination) (*pagination.Page[Assignment], error) {
	return s.page(ctx, &Assignment{UserID: userID}, "desc", p)
}

func (s *Service) page(ctx context.Context, query *Assignment, order string, p pagination.Pagination) (*pagination.Page[Assignment], error) {
	total, err := s.assignments.Count(ctx, query)
	if err != nil {
		return nil, errutil.Unavailable("failed to count assignments", err)
	}
	items, err := s.assignments.Find(ctx, query,
		option.WithSortBy(option.QuerySortBy{SortBy: "updated_at", OrderBy: order, Allow: map[string]bool{"updated_at": true}}),
		option.ApplyPagination(p),
	)
	if err != nil {
		return nil, errutil.Unavailable("failed to list assignments", err)
	}
	return &pagination.Page[Assignment]{Items: items, PageInfo: pagination.BuildPageInfo(p, total)}, nil
}

func (s *Service) CountPendingProofs(ctx context.Context) (int64, error) {
	n, err := s.assignments.Count(ctx, &Assignment{Status: StatusProofPending})
	if err != nil {
		return 0, errutil.Unavailable("failed to count assignments", err)
	}
	return n, nil
}
