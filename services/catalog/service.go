package catalog

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
	"promohive/pkg/repository"
	"promohive/services/audit"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound       = errutil.Sentinel(errutil.StatusNotFound, "task not found")
	ErrNotActive      = errutil.Sentinel(errutil.StatusConflict, "task is not active")
	ErrSlotsExhausted = errutil.Sentinel(errutil.StatusUnprocessableEntity, "task has no free slots")
)

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	tasks repository.Repository[Task]
	audit *audit.Service
	authz access.Authorizer
	now   func() time.Time
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
		db:    p.DB,
		node:  p.Node,
		tasks: repository.ProvideStore[Task](p.DB),
		audit: p.Audit,
		authz: p.Authz,
		now:   time.Now,
	}
}

func (s *Service) Get(ctx context.Context, tx *gorm.DB, id string) (*Task, error) {
	t, err := s.tasks.WithTrx(tx).FindOne(ctx, &Task{ID: id})
	if err != nil {
		return nil, errutil.Unavailable("failed to load task", err)
	}
	if t == nil || id == "" {
		return nil, ErrNotFound
	}
	return t, nil
}

// ListActive returns the active tasks a member at levelID is eligible for.
func (s *Service) ListActive(ctx context.Context, levelID int, p pagination.Pagination) (*pagination.Page[Task], error) {
	query := &Task{Status: StatusActive}
	eligible := option.ApplyOperator(option.Condition{Field: "eligibility_level", Operator: option.LTE, Value: levelID})

	total, err := s.tasks.Count(ctx, query, eligible)
	if err != nil {
		return nil, errutil.Unavailable("failed to count tasks", err)
	}
	items, err := s.tasks.Find(ctx, query,
		eligible,
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.ApplyPagination(p),
	)
	if err != nil {
		return nil, errutil.Unavailable("failed to list tasks", err)
	}
	return &pagination.Page[Task]{Items: items, PageInfo: pagination.BuildPageInfo(p, total)}, nil
}

// List is the admin view over every task, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status, p pagination.Pagination) (*pagination.Page[Task], error) {
	query := &Task{Status: status}
	total, err := s.tasks.Count(ctx, query)
	if err != nil {
		return nil, errutil.Unavailable("failed to count tasks", err)
	}
	items, err := s.tasks.Find(ctx, query,
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.ApplyPagination(p),
	)
	if err != nil {
		return nil, errutil.Unavailable("failed to list tasks", err)
	}
	return &pagination.Page[Task]{Items: items, PageInfo: pagination.BuildPageInfo(p, total)}, nil
}

func (s *Service) Create(ctx context.Context, actor access.Actor, p CreateParams, ip string) (*Task, error) {
	if err := s.authz.Check(actor.Role, access.ActionTaskCreate); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(p.Title)
	switch {
	case title == "" || len(title) > 256:
		return nil, errutil.ValidationFailed("title is required and at most 256 characters", nil)
	case !p.Type.Valid():
		return nil, errutil.ValidationFailed(fmt.Sprintf("invalid task type %q", p.Type), nil)
	case p.ProofType == "":
		p.ProofType = ProofImage
	}
	if !p.ProofType.Valid() {
		return nil, errutil.ValidationFailed(fmt.Sprintf("invalid proof type %q", p.ProofType), nil)
	}
	if !p.RewardAmount.IsPositive() || p.RewardAmount > MaxReward {
		return nil, errutil.ValidationFailed("reward must be positive and at most 10000.00", nil)
	}
	if p.EligibilityLevel < 0 || p.Slots < 0 {
		return nil, errutil.ValidationFailed("eligibility level and slots cannot be negative", nil)
	}
	if p.Slots == 0 {
		p.Slots = DefaultSlots
	}
	rule := strings.TrimSpace(p.EligibilityRule)
	if rule != "" {
		if err := celengine.Validate(rule); err != nil {
			return nil, errutil.ValidationFailed("invalid eligibility rule", err)
		}
	}

	t := &Task{
		ID:               s.node.Generate().String(),
		Title:            title,
		Description:      p.Description,
		Type:             p.Type,
		RewardAmount:     p.RewardAmount,
		EligibilityLevel: p.EligibilityLevel,
		EligibilityRule:  rule,
		Slots:            p.Slots,
		TimeLimitMinutes: p.TimeLimitMinutes,
		ProofType:        p.ProofType,
		Repeatable:       p.Repeatable,
		Status:           StatusActive,
		CreatedBy:        actor.ID,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.tasks.WithTrx(tx).Create(ctx, t); err != nil {
			return errutil.Unavailable("failed to create task", err)
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			AdminID:    actor.ID,
			Action:     "task_created",
			TargetType: "task",
			TargetID:   t.ID,
			Metadata:   map[string]any{"title": t.Title, "reward": t.RewardAmount.String()},
			IPAddress:  ip,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("task created", zap.String("task_id", t.ID), zap.String("created_by", actor.ID))
	return t, nil
}

func (s *Service) Update(ctx context.Context, actor access.Actor, id string, p UpdateParams, ip string) (*Task, error) {
	if err := s.authz.Check(actor.Role, access.ActionTaskUpdate); err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" || len(title) > 256 {
			return nil, errutil.ValidationFailed("title is required and at most 256 characters", nil)
		}
		updates["title"] = title
	}
	if p.Description != nil {
		updates["description"] = *p.Description
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return nil, errutil.ValidationFailed(fmt.Sprintf("invalid task status %q", *p.Status), nil)
		}
		updates["status"] = *p.Status
	}
	if p.RewardAmount != nil {
		if !p.RewardAmount.IsPositive() || *p.RewardAmount > MaxReward {
			return nil, errutil.ValidationFailed("reward must be positive and at most 10000.00", nil)
		}
		updates["reward_amount"] = *p.RewardAmount
	}
	return s.apply(ctx, actor, id, "task_updated", updates, ip)
}

// SetStatus pauses, resumes or closes a task. Cancelling is how a task is
// deleted; assignments keep pointing at it.
func (s *Service) SetStatus(ctx context.Context, actor access.Actor, id string, status Status, ip string) (*Task, error) {
	action := access.ActionTaskUpdate
	if status == StatusCancelled {
		action = access.ActionTaskDelete
	}
	if err := s.authz.Check(actor.Role, action); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, errutil.ValidationFailed(fmt.Sprintf("invalid task status %q", status), nil)
	}
	return s.apply(ctx, actor, id, "task_status_changed", map[string]any{"status": status}, ip)
}

func (s *Service) apply(ctx context.Context, actor access.Actor, id, action string, updates map[string]any, ip string) (*Task, error) {
	if len(updates) == 0 {
		return s.Get(ctx, nil, id)
	}

	var out *Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		changes := map[string]any{"updated_at": s.now()}
		for k, v := range updates {
			changes[k] = v
		}
		if err := s.tasks.WithTrx(tx).Update(ctx, id, changes); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return errutil.Unavailable("failed to update task", err)
		}

		var err error
		if out, err = s.Get(ctx, tx, id); err != nil {
			return err
		}
		_, err = s.audit.Record(ctx, tx, audit.Entry{
			AdminID:    actor.ID,
			Action:     action,
			TargetType: "task",
			TargetID:   id,
			Metadata:   updates,
			IPAddress:  ip,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReserveSlot takes one slot of an active task in a single conditional
// UPDATE, so concurrent acceptances can never overfill it.
func (s *Service) ReserveSlot(ctx context.Context, tx *gorm.DB, id string) (*Task, error) {
	if tx == nil {
		tx = s.db
	}

	res := tx.WithContext(ctx).Model(&Task{}).
		Where("id = ? AND status = ?", id, StatusActive).
		Where("(slots = 0 OR active_slots < slots)").
		Updates(map[string]any{
			"active_slots": gorm.Expr("active_slots + 1"),
			"updated_at":   s.now(),
		})
	if res.Error != nil {
		return nil, errutil.Unavailable("failed to reserve task slot", res.Error)
	}

	t, err := s.Get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		if !t.IsActive() {
			return nil, ErrNotActive
		}
		return nil, ErrSlotsExhausted
	}
	return t, nil
}

// ReleaseSlot gives a slot back when an assignment is rejected.
func (s *Service) ReleaseSlot(ctx context.Context, tx *gorm.DB, id string) error {
	if tx == nil {
		tx = s.db
	}
	res := tx.WithContext(ctx).Model(&Task{}).
		Where("id = ? AND active_slots > 0", id).
		Updates(map[string]any{
			"active_slots": gorm.Expr("active_slots - 1"),
			"updated_at":   s.now(),
		})
	if res.Error != nil {
		return errutil.Unavailable("failed to release task slot", res.Error)
	}
	return nil
}

func (s *Service) CountActive(ctx context.Context) (int64, error) {
	n, err := s.tasks.Count(ctx, &Task{Status: StatusActive})
	if err != nil {
		return 0, errutil.Unavailable("failed to count tasks", err)
	}
	return n, nil
}
