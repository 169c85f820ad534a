package audit

import (
	"context"
	"encoding/json"
	"time"

	"promohive/pkg/db/option"
	"promohive/pkg/db/pagination"
	"promohive/pkg/errutil"
	"promohive/pkg/logger"
	"promohive/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	node *snowflake.Node
	logs repository.Repository[Log]
	now  func() time.Time
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node: p.Node,
		logs: repository.ProvideStore[Log](p.DB),
		now:  time.Now,
	}
}

// Record writes e through tx when given, so the record commits or rolls back
// with the action it describes.
func (s *Service) Record(ctx context.Context, tx *gorm.DB, e Entry) (*Log, error) {
	var meta datatypes.JSON
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, errutil.Internal("failed to encode audit metadata", err)
		}
		meta = raw
	}

	log := &Log{
		ID:         s.node.Generate().String(),
		AdminID:    e.AdminID,
		Action:     e.Action,
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		Metadata:   meta,
		IPAddress:  e.IPAddress,
		CreatedAt:  s.now(),
	}

	if err := s.logs.WithTrx(tx).Create(ctx, log); err != nil {
		logger.FromContext(ctx).Error("failed to write audit log",
			zap.String("action", e.Action),
			zap.String("admin_id", e.AdminID),
			zap.Error(err),
		)
		return nil, errutil.Unavailable("failed to write audit log", err)
	}
	return log, nil
}

func (s *Service) List(ctx context.Context, f Filter, p pagination.Pagination) (*pagination.Page[Log], error) {
	query := &Log{AdminID: f.AdminID, Action: f.Action, TargetType: f.TargetType, TargetID: f.TargetID}

	total, err := s.logs.Count(ctx, query)
	if err != nil {
		return nil, errutil.Unavailable("failed to count audit logs", err)
	}

	items, err := s.logs.Find(ctx, query,
		option.WithSortBy(option.QuerySortBy{OrderBy: "desc"}),
		option.ApplyPagination(p),
	)
	if err != nil {
		return nil, errutil.Unavailable("failed to list audit logs", err)
	}

	return &pagination.Page[Log]{Items: items, PageInfo: pagination.BuildPageInfo(p, total)}, nil
}
