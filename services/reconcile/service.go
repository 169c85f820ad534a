// Package reconcile sweeps every account and checks that its stored balance
// equals the sum of its completed ledger entries and that its hash chain is
// intact. Mismatches are logged and counted; nothing is repaired.
package reconcile

import (
	"context"
	"time"

	"promohive/pkg/config"
	"promohive/pkg/errutil"
	"promohive/pkg/logger"
	"promohive/pkg/metrics"
	"promohive/services/account"
	"promohive/services/ledger"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultBatchSize = 200

type Report struct {
	Checked    int                      `json:"checked"`
	Mismatches []ledger.ReconcileResult `json:"mismatches"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
}

type Service struct {
	db        *gorm.DB
	ledger    *ledger.Service
	batchSize int
	now       func() time.Time
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Ledger *ledger.Service
	Config *config.Config `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	s := &Service{db: p.DB, ledger: p.Ledger, batchSize: defaultBatchSize, now: time.Now}
	if p.Config != nil && p.Config.Reconcile.BatchSize > 0 {
		s.batchSize = p.Config.Reconcile.BatchSize
	}
	return s
}

// Run walks accounts in id order, batchSize at a time.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	zapLog := logger.FromContext(ctx)
	report := &Report{StartedAt: s.now()}

	last := ""
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		var ids []string
		if err := s.db.WithContext(ctx).Model(&account.Account{}).
			Where("id > ?", last).
			Order("id asc").
			Limit(s.batchSize).
			Pluck("id", &ids).Error; err != nil {
			return report, errutil.Unavailable("failed to list accounts for reconciliation", err)
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			res, err := s.ledger.Reconcile(ctx, id)
			if err != nil {
				return report, err
			}
			report.Checked++
			if !res.Consistent() {
				metrics.RecordReconcileMismatch()
				report.Mismatches = append(report.Mismatches, res)
				zapLog.Error("ledger mismatch",
					zap.String("account_id", id),
					zap.Int64("balance", res.Balance.Int64()),
					zap.Int64("ledger_balance", res.LedgerBalance.Int64()),
					zap.Bool("chain_valid", res.ChainValid),
				)
			}
		}
		last = ids[len(ids)-1]
	}

	report.FinishedAt = s.now()
	zapLog.Info("reconciliation finished",
		zap.Int("checked", report.Checked),
		zap.Int("mismatches", len(report.Mismatches)),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}
