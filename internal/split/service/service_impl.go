package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/facilitycore/internal/clock"
	"github.com/smallbiznis/facilitycore/internal/observability/metrics"
	splitdomain "github.com/smallbiznis/facilitycore/internal/split/domain"
	"github.com/smallbiznis/facilitycore/pkg/apperror"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    splitdomain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    splitdomain.Repository
	metrics *metrics.Metrics
}

func New(p Params) splitdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("split.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

// Replace validates and stores the full split configuration of a parent
// account. Positions follow the request order.
func (s *Service) Replace(ctx context.Context, req splitdomain.ReplaceRequest) ([]splitdomain.AccountSplit, error) {
	if req.ParentAccountID == 0 {
		return nil, splitdomain.ErrInvalidSplits.WithViolations(apperror.Violation{
			Field: "parent_account_id", Code: "required", Message: "parent account is required",
		})
	}

	now := s.clock.Now()
	splits := make([]splitdomain.AccountSplit, 0, len(req.Splits))
	for i, in := range req.Splits {
		splits = append(splits, splitdomain.AccountSplit{
			ID:               s.genID.Generate(),
			ParentAccountID:  req.ParentAccountID,
			SubaccountID:     in.SubaccountID,
			SubaccountNumber: strings.TrimSpace(in.SubaccountNumber),
			Percent:          in.Percent,
			ExtraPenny:       in.ExtraPenny,
			Position:         i,
			CreatedAt:        now,
		})
	}
	if err := splitdomain.ValidateSplits(req.ParentAccountID, splits); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.Replace(ctx, tx, req.ParentAccountID, splits)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("account splits replaced",
		zap.String("parent_account_id", req.ParentAccountID.String()),
		zap.Int("splits", len(splits)),
	)
	return splits, nil
}

func (s *Service) Splits(ctx context.Context, parentID snowflake.ID) ([]splitdomain.AccountSplit, error) {
	splits, err := s.repo.ListByParent(ctx, s.db, parentID)
	if err != nil {
		return nil, err
	}
	if len(splits) == 0 {
		return nil, splitdomain.ErrNotFound
	}
	return splits, nil
}

// Build emits, in input order, one row per split per charge line (or a
// single unsplit row when the account has no splits), followed by one
// negative row per revenue account sorted by account.
func (s *Service) Build(ctx context.Context, lines []splitdomain.ChargeLine) (*splitdomain.JournalBatch, error) {
	if err := validateLines(lines); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	batch := &splitdomain.JournalBatch{
		Reference: ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		CreatedAt: now,
		Rows:      make([]splitdomain.JournalRow, 0, len(lines)*2),
	}

	configs := make(map[snowflake.ID][]splitdomain.AccountSplit)
	revenue := make(map[string]int64)
	var splitRows, unsplitRows int
	for _, line := range lines {
		splits, ok := configs[line.AccountID]
		if !ok {
			loaded, err := s.repo.ListByParent(ctx, s.db, line.AccountID)
			if err != nil {
				return nil, err
			}
			splits = loaded
			configs[line.AccountID] = splits
		}

		orderLineID := line.OrderLineID
		total := line.Total()
		revenue[line.RevenueAccount] += total

		if len(splits) == 0 {
			batch.Rows = append(batch.Rows, splitdomain.JournalRow{
				Account:     line.AccountNumber,
				Amount:      total,
				OrderLineID: &orderLineID,
				Description: line.Description,
				Unsplit:     true,
			})
			unsplitRows++
			continue
		}

		allocations, err := splitdomain.Allocate(total, splits)
		if err != nil {
			return nil, err
		}
		for _, a := range allocations {
			batch.Rows = append(batch.Rows, splitdomain.JournalRow{
				Account:     a.Split.SubaccountNumber,
				Amount:      a.Amount,
				OrderLineID: &orderLineID,
				Description: line.Description,
			})
		}
		splitRows += len(allocations)
	}

	accounts := make([]string, 0, len(revenue))
	for account := range revenue {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	for _, account := range accounts {
		batch.Rows = append(batch.Rows, splitdomain.JournalRow{
			Account:     account,
			Amount:      -revenue[account],
			Description: "revenue credit " + account,
		})
	}

	if sum := batch.Sum(); sum != 0 {
		s.log.Error("journal batch does not balance",
			zap.String("reference", batch.Reference),
			zap.Int64("sum", sum),
		)
		return nil, splitdomain.ErrUnbalancedBatch
	}

	s.metrics.RecordJournalRows(ctx, "split", splitRows)
	s.metrics.RecordJournalRows(ctx, "unsplit", unsplitRows)
	s.metrics.RecordJournalRows(ctx, "revenue", len(accounts))
	return batch, nil
}

func validateLines(lines []splitdomain.ChargeLine) error {
	var v apperror.Violations
	for i, line := range lines {
		field := fmt.Sprintf("lines[%d]", i)
		if line.OrderLineID == 0 {
			v.Add(field+".order_line_id", "required", "order line is required")
		}
		if line.AccountID == 0 {
			v.Add(field+".account_id", "required", "account is required")
		}
		if strings.TrimSpace(line.AccountNumber) == "" {
			v.Add(field+".account_number", "required", "account number is required")
		}
		if strings.TrimSpace(line.RevenueAccount) == "" {
			v.Add(field+".revenue_account", "required", "revenue account is required")
		}
	}
	return v.Err(splitdomain.ErrInvalidCharge)
}
