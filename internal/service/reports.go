package service

import (
	"context"
	"fmt"
	"time"

	"github.com/LeventeLantos/message-dispatch/internal/model"
	"github.com/LeventeLantos/message-dispatch/internal/record"
	"github.com/LeventeLantos/message-dispatch/internal/store"
)

const monthLayout = "2006-01"

type Reports = store.Collection[model.Report, *model.Report]

// ReportService stores monthly totals computed elsewhere.
type ReportService struct {
	col *Reports
}

func NewReportService(col *Reports) *ReportService {
	return &ReportService{col: col}
}

// Save writes r, replacing the totals already stored for the same company
// and month.
func (s *ReportService) Save(ctx context.Context, r *model.Report) error {
	if r.CompanyID == "" {
		return fmt.Errorf("%w: report without empresa_id", ErrInvalid)
	}
	if _, err := time.Parse(monthLayout, r.Month); err != nil {
		return fmt.Errorf("%w: mes_ano %q is not YYYY-MM", ErrInvalid, r.Month)
	}

	id, err := s.col.Upsert(ctx,
		store.Where(model.FieldCompanyID, r.CompanyID).And(model.ReportMonth, r.Month),
		record.Values{
			model.ReportSent:    int64(r.Sent),
			model.ReportSuccess: int64(r.Succeeded),
			model.ReportError:   int64(r.Failed),
		},
	)
	if err != nil {
		return err
	}
	r.SetID(id)
	return nil
}

func (s *ReportService) Get(ctx context.Context, companyID, month string) (*model.Report, error) {
	r, found, err := s.col.FindOne(ctx, store.Where(model.FieldCompanyID, companyID).And(model.ReportMonth, month))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: report %s %s", ErrNotFound, companyID, month)
	}
	return r, nil
}

func (s *ReportService) ListByCompany(ctx context.Context, companyID string, limit, offset int) ([]*model.Report, error) {
	limit, offset = page(limit, offset)
	return store.Collect(s.col.Paginate(ctx, store.Where(model.FieldCompanyID, companyID), offset, limit))
}
