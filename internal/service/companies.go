package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LeventeLantos/message-dispatch/internal/hashid"
	"github.com/LeventeLantos/message-dispatch/internal/logging"
	"github.com/LeventeLantos/message-dispatch/internal/model"
	"github.com/LeventeLantos/message-dispatch/internal/record"
	"github.com/LeventeLantos/message-dispatch/internal/store"
)

type Companies = store.Collection[model.Company, *model.Company]

type CompanyService struct {
	col    *Companies
	logger *zap.Logger
	now    func() time.Time
}

func NewCompanyService(col *Companies, logger *zap.Logger) *CompanyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompanyService{col: col, logger: logger, now: model.Now}
}

// Create registers c as an active company with a fresh authentication hash.
// Name and CNPJ are required and the CNPJ must be unused.
func (s *CompanyService) Create(ctx context.Context, c *model.Company) (out *model.Company, err error) {
	scope := logging.Begin(s.logger, "create_company", zap.String("cnpj", c.CNPJ))
	defer func() { scope.End(err) }()

	c.Name = strings.TrimSpace(c.Name)
	c.CNPJ = strings.TrimSpace(c.CNPJ)

	now := s.now()
	hash, err := hashid.CompanyAuthToken(c.Name, c.CNPJ, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	taken, err := s.col.Exists(ctx, store.Where(model.CompanyCNPJ, c.CNPJ))
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("%w: cnpj %s", ErrDuplicate, c.CNPJ)
	}

	c.AuthHash = hash
	if c.Status == "" {
		c.Status = model.CompanyActive
	}
	if c.BillingCycle == "" {
		c.BillingCycle = model.DefaultBillingCycle
	}
	if c.ContractStart.IsZero() {
		c.ContractStart = now
	}

	// The unique cnpj index settles concurrent creates the check above let
	// through.
	if _, err := s.col.Create(ctx, c); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: cnpj %s", ErrDuplicate, c.CNPJ)
		}
		return nil, err
	}
	return c, nil
}

func (s *CompanyService) Get(ctx context.Context, id string) (*model.Company, error) {
	c, found, err := s.col.FindOne(ctx, store.ByID(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: company %s", ErrNotFound, id)
	}
	return c, nil
}

// Authenticate returns the company owning hash.
func (s *CompanyService) Authenticate(ctx context.Context, hash string) (*model.Company, error) {
	if hash == "" {
		return nil, fmt.Errorf("%w: empty hash", ErrNotFound)
	}
	c, found, err := s.col.FindOne(ctx, store.Where(model.CompanyAuthHash, hash))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: unknown hash", ErrNotFound)
	}
	return c, nil
}

func (s *CompanyService) List(ctx context.Context, status model.CompanyStatus, limit, offset int) ([]*model.Company, error) {
	limit, offset = page(limit, offset)
	q := store.All()
	if status != "" {
		q = store.Where(model.CompanyStatusField, status)
	}
	return store.Collect(s.col.Paginate(ctx, q, offset, limit))
}

// SetStatus changes a company's status. Unknown statuses fail as a schema
// mismatch before anything is written.
func (s *CompanyService) SetStatus(ctx context.Context, id string, status model.CompanyStatus) error {
	_, found, err := s.col.Update(ctx, store.ByID(id), store.Set(record.Values{
		model.CompanyStatusField: string(status),
	}))
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: company %s", ErrNotFound, id)
	}
	s.logger.Info("company status changed", zap.String("company_id", id), zap.String("status", string(status)))
	return nil
}
