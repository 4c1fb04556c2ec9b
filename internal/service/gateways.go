package service

import (
	"context"
	"fmt"

	"github.com/LeventeLantos/message-dispatch/internal/model"
	"github.com/LeventeLantos/message-dispatch/internal/record"
	"github.com/LeventeLantos/message-dispatch/internal/store"
)

type GatewayConfigs = store.Collection[model.GatewayConfig, *model.GatewayConfig]

// GatewayService keeps one gateway configuration per company.
type GatewayService struct {
	col *GatewayConfigs
}

func NewGatewayService(col *GatewayConfigs) *GatewayService {
	return &GatewayService{col: col}
}

func (s *GatewayService) Save(ctx context.Context, g *model.GatewayConfig) error {
	if g.CompanyID == "" {
		return fmt.Errorf("%w: gateway config without empresa_id", ErrInvalid)
	}
	id, err := s.col.Upsert(ctx, store.Where(model.FieldCompanyID, g.CompanyID), record.Values{
		model.GatewayKindField:     string(g.Kind),
		model.GatewayToken:         g.Token,
		model.GatewayDefaultSender: g.DefaultSender,
	})
	if err != nil {
		return err
	}
	g.SetID(id)
	return nil
}

func (s *GatewayService) ForCompany(ctx context.Context, companyID string) (*model.GatewayConfig, error) {
	g, found, err := s.col.FindOne(ctx, store.Where(model.FieldCompanyID, companyID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: gateway config for %s", ErrNotFound, companyID)
	}
	return g, nil
}
