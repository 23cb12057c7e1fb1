package product

import (
	"context"

	"rentloop-be/internal/logger"

	"go.uber.org/zap"
)

// Service is the read-only catalog the rest of the engine prices and reserves against.
type Service interface {
	GetProductByID(ctx context.Context, id string) (*Product, error)
	GetProducts(ctx context.Context, ids []string) (map[string]*Product, error)
	List(ctx context.Context, filter ListFilter) ([]*Product, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) GetProductByID(ctx context.Context, id string) (*Product, error) {
	if id == "" {
		return nil, ErrProductNotFound
	}
	return s.repo.GetByID(ctx, id)
}

// GetProducts de-duplicates ids before hitting the repository.
func (s *service) GetProducts(ctx context.Context, ids []string) (map[string]*Product, error) {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	products, err := s.repo.GetByIDs(ctx, unique)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to load products",
			zap.String("layer", "service"),
			zap.String("method", "GetProducts"),
			zap.Error(err),
		)
		return nil, err
	}
	return products, nil
}

func (s *service) List(ctx context.Context, filter ListFilter) ([]*Product, error) {
	return s.repo.List(ctx, filter)
}
