package service

import (
	"context"
	"fmt"

	"rentflow/internal/config"
	"rentflow/internal/models"

	"github.com/rs/zerolog"
)

// PropertyRepository is the store side of the catalog projection.
type PropertyRepository interface {
	SyncProperties(ctx context.Context, properties []models.Property) error
	ListProperties(ctx context.Context) ([]models.Property, error)
}

// PropertyService keeps the local catalog projection in step with the configured listings.
type PropertyService struct {
	repo   PropertyRepository
	logger *zerolog.Logger
}

func NewPropertyService(repo PropertyRepository, logger *zerolog.Logger) *PropertyService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &PropertyService{repo: repo, logger: logger}
}

// Sync validates and upserts the listings.
func (s *PropertyService) Sync(ctx context.Context, properties []models.Property) error {
	if err := config.ValidateProperties(properties); err != nil {
		return fmt.Errorf("invalid catalog: %w", err)
	}
	if err := s.repo.SyncProperties(ctx, properties); err != nil {
		return err
	}
	s.logger.Info().Int("count", len(properties)).Msg("catalog synced")
	return nil
}

// GetActiveProperties returns listings currently open for booking.
func (s *PropertyService) GetActiveProperties(ctx context.Context) ([]models.Property, error) {
	all, err := s.repo.ListProperties(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]models.Property, 0, len(all))
	for _, p := range all {
		if p.IsActive {
			active = append(active, p)
		}
	}
	return active, nil
}
