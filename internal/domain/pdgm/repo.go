package pdgm

import (
	"context"

	"github.com/google/uuid"
)

type CalculationRepository interface {
	Create(ctx context.Context, c *Calculation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Calculation, error)
	List(ctx context.Context, limit, offset int) ([]*Calculation, int, error)
	ListByAnalysis(ctx context.Context, analysisID uuid.UUID) ([]*Calculation, error)
	// Each streams every stored calculation in creation order.
	Each(ctx context.Context, fn func(*Calculation) error) error
}
