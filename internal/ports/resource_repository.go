package ports

import (
	"context"

	"github.com/bnema/rotor/internal/domain"
)

type ResourceRepository[T any] interface {
	List(ctx context.Context) ([]domain.Resource[T], error)
	SaveAll(ctx context.Context, resources []domain.Resource[T]) error
}
