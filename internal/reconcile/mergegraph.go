package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/helixir/citation-harvest-service/internal/domain"
	"github.com/helixir/citation-harvest-service/internal/repository"
)

// ResolveRoot follows an edition's merge chain to its canonical root. The
// walk keeps a visited set: revisiting an edition means the chain is
// cyclic, which is a fatal integrity violation, not something to repair
// around.
func ResolveRoot(ctx context.Context, editions repository.EditionRepository, start *domain.Edition) (*domain.Edition, error) {
	if start == nil {
		return nil, domain.NewValidationError("edition", "edition is required")
	}

	visited := map[uuid.UUID]bool{start.ID: true}
	current := start
	for current.IsMerged() {
		next := *current.MergedInto
		if visited[next] {
			return nil, &domain.IntegrityError{
				Entity: "edition",
				ID:     start.ID,
				Detail: fmt.Sprintf("cyclic merge chain through %s", next),
			}
		}
		visited[next] = true

		target, err := editions.GetByID(ctx, next)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, &domain.IntegrityError{
					Entity: "edition",
					ID:     current.ID,
					Detail: fmt.Sprintf("merge target %s does not exist", next),
				}
			}
			return nil, fmt.Errorf("resolve merge target %s: %w", next, err)
		}
		current = target
	}

	return current, nil
}
