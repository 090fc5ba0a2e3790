// Package reconcile keeps the citation graph consistent: it deduplicates
// incoming records against stored citations, folds duplicates additively,
// and repairs referential integrity after edition merges and paper
// soft-deletions. Every repair is idempotent so a crashed pass can simply
// run again.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/helixir/citation-harvest-service/internal/database"
	"github.com/helixir/citation-harvest-service/internal/domain"
	"github.com/helixir/citation-harvest-service/internal/events"
	"github.com/helixir/citation-harvest-service/internal/observability"
	"github.com/helixir/citation-harvest-service/internal/repository"
	"github.com/helixir/citation-harvest-service/internal/source"
)

// repoSet bundles the repository handles one operation works against.
// Transactional operations build a set bound to their pgx.Tx so every
// write lands in the same transaction.
type repoSet struct {
	papers    repository.PaperRepository
	editions  repository.EditionRepository
	citations repository.CitationRepository
}

func txRepoSet(tx pgx.Tx) repoSet {
	return repoSet{
		papers:    repository.NewPgPaperRepository(tx),
		editions:  repository.NewPgEditionRepository(tx),
		citations: repository.NewPgCitationRepository(tx),
	}
}

// IngestResult summarizes one committed page of records.
type IngestResult struct {
	// New is the number of records stored as fresh citation rows.
	New int

	// Folded is the number of duplicates folded into existing rows.
	Folded int

	// Ambiguous is the number of matches flagged for review.
	Ambiguous int
}

// RepairResult summarizes one repair pass.
type RepairResult struct {
	CitationsRepointed int
	DuplicatesFolded   int
	HarvestedCount     int
}

// Changed reports whether the pass mutated any rows.
func (r *RepairResult) Changed() bool {
	return r.CitationsRepointed > 0 || r.DuplicatesFolded > 0
}

// Reconciler owns dedup and integrity repair for the citation graph.
type Reconciler struct {
	db        *database.DB
	papers    repository.PaperRepository
	editions  repository.EditionRepository
	citations repository.CitationRepository

	publisher events.Publisher
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// New creates a reconciler. The db handle is used for repair transactions;
// the repositories serve non-transactional reads.
func New(
	db *database.DB,
	papers repository.PaperRepository,
	editions repository.EditionRepository,
	citations repository.CitationRepository,
	publisher events.Publisher,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Reconciler {
	if publisher == nil {
		publisher = events.NewNoopPublisher()
	}
	return &Reconciler{
		db:        db,
		papers:    papers,
		editions:  editions,
		citations: citations,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With().Str("component", "reconciler").Logger(),
	}
}

// IngestPage deduplicates and stores one fetched page in a single
// transaction. Either the whole page commits or none of it does, which is
// what lets the harvester resume from the next page after a crash.
func (r *Reconciler) IngestPage(ctx context.Context, paperID, editionID uuid.UUID, records []source.Record) (*IngestResult, error) {
	result := &IngestResult{}
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		repos := txRepoSet(tx)
		for _, record := range records {
			outcome, err := r.ingestRecord(ctx, repos, paperID, editionID, record)
			if err != nil {
				return err
			}
			switch outcome {
			case ingestNew:
				result.New++
			case ingestFolded:
				result.Folded++
			case ingestAmbiguous:
				result.Folded++
				result.Ambiguous++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.RecordsHarvested.Add(float64(result.New))
		r.metrics.DedupEncounters.Add(float64(result.Folded))
		r.metrics.DedupAmbiguous.Add(float64(result.Ambiguous))
	}
	return result, nil
}

type ingestOutcome int

const (
	ingestNew ingestOutcome = iota
	ingestFolded
	ingestAmbiguous
)

// ingestRecord stores or folds a single record. Identity is the shared
// external id when both sides have one, otherwise the normalized title
// within the same paper. A title match that contradicts on external id is
// ambiguous: it folds, but flagged, never silently merged.
func (r *Reconciler) ingestRecord(ctx context.Context, repos repoSet, paperID, editionID uuid.UUID, record source.Record) (ingestOutcome, error) {
	if record.Title == "" {
		return 0, domain.NewValidationError("title", "record title is required")
	}

	if record.ExternalID != "" {
		existing, err := repos.citations.FindByExternalID(ctx, paperID, record.ExternalID)
		switch {
		case err == nil:
			if err := repos.citations.AddEncounters(ctx, existing.ID, 1); err != nil {
				return 0, fmt.Errorf("fold duplicate %s: %w", existing.ID, err)
			}
			return ingestFolded, nil
		case !errors.Is(err, domain.ErrNotFound):
			return 0, fmt.Errorf("find citation by external id: %w", err)
		}
	}

	normalized := domain.NormalizeTitle(record.Title)
	existing, err := repos.citations.FindByNormalizedTitle(ctx, paperID, normalized)
	switch {
	case err == nil:
		if record.ExternalID != "" && existing.HasExternalID() && existing.ExternalID != record.ExternalID {
			resolution := &domain.DuplicateResolutionError{
				PaperID:    paperID,
				ExistingID: existing.ID,
				Detail:     fmt.Sprintf("title matches but external ids differ: %s vs %s", existing.ExternalID, record.ExternalID),
			}
			r.logger.Warn().
				Str("paper_id", paperID.String()).
				Str("citation_id", existing.ID.String()).
				Str("incoming_external_id", record.ExternalID).
				Msg("ambiguous duplicate flagged for review")
			if err := repos.citations.SetNeedsReview(ctx, existing.ID, resolution.Error()); err != nil {
				return 0, fmt.Errorf("flag ambiguous duplicate: %w", err)
			}
			if err := repos.citations.AddEncounters(ctx, existing.ID, 1); err != nil {
				return 0, fmt.Errorf("fold ambiguous duplicate: %w", err)
			}
			return ingestAmbiguous, nil
		}
		if err := repos.citations.AddEncounters(ctx, existing.ID, 1); err != nil {
			return 0, fmt.Errorf("fold duplicate %s: %w", existing.ID, err)
		}
		return ingestFolded, nil
	case !errors.Is(err, domain.ErrNotFound):
		return 0, fmt.Errorf("find citation by title: %w", err)
	}

	citation := &domain.Citation{
		PaperID:         paperID,
		EditionID:       editionID,
		ExternalID:      record.ExternalID,
		Title:           record.Title,
		NormalizedTitle: normalized,
		Year:            record.Year,
	}
	if _, err := repos.citations.Create(ctx, citation); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// A concurrent ingest won the insert between our lookup and
			// the create. Fold into the winner instead of failing.
			return r.foldIntoWinner(ctx, repos, paperID, record.ExternalID, normalized)
		}
		return 0, fmt.Errorf("store citation: %w", err)
	}
	return ingestNew, nil
}

// foldIntoWinner re-runs the identity lookups after a create lost a unique
// index race, and folds into whichever row won.
func (r *Reconciler) foldIntoWinner(ctx context.Context, repos repoSet, paperID uuid.UUID, externalID, normalized string) (ingestOutcome, error) {
	var (
		existing *domain.Citation
		err      error
	)
	if externalID != "" {
		existing, err = repos.citations.FindByExternalID(ctx, paperID, externalID)
	}
	if existing == nil {
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return 0, fmt.Errorf("find citation by external id: %w", err)
		}
		existing, err = repos.citations.FindByNormalizedTitle(ctx, paperID, normalized)
	}
	if err != nil {
		return 0, fmt.Errorf("find winning duplicate: %w", err)
	}

	if err := repos.citations.AddEncounters(ctx, existing.ID, 1); err != nil {
		return 0, fmt.Errorf("fold duplicate %s: %w", existing.ID, err)
	}
	return ingestFolded, nil
}

// RepairEdition re-points every citation of the given edition to its merge
// root, folds the duplicates that surface, and recomputes the root's
// harvested count from live rows. Serializable, and locked per merge root
// so concurrent ingestion on the same edition cannot interleave.
func (r *Reconciler) RepairEdition(ctx context.Context, editionID uuid.UUID) (*RepairResult, error) {
	var result *RepairResult
	err := r.db.WithSerializableTransaction(ctx, func(tx pgx.Tx) error {
		repos := txRepoSet(tx)

		edition, err := repos.editions.GetByID(ctx, editionID)
		if err != nil {
			return err
		}
		root, err := ResolveRoot(ctx, repos.editions, edition)
		if err != nil {
			return err
		}

		if err := r.db.AcquireAdvisoryLockTx(ctx, tx, editionLockKey(root.ID)); err != nil {
			return fmt.Errorf("lock edition %s: %w", root.ID, err)
		}

		result, err = r.repairInto(ctx, repos, edition, root)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.finishRepair(ctx, "merge", editionID, result)
	return result, nil
}

// RepairAllMerged runs RepairEdition for every edition with a merge
// pointer. Failures are logged and skipped so one bad chain does not block
// the rest of the pass.
func (r *Reconciler) RepairAllMerged(ctx context.Context) error {
	merged, err := r.editions.ListMerged(ctx)
	if err != nil {
		return fmt.Errorf("list merged editions: %w", err)
	}

	for _, edition := range merged {
		if _, err := r.RepairEdition(ctx, edition.ID); err != nil {
			r.logger.Error().Err(err).
				Str("edition_id", edition.ID.String()).
				Msg("merge repair failed, continuing with remaining editions")
		}
	}
	return nil
}

// RepairOrphans re-homes citations whose paper was soft-deleted. The same
// merge-root walk applies: a citation of a deleted paper follows its
// edition's chain and lands on the root edition's paper. A citation whose
// root still belongs to the deleted paper has nowhere to go and is flagged.
func (r *Reconciler) RepairOrphans(ctx context.Context) (*RepairResult, error) {
	orphaned, err := r.papers.ListSoftDeletedWithCitations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orphaned papers: %w", err)
	}

	total := &RepairResult{}
	for _, paperID := range orphaned {
		result, err := r.repairOrphansOf(ctx, paperID)
		if err != nil {
			r.logger.Error().Err(err).
				Str("paper_id", paperID.String()).
				Msg("orphan repair failed, continuing with remaining papers")
			continue
		}
		total.CitationsRepointed += result.CitationsRepointed
		total.DuplicatesFolded += result.DuplicatesFolded
	}

	r.finishRepair(ctx, "orphan", uuid.Nil, total)
	return total, nil
}

func (r *Reconciler) repairOrphansOf(ctx context.Context, paperID uuid.UUID) (*RepairResult, error) {
	result := &RepairResult{}
	err := r.db.WithSerializableTransaction(ctx, func(tx pgx.Tx) error {
		repos := txRepoSet(tx)

		citations, err := repos.citations.ListByPaper(ctx, paperID)
		if err != nil {
			return fmt.Errorf("list citations of paper %s: %w", paperID, err)
		}

		for _, citation := range citations {
			edition, err := repos.editions.GetByID(ctx, citation.EditionID)
			if err != nil {
				return fmt.Errorf("load edition %s: %w", citation.EditionID, err)
			}
			root, err := ResolveRoot(ctx, repos.editions, edition)
			if err != nil {
				return err
			}

			if root.PaperID == paperID {
				if err := repos.citations.SetNeedsReview(ctx, citation.ID,
					"paper soft-deleted and merge chain resolves to it"); err != nil {
					return fmt.Errorf("flag stranded citation %s: %w", citation.ID, err)
				}
				continue
			}

			moved, folded, err := r.repointCitation(ctx, repos, citation, root)
			if err != nil {
				return err
			}
			if moved {
				result.CitationsRepointed++
			}
			if folded {
				result.DuplicatesFolded++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// repairInto moves every citation of edition onto root, folding into
// existing root citations where identities collide, then recomputes the
// root's harvested count. Running it again is a no-op: the source edition
// has no citations left to move.
func (r *Reconciler) repairInto(ctx context.Context, repos repoSet, edition, root *domain.Edition) (*RepairResult, error) {
	result := &RepairResult{}

	if edition.ID != root.ID {
		citations, err := repos.citations.ListByEdition(ctx, edition.ID)
		if err != nil {
			return nil, fmt.Errorf("list citations of edition %s: %w", edition.ID, err)
		}

		for _, citation := range citations {
			moved, folded, err := r.repointCitation(ctx, repos, citation, root)
			if err != nil {
				return nil, err
			}
			if moved {
				result.CitationsRepointed++
			}
			if folded {
				result.DuplicatesFolded++
			}
		}
	}

	count, err := repos.citations.CountByEdition(ctx, root.ID)
	if err != nil {
		return nil, fmt.Errorf("count citations of root %s: %w", root.ID, err)
	}
	if err := repos.editions.SetHarvestedCount(ctx, root.ID, count); err != nil {
		return nil, fmt.Errorf("recompute harvested count: %w", err)
	}
	result.HarvestedCount = count

	if edition.ID != root.ID && edition.HarvestedCount != 0 {
		if err := repos.editions.SetHarvestedCount(ctx, edition.ID, 0); err != nil {
			return nil, fmt.Errorf("zero harvested count of merged edition: %w", err)
		}
	}

	return result, nil
}

// repointCitation moves one citation to the root edition. When the root's
// paper already holds a citation with the same identity, the mover is
// folded into it instead: encounter counts add, the spare row is deleted.
func (r *Reconciler) repointCitation(ctx context.Context, repos repoSet, citation *domain.Citation, root *domain.Edition) (moved, folded bool, err error) {
	existing, err := r.findCounterpart(ctx, repos, citation, root.PaperID)
	if err != nil {
		return false, false, err
	}

	if existing != nil && existing.ID != citation.ID {
		if err := repos.citations.AddEncounters(ctx, existing.ID, citation.EncounterCount); err != nil {
			return false, false, fmt.Errorf("fold citation %s into %s: %w", citation.ID, existing.ID, err)
		}
		if citation.PaperID != root.PaperID {
			if err := repos.citations.IncrementIntersection(ctx, existing.ID); err != nil {
				return false, false, fmt.Errorf("bump intersection count: %w", err)
			}
		}
		if err := repos.citations.Delete(ctx, citation.ID); err != nil {
			return false, false, fmt.Errorf("delete folded citation %s: %w", citation.ID, err)
		}
		return false, true, nil
	}

	if citation.EditionID == root.ID && citation.PaperID == root.PaperID {
		return false, false, nil
	}
	if err := repos.citations.Repoint(ctx, citation.ID, root.ID, root.PaperID); err != nil {
		return false, false, fmt.Errorf("repoint citation %s: %w", citation.ID, err)
	}
	return true, false, nil
}

func (r *Reconciler) findCounterpart(ctx context.Context, repos repoSet, citation *domain.Citation, paperID uuid.UUID) (*domain.Citation, error) {
	if citation.HasExternalID() {
		existing, err := repos.citations.FindByExternalID(ctx, paperID, citation.ExternalID)
		switch {
		case err == nil:
			return existing, nil
		case !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("find counterpart by external id: %w", err)
		}
		return nil, nil
	}

	existing, err := repos.citations.FindByNormalizedTitle(ctx, paperID, citation.NormalizedTitle)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("find counterpart by title: %w", err)
	}
	return nil, nil
}

func (r *Reconciler) finishRepair(ctx context.Context, kind string, editionID uuid.UUID, result *RepairResult) {
	if r.metrics != nil {
		r.metrics.RepairsRun.WithLabelValues(kind).Inc()
		r.metrics.CitationsRepointed.Add(float64(result.CitationsRepointed))
	}
	r.logger.Info().
		Str("kind", kind).
		Int("repointed", result.CitationsRepointed).
		Int("folded", result.DuplicatesFolded).
		Msg("repair pass finished")

	if !result.Changed() {
		return
	}
	event := domain.HarvestEvent{
		EventType: domain.EventRepairApplied,
		EditionID: editionID,
		Payload: domain.RepairAppliedPayload{
			CitationsRepointed: result.CitationsRepointed,
			DuplicatesFolded:   result.DuplicatesFolded,
			HarvestedCount:     result.HarvestedCount,
		},
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Error().Err(err).Msg("failed to publish repair event")
	}
}

// editionLockKey folds an edition id into a 64-bit advisory lock key.
func editionLockKey(id uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write(id[:])
	return int64(h.Sum64())
}
