// Package planner decomposes oversized harvest scopes into a covering
// family of sub-queries that each stay under the source's per-query result
// cap, and accounts for the residual the decomposition cannot recover.
//
// The decomposition takes the scope's distinguishing terms and forms
// batches of a configured size. Each sub-query ORs one batch's terms and
// negates every term outside the batch, so the sub-queries are pairwise
// disjoint. Disjointness is what bounds each sub-query under the cap, but
// it has a structural cost: a record containing terms from two different
// batches is excluded by every sub-query. The planner therefore never
// claims completeness; it reports the residual gap and leaves the
// trade-off (smaller batches stay further under the cap but widen the gap)
// to explicit configuration.
package planner

import (
	"github.com/rs/zerolog"

	"github.com/helixir/citation-harvest-service/internal/domain"
	"github.com/helixir/citation-harvest-service/internal/observability"
	"github.com/helixir/citation-harvest-service/internal/source"
)

// DefaultBatchSize is the number of positive terms per sub-query when not
// configured.
const DefaultBatchSize = 3

// Planner builds partition plans for scopes whose true matching set
// exceeds the source's result cap.
type Planner struct {
	batchSize int
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// New creates a Planner. A non-positive batchSize falls back to
// DefaultBatchSize. The metrics parameter may be nil.
func New(batchSize int, logger zerolog.Logger, metrics *observability.Metrics) *Planner {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Planner{
		batchSize: batchSize,
		logger:    logger.With().Str("component", "planner").Logger(),
		metrics:   metrics,
	}
}

// Plan is a covering family of disjoint sub-queries for one scope.
type Plan struct {
	// Batches are the partition sub-queries, each one batch of positive
	// terms with all remaining terms negated.
	Batches []source.Query

	// BatchSize is the positive-term count the plan was built with.
	BatchSize int
}

// TotalQuery returns the unfiltered query whose reported total anchors the
// accounting.
func (p *Plan) TotalQuery() source.Query {
	return source.Query{}
}

// ExclusionQuery returns the query with every term negated. Its reported
// total is the portion of the scope containing none of the terms.
func (p *Plan) ExclusionQuery() source.Query {
	exclude := make([]string, 0, p.termCount())
	for _, batch := range p.Batches {
		exclude = append(exclude, batch.Include...)
	}
	return source.Query{Exclude: exclude}
}

func (p *Plan) termCount() int {
	n := 0
	for _, batch := range p.Batches {
		n += len(batch.Include)
	}
	return n
}

// NeedsPartition reports whether a scope with the given expected count must
// be decomposed to stay under the source's result cap.
func NeedsPartition(expected, resultCap int) bool {
	return expected > resultCap
}

// Plan partitions the given terms into batch sub-queries. Each sub-query
// includes one batch and excludes every other term.
func (p *Planner) Plan(terms []string) (*Plan, error) {
	if len(terms) == 0 {
		return nil, domain.NewValidationError("terms", "at least one term is required to partition")
	}

	batches := make([]source.Query, 0, (len(terms)+p.batchSize-1)/p.batchSize)
	for start := 0; start < len(terms); start += p.batchSize {
		end := start + p.batchSize
		if end > len(terms) {
			end = len(terms)
		}

		include := append([]string(nil), terms[start:end]...)
		exclude := make([]string, 0, len(terms)-len(include))
		exclude = append(exclude, terms[:start]...)
		exclude = append(exclude, terms[end:]...)

		batches = append(batches, source.Query{Include: include, Exclude: exclude})
	}

	plan := &Plan{Batches: batches, BatchSize: p.batchSize}

	if p.metrics != nil {
		p.metrics.PartitionsPlanned.Inc()
	}
	p.logger.Debug().
		Int("terms", len(terms)).
		Int("batch_size", p.batchSize).
		Int("batches", len(batches)).
		Msg("partition plan built")

	return plan, nil
}

// Accounting reconciles the partition results against the source's totals.
type Accounting struct {
	// Total is the source-reported total with no term filter.
	Total int

	// Exclusion is the source-reported total with all terms negated.
	Exclusion int

	// ExpectedInclusion is Total minus Exclusion: the portion of the scope
	// containing at least one term.
	ExpectedInclusion int

	// BatchSum is the summed deduplicated hits across batch sub-queries.
	BatchSum int

	// ResidualGap is ExpectedInclusion minus BatchSum: the portion of the
	// expected set no batch sub-query can return, because records spanning
	// batches are excluded by every sub-query. Reported as computed; a
	// negative value means the source's estimates moved and is surfaced,
	// not clamped.
	ResidualGap int
}

// Account computes partition accounting from the anchor totals and the
// deduplicated per-batch results.
func (p *Planner) Account(total, exclusion int, batchResults []int) Accounting {
	sum := 0
	for _, n := range batchResults {
		sum += n
	}

	acct := Accounting{
		Total:             total,
		Exclusion:         exclusion,
		ExpectedInclusion: total - exclusion,
		BatchSum:          sum,
	}
	acct.ResidualGap = acct.ExpectedInclusion - acct.BatchSum

	p.logger.Info().
		Int("total", acct.Total).
		Int("exclusion", acct.Exclusion).
		Int("expected_inclusion", acct.ExpectedInclusion).
		Int("batch_sum", acct.BatchSum).
		Int("residual_gap", acct.ResidualGap).
		Msg("partition accounting computed")

	return acct
}
