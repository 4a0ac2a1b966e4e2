package aggregate

import (
	"context"
	"slices"

	"github.com/kenshi-labs/unchained-dashboard/domain"
	"github.com/kenshi-labs/unchained-dashboard/schema"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type Counter interface {
	Count(ctx context.Context, tables ...string) (int64, error)
}

// Aggregator builds dashboard snapshots directly from the backing store.
type Aggregator struct {
	generations []schema.Generation
	counter     Counter
}

func NewAggregator(generations []schema.Generation, counter Counter) (*Aggregator, error) {
	if len(generations) == 0 {
		return nil, errors.New("at least one schema generation is needed")
	}
	return &Aggregator{
		generations: generations,
		counter:     counter,
	}, nil
}

// Refresh reads signers, prices and both counts. The reads run concurrently, the first failure
// cancels the others.
func (a *Aggregator) Refresh(ctx context.Context) (*domain.Snapshot, error) {
	var (
		signers []domain.Signer
		prices  []domain.PricePoint
		stats   domain.Stats
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		signers, err = a.generations[0].Signers(groupCtx) // roster of the primary generation
		return errors.Wrap(err, "getting signers")
	})
	group.Go(func() error {
		var err error
		prices, err = a.prices(groupCtx)
		return errors.Wrap(err, "getting prices")
	})
	group.Go(func() error {
		var err error
		stats.Datapoints, err = a.counter.Count(groupCtx, a.tables(schema.Generation.PriceTables)...)
		return errors.Wrap(err, "counting datapoints")
	})
	group.Go(func() error {
		var err error
		stats.Validations, err = a.counter.Count(groupCtx, a.tables(schema.Generation.ValidationTables)...)
		return errors.Wrap(err, "counting validations")
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	return &domain.Snapshot{
		Signers: domain.NewSignerViews(signers),
		Prices:  domain.NewPriceViews(prices),
		Stats:   stats,
	}, nil
}

func (a *Aggregator) prices(ctx context.Context) ([]domain.PricePoint, error) {
	if len(a.generations) == 1 {
		return a.generations[0].Prices(ctx)
	}

	var merged []domain.PricePoint
	window := 0
	for _, generation := range a.generations {
		prices, err := generation.Prices(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s generation", generation.Name())
		}
		merged = append(merged, prices...)
		window = max(window, generation.PriceWindow())
	}

	slices.SortStableFunc(merged, func(a, b domain.PricePoint) int {
		switch {
		case a.Block > b.Block:
			return -1
		case a.Block < b.Block:
			return 1
		default:
			return 0
		}
	})
	if len(merged) > window {
		merged = merged[:window]
	}
	return merged, nil
}

func (a *Aggregator) tables(of func(schema.Generation) []string) []string {
	var tables []string
	for _, generation := range a.generations {
		tables = append(tables, of(generation)...)
	}
	return tables
}
