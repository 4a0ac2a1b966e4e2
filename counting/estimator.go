package counting

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

type Strategy int

const (
	Exact Strategy = iota
	Estimated
)

func (s Strategy) String() string {
	switch s {
	case Exact:
		return "exact"
	case Estimated:
		return "estimated"
	default:
		return "unknown"
	}
}

func ParseStrategy(value string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "exact":
		return Exact, nil
	case "estimated", "estimate":
		return Estimated, nil
	default:
		return Exact, errors.Errorf("unknown count strategy [%s]", value)
	}
}

type Counter interface {
	CountExact(ctx context.Context, table string) (int64, error)
	CountEstimate(ctx context.Context, table string) (int64, error)
}

// Estimator counts rows of physical tables with a statically configured strategy per table.
type Estimator struct {
	counter         Counter
	policy          map[string]Strategy
	defaultStrategy Strategy
}

func NewEstimator(counter Counter, defaultStrategy Strategy, policy map[string]Strategy) *Estimator {
	copied := make(map[string]Strategy, len(policy))
	for table, strategy := range policy {
		copied[table] = strategy
	}
	return &Estimator{
		counter:         counter,
		policy:          copied,
		defaultStrategy: defaultStrategy,
	}
}

// NewEstimatorForTables uses defaultStrategy for every table that is not listed in
// estimatedTables or exactTables. A table listed in both is counted exactly.
func NewEstimatorForTables(counter Counter, defaultStrategy Strategy, estimatedTables, exactTables []string) *Estimator {
	policy := make(map[string]Strategy, len(estimatedTables)+len(exactTables))
	for _, table := range estimatedTables {
		if table = strings.TrimSpace(table); table != "" {
			policy[table] = Estimated
		}
	}
	for _, table := range exactTables {
		if table = strings.TrimSpace(table); table != "" {
			policy[table] = Exact
		}
	}
	return NewEstimator(counter, defaultStrategy, policy)
}

func (e *Estimator) StrategyFor(table string) Strategy {
	if strategy, ok := e.policy[table]; ok {
		return strategy
	}
	return e.defaultStrategy
}

// Count returns the sum of the row counts of all tables. A logical table can be spread over
// several physical tables, for example while two schema generations are live.
func (e *Estimator) Count(ctx context.Context, tables ...string) (int64, error) {
	var total int64
	for _, table := range tables {
		var count int64
		var err error
		if e.StrategyFor(table) == Estimated {
			count, err = e.counter.CountEstimate(ctx, table)
		} else {
			count, err = e.counter.CountExact(ctx, table)
		}
		if err != nil {
			return 0, errors.Wrapf(err, "counting [%s] (%s)", table, e.StrategyFor(table))
		}
		total += count
	}
	return total, nil
}
