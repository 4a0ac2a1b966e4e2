// Package schema reads the dashboard data from the two schema generations of the unchained
// database. Both generations return the same normalized domain types.
package schema

import (
	"context"
	"database/sql"
	"strings"

	"github.com/kenshi-labs/unchained-dashboard/domain"
	"github.com/pkg/errors"
)

const (
	LegacyName  = "legacy"
	CurrentName = "current"
)

type Querier interface {
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Generation interface {
	Name() string
	Signers(ctx context.Context) ([]domain.Signer, error)
	// Prices returns the most recent price points, newest block first.
	Prices(ctx context.Context) ([]domain.PricePoint, error)
	PriceWindow() int
	// PriceTables are the physical tables holding one row per price point.
	PriceTables() []string
	// ValidationTables are the physical tables holding one row per signer confirmation.
	ValidationTables() []string
}

// Windows configures the number of price points read per generation.
type Windows struct {
	Legacy  int
	Current int
}

func New(name string, querier Querier, windows Windows) (Generation, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case LegacyName:
		return NewLegacy(querier, windows.Legacy), nil
	case CurrentName:
		return NewCurrent(querier, windows.Current), nil
	default:
		return nil, errors.Errorf("unknown schema generation [%s]", name)
	}
}

// NewAll creates the generations in the given order. The first one is the primary generation.
func NewAll(names []string, querier Querier, windows Windows) ([]Generation, error) {
	var generations []Generation
	seen := make(map[string]bool)
	for _, name := range names {
		generation, err := New(name, querier, windows)
		if err != nil {
			return nil, err
		}
		if seen[generation.Name()] {
			return nil, errors.Errorf("duplicate schema generation [%s]", generation.Name())
		}
		seen[generation.Name()] = true
		generations = append(generations, generation)
	}
	if len(generations) == 0 {
		return nil, errors.New("no schema generation configured")
	}
	return generations, nil
}

func querySigners(ctx context.Context, querier Querier, query string) ([]domain.Signer, error) {
	rows, err := querier.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "querying signers")
	}
	defer rows.Close()

	signers := make([]domain.Signer, 0)
	for rows.Next() {
		var signer domain.Signer
		var name sql.NullString
		var points sql.NullInt64
		err = rows.Scan(&signer.ID, &name, &signer.Key, &points)
		if err != nil {
			return nil, domain.NewBackingStoreError(err, "scanning signer")
		}
		signer.Name = name.String
		signer.Points = points.Int64
		signers = append(signers, signer)
	}
	if err = rows.Err(); err != nil {
		return nil, domain.NewBackingStoreError(err, "reading signers")
	}
	return signers, nil
}
