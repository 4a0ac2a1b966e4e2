package schema

import (
	"context"
	"database/sql"

	"github.com/kenshi-labs/unchained-dashboard/domain"
	"github.com/pkg/errors"
)

const (
	currentPriceTable      = "asset_prices"
	currentSignaturesTable = "signatures"
)

// DefaultCurrentWindow is one day of points.
const DefaultCurrentWindow = 1440

const currentSignersQuery = `SELECT id, name, key, points FROM signers ORDER BY id`

// Only points with an asset that reached consensus are ever shown.
const currentPricesQuery = `
SELECT p.price, p.block, p.signers_count, a.name
FROM asset_prices p
JOIN assets a ON a.id = p.asset_id
WHERE p.asset_id IS NOT NULL AND p.consensus
ORDER BY p.block DESC, p.id DESC
LIMIT ?`

// Current is the second schema generation. Price points are attributed to assets, carry a
// consensus flag and store their signer count.
type Current struct {
	querier Querier
	window  int
}

func NewCurrent(querier Querier, window int) *Current {
	if window <= 0 {
		window = DefaultCurrentWindow
	}
	return &Current{querier: querier, window: window}
}

func (c *Current) Name() string {
	return CurrentName
}

func (c *Current) PriceWindow() int {
	return c.window
}

func (c *Current) PriceTables() []string {
	return []string{currentPriceTable}
}

func (c *Current) ValidationTables() []string {
	return []string{currentSignaturesTable}
}

func (c *Current) Signers(ctx context.Context) ([]domain.Signer, error) {
	return querySigners(ctx, c.querier, currentSignersQuery)
}

func (c *Current) Prices(ctx context.Context) ([]domain.PricePoint, error) {
	rows, err := c.querier.Query(ctx, currentPricesQuery, c.window)
	if err != nil {
		return nil, errors.Wrap(err, "querying prices")
	}
	defer rows.Close()

	prices := make([]domain.PricePoint, 0, c.window)
	for rows.Next() {
		var price domain.PricePoint
		var signersCount sql.NullInt64
		var asset string
		err = rows.Scan(&price.Price, &price.Block, &signersCount, &asset)
		if err != nil {
			return nil, domain.NewBackingStoreError(err, "scanning price")
		}
		price.Signers = signersCount.Int64
		price.Asset = &asset
		prices = append(prices, price)
	}
	if err = rows.Err(); err != nil {
		return nil, domain.NewBackingStoreError(err, "reading prices")
	}
	return prices, nil
}
