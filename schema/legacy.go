package schema

import (
	"context"

	"github.com/kenshi-labs/unchained-dashboard/domain"
	"github.com/pkg/errors"
)

const (
	legacyPriceTable      = "AssetPrice"
	legacySignaturesTable = "SignersOnAssetPrice"
)

// DefaultLegacyWindow is two days of blocks.
const DefaultLegacyWindow = 2 * 7200

const legacySignersQuery = `SELECT id, name, key, points FROM "Signer" ORDER BY id`

// signer count is derived from the confirmation join table
const legacyPricesQuery = `
SELECT p.price, p.block, COUNT(s."assetPriceId")
FROM "AssetPrice" p
LEFT JOIN "SignersOnAssetPrice" s ON s."assetPriceId" = p.id
GROUP BY p.id, p.price, p.block
ORDER BY p.block DESC, p.id DESC
LIMIT ?`

// Legacy is the first schema generation. It has no asset attribution and no consensus flag.
type Legacy struct {
	querier Querier
	window  int
}

func NewLegacy(querier Querier, window int) *Legacy {
	if window <= 0 {
		window = DefaultLegacyWindow
	}
	return &Legacy{querier: querier, window: window}
}

func (l *Legacy) Name() string {
	return LegacyName
}

func (l *Legacy) PriceWindow() int {
	return l.window
}

func (l *Legacy) PriceTables() []string {
	return []string{legacyPriceTable}
}

func (l *Legacy) ValidationTables() []string {
	return []string{legacySignaturesTable}
}

func (l *Legacy) Signers(ctx context.Context) ([]domain.Signer, error) {
	return querySigners(ctx, l.querier, legacySignersQuery)
}

func (l *Legacy) Prices(ctx context.Context) ([]domain.PricePoint, error) {
	rows, err := l.querier.Query(ctx, legacyPricesQuery, l.window)
	if err != nil {
		return nil, errors.Wrap(err, "querying legacy prices")
	}
	defer rows.Close()

	prices := make([]domain.PricePoint, 0, l.window)
	for rows.Next() {
		var price domain.PricePoint
		err = rows.Scan(&price.Price, &price.Block, &price.Signers)
		if err != nil {
			return nil, domain.NewBackingStoreError(err, "scanning legacy price")
		}
		prices = append(prices, price)
	}
	if err = rows.Err(); err != nil {
		return nil, domain.NewBackingStoreError(err, "reading legacy prices")
	}
	return prices, nil
}
