package domain

import (
	"github.com/shopspring/decimal"
)

type Signer struct {
	ID     int64
	Name   string
	Key    []byte
	Points int64
}

type PricePoint struct {
	Price   decimal.Decimal
	Block   int64
	Signers int64
	Asset   *string
}

type Stats struct {
	Datapoints  int64 `json:"datapoints"`
	Validations int64 `json:"validations"`
}

// SignerView is a signer as it is shown on the dashboard. The raw key is replaced
// by its display address.
type SignerView struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Key    string `json:"key"`
	Points int64  `json:"points"`
}

type PriceView struct {
	Price   decimal.Decimal `json:"price"`
	Block   int64           `json:"block"`
	Signers int64           `json:"signers"`
	Asset   *string         `json:"asset,omitempty"`
}

// Snapshot holds the result of one refresh. It is never modified after creation so that
// it can be shared between all requests of an epoch.
type Snapshot struct {
	Signers []SignerView `json:"signers"`
	Prices  []PriceView  `json:"prices"`
	Stats   Stats        `json:"stats"`
}

func NewSignerViews(signers []Signer) []SignerView {
	views := make([]SignerView, 0, len(signers))
	for _, signer := range signers {
		views = append(views, SignerView{
			ID:     signer.ID,
			Name:   signer.Name,
			Key:    FormatAddress(signer.Key),
			Points: signer.Points,
		})
	}
	return views
}

func NewPriceViews(prices []PricePoint) []PriceView {
	views := make([]PriceView, 0, len(prices))
	for _, price := range prices {
		views = append(views, PriceView{
			Price:   price.Price,
			Block:   price.Block,
			Signers: price.Signers,
			Asset:   price.Asset,
		})
	}
	return views
}
