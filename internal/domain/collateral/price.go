package collateral

import (
	"context"

	"github.com/shopspring/decimal"
)

// Price is one asset quote in the loan currency's major unit.
type Price struct {
	Price       decimal.Decimal `json:"price"`
	LastUpdated int64           `json:"last_updated"`
}

// PriceFeed returns the latest quote per supported asset.
type PriceFeed interface {
	GetPrices(ctx context.Context) (map[string]Price, error)
}
