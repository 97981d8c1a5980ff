package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"bnpl-engine/internal/domain/collateral"
	"bnpl-engine/internal/domain/errs"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var _ collateral.PriceFeed = (*HTTPOracle)(nil)

// HTTPOracle reads {"prices":{"ETH":{"price":"2500.5","last_updated":1736123456}}}
// from a price service.
type HTTPOracle struct {
	url    string
	client *http.Client
	log    *logrus.Logger
}

func NewHTTPOracle(url string, timeout time.Duration, log *logrus.Logger) *HTTPOracle {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPOracle{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

type pricesResponse struct {
	Prices map[string]collateral.Price `json:"prices"`
}

func (o *HTTPOracle) GetPrices(ctx context.Context) (map[string]collateral.Price, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return nil, errs.External("oracle", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, errs.External("oracle", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.External("oracle", fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.External("oracle", fmt.Errorf("failed to read response: %w", err))
	}
	var out pricesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errs.External("oracle", fmt.Errorf("failed to parse prices: %w", err))
	}
	if o.log != nil {
		o.log.WithField("assets", len(out.Prices)).Debug("oracle prices fetched")
	}
	return normalise(out.Prices), nil
}

func normalise(in map[string]collateral.Price) map[string]collateral.Price {
	out := make(map[string]collateral.Price, len(in))
	for k, v := range in {
		out[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return out
}

// StaticOracle serves fixed quotes. Set replaces one.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]collateral.Price
	err    error
}

func NewStaticOracle(prices map[string]collateral.Price) *StaticOracle {
	return &StaticOracle{prices: normalise(prices)}
}

func (o *StaticOracle) Set(asset string, price decimal.Decimal, lastUpdated time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[strings.ToUpper(asset)] = collateral.Price{Price: price, LastUpdated: lastUpdated.Unix()}
}

// Fail makes every GetPrices call return err until cleared with nil.
func (o *StaticOracle) Fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *StaticOracle) GetPrices(context.Context) (map[string]collateral.Price, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.err != nil {
		return nil, errs.External("oracle", o.err)
	}
	out := make(map[string]collateral.Price, len(o.prices))
	for k, v := range o.prices {
		out[k] = v
	}
	return out, nil
}
