package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bnpl-engine/internal/domain/errs"
	"bnpl-engine/internal/domain/payment"
	"bnpl-engine/internal/observability"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	_ payment.Gateway = (*HTTPGateway)(nil)
	_ payment.Gateway = (*SimulatedGateway)(nil)
	_ payment.Gateway = (*FallbackGateway)(nil)
)

// HTTPGateway talks JSON to the payment provider, authenticated by API key.
type HTTPGateway struct {
	baseURL string
	key     string
	client  *http.Client
	log     *logrus.Logger
}

func NewHTTPGateway(baseURL, key string, timeout time.Duration, log *logrus.Logger) *HTTPGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

func (g *HTTPGateway) post(ctx context.Context, path string, in any) (payment.Result, error) {
	var out payment.Result
	payload, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return out, errs.External("gateway", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.key)

	resp, err := g.client.Do(req)
	if err != nil {
		return out, errs.External("gateway", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, errs.External("gateway", fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode/100 != 2 {
		return out, errs.External("gateway", fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, errs.External("gateway", fmt.Errorf("failed to parse response: %w", err))
	}
	if out.ID == "" {
		return out, errs.External("gateway", fmt.Errorf("response without id"))
	}
	if g.log != nil {
		g.log.WithFields(logrus.Fields{"path": path, "gateway_id": out.ID}).Debug("gateway call ok")
	}
	return out, nil
}

func (g *HTTPGateway) CreateOrder(ctx context.Context, req payment.OrderRequest) (payment.Result, error) {
	return g.post(ctx, "/orders", req)
}

func (g *HTTPGateway) CreateRefund(ctx context.Context, req payment.RefundRequest) (payment.Result, error) {
	return g.post(ctx, "/refunds", req)
}

func (g *HTTPGateway) CreatePaymentLink(ctx context.Context, req payment.LinkRequest) (payment.Result, error) {
	return g.post(ctx, "/payment_links", req)
}

// SimulatedGateway records nothing remotely and returns sim_ identifiers.
type SimulatedGateway struct{}

func simID(kind string) string {
	return "sim_" + kind + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func (SimulatedGateway) CreateOrder(_ context.Context, req payment.OrderRequest) (payment.Result, error) {
	return payment.Result{ID: simID("order"), Status: "created", Simulated: true}, nil
}

func (SimulatedGateway) CreateRefund(_ context.Context, req payment.RefundRequest) (payment.Result, error) {
	return payment.Result{ID: simID("refund"), Status: "processed", Simulated: true}, nil
}

func (SimulatedGateway) CreatePaymentLink(_ context.Context, req payment.LinkRequest) (payment.Result, error) {
	id := simID("link")
	return payment.Result{ID: id, URL: "https://pay.invalid/" + id, Status: "created", Simulated: true}, nil
}

// FallbackGateway calls primary and answers from SimulatedGateway when it fails.
type FallbackGateway struct {
	primary payment.Gateway
	sim     SimulatedGateway
	log     *logrus.Logger
	metrics *observability.Metrics
}

func NewFallbackGateway(primary payment.Gateway, log *logrus.Logger, m *observability.Metrics) *FallbackGateway {
	return &FallbackGateway{primary: primary, log: log, metrics: m}
}

func (g *FallbackGateway) fellBack(call, ref string, err error) {
	g.metrics.Fallback("gateway")
	if g.log != nil {
		g.log.WithError(err).WithFields(logrus.Fields{"call": call, "reference": ref}).
			Warn("gateway unavailable, recording simulation")
	}
}

func (g *FallbackGateway) CreateOrder(ctx context.Context, req payment.OrderRequest) (payment.Result, error) {
	if g.primary != nil {
		res, err := g.primary.CreateOrder(ctx, req)
		if err == nil {
			return res, nil
		}
		g.fellBack("order", req.Reference, err)
	}
	return g.sim.CreateOrder(ctx, req)
}

func (g *FallbackGateway) CreateRefund(ctx context.Context, req payment.RefundRequest) (payment.Result, error) {
	if g.primary != nil {
		res, err := g.primary.CreateRefund(ctx, req)
		if err == nil {
			return res, nil
		}
		g.fellBack("refund", req.Reference, err)
	}
	return g.sim.CreateRefund(ctx, req)
}

func (g *FallbackGateway) CreatePaymentLink(ctx context.Context, req payment.LinkRequest) (payment.Result, error) {
	if g.primary != nil {
		res, err := g.primary.CreatePaymentLink(ctx, req)
		if err == nil {
			return res, nil
		}
		g.fellBack("payment_link", req.Reference, err)
	}
	return g.sim.CreatePaymentLink(ctx, req)
}
