package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"bnpl-engine/internal/domain/errs"
	domain "bnpl-engine/internal/domain/risk"
	"bnpl-engine/internal/observability"

	"github.com/sirupsen/logrus"
)

const (
	SourceModel = "model"
	SourceRules = "rules"
)

// HTTPScorer posts Features to a remote model and expects
// {"tier":"LOW","probability":0.07}.
type HTTPScorer struct {
	url    string
	client *http.Client
}

func NewHTTPScorer(url string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPScorer{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPScorer) Score(ctx context.Context, f domain.Features) (domain.Score, error) {
	var out domain.Score
	payload, err := json.Marshal(f)
	if err != nil {
		return out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return out, errs.External("risk", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return out, errs.External("risk", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, errs.External("risk", fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, errs.External("risk", fmt.Errorf("failed to parse score: %w", err))
	}
	switch out.Tier {
	case domain.TierLow, domain.TierMedium, domain.TierHigh:
	default:
		return out, errs.External("risk", fmt.Errorf("unknown tier %q", out.Tier))
	}
	if out.Probability < 0 || out.Probability > 1 {
		return out, errs.External("risk", fmt.Errorf("probability %v out of range", out.Probability))
	}
	out.Source = SourceModel
	return out, nil
}

// RuleScorer is deterministic: the same features always give the same score.
type RuleScorer struct{}

func (RuleScorer) Score(_ context.Context, f domain.Features) (domain.Score, error) {
	points := 0

	count := f.InstallmentCount
	if count <= 0 {
		count = 1
	}
	perInstallment := f.PrincipalMinor / int64(count)
	switch {
	case f.MonthlyIncomeMinor <= 0:
		points += 2
	case perInstallment*2 > f.MonthlyIncomeMinor:
		points += 2
	case perInstallment*10 > f.MonthlyIncomeMinor*3:
		points++
	}

	points += 2 * min(f.PriorDefaults, 2)
	if f.AccountAgeDays < 90 {
		points++
	}
	if f.ExistingActiveLoans >= 3 {
		points++
	}

	tier := domain.TierLow
	switch {
	case points >= 4:
		tier = domain.TierHigh
	case points >= 2:
		tier = domain.TierMedium
	}
	p := math.Min(0.95, 0.05+0.1*float64(points))
	return domain.Score{Tier: tier, Probability: math.Round(p*100) / 100, Source: SourceRules}, nil
}

// FallbackScorer degrades to RuleScorer whenever the primary fails.
type FallbackScorer struct {
	primary domain.Scorer
	rules   RuleScorer
	log     *logrus.Logger
	metrics *observability.Metrics
}

func NewFallbackScorer(primary domain.Scorer, log *logrus.Logger, m *observability.Metrics) *FallbackScorer {
	return &FallbackScorer{primary: primary, log: log, metrics: m}
}

func (s *FallbackScorer) Score(ctx context.Context, f domain.Features) (domain.Score, error) {
	if s.primary != nil {
		out, err := s.primary.Score(ctx, f)
		if err == nil {
			return out, nil
		}
		s.metrics.Fallback("risk")
		if s.log != nil {
			s.log.WithError(err).WithField("borrower", f.BorrowerID).Warn("risk model unavailable, using rules")
		}
	}
	return s.rules.Score(ctx, f)
}
