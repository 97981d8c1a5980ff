package plans

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"bnpl-engine/internal/domain/errs"
	"bnpl-engine/internal/domain/loan"

	"gopkg.in/yaml.v3"
)

func validate(p loan.Plan) error {
	switch {
	case p.ID == "":
		return fmt.Errorf("plan id required")
	case p.InstallmentCount <= 0 || p.TenureDays <= 0:
		return fmt.Errorf("plan %s: installment_count and tenure_days must be positive", p.ID)
	case p.DangerLimitBps >= p.LiquidationThresholdBps:
		return fmt.Errorf("plan %s: danger_limit_bps must be below liquidation_threshold_bps", p.ID)
	case p.LTVBps <= 0 || p.LTVBps > 10000 || p.LiquidationThresholdBps > 10000:
		return fmt.Errorf("plan %s: bps out of range", p.ID)
	}
	return nil
}

func builtin(id string, count, days int) loan.Plan {
	return loan.Plan{
		ID:                      id,
		InstallmentCount:        count,
		TenureDays:              days,
		LTVBps:                  5000,
		DangerLimitBps:          7500,
		LiquidationThresholdBps: 8500,
		GraceWindowHours:        72,
		LateFeeFlatMinor:        100,
		LateFeeBps:              200,
	}
}

var _ loan.PlanCatalog = (*Catalog)(nil)

type Catalog struct {
	mu    sync.RWMutex
	plans map[string]loan.Plan
}

// NewCatalog returns the built-in plans.
func NewCatalog() *Catalog {
	c := &Catalog{plans: map[string]loan.Plan{}}
	for _, p := range []loan.Plan{
		builtin("BNPL_4X", 4, 120),
		builtin("EMI_3M", 3, 90),
		builtin("EMI_6M", 6, 180),
		builtin("EMI_12M", 12, 360),
	} {
		c.plans[p.ID] = p
	}
	return c
}

type catalogFile struct {
	Plans []loan.Plan `yaml:"plans"`
}

// LoadFile merges plans from a YAML file over the built-ins. An empty path is a no-op.
func (c *Catalog) LoadFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read plan catalog: %w", err)
	}
	return c.Load(raw)
}

func (c *Catalog) Load(raw []byte) error {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse plan catalog: %w", err)
	}
	for i := range f.Plans {
		f.Plans[i].ID = strings.ToUpper(strings.TrimSpace(f.Plans[i].ID))
		if err := validate(f.Plans[i]); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range f.Plans {
		c.plans[p.ID] = p
	}
	return nil
}

func (c *Catalog) Lookup(planID string) (loan.Plan, error) {
	key := strings.ToUpper(strings.TrimSpace(planID))
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plans[key]
	if !ok {
		return loan.Plan{}, errs.Invalid("plan_id", fmt.Sprintf("unknown plan %q", planID))
	}
	return p, nil
}

func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.plans))
	for id := range c.plans {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
