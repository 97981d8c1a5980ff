package loan

// Plan carries the loan parameter defaults of one EMI/BNPL product.
type Plan struct {
	ID                      string `yaml:"id" json:"id"`
	InstallmentCount        int    `yaml:"installment_count" json:"installment_count"`
	TenureDays              int    `yaml:"tenure_days" json:"tenure_days"`
	LTVBps                  int    `yaml:"ltv_bps" json:"ltv_bps"`
	DangerLimitBps          int    `yaml:"danger_limit_bps" json:"danger_limit_bps"`
	LiquidationThresholdBps int    `yaml:"liquidation_threshold_bps" json:"liquidation_threshold_bps"`
	GraceWindowHours        int    `yaml:"grace_window_hours" json:"grace_window_hours"`
	LateFeeFlatMinor        int64  `yaml:"late_fee_flat_minor" json:"late_fee_flat_minor"`
	LateFeeBps              int    `yaml:"late_fee_bps" json:"late_fee_bps"`
}

// PlanCatalog resolves a plan id to its defaults. Unknown ids are a
// validation error.
type PlanCatalog interface {
	Lookup(planID string) (Plan, error)
}
