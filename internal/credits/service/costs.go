package service

import "github.com/inkflow-ai/inkflow/internal/config"

// CostTable maps operation type to credit cost.
type CostTable map[string]int64

// CostFor returns the configured cost for an operation. The second return is
// false when no price is configured; callers default to 1 so missing pricing
// metadata never hard-fails an operation.
func (t CostTable) CostFor(operationType string) (int64, bool) {
	cost, ok := t[operationType]
	return cost, ok
}

func ProvideCostTable(cfg config.Config) CostTable {
	return CostTable(cfg.Costs)
}
