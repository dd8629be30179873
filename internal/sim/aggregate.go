package sim

// SupplyDemandSnapshot holds economy-wide supply and demand totals for every
// tracked item, computed from one unit-count read. It is always recomputed
// wholesale; patching it incrementally would let supply and demand drift
// apart across different census reads.
type SupplyDemandSnapshot struct {
	Supply map[string]float64
	Demand map[string]float64
}

// Aggregate folds the unit census over the configuration graph and returns
// both supply and demand for every item in items, in a single pass.
//
// The fold commutes: summation over (sector, unitType) pairs is
// order-independent, so map iteration order never changes the result.
// Pairs with zero or missing counts contribute nothing, negative counts are
// clamped to zero, and unit types not enabled for their sector contribute
// zero regardless of count.
func Aggregate(counts UnitCounts, cfg *EconomyConfig, items []Item) SupplyDemandSnapshot {
	snap := SupplyDemandSnapshot{
		Supply: make(map[string]float64, len(items)),
		Demand: make(map[string]float64, len(items)),
	}
	for _, it := range items {
		snap.Supply[it.Name] = 0
		snap.Demand[it.Name] = 0
	}
	if cfg == nil {
		return snap
	}

	for key, raw := range counts {
		n := clampCount(raw)
		if n == 0 {
			continue
		}
		sector, ok := cfg.Sectors[key.Sector]
		if !ok || !sector.Enabled[key.UnitType] {
			continue
		}
		flow := cfg.Flows[key]
		addRates(snap.Supply, flow.Outputs.ResourceRates, n)
		addRates(snap.Supply, flow.Outputs.ProductRates, n)
		addRates(snap.Demand, flow.Inputs.ResourceRates, n)
		addRates(snap.Demand, flow.Inputs.ProductRates, n)
	}
	return snap
}

func addRates(total map[string]float64, rates map[string]float64, count int64) {
	for name, rate := range rates {
		if _, tracked := total[name]; !tracked {
			// Flow references an item outside the tracked universe;
			// skip rather than grow the snapshot.
			continue
		}
		total[name] += rate * float64(count)
	}
}
