package sim

// unitRates carries the flat per-unit hourly constants used for retail
// and service units, and as fallbacks when a production or extraction
// unit has no configured item mapping to price against.
type unitRates struct {
	FlatRevenuePerHour float64
	FlatCostPerHour    float64
}

var unitEconomics = map[UnitType]unitRates{
	UnitProduction: {FlatRevenuePerHour: 42, FlatCostPerHour: 18},
	UnitRetail:     {FlatRevenuePerHour: 30, FlatCostPerHour: 11},
	UnitService:    {FlatRevenuePerHour: 26, FlatCostPerHour: 8},
	UnitExtraction: {FlatRevenuePerHour: 38, FlatCostPerHour: 14},
}

// ComputeDemandForProduct sums, over every unit type enabled for the named
// sector, the input rate of the product multiplied by that unit type's
// count. Missing flow entries contribute zero and negative counts are
// clamped, matching the aggregation engine's defensive policy.
func ComputeDemandForProduct(cfg *EconomyConfig, sectorName, productName string, counts UnitCounts) float64 {
	if cfg == nil {
		return 0
	}
	sector, ok := cfg.Sectors[sectorName]
	if !ok {
		return 0
	}
	var total float64
	for _, ut := range AllUnitTypes {
		if !sector.Enabled[ut] {
			continue
		}
		n := clampCount(counts[FlowKey{Sector: sectorName, UnitType: ut}])
		if n == 0 {
			continue
		}
		rate := cfg.Flow(sectorName, ut).Inputs.ProductRates[productName]
		total += rate * float64(n)
	}
	return total
}

// UnitTypeFinancials is the revenue/cost contribution of one unit type
// within a market entry over a period.
type UnitTypeFinancials struct {
	UnitType      UnitType `json:"unit_type"`
	Count         int64    `json:"count"`
	Revenue       float64  `json:"revenue"`
	VariableCosts float64  `json:"variable_costs"`
}

// EntryFinancials is a corporation entry's economics over a period.
type EntryFinancials struct {
	EntryID       int64                `json:"entry_id"`
	StateCode     string               `json:"state_code"`
	SectorName    string               `json:"sector_name"`
	PeriodHours   float64              `json:"period_hours"`
	Revenue       float64              `json:"revenue"`
	VariableCosts float64              `json:"variable_costs"`
	Profit        float64              `json:"profit"`
	ByUnitType    []UnitTypeFinancials `json:"by_unit_type"`
}

// ComputeEntryFinancials computes revenue and variable costs for a single
// market entry over periodHours.
//
// Retail and service units use the flat hourly constants. Production units
// price their configured output and inputs at current prices, falling back
// to the flat constants when the sector has no produced-product mapping.
// Extraction units price their extracted resources at current prices with
// the flat fallback cost. Counts are clamped to zero or more before use;
// a negative count can never produce negative revenue or cost.
func ComputeEntryFinancials(entry MarketEntry, cfg *EconomyConfig, prices map[string]float64, periodHours float64) EntryFinancials {
	out := EntryFinancials{
		EntryID:     entry.ID,
		StateCode:   entry.StateCode,
		SectorName:  entry.SectorName,
		PeriodHours: periodHours,
	}
	if periodHours <= 0 || cfg == nil {
		return out
	}
	sector, ok := cfg.Sectors[entry.SectorName]
	if !ok {
		return out
	}

	for _, ut := range AllUnitTypes {
		n := clampCount(entry.Units[ut])
		if n == 0 || !sector.Enabled[ut] {
			continue
		}
		hourlyRev, hourlyCost := hourlyRates(sector, ut, cfg.Flow(entry.SectorName, ut), prices)
		scale := float64(n) * periodHours
		utf := UnitTypeFinancials{
			UnitType:      ut,
			Count:         n,
			Revenue:       hourlyRev * scale,
			VariableCosts: hourlyCost * scale,
		}
		out.Revenue += utf.Revenue
		out.VariableCosts += utf.VariableCosts
		out.ByUnitType = append(out.ByUnitType, utf)
	}
	out.Profit = out.Revenue - out.VariableCosts
	return out
}

func hourlyRates(sector Sector, ut UnitType, flow UnitFlow, prices map[string]float64) (rev, cost float64) {
	flat := unitEconomics[ut]
	switch ut {
	case UnitProduction:
		rate := flow.Outputs.ProductRates[sector.ProducedProduct]
		if sector.ProducedProduct == "" || rate <= 0 {
			return flat.FlatRevenuePerHour, flat.FlatCostPerHour
		}
		rev = rate * priceOrZero(prices, sector.ProducedProduct)
		for name, r := range flow.Inputs.ResourceRates {
			cost += r * priceOrZero(prices, name)
		}
		for name, r := range flow.Inputs.ProductRates {
			cost += r * priceOrZero(prices, name)
		}
		return rev, cost
	case UnitExtraction:
		for name, r := range flow.Outputs.ResourceRates {
			rev += r * priceOrZero(prices, name)
		}
		if rev == 0 {
			rev = flat.FlatRevenuePerHour
		}
		return rev, flat.FlatCostPerHour
	default:
		return flat.FlatRevenuePerHour, flat.FlatCostPerHour
	}
}

// priceOrZero defaults a missing price entry to zero; missing entries are
// data gaps surfaced by the audit pass, not errors.
func priceOrZero(prices map[string]float64, name string) float64 {
	p, ok := prices[name]
	if !ok || p < 0 {
		return 0
	}
	return p
}
