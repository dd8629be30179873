package sim

import "math"

// PriceQuote is the current price of one item derived from a supply/demand
// snapshot.
type PriceQuote struct {
	Item           string  `json:"item"`
	CurrentPrice   float64 `json:"current_price"`
	ReferencePrice float64 `json:"reference_price"`
	ScarcityFactor float64 `json:"scarcity_factor"`
	Supply         float64 `json:"supply"`
	Demand         float64 `json:"demand"`
}

// Pricer maps (reference price, supply, demand) to a current price.
//
// scarcity = demand / max(epsilon, supply), optionally capped at
// MaxScarcity; current = max(minPrice, reference × scarcity). The result is
// monotonically increasing in demand and decreasing in supply, with a hard
// floor at the item's minimum price.
type Pricer struct {
	// Epsilon guards the division when supply is zero. Must be > 0.
	Epsilon float64
	// MaxScarcity caps the scarcity multiplier. A value <= 0 disables
	// the cap.
	MaxScarcity float64
}

// DefaultPricer matches the tunables the engine ships with.
func DefaultPricer() Pricer {
	return Pricer{Epsilon: 0.01, MaxScarcity: 10.0}
}

// Price never fails: every degenerate input (zero supply, zero demand,
// negative figures from bad upstream data) has a defined numeric output.
func (p Pricer) Price(item Item, supply, demand float64) PriceQuote {
	if supply < 0 {
		supply = 0
	}
	if demand < 0 {
		demand = 0
	}
	eps := p.Epsilon
	if eps <= 0 {
		eps = 0.01
	}
	scarcity := demand / math.Max(eps, supply)
	if p.MaxScarcity > 0 && scarcity > p.MaxScarcity {
		scarcity = p.MaxScarcity
	}
	current := item.ReferencePrice * scarcity
	if current < item.MinPrice {
		current = item.MinPrice
	}
	return PriceQuote{
		Item:           item.Name,
		CurrentPrice:   current,
		ReferencePrice: item.ReferencePrice,
		ScarcityFactor: scarcity,
		Supply:         supply,
		Demand:         demand,
	}
}
