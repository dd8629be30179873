package sim

import (
	"math"
	"math/rand"
	"sort"
	"testing"
)

func testEconomy() *EconomyConfig {
	return &EconomyConfig{
		Version: 1,
		Sectors: map[string]Sector{
			"Oil & Gas": {
				Name:                 "Oil & Gas",
				Enabled:              map[UnitType]bool{UnitExtraction: true, UnitRetail: true},
				PrimaryResource:      "Oil",
				ExtractableResources: []string{"Oil"},
			},
			"Manufacturing": {
				Name:            "Manufacturing",
				Enabled:         map[UnitType]bool{UnitProduction: true, UnitRetail: true},
				ProducedProduct: "Manufactured Goods",
			},
			"Energy": {
				Name:            "Energy",
				Enabled:         map[UnitType]bool{UnitProduction: true},
				ProducedProduct: "Fuel",
			},
		},
		Flows: map[FlowKey]UnitFlow{
			{Sector: "Oil & Gas", UnitType: UnitExtraction}: {
				Outputs: FlowRates{ResourceRates: map[string]float64{"Oil": 4}},
			},
			{Sector: "Manufacturing", UnitType: UnitProduction}: {
				Inputs:  FlowRates{ProductRates: map[string]float64{"Steel": 0.5}},
				Outputs: FlowRates{ProductRates: map[string]float64{"Manufactured Goods": 1.0}},
			},
			{Sector: "Energy", UnitType: UnitProduction}: {
				Inputs:  FlowRates{ResourceRates: map[string]float64{"Oil": 2}},
				Outputs: FlowRates{ProductRates: map[string]float64{"Fuel": 1.5}},
			},
		},
		Resources: []Item{
			{Name: "Oil", Kind: KindResource, ReferencePrice: 75, MinPrice: 10},
			{Name: "Iron Ore", Kind: KindResource, ReferencePrice: 40, MinPrice: 5},
		},
		Products: []Item{
			{Name: "Steel", Kind: KindProduct, ReferencePrice: 120, MinPrice: 15},
			{Name: "Manufactured Goods", Kind: KindProduct, ReferencePrice: 200, MinPrice: 25},
			{Name: "Fuel", Kind: KindProduct, ReferencePrice: 90, MinPrice: 12},
		},
	}
}

func allItems(cfg *EconomyConfig) []Item {
	return append(append([]Item{}, cfg.Resources...), cfg.Products...)
}

func TestAggregateSinglePassTotals(t *testing.T) {
	cfg := testEconomy()
	counts := UnitCounts{
		{Sector: "Oil & Gas", UnitType: UnitExtraction}:     3,
		{Sector: "Manufacturing", UnitType: UnitProduction}: 2,
		{Sector: "Energy", UnitType: UnitProduction}:        1,
	}
	snap := Aggregate(counts, cfg, allItems(cfg))

	if got := snap.Supply["Oil"]; got != 12 {
		t.Fatalf("Oil supply: got %v want 12", got)
	}
	if got := snap.Demand["Oil"]; got != 2 {
		t.Fatalf("Oil demand: got %v want 2", got)
	}
	if got := snap.Supply["Manufactured Goods"]; got != 2 {
		t.Fatalf("Manufactured Goods supply: got %v want 2", got)
	}
	if got := snap.Demand["Steel"]; got != 1 {
		t.Fatalf("Steel demand: got %v want 1", got)
	}
	if got := snap.Supply["Fuel"]; got != 1.5 {
		t.Fatalf("Fuel supply: got %v want 1.5", got)
	}
}

func TestAggregateTracksEveryItem(t *testing.T) {
	cfg := testEconomy()
	snap := Aggregate(UnitCounts{}, cfg, allItems(cfg))
	for _, it := range allItems(cfg) {
		if _, ok := snap.Supply[it.Name]; !ok {
			t.Fatalf("supply map missing %q", it.Name)
		}
		if _, ok := snap.Demand[it.Name]; !ok {
			t.Fatalf("demand map missing %q", it.Name)
		}
	}
}

func TestAggregateNegativeCountClampsToZero(t *testing.T) {
	cfg := testEconomy()
	counts := UnitCounts{
		{Sector: "Manufacturing", UnitType: UnitProduction}: -5,
	}
	snap := Aggregate(counts, cfg, allItems(cfg))
	if got := snap.Supply["Manufactured Goods"]; got != 0 {
		t.Fatalf("negative count contributed supply %v", got)
	}
	if got := snap.Demand["Steel"]; got != 0 {
		t.Fatalf("negative count contributed demand %v", got)
	}
}

func TestAggregateSkipsDisabledAndUnknown(t *testing.T) {
	cfg := testEconomy()
	counts := UnitCounts{
		// extraction is not enabled for Manufacturing
		{Sector: "Manufacturing", UnitType: UnitExtraction}: 10,
		{Sector: "Atlantis", UnitType: UnitProduction}:      10,
	}
	snap := Aggregate(counts, cfg, allItems(cfg))
	for name, v := range snap.Supply {
		if v != 0 {
			t.Fatalf("unexpected supply for %q: %v", name, v)
		}
	}
	for name, v := range snap.Demand {
		if v != 0 {
			t.Fatalf("unexpected demand for %q: %v", name, v)
		}
	}
}

func TestAggregateNeverNegative(t *testing.T) {
	cfg := testEconomy()
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		counts := make(UnitCounts)
		for key := range cfg.Flows {
			counts[key] = rng.Int63n(41) - 20
		}
		snap := Aggregate(counts, cfg, allItems(cfg))
		for name, v := range snap.Supply {
			if v < 0 {
				t.Fatalf("trial %d: negative supply for %q: %v", trial, name, v)
			}
		}
		for name, v := range snap.Demand {
			if v < 0 {
				t.Fatalf("trial %d: negative demand for %q: %v", trial, name, v)
			}
		}
	}
}

func TestAggregateOrderIndependent(t *testing.T) {
	cfg := testEconomy()
	rng := rand.New(rand.NewSource(11))

	keys := make([]FlowKey, 0, len(cfg.Flows))
	for key := range cfg.Flows {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Sector != keys[j].Sector {
			return keys[i].Sector < keys[j].Sector
		}
		return keys[i].UnitType < keys[j].UnitType
	})

	values := make(map[FlowKey]int64, len(keys))
	for _, key := range keys {
		values[key] = rng.Int63n(1000)
	}
	build := func(order []FlowKey) UnitCounts {
		counts := make(UnitCounts, len(order))
		for _, key := range order {
			counts[key] = values[key]
		}
		return counts
	}

	// Censuses populated in explicitly shuffled orders must fold to the
	// same totals as the sorted baseline.
	first := Aggregate(build(keys), cfg, allItems(cfg))
	for trial := 0; trial < 20; trial++ {
		order := append([]FlowKey(nil), keys...)
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
		again := Aggregate(build(order), cfg, allItems(cfg))
		for name := range first.Supply {
			if math.Abs(first.Supply[name]-again.Supply[name]) > 1e-12 {
				t.Fatalf("trial %d: supply for %q varies with insertion order", trial, name)
			}
			if math.Abs(first.Demand[name]-again.Demand[name]) > 1e-12 {
				t.Fatalf("trial %d: demand for %q varies with insertion order", trial, name)
			}
		}
	}
}
