package sim

import "testing"

func TestValidateUnitType(t *testing.T) {
	for _, ut := range AllUnitTypes {
		if err := ValidateUnitType(ut); err != nil {
			t.Fatalf("expected %q to be valid: %v", ut, err)
		}
	}
	for _, ut := range []UnitType{"", "factory", "PRODUCTION", "wholesale"} {
		if err := ValidateUnitType(ut); err == nil {
			t.Fatalf("expected %q to fail", ut)
		}
	}
}

func TestValidateStateCode(t *testing.T) {
	for _, code := range []string{"TX", "CA", "NY", " WA "} {
		if err := ValidateStateCode(code); err != nil {
			t.Fatalf("expected %q to be valid: %v", code, err)
		}
	}
	for _, code := range []string{"", "T", "TEX", "tx", "T1"} {
		if err := ValidateStateCode(code); err == nil {
			t.Fatalf("expected %q to fail", code)
		}
	}
}

func TestMicrosConversion(t *testing.T) {
	tests := []struct {
		dollars float64
		micros  int64
	}{
		{dollars: 0, micros: 0},
		{dollars: 1, micros: 1_000_000},
		{dollars: 56.25, micros: 56_250_000},
		{dollars: -12.5, micros: -12_500_000},
	}
	for _, tc := range tests {
		if got := DollarsToMicros(tc.dollars); got != tc.micros {
			t.Fatalf("DollarsToMicros(%v) = %d want %d", tc.dollars, got, tc.micros)
		}
		if got := MicrosToDollars(tc.micros); got != tc.dollars {
			t.Fatalf("MicrosToDollars(%d) = %v want %v", tc.micros, got, tc.dollars)
		}
	}
}

func TestRoundCents(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{in: 10.004, want: 10.0},
		{in: 10.006, want: 10.01},
		{in: 56.2525, want: 56.25},
		{in: 0.994999, want: 0.99},
	}
	for _, tc := range tests {
		if got := RoundCents(tc.in); got != tc.want {
			t.Fatalf("RoundCents(%v) = %v want %v", tc.in, got, tc.want)
		}
	}
}

func TestEconomyConfigFlowLookup(t *testing.T) {
	cfg := testEconomy()
	flow := cfg.Flow("Manufacturing", UnitProduction)
	if flow.Outputs.ProductRates["Manufactured Goods"] != 1.0 {
		t.Fatalf("configured flow not returned")
	}

	// Absent pairs yield a zero flow, not an error.
	empty := cfg.Flow("Manufacturing", UnitService)
	if len(empty.Inputs.ProductRates) != 0 || len(empty.Outputs.ProductRates) != 0 {
		t.Fatalf("missing flow is not zero: %+v", empty)
	}
}

func TestItemByName(t *testing.T) {
	cfg := testEconomy()
	if it, ok := cfg.ItemByName("Oil"); !ok || it.Kind != KindResource {
		t.Fatalf("Oil lookup failed: %+v ok=%v", it, ok)
	}
	if it, ok := cfg.ItemByName("Steel"); !ok || it.Kind != KindProduct {
		t.Fatalf("Steel lookup failed: %+v ok=%v", it, ok)
	}
	if _, ok := cfg.ItemByName("Unobtainium"); ok {
		t.Fatalf("unknown item resolved")
	}
}
