package auditlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"corpsim/internal/sim"
)

func TestAppendAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	lines := []sim.AuditLine{
		{RunID: "run-1", Marker: "start", Match: true, At: at},
		{RunID: "run-1", Marker: "item", Universe: sim.KindResource, Item: "Oil",
			CachedSupply: 12, FreshSupply: 12, Match: true, At: at},
		{RunID: "run-1", Marker: "end", Match: true, At: at},
	}
	for _, line := range lines {
		if err := sink.Append(line); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := sink.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(lines) {
		t.Fatalf("got %d lines want %d", len(got), len(lines))
	}
	if got[1].Item != "Oil" || got[1].CachedSupply != 12 {
		t.Fatalf("line round trip: %+v", got[1])
	}
	if got[0].Marker != "start" || got[2].Marker != "end" {
		t.Fatalf("marker order: %+v", got)
	}
}

func TestAppendKeepsZeroFigures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	// An item with no supply and no demand is a real observation; its
	// figures must appear in the line rather than vanish.
	line := sim.AuditLine{
		RunID:    "run-2",
		Marker:   "item",
		Universe: sim.KindProduct,
		Item:     "Electronics",
		Match:    true,
		At:       time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
	}
	if err := sink.Append(line); err != nil {
		t.Fatalf("append: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	for _, field := range []string{
		`"cached_supply":0`, `"cached_demand":0`, `"cached_price":0`,
		`"fresh_supply":0`, `"fresh_demand":0`, `"fresh_price":0`,
	} {
		if !strings.Contains(string(raw), field) {
			t.Fatalf("audit line dropped %s: %s", field, raw)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	sink, err := NewFileSink(filepath.Join(t.TempDir(), "never-written.jsonl"))
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	got, err := sink.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty history, got %d", len(got))
	}
}
