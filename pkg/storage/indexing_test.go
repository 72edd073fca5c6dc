package storage

import (
	"testing"

	"github.com/vjranagit/absorb/pkg/coverage"
	"github.com/vjranagit/absorb/pkg/types"
)

func trackedTable(source, table string, params map[string]string) types.TrackedTable {
	return types.TrackedTable{
		Ref:        types.TableRef{Source: source, Table: table},
		Format:     coverage.Scalar(coverage.Day),
		Parameters: params,
	}
}

func TestCatalogAdd(t *testing.T) {
	catalog := NewCatalog()
	table := trackedTable("binance", "candles", map[string]string{"pair": "BTCUSDT", "interval": "1d"})

	id, err := catalog.Add(table)
	if err != nil {
		t.Fatalf("Failed to add table: %v", err)
	}
	if id == 0 {
		t.Error("Expected non-zero fingerprint")
	}

	// Adding the same table again returns the same fingerprint
	id2, err := catalog.Add(table)
	if err != nil {
		t.Fatalf("Failed to add table again: %v", err)
	}
	if id != id2 {
		t.Errorf("Expected same fingerprint for duplicate table: %d != %d", id, id2)
	}
	if catalog.Len() != 1 {
		t.Errorf("Expected 1 table, got %d", catalog.Len())
	}

	changed := trackedTable("binance", "candles", map[string]string{"pair": "ETHUSDT"})
	if _, err := catalog.Add(changed); err == nil {
		t.Error("Expected error when redefining a tracked table")
	}

	entry, ok := catalog.Get(table.Ref)
	if !ok {
		t.Fatal("Expected to find tracked table")
	}
	if entry.Fingerprint != id || entry.Table.Parameters["pair"] != "BTCUSDT" {
		t.Errorf("Unexpected entry %+v", entry)
	}
}

func TestCatalogFind(t *testing.T) {
	catalog := NewCatalog()
	tables := []types.TrackedTable{
		trackedTable("binance", "candles_btc", map[string]string{"pair": "BTCUSDT", "interval": "1d"}),
		trackedTable("binance", "candles_eth", map[string]string{"pair": "ETHUSDT", "interval": "1d"}),
		trackedTable("binance", "candles_btc_1h", map[string]string{"pair": "BTCUSDT", "interval": "1h"}),
		trackedTable("kalshi", "metrics", nil),
	}
	for _, table := range tables {
		if _, err := catalog.Add(table); err != nil {
			t.Fatalf("Failed to add %s: %v", table.Ref, err)
		}
	}

	testCases := []struct {
		name      string
		selectors map[string]string
		want      []string
	}{
		{"all", nil, []string{"binance/candles_btc", "binance/candles_btc_1h", "binance/candles_eth", "kalshi/metrics"}},
		{"single param", map[string]string{"pair": "BTCUSDT"}, []string{"binance/candles_btc", "binance/candles_btc_1h"}},
		{"two params", map[string]string{"pair": "BTCUSDT", "interval": "1d"}, []string{"binance/candles_btc"}},
		{"no match", map[string]string{"pair": "SOLUSDT"}, nil},
		{"unknown param", map[string]string{"venue": "x"}, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := catalog.Find(tc.selectors)
			if len(got) != len(tc.want) {
				t.Fatalf("Expected %d tables, got %d", len(tc.want), len(got))
			}
			for i, ref := range tc.want {
				if got[i].Table.Ref.String() != ref {
					t.Errorf("Table %d: expected %s, got %s", i, ref, got[i].Table.Ref)
				}
			}
		})
	}

	if got := catalog.BySource("kalshi"); len(got) != 1 {
		t.Errorf("Expected 1 kalshi table, got %d", len(got))
	}
}

func TestFingerprintStable(t *testing.T) {
	a := trackedTable("s", "t", map[string]string{"a": "1", "b": "2"})
	b := trackedTable("s", "t", map[string]string{"b": "2", "a": "1"})
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("Fingerprint depends on parameter order")
	}

	c := trackedTable("s", "t", map[string]string{"a": "1", "b": "3"})
	if Fingerprint(a) == Fingerprint(c) {
		t.Error("Different parameters produced the same fingerprint")
	}

	d := a
	d.Format = coverage.Scalar(coverage.Month)
	if Fingerprint(a) == Fingerprint(d) {
		t.Error("Different formats produced the same fingerprint")
	}
}

func TestIntersect(t *testing.T) {
	a := []uint64{5, 1, 3}
	b := []uint64{3, 4, 5}
	got := intersect(a, b)
	if len(got) != 2 || got[0] != 3 || got[1] != 5 {
		t.Errorf("Expected [3 5], got %v", got)
	}
	if a[0] != 5 {
		t.Error("intersect must not reorder its inputs")
	}
}
