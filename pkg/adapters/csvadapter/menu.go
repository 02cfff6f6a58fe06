package csvadapter

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/oarkflow/convert"

	"github.com/oarkflow/retail/pkg/reconcile"
)

// LoadPriceMenu reads the fixed price-to-item configuration table
// from a two-column CSV (price, item). Entries keep file order, which
// is also the tie-break order for near-equal prices. A header row is
// detected by a non-numeric first cell and skipped.
func LoadPriceMenu(filename string) (*reconcile.PriceMenu, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open price menu: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read price menu: %w", err)
	}

	var entries []reconcile.MenuEntry
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("price menu row %d has %d columns, want 2", i+1, len(row))
		}
		priceField := strings.TrimSpace(row[0])
		item := strings.TrimSpace(row[1])
		price, ok := convert.ToFloat64(priceField)
		if !ok {
			if i == 0 {
				continue // header
			}
			return nil, fmt.Errorf("price menu row %d: invalid price %q", i+1, priceField)
		}
		if item == "" {
			return nil, fmt.Errorf("price menu row %d: empty item name", i+1)
		}
		entries = append(entries, reconcile.MenuEntry{Price: price, Item: item})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("price menu %s has no entries", filename)
	}
	return reconcile.NewPriceMenu(entries)
}
