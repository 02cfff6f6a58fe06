package reconcile

import (
	"math"
	"sort"

	"github.com/dgraph-io/ristretto"
)

// PriceTolerance is the maximum distance between an observed unit
// price and a menu entry for the entry to count as a match. The same
// tolerance bounds the Total = Price x Quantity consistency check.
const PriceTolerance = 0.01

// MenuEntry is one known (price, item) pair of the fixed price menu.
type MenuEntry struct {
	Price float64
	Item  string
}

// PriceMenu resolves unit prices to item names and item names back to
// unit prices. Entries keep a stable order: when several entries match
// a price within tolerance, the first one in menu order wins. Lookups
// are cached since the same handful of prices repeats across the
// whole batch.
type PriceMenu struct {
	entries []MenuEntry
	byItem  map[string]float64
	cache   *ristretto.Cache
}

// NewPriceMenu builds a menu from entries in the given order.
func NewPriceMenu(entries []MenuEntry) (*PriceMenu, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	m := &PriceMenu{
		entries: make([]MenuEntry, len(entries)),
		byItem:  make(map[string]float64, len(entries)),
		cache:   cache,
	}
	copy(m.entries, entries)
	for _, e := range entries {
		if _, ok := m.byItem[e.Item]; !ok {
			m.byItem[e.Item] = e.Price
		}
	}
	return m, nil
}

// PriceMenuFromMap builds a menu from a price-to-item mapping. Map
// iteration order is not stable in Go, so entries are ordered by
// ascending price to keep tie-breaking deterministic.
func PriceMenuFromMap(prices map[float64]string) (*PriceMenu, error) {
	entries := make([]MenuEntry, 0, len(prices))
	for price, item := range prices {
		entries = append(entries, MenuEntry{Price: price, Item: item})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Price < entries[j].Price })
	return NewPriceMenu(entries)
}

// Len returns the number of menu entries.
func (m *PriceMenu) Len() int {
	return len(m.entries)
}

// ItemFor returns the item mapped to the first menu entry whose price
// is within tolerance of the given price. The cache key is the exact
// bit pattern of the price: distinct prices never share an entry, so
// a cached answer for one price cannot leak to a nearby one on the
// other side of the tolerance boundary.
func (m *PriceMenu) ItemFor(price float64) (string, bool) {
	key := math.Float64bits(price)
	if cached, ok := m.cache.Get(key); ok {
		item := cached.(string)
		return item, item != ""
	}
	item := ""
	for _, e := range m.entries {
		if math.Abs(e.Price-price) <= PriceTolerance+1e-9 {
			item = e.Item
			break
		}
	}
	m.cache.Set(key, item, 1)
	return item, item != ""
}

// PriceFor returns the known unit price for an item name.
func (m *PriceMenu) PriceFor(item string) (float64, bool) {
	price, ok := m.byItem[item]
	return price, ok
}
