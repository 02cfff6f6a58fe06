package normalize

import (
	"fmt"
	"strconv"

	"github.com/oarkflow/errors"

	"github.com/oarkflow/retail/pkg/models"
)

// Dimension names used with a KeyAllocator.
const (
	DimCategory      = "category"
	DimLocation      = "location"
	DimPaymentMethod = "payment_method"
	DimItem          = "item"
)

// KeyAllocator maps a natural key to a surrogate integer key within a
// dimension. firstSeen reports whether the allocator had not seen the
// key before. The default allocator is batch-local; a persistent one
// (FileKeyStore) keeps surrogate keys stable across runs.
type KeyAllocator interface {
	Resolve(dimension, naturalKey string) (id int, firstSeen bool)
}

type memoryAllocator struct {
	keys map[string]map[string]int
	next map[string]int
}

func newMemoryAllocator() *memoryAllocator {
	return &memoryAllocator{
		keys: make(map[string]map[string]int),
		next: make(map[string]int),
	}
}

func (a *memoryAllocator) Resolve(dimension, naturalKey string) (int, bool) {
	dim, ok := a.keys[dimension]
	if !ok {
		dim = make(map[string]int)
		a.keys[dimension] = dim
	}
	if id, ok := dim[naturalKey]; ok {
		return id, false
	}
	a.next[dimension]++
	id := a.next[dimension]
	dim[naturalKey] = id
	return id, true
}

type normalizer struct {
	alloc KeyAllocator
}

type Option func(*normalizer)

// WithKeyStore injects an external natural-key to surrogate-key
// mapping so that re-runs over overlapping data reuse prior keys.
func WithKeyStore(alloc KeyAllocator) Option {
	return func(n *normalizer) {
		n.alloc = alloc
	}
}

// Normalize decomposes clean rows into the five reference tables plus
// the fact table, in a single pass over rows in input order.
// Reference entities are emitted once per distinct natural key, in
// first-seen order; every fact row's foreign keys are resolved from
// the same pass. The returned dataset is checked for referential
// integrity before being handed back: a dangling key is a normalizer
// defect and surfaces as an error, never as silently repaired output.
func Normalize(rows []models.CleanTransaction, opts ...Option) (*models.Dataset, error) {
	n := &normalizer{alloc: newMemoryAllocator()}
	for _, opt := range opts {
		opt(n)
	}

	ds := &models.Dataset{}
	seenCategories := make(map[string]bool)
	seenLocations := make(map[string]bool)
	seenPayments := make(map[string]bool)
	seenCustomers := make(map[string]bool)
	seenItems := make(map[string]bool)

	for _, row := range rows {
		catID, _ := n.alloc.Resolve(DimCategory, row.Category)
		if !seenCategories[row.Category] {
			seenCategories[row.Category] = true
			ds.Categories = append(ds.Categories, models.Category{CategoryID: catID, CategoryName: row.Category})
		}

		locID, _ := n.alloc.Resolve(DimLocation, row.Location)
		if !seenLocations[row.Location] {
			seenLocations[row.Location] = true
			ds.Locations = append(ds.Locations, models.Location{LocationID: locID, LocationName: row.Location})
		}

		pmID, _ := n.alloc.Resolve(DimPaymentMethod, row.PaymentMethod)
		if !seenPayments[row.PaymentMethod] {
			seenPayments[row.PaymentMethod] = true
			ds.PaymentMethods = append(ds.PaymentMethods, models.PaymentMethod{PaymentMethodID: pmID, PaymentMethodName: row.PaymentMethod})
		}

		// CustomerID passes through: it is both natural and surrogate
		// key, so no allocator is involved.
		if !seenCustomers[row.CustomerID] {
			seenCustomers[row.CustomerID] = true
			ds.Customers = append(ds.Customers, models.Customer{CustomerID: row.CustomerID})
		}

		itemKey := itemNaturalKey(row.Item, catID)
		itemID, _ := n.alloc.Resolve(DimItem, itemKey)
		if !seenItems[itemKey] {
			seenItems[itemKey] = true
			// First-seen attribute values win for the pair.
			ds.Items = append(ds.Items, models.Item{
				ItemID:       itemID,
				ItemName:     row.Item,
				PricePerUnit: row.PricePerUnit,
				CategoryID:   catID,
			})
		}

		ds.Transactions = append(ds.Transactions, models.Transaction{
			TransactionID:   row.TransactionID,
			CustomerID:      row.CustomerID,
			ItemID:          itemID,
			PaymentMethodID: pmID,
			LocationID:      locID,
			Quantity:        row.Quantity,
			TotalPrice:      row.TotalPrice,
			TransactionDate: row.TransactionDate,
			DiscountApplied: row.DiscountApplied,
		})
	}

	if err := checkIntegrity(ds); err != nil {
		return nil, err
	}
	return ds, nil
}

// checkIntegrity verifies that every fact row's foreign keys resolve
// to an emitted reference entity.
func checkIntegrity(ds *models.Dataset) error {
	locIDs := make(map[int]bool, len(ds.Locations))
	for _, l := range ds.Locations {
		locIDs[l.LocationID] = true
	}
	pmIDs := make(map[int]bool, len(ds.PaymentMethods))
	for _, p := range ds.PaymentMethods {
		pmIDs[p.PaymentMethodID] = true
	}
	custIDs := make(map[string]bool, len(ds.Customers))
	for _, c := range ds.Customers {
		custIDs[c.CustomerID] = true
	}
	itemIDs := make(map[int]bool, len(ds.Items))
	catIDs := make(map[int]bool, len(ds.Categories))
	for _, c := range ds.Categories {
		catIDs[c.CategoryID] = true
	}
	for _, it := range ds.Items {
		itemIDs[it.ItemID] = true
		if !catIDs[it.CategoryID] {
			return errors.New(fmt.Sprintf("item %d references missing category %d", it.ItemID, it.CategoryID))
		}
	}
	for _, t := range ds.Transactions {
		if !custIDs[t.CustomerID] {
			return errors.New(fmt.Sprintf("transaction %s references missing customer %s", t.TransactionID, t.CustomerID))
		}
		if !itemIDs[t.ItemID] {
			return errors.New(fmt.Sprintf("transaction %s references missing item %d", t.TransactionID, t.ItemID))
		}
		if !pmIDs[t.PaymentMethodID] {
			return errors.New(fmt.Sprintf("transaction %s references missing payment method %d", t.TransactionID, t.PaymentMethodID))
		}
		if !locIDs[t.LocationID] {
			return errors.New(fmt.Sprintf("transaction %s references missing location %d", t.TransactionID, t.LocationID))
		}
	}
	return nil
}

func itemNaturalKey(name string, categoryID int) string {
	return name + "\x1f" + strconv.Itoa(categoryID)
}
