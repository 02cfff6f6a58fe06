package validate

import (
	"context"
	"fmt"
	"math"

	"github.com/oarkflow/convert"

	"github.com/oarkflow/retail/pkg/models"
	"github.com/oarkflow/retail/pkg/utils"
)

// Tolerance for comparing monetary sums across stores. Matches the
// per-row reconciliation tolerance.
const SumTolerance = 0.01

// Store is the read-back surface a loaded store exposes for
// validation.
type Store interface {
	Name() string
	Stats(ctx context.Context) (models.StoreStats, error)
	FetchTransaction(ctx context.Context, id string) (utils.Record, error)
}

// Check is one validation comparison with its outcome.
type Check struct {
	Store  string
	Name   string
	Passed bool
	Detail string
}

// Report collects every check from one validation run.
type Report struct {
	Checks []Check
}

func (r *Report) add(store, name string, passed bool, format string, args ...any) {
	r.Checks = append(r.Checks, Check{
		Store:  store,
		Name:   name,
		Passed: passed,
		Detail: fmt.Sprintf(format, args...),
	})
}

// Passed reports whether every check succeeded.
func (r *Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failures returns only the failed checks.
func (r *Report) Failures() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Validator compares the in-memory dataset against one or more loaded
// stores.
type Validator struct {
	dataset    *models.Dataset
	stores     []Store
	sampleSize int
}

func New(ds *models.Dataset, stores []Store, sampleSize int) *Validator {
	if sampleSize <= 0 {
		sampleSize = 10
	}
	return &Validator{dataset: ds, stores: stores, sampleSize: sampleSize}
}

// Run checks row counts, revenue and quantity sums, orphaned foreign
// keys, duplicate transaction IDs and non-positive values against
// every store, then spot checks a sample of transactions field by
// field.
func (v *Validator) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	expected := v.dataset.Counts()
	expectedRevenue := v.dataset.TotalRevenue()
	expectedQuantity := v.dataset.TotalQuantity()

	for _, store := range v.stores {
		stats, err := store.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("stats from %s: %w", store.Name(), err)
		}
		for table, want := range expected {
			got := stats.Counts[table]
			report.add(store.Name(), "count:"+table, got == want, "want %d, got %d", want, got)
		}
		revOK := math.Abs(stats.Revenue-expectedRevenue) <= SumTolerance
		report.add(store.Name(), "sum:revenue", revOK, "want %.2f, got %.2f", expectedRevenue, stats.Revenue)
		report.add(store.Name(), "sum:quantity", stats.Quantity == expectedQuantity, "want %d, got %d", expectedQuantity, stats.Quantity)
		for ref, orphans := range stats.Orphans {
			report.add(store.Name(), "orphans:"+ref, orphans == 0, "%d orphaned rows", orphans)
		}
		report.add(store.Name(), "duplicates:transactions", stats.DuplicateTransactionIDs == 0, "%d duplicate transaction IDs", stats.DuplicateTransactionIDs)
		report.add(store.Name(), "sanity:positive_values", stats.NonPositiveValues == 0, "%d rows with non-positive quantity or total", stats.NonPositiveValues)
	}

	if err := v.spotCheck(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// spotCheck fetches evenly spaced transactions from each store and
// compares the fields common to all store shapes.
func (v *Validator) spotCheck(ctx context.Context, report *Report) error {
	n := len(v.dataset.Transactions)
	if n == 0 {
		return nil
	}
	size := v.sampleSize
	if size > n {
		size = n
	}
	step := n / size
	if step == 0 {
		step = 1
	}
	for picked := 0; picked < size; picked++ {
		want := v.dataset.Transactions[picked*step]
		for _, store := range v.stores {
			got, err := store.FetchTransaction(ctx, want.TransactionID)
			if err != nil {
				report.add(store.Name(), "spot:"+want.TransactionID, false, "fetch failed: %v", err)
				continue
			}
			report.add(store.Name(), "spot:"+want.TransactionID, matches(want, got), "row mismatch: %v", got)
		}
	}
	return nil
}

func matches(want models.Transaction, got utils.Record) bool {
	if s, ok := convert.ToString(got["CustomerID"]); !ok || s != want.CustomerID {
		return false
	}
	if id, ok := convert.ToFloat64(got["ItemID"]); !ok || int(id) != want.ItemID {
		return false
	}
	if id, ok := convert.ToFloat64(got["PaymentMethodID"]); !ok || int(id) != want.PaymentMethodID {
		return false
	}
	if id, ok := convert.ToFloat64(got["LocationID"]); !ok || int(id) != want.LocationID {
		return false
	}
	if q, ok := convert.ToFloat64(got["Quantity"]); !ok || int(q) != want.Quantity {
		return false
	}
	if tp, ok := convert.ToFloat64(got["TotalPrice"]); !ok || math.Abs(tp-want.TotalPrice) > SumTolerance {
		return false
	}
	if d, ok := convert.ToBool(got["DiscountApplied"]); !ok || d != want.DiscountApplied {
		return false
	}
	return true
}
