package reconcile

import (
	"math"
	"strconv"
	"testing"

	"github.com/oarkflow/retail/pkg/models"
)

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

func validRow(id string) models.RawTransaction {
	return models.RawTransaction{
		TransactionID:   id,
		CustomerID:      "CUST_01",
		Category:        "Beverages",
		Item:            "Coffee",
		PricePerUnit:    fptr(2.5),
		Quantity:        iptr(2),
		TotalSpent:      fptr(5.0),
		PaymentMethod:   "Cash",
		Location:        "In-store",
		TransactionDate: "2023-01-15",
		DiscountApplied: "true",
	}
}

func testMenu(t *testing.T) *PriceMenu {
	t.Helper()
	menu, err := NewPriceMenu([]MenuEntry{
		{Price: 2.5, Item: "Coffee"},
		{Price: 3.5, Item: "Latte"},
		{Price: 4.0, Item: "Sandwich"},
	})
	if err != nil {
		t.Fatalf("NewPriceMenu: %v", err)
	}
	return menu
}

func reconcileOne(t *testing.T, row models.RawTransaction, menu *PriceMenu) (Result, models.CleanTransaction) {
	t.Helper()
	res := Reconcile([]models.RawTransaction{row}, menu)
	if len(res.Clean) != 1 {
		t.Fatalf("expected 1 clean row, got %d clean and %d dropped (%+v)", len(res.Clean), len(res.Dropped), res.Dropped)
	}
	return res, res.Clean[0]
}

func expectDrop(t *testing.T, row models.RawTransaction, menu *PriceMenu, reason models.DropReason) {
	t.Helper()
	res := Reconcile([]models.RawTransaction{row}, menu)
	if len(res.Dropped) != 1 {
		t.Fatalf("expected row to be dropped, got %d clean rows", len(res.Clean))
	}
	if res.Dropped[0].Reason != reason {
		t.Fatalf("drop reason = %q, want %q (detail: %s)", res.Dropped[0].Reason, reason, res.Dropped[0].Detail)
	}
}

func hasEvent(events []models.RecoveryEvent, field, rule string) bool {
	for _, e := range events {
		if e.Field == field && e.Rule == rule {
			return true
		}
	}
	return false
}

func TestRecoverMissingPrice(t *testing.T) {
	row := validRow("TXN_1")
	row.PricePerUnit = nil
	row.TotalSpent = fptr(11.0)
	row.Quantity = iptr(2)

	res, clean := reconcileOne(t, row, nil)
	if clean.PricePerUnit != 5.5 {
		t.Fatalf("PricePerUnit = %v, want 5.5", clean.PricePerUnit)
	}
	if !hasEvent(res.Recovered, "PricePerUnit", RuleTotalDivQuantity) {
		t.Fatalf("missing recovery event for PricePerUnit, got %+v", res.Recovered)
	}
}

func TestRecoverMissingQuantity(t *testing.T) {
	row := validRow("TXN_2")
	row.Quantity = nil
	row.PricePerUnit = fptr(4.0)
	row.TotalSpent = fptr(12.0)

	res, clean := reconcileOne(t, row, nil)
	if clean.Quantity != 3 {
		t.Fatalf("Quantity = %d, want 3", clean.Quantity)
	}
	if !hasEvent(res.Recovered, "Quantity", RuleTotalDivPrice) {
		t.Fatalf("missing recovery event for Quantity, got %+v", res.Recovered)
	}
}

func TestRecoverMissingTotal(t *testing.T) {
	row := validRow("TXN_3")
	row.TotalSpent = nil
	row.PricePerUnit = fptr(2.5)
	row.Quantity = iptr(4)

	res, clean := reconcileOne(t, row, nil)
	if clean.TotalPrice != 10.0 {
		t.Fatalf("TotalPrice = %v, want 10.0", clean.TotalPrice)
	}
	if !hasEvent(res.Recovered, "TotalSpent", RulePriceTimesQty) {
		t.Fatalf("missing recovery event for TotalSpent, got %+v", res.Recovered)
	}
}

func TestRecoverItemFromMenuPrice(t *testing.T) {
	row := validRow("TXN_4")
	row.Item = ""
	row.PricePerUnit = fptr(3.5)
	row.Quantity = iptr(2)
	row.TotalSpent = fptr(7.0)

	res, clean := reconcileOne(t, row, testMenu(t))
	if clean.Item != "Latte" {
		t.Fatalf("Item = %q, want Latte", clean.Item)
	}
	if !hasEvent(res.Recovered, "Item", RulePriceMenuLookup) {
		t.Fatalf("missing recovery event for Item, got %+v", res.Recovered)
	}
}

func TestRecoverItemAfterNumericRepair(t *testing.T) {
	// Price is missing at first; once total/quantity produces it, the
	// menu lookup still identifies the item.
	row := validRow("TXN_5")
	row.Item = ""
	row.PricePerUnit = nil
	row.Quantity = iptr(2)
	row.TotalSpent = fptr(8.0)

	_, clean := reconcileOne(t, row, testMenu(t))
	if clean.Item != "Sandwich" {
		t.Fatalf("Item = %q, want Sandwich", clean.Item)
	}
}

func TestMenuPriceFillsSecondMissingNumeric(t *testing.T) {
	// Quantity and price both missing, but the item's menu price plus
	// the total make the row recoverable.
	row := validRow("TXN_6")
	row.PricePerUnit = nil
	row.Quantity = nil
	row.TotalSpent = fptr(7.0)
	row.Item = "Latte"

	res, clean := reconcileOne(t, row, testMenu(t))
	if clean.PricePerUnit != 3.5 || clean.Quantity != 2 {
		t.Fatalf("got price %v quantity %d, want 3.5 and 2", clean.PricePerUnit, clean.Quantity)
	}
	if !hasEvent(res.Recovered, "PricePerUnit", RuleMenuPriceForItem) {
		t.Fatalf("missing menu price recovery event, got %+v", res.Recovered)
	}
}

func TestDropMissingIdentity(t *testing.T) {
	row := validRow("")
	expectDrop(t, row, nil, models.DropMissingIdentity)

	row = validRow("TXN_7")
	row.CustomerID = "   "
	expectDrop(t, row, nil, models.DropMissingIdentity)
}

func TestDropTwoNumericsMissing(t *testing.T) {
	row := validRow("TXN_8")
	row.PricePerUnit = nil
	row.TotalSpent = nil
	expectDrop(t, row, nil, models.DropUnrecoverableNumeric)
}

func TestDropUnknownItem(t *testing.T) {
	row := validRow("TXN_9")
	row.Item = ""
	row.PricePerUnit = fptr(9.99)
	row.TotalSpent = fptr(9.99)
	row.Quantity = iptr(1)
	expectDrop(t, row, testMenu(t), models.DropUnrecoverableItem)
}

func TestDropInconsistentTotal(t *testing.T) {
	row := validRow("TXN_10")
	row.PricePerUnit = fptr(2.0)
	row.Quantity = iptr(3)
	row.TotalSpent = fptr(10.0)
	expectDrop(t, row, nil, models.DropBusinessRuleViolation)
}

func TestToleranceBoundary(t *testing.T) {
	row := validRow("TXN_11")
	row.PricePerUnit = fptr(2.0)
	row.Quantity = iptr(3)
	row.TotalSpent = fptr(6.01)
	_, clean := reconcileOne(t, row, nil)
	if clean.TotalPrice != 6.01 {
		t.Fatalf("TotalPrice = %v, want 6.01", clean.TotalPrice)
	}

	row.TransactionID = "TXN_12"
	row.TotalSpent = fptr(6.02)
	expectDrop(t, row, nil, models.DropBusinessRuleViolation)
}

func TestDropNonPositiveQuantity(t *testing.T) {
	row := validRow("TXN_13")
	row.Quantity = iptr(0)
	row.TotalSpent = fptr(0)
	expectDrop(t, row, nil, models.DropBusinessRuleViolation)

	row = validRow("TXN_14")
	row.Quantity = iptr(-2)
	row.TotalSpent = fptr(-5.0)
	expectDrop(t, row, nil, models.DropBusinessRuleViolation)
}

func TestSentinelDefaults(t *testing.T) {
	row := validRow("TXN_15")
	row.Category = ""
	row.PaymentMethod = " "
	row.Location = ""

	res, clean := reconcileOne(t, row, nil)
	if clean.Category != "Unknown_Category" {
		t.Fatalf("Category = %q", clean.Category)
	}
	if clean.PaymentMethod != "Unknown_PaymentMethod" {
		t.Fatalf("PaymentMethod = %q", clean.PaymentMethod)
	}
	if clean.Location != "Unknown_Location" {
		t.Fatalf("Location = %q", clean.Location)
	}
	for _, field := range []string{"Category", "PaymentMethod", "Location"} {
		if !hasEvent(res.Recovered, field, RuleDefaultSentinel) {
			t.Fatalf("missing sentinel event for %s, got %+v", field, res.Recovered)
		}
	}
}

func TestDiscountSpellings(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{"true", true},
		{"Yes", true},
		{"y", true},
		{"false", false},
		{"No", false},
		{"n", false},
		{"", false},
	}
	for _, tc := range cases {
		row := validRow("TXN_D_" + tc.raw)
		row.DiscountApplied = tc.raw
		_, clean := reconcileOne(t, row, nil)
		if clean.DiscountApplied != tc.want {
			t.Fatalf("DiscountApplied(%q) = %v, want %v", tc.raw, clean.DiscountApplied, tc.want)
		}
	}
}

func TestDiscountUnrecognizedWarns(t *testing.T) {
	row := validRow("TXN_16")
	row.DiscountApplied = "maybe"
	res, clean := reconcileOne(t, row, nil)
	if clean.DiscountApplied {
		t.Fatalf("unrecognized spelling should coerce to false")
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Field != "DiscountApplied" {
		t.Fatalf("expected one DiscountApplied warning, got %+v", res.Warnings)
	}
}

func TestDropInvalidDate(t *testing.T) {
	row := validRow("TXN_17")
	row.TransactionDate = ""
	expectDrop(t, row, nil, models.DropInvalidDate)

	row = validRow("TXN_18")
	row.TransactionDate = "not-a-date"
	expectDrop(t, row, nil, models.DropInvalidDate)
}

func TestRowConservation(t *testing.T) {
	rows := []models.RawTransaction{
		validRow("TXN_A"),
		{}, // dropped for missing identity
		validRow("TXN_B"),
	}
	bad := validRow("TXN_C")
	bad.PricePerUnit = nil
	bad.TotalSpent = nil
	rows = append(rows, bad)

	res := Reconcile(rows, nil)
	if got := len(res.Clean) + len(res.Dropped); got != len(rows) {
		t.Fatalf("conservation broken: %d in, %d out", len(rows), got)
	}
	if len(res.Clean) != 2 || len(res.Dropped) != 2 {
		t.Fatalf("got %d clean, %d dropped, want 2 and 2", len(res.Clean), len(res.Dropped))
	}
}

func TestReconcileIdempotent(t *testing.T) {
	rows := []models.RawTransaction{validRow("TXN_A"), validRow("TXN_B")}
	rows[1].PricePerUnit = nil
	rows[1].TotalSpent = fptr(7.5)
	rows[1].Quantity = iptr(3)

	first := Reconcile(rows, testMenu(t))
	if len(first.Clean) != 2 {
		t.Fatalf("first pass kept %d rows", len(first.Clean))
	}

	// Feed the clean output back through and expect it unchanged.
	again := make([]models.RawTransaction, 0, len(first.Clean))
	for _, c := range first.Clean {
		again = append(again, models.RawTransaction{
			TransactionID:   c.TransactionID,
			CustomerID:      c.CustomerID,
			Category:        c.Category,
			Item:            c.Item,
			PricePerUnit:    fptr(c.PricePerUnit),
			Quantity:        iptr(c.Quantity),
			TotalSpent:      fptr(c.TotalPrice),
			PaymentMethod:   c.PaymentMethod,
			Location:        c.Location,
			TransactionDate: c.TransactionDate.Format("2006-01-02"),
			DiscountApplied: strconv.FormatBool(c.DiscountApplied),
		})
	}
	second := Reconcile(again, testMenu(t))
	if len(second.Clean) != len(first.Clean) {
		t.Fatalf("second pass kept %d rows, want %d", len(second.Clean), len(first.Clean))
	}
	for i := range second.Clean {
		a, b := first.Clean[i], second.Clean[i]
		if a.TransactionID != b.TransactionID || a.Item != b.Item ||
			a.Quantity != b.Quantity || a.DiscountApplied != b.DiscountApplied ||
			math.Abs(a.PricePerUnit-b.PricePerUnit) > 1e-9 ||
			math.Abs(a.TotalPrice-b.TotalPrice) > 1e-9 {
			t.Fatalf("row %d changed on second pass:\nfirst  %+v\nsecond %+v", i, a, b)
		}
	}
	if len(second.Recovered) != 0 {
		t.Fatalf("second pass recorded %d recoveries, want 0: %+v", len(second.Recovered), second.Recovered)
	}
}

func TestConsistencyInvariant(t *testing.T) {
	rows := []models.RawTransaction{validRow("TXN_A"), validRow("TXN_B"), validRow("TXN_C")}
	rows[0].TotalSpent = nil
	rows[1].PricePerUnit = nil
	rows[2].Quantity = nil

	res := Reconcile(rows, nil)
	for _, c := range res.Clean {
		if math.Abs(c.TotalPrice-c.PricePerUnit*float64(c.Quantity)) > PriceTolerance+1e-9 {
			t.Fatalf("row %s violates consistency: %v != %v x %d", c.TransactionID, c.TotalPrice, c.PricePerUnit, c.Quantity)
		}
	}
}
