package reconcile

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/oarkflow/convert"
	"github.com/oarkflow/date"

	"github.com/oarkflow/retail/pkg/models"
	"github.com/oarkflow/retail/pkg/utils"
)

// Rule names recorded on recovery events.
const (
	RulePriceMenuLookup   = "price_menu_lookup"
	RuleMenuPriceForItem  = "menu_price_for_item"
	RuleTotalDivQuantity  = "total_div_quantity"
	RuleTotalDivPrice     = "total_div_price"
	RulePriceTimesQty     = "price_times_quantity"
	RuleDefaultSentinel   = "default_sentinel"
	RuleDefaultFalse      = "default_false"
	RuleBooleanNormalized = "boolean_normalized"
)

// Result carries everything Reconcile produces: the retained rows,
// the rejected rows with reasons, and the audit trail of repairs.
type Result struct {
	Clean     []models.CleanTransaction
	Dropped   []models.DroppedRow
	Recovered []models.RecoveryEvent
	Warnings  []models.FieldWarning
}

// Reconcile turns raw rows into clean rows, repairing what the
// business relationships allow and dropping what they do not. It
// performs no I/O; the caller owns persistence of both outputs.
// len(Clean)+len(Dropped) always equals len(rows).
func Reconcile(rows []models.RawTransaction, menu *PriceMenu) Result {
	var res Result
	for _, raw := range rows {
		clean, events, warnings, dropped := reconcileRow(raw, menu)
		if dropped != nil {
			res.Dropped = append(res.Dropped, *dropped)
			continue
		}
		res.Clean = append(res.Clean, *clean)
		res.Recovered = append(res.Recovered, events...)
		res.Warnings = append(res.Warnings, warnings...)
	}
	return res
}

func reconcileRow(raw models.RawTransaction, menu *PriceMenu) (*models.CleanTransaction, []models.RecoveryEvent, []models.FieldWarning, *models.DroppedRow) {
	drop := func(reason models.DropReason, detail string) (*models.CleanTransaction, []models.RecoveryEvent, []models.FieldWarning, *models.DroppedRow) {
		return nil, nil, nil, &models.DroppedRow{Row: raw, Reason: reason, Detail: detail}
	}

	txnID := strings.TrimSpace(raw.TransactionID)
	custID := strings.TrimSpace(raw.CustomerID)
	if txnID == "" || custID == "" {
		return drop(models.DropMissingIdentity, "transaction or customer identifier missing")
	}

	var events []models.RecoveryEvent
	var warnings []models.FieldWarning
	record := func(field, old, newVal, rule string) {
		events = append(events, models.RecoveryEvent{
			TransactionID: txnID,
			Field:         field,
			OldValue:      old,
			NewValue:      newVal,
			Rule:          rule,
		})
	}

	price := cloneFloat(raw.PricePerUnit)
	qty := cloneInt(raw.Quantity)
	total := cloneFloat(raw.TotalSpent)
	item := strings.TrimSpace(raw.Item)

	// Item inference from the price menu. Tried once with the fields
	// as given, and again after numeric recovery may have produced a
	// unit price.
	inferItem := func() {
		if item != "" || menu == nil {
			return
		}
		var lookupPrice *float64
		switch {
		case price != nil:
			lookupPrice = price
		case total != nil && qty != nil && *qty > 0:
			v := utils.RoundMoney(*total / float64(*qty))
			lookupPrice = &v
		}
		if lookupPrice == nil {
			return
		}
		if name, ok := menu.ItemFor(*lookupPrice); ok {
			item = name
			record("Item", "", name, RulePriceMenuLookup)
		}
	}
	inferItem()

	missing := 0
	if price == nil {
		missing++
	}
	if qty == nil {
		missing++
	}
	if total == nil {
		missing++
	}

	// With two or more numeric fields absent the row is only
	// salvageable through the menu price of a known item.
	if missing >= 2 && item != "" && price == nil && menu != nil {
		if p, ok := menu.PriceFor(item); ok {
			price = &p
			record("PricePerUnit", "", formatFloat(p), RuleMenuPriceForItem)
			missing--
		}
	}
	if missing >= 2 {
		return drop(models.DropUnrecoverableNumeric, "more than one of price, quantity, total missing")
	}
	if missing == 1 {
		switch {
		case price == nil:
			if *qty <= 0 {
				return drop(models.DropBusinessRuleViolation, "quantity must be positive")
			}
			v := utils.RoundMoney(*total / float64(*qty))
			price = &v
			record("PricePerUnit", "", formatFloat(v), RuleTotalDivQuantity)
		case qty == nil:
			if *price <= 0 {
				return drop(models.DropBusinessRuleViolation, "price per unit must be positive")
			}
			q := int(math.Round(*total / *price))
			qty = &q
			record("Quantity", "", strconv.Itoa(q), RuleTotalDivPrice)
		case total == nil:
			v := utils.RoundMoney(*price * float64(*qty))
			total = &v
			record("TotalSpent", "", formatFloat(v), RulePriceTimesQty)
		}
	}

	inferItem()
	if item == "" {
		return drop(models.DropUnrecoverableItem, "item missing and no menu price matched")
	}

	if *qty <= 0 {
		return drop(models.DropBusinessRuleViolation, "quantity must be positive")
	}
	if *price <= 0 {
		return drop(models.DropBusinessRuleViolation, "price per unit must be positive")
	}
	if !utils.WithinTolerance(*total, *price*float64(*qty), PriceTolerance) {
		return drop(models.DropBusinessRuleViolation,
			fmt.Sprintf("total %s does not match price %s x quantity %d", formatFloat(*total), formatFloat(*price), *qty))
	}

	category := strings.TrimSpace(raw.Category)
	if category == "" {
		category = "Unknown_Category"
		record("Category", "", category, RuleDefaultSentinel)
	}
	payment := strings.TrimSpace(raw.PaymentMethod)
	if payment == "" {
		payment = "Unknown_PaymentMethod"
		record("PaymentMethod", "", payment, RuleDefaultSentinel)
	}
	location := strings.TrimSpace(raw.Location)
	if location == "" {
		location = "Unknown_Location"
		record("Location", "", location, RuleDefaultSentinel)
	}

	discount := false
	rawDiscount := strings.TrimSpace(raw.DiscountApplied)
	switch {
	case rawDiscount == "":
		record("DiscountApplied", "", "false", RuleDefaultFalse)
	default:
		b, recognized := parseDiscount(rawDiscount)
		if recognized {
			discount = b
			if !strings.EqualFold(rawDiscount, strconv.FormatBool(b)) {
				record("DiscountApplied", rawDiscount, strconv.FormatBool(b), RuleBooleanNormalized)
			}
		} else {
			warnings = append(warnings, models.FieldWarning{
				TransactionID: txnID,
				Field:         "DiscountApplied",
				Value:         rawDiscount,
				Message:       "unrecognized boolean spelling, treated as false",
			})
		}
	}

	rawDate := strings.TrimSpace(raw.TransactionDate)
	if rawDate == "" {
		return drop(models.DropInvalidDate, "transaction date missing")
	}
	when, err := date.Parse(rawDate)
	if err != nil {
		return drop(models.DropInvalidDate, fmt.Sprintf("unparsable transaction date %q", rawDate))
	}

	return &models.CleanTransaction{
		TransactionID:   txnID,
		CustomerID:      custID,
		Category:        category,
		Item:            item,
		PricePerUnit:    *price,
		Quantity:        *qty,
		TotalPrice:      *total,
		PaymentMethod:   payment,
		Location:        location,
		TransactionDate: when,
		DiscountApplied: discount,
	}, events, warnings, nil
}

// parseDiscount maps the recognized truthy/falsy spellings to a
// strict boolean. The second return is false for spellings outside
// the recognized set.
func parseDiscount(s string) (value bool, recognized bool) {
	switch strings.ToLower(s) {
	case "yes", "y":
		return true, true
	case "no", "n":
		return false, true
	}
	if b, ok := convert.ToBool(s); ok {
		return b, true
	}
	return false, false
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
