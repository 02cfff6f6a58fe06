package csvadapter

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/oarkflow/convert"
	"github.com/oarkflow/date"

	"github.com/oarkflow/retail/pkg/models"
	"github.com/oarkflow/retail/pkg/normalize"
	"github.com/oarkflow/retail/pkg/utils/fileutil"
)

const dateLayout = "2006-01-02"

// Normalized table file names, matching the original migration
// artifacts consumed by the relational loader tooling.
const (
	FileCategories     = "categories.csv"
	FileLocations      = "locations.csv"
	FilePaymentMethods = "payment_methods.csv"
	FileCustomers      = "customers.csv"
	FileItems          = "items.csv"
	FileTransactions   = "transactions_normalized.csv"
	FileDenormalized   = "mongo_denormalized.csv"
)

// ExportDataset writes the five reference tables and the fact table
// as CSV files under dir.
func ExportDataset(dir string, ds *models.Dataset) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create normalized dir: %w", err)
	}

	catRows := make([][]string, 0, len(ds.Categories))
	for _, c := range ds.Categories {
		catRows = append(catRows, []string{strconv.Itoa(c.CategoryID), c.CategoryName})
	}
	if err := writeTable(filepath.Join(dir, FileCategories), []string{"CategoryID", "CategoryName"}, catRows); err != nil {
		return err
	}

	locRows := make([][]string, 0, len(ds.Locations))
	for _, l := range ds.Locations {
		locRows = append(locRows, []string{strconv.Itoa(l.LocationID), l.LocationName})
	}
	if err := writeTable(filepath.Join(dir, FileLocations), []string{"LocationID", "LocationName"}, locRows); err != nil {
		return err
	}

	pmRows := make([][]string, 0, len(ds.PaymentMethods))
	for _, p := range ds.PaymentMethods {
		pmRows = append(pmRows, []string{strconv.Itoa(p.PaymentMethodID), p.PaymentMethodName})
	}
	if err := writeTable(filepath.Join(dir, FilePaymentMethods), []string{"PaymentMethodID", "PaymentMethodName"}, pmRows); err != nil {
		return err
	}

	custRows := make([][]string, 0, len(ds.Customers))
	for _, c := range ds.Customers {
		custRows = append(custRows, []string{c.CustomerID})
	}
	if err := writeTable(filepath.Join(dir, FileCustomers), []string{"CustomerID"}, custRows); err != nil {
		return err
	}

	itemRows := make([][]string, 0, len(ds.Items))
	for _, it := range ds.Items {
		itemRows = append(itemRows, []string{
			strconv.Itoa(it.ItemID),
			it.ItemName,
			formatMoney(it.PricePerUnit),
			strconv.Itoa(it.CategoryID),
		})
	}
	if err := writeTable(filepath.Join(dir, FileItems), []string{"ItemID", "ItemName", "PricePerUnit", "CategoryID"}, itemRows); err != nil {
		return err
	}

	txnRows := make([][]string, 0, len(ds.Transactions))
	for _, t := range ds.Transactions {
		txnRows = append(txnRows, []string{
			t.TransactionID,
			t.CustomerID,
			strconv.Itoa(t.ItemID),
			strconv.Itoa(t.PaymentMethodID),
			strconv.Itoa(t.LocationID),
			strconv.Itoa(t.Quantity),
			formatMoney(t.TotalPrice),
			t.TransactionDate.Format(dateLayout),
			strconv.FormatBool(t.DiscountApplied),
		})
	}
	header := []string{"TransactionID", "CustomerID", "ItemID", "PaymentMethodID", "LocationID", "Quantity", "TotalPrice", "TransactionDate", "DiscountApplied"}
	return writeTable(filepath.Join(dir, FileTransactions), header, txnRows)
}

// ExportDenormalized writes the embedded-document view of the dataset
// as a single flat CSV, the shape loaded into MongoDB when running
// denormalized.
func ExportDenormalized(dir string, ds *models.Dataset) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create normalized dir: %w", err)
	}
	docs := normalize.Denormalize(ds)
	header := []string{"TransactionID", "CustomerID", "CategoryName", "ItemName", "PricePerUnit", "Quantity", "TotalPrice", "PaymentMethodName", "LocationName", "TransactionDate", "DiscountApplied"}
	rows := make([][]string, 0, len(docs))
	for _, doc := range docs {
		row := make([]string, 0, len(header))
		for _, key := range header {
			row = append(row, formatValue(doc[key]))
		}
		rows = append(rows, row)
	}
	return writeTable(filepath.Join(dir, FileDenormalized), header, rows)
}

// ExportClean writes the reconciled flat table so later runs can skip
// the cleaning stage.
func ExportClean(filename string, rows []models.CleanTransaction) error {
	header := []string{colTransactionID, colCustomerID, colCategory, colItem, colPricePerUnit, colQuantity, colTotalSpent, colPaymentMethod, colLocation, colTransactionDate, colDiscountApplied}
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			r.TransactionID,
			r.CustomerID,
			r.Category,
			r.Item,
			formatMoney(r.PricePerUnit),
			strconv.Itoa(r.Quantity),
			formatMoney(r.TotalPrice),
			r.PaymentMethod,
			r.Location,
			r.TransactionDate.Format(dateLayout),
			strconv.FormatBool(r.DiscountApplied),
		})
	}
	return writeTable(filename, header, out)
}

// LoadClean reads a previously exported clean CSV. Parsing is strict:
// a clean file with missing or malformed fields is a hard error, not
// a data-quality drop.
func LoadClean(filename string) ([]models.CleanTransaction, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open clean CSV: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read clean CSV header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}

	var rows []models.CleanTransaction
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read clean CSV: %w", err)
		}
		line++
		rec, err := rowToClean(row, cols)
		if err != nil {
			return nil, fmt.Errorf("clean CSV line %d: %w", line, err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func rowToClean(row []string, cols map[string]int) (models.CleanTransaction, error) {
	var rec models.CleanTransaction
	field := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}
	rec.TransactionID = field(colTransactionID)
	rec.CustomerID = field(colCustomerID)
	rec.Category = field(colCategory)
	rec.Item = field(colItem)
	rec.PaymentMethod = field(colPaymentMethod)
	rec.Location = field(colLocation)
	if rec.TransactionID == "" || rec.CustomerID == "" || rec.Item == "" {
		return rec, fmt.Errorf("missing required field")
	}

	price, ok := convert.ToFloat64(field(colPricePerUnit))
	if !ok {
		return rec, fmt.Errorf("invalid price %q", field(colPricePerUnit))
	}
	rec.PricePerUnit = price

	qty, ok := convert.ToFloat64(field(colQuantity))
	if !ok {
		return rec, fmt.Errorf("invalid quantity %q", field(colQuantity))
	}
	rec.Quantity = int(math.Round(qty))

	total, ok := convert.ToFloat64(field(colTotalSpent))
	if !ok {
		return rec, fmt.Errorf("invalid total %q", field(colTotalSpent))
	}
	rec.TotalPrice = total

	when, err := date.Parse(field(colTransactionDate))
	if err != nil {
		return rec, fmt.Errorf("invalid date %q", field(colTransactionDate))
	}
	rec.TransactionDate = when

	disc, ok := convert.ToBool(field(colDiscountApplied))
	if !ok {
		return rec, fmt.Errorf("invalid discount flag %q", field(colDiscountApplied))
	}
	rec.DiscountApplied = disc
	return rec, nil
}

func writeTable(filename string, header []string, rows [][]string) error {
	w, err := fileutil.NewCSVWriter(filename, header)
	if err != nil {
		return err
	}
	if err := w.WriteBatch(rows); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		if s, ok := v.(interface{ Format(string) string }); ok {
			return s.Format(dateLayout)
		}
		return fmt.Sprintf("%v", v)
	}
}
