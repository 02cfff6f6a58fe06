package csvadapter

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/oarkflow/convert"
	"github.com/oarkflow/log"

	"github.com/oarkflow/retail/pkg/models"
)

// Column headers of the raw retail sales export.
const (
	colTransactionID   = "Transaction ID"
	colCustomerID      = "Customer ID"
	colCategory        = "Category"
	colItem            = "Item"
	colPricePerUnit    = "Price Per Unit"
	colQuantity        = "Quantity"
	colTotalSpent      = "Total Spent"
	colPaymentMethod   = "Payment Method"
	colLocation        = "Location"
	colTransactionDate = "Transaction Date"
	colDiscountApplied = "Discount Applied"
)

// Source reads raw transactions from a retail sales CSV file.
type Source struct {
	Filename string
}

func NewSource(filename string) *Source {
	return &Source{Filename: filename}
}

func (s *Source) Setup(_ context.Context) error {
	_, err := os.Stat(s.Filename)
	return err
}

// Extract streams raw rows in file order. Rows that cannot be read at
// all (short records, encoding damage) are logged and skipped; field
// level problems are left for the reconciler to judge.
func (s *Source) Extract(ctx context.Context) (<-chan models.RawTransaction, error) {
	f, err := os.Open(s.Filename)
	if err != nil {
		return nil, fmt.Errorf("open source CSV: %w", err)
	}
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	if _, ok := cols[colTransactionID]; !ok {
		_ = f.Close()
		return nil, fmt.Errorf("source CSV is missing column %q", colTransactionID)
	}

	out := make(chan models.RawTransaction, 100)
	go func() {
		defer close(out)
		defer f.Close()
		for {
			row, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				log.Printf("CSV read error: %v", err)
				continue
			}
			rec := rowToRaw(row, cols)
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// LoadAll materializes the whole file, which is the shape the
// reconciler consumes.
func (s *Source) LoadAll(ctx context.Context) ([]models.RawTransaction, error) {
	ch, err := s.Extract(ctx)
	if err != nil {
		return nil, err
	}
	var rows []models.RawTransaction
	for rec := range ch {
		rows = append(rows, rec)
	}
	return rows, nil
}

func rowToRaw(row []string, cols map[string]int) models.RawTransaction {
	field := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}
	return models.RawTransaction{
		TransactionID:   field(colTransactionID),
		CustomerID:      field(colCustomerID),
		Category:        field(colCategory),
		Item:            field(colItem),
		PricePerUnit:    optionalFloat(field(colPricePerUnit)),
		Quantity:        optionalInt(field(colQuantity)),
		TotalSpent:      optionalFloat(field(colTotalSpent)),
		PaymentMethod:   field(colPaymentMethod),
		Location:        field(colLocation),
		TransactionDate: field(colTransactionDate),
		DiscountApplied: field(colDiscountApplied),
	}
}

func optionalFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, ok := convert.ToFloat64(s)
	if !ok {
		return nil
	}
	return &v
}

// optionalInt accepts integral spellings with a decimal point, such
// as "2.0", which the raw export produces for quantities.
func optionalInt(s string) *int {
	if s == "" {
		return nil
	}
	v, ok := convert.ToFloat64(s)
	if !ok {
		return nil
	}
	i := int(math.Round(v))
	return &i
}
