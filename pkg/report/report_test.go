package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oarkflow/retail/pkg/models"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return records
}

func TestWriteDroppedIncludesPresenceFlags(t *testing.T) {
	dir := t.TempDir()
	price := 2.5
	dropped := []models.DroppedRow{
		{
			Row: models.RawTransaction{
				TransactionID: "TXN_1",
				CustomerID:    "CUST_01",
				Item:          "Coffee",
				PricePerUnit:  &price,
			},
			Reason: models.DropInvalidDate,
			Detail: "transaction date missing",
		},
		{
			Row:    models.RawTransaction{TransactionID: "TXN_2"},
			Reason: models.DropMissingIdentity,
			Detail: "transaction or customer identifier missing",
		},
	}
	if err := NewWriter(dir).WriteDropped(dropped); err != nil {
		t.Fatalf("WriteDropped: %v", err)
	}

	records := readCSV(t, filepath.Join(dir, FileDroppedRows))
	if len(records) != 3 {
		t.Fatalf("got %d records, want header plus 2 rows", len(records))
	}
	header := records[0]
	idx := make(map[string]int)
	for i, name := range header {
		idx[name] = i
	}
	for _, col := range []string{"Reason", "Detail", "Has_Price", "Has_Item", "Has_Category"} {
		if _, ok := idx[col]; !ok {
			t.Fatalf("header missing %s: %v", col, header)
		}
	}
	first := records[1]
	if first[idx["Reason"]] != string(models.DropInvalidDate) {
		t.Fatalf("Reason = %q", first[idx["Reason"]])
	}
	if first[idx["Has_Price"]] != "true" || first[idx["Has_Item"]] != "true" || first[idx["Has_Category"]] != "false" {
		t.Fatalf("presence flags wrong: %v", first)
	}
	second := records[2]
	if second[idx["Has_Price"]] != "false" || second[idx["Has_Item"]] != "false" {
		t.Fatalf("presence flags wrong: %v", second)
	}
}

func TestWriteRecoveriesAndWarnings(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	events := []models.RecoveryEvent{
		{TransactionID: "TXN_1", Field: "PricePerUnit", NewValue: "2.5", Rule: "total_div_quantity"},
	}
	if err := w.WriteRecoveries(events); err != nil {
		t.Fatalf("WriteRecoveries: %v", err)
	}
	records := readCSV(t, filepath.Join(dir, FileRecoveryEvents))
	if len(records) != 2 || records[1][1] != "PricePerUnit" {
		t.Fatalf("unexpected recovery rows: %v", records)
	}

	warnings := []models.FieldWarning{
		{TransactionID: "TXN_2", Field: "DiscountApplied", Value: "maybe", Message: "unrecognized boolean spelling, treated as false"},
	}
	if err := w.WriteWarnings(warnings); err != nil {
		t.Fatalf("WriteWarnings: %v", err)
	}
	records = readCSV(t, filepath.Join(dir, FileFieldWarnings))
	if len(records) != 2 || records[1][2] != "maybe" {
		t.Fatalf("unexpected warning rows: %v", records)
	}
}

func TestWriteSummary(t *testing.T) {
	dir := t.TempDir()
	passed := true
	summary := &RunSummary{
		RunID:           "run-1",
		StartedAt:       time.Now().Add(-time.Minute),
		FinishedAt:      time.Now(),
		SourceFile:      "sales.csv",
		InputRows:       100,
		CleanRows:       90,
		DroppedRows:     10,
		DroppedByReason: map[string]int{"invalid_date": 4, "missing_identity": 6},
		RecoveryEvents:  12,
		TotalRevenue:    1234.56,
		TotalQuantity:   321,
		ValidationPassed: &passed,
	}
	if err := NewWriter(dir).WriteSummary(summary); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, FileRunSummary))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var got RunSummary
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if got.RunID != "run-1" || got.InputRows != 100 || got.DroppedRows != 10 {
		t.Fatalf("summary round trip mismatch: %+v", got)
	}
	if got.DroppedByReason["invalid_date"] != 4 {
		t.Fatalf("dropped-by-reason mismatch: %+v", got.DroppedByReason)
	}
	if got.ValidationPassed == nil || !*got.ValidationPassed {
		t.Fatalf("validation flag lost: %+v", got.ValidationPassed)
	}
}

func TestWriteCleaningLog(t *testing.T) {
	dir := t.TempDir()
	summary := &RunSummary{
		RunID:           "run-2",
		SourceFile:      "sales.csv",
		InputRows:       50,
		CleanRows:       47,
		DroppedRows:     3,
		DroppedByReason: map[string]int{"invalid_date": 1, "missing_identity": 2},
		RecoveryEvents:  5,
		FieldWarnings:   1,
	}
	if err := NewWriter(dir).WriteCleaningLog(summary); err != nil {
		t.Fatalf("WriteCleaningLog: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, FileCleaningLog))
	if err != nil {
		t.Fatalf("read cleaning log: %v", err)
	}
	text := string(data)
	for _, want := range []string{"Run run-2", "Input rows:", "invalid_date", "missing_identity", "Recovered fields: 5"} {
		if !strings.Contains(text, want) {
			t.Fatalf("cleaning log missing %q:\n%s", want, text)
		}
	}
}
