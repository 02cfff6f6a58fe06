package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oarkflow/json"
	"github.com/oarkflow/log"

	"github.com/oarkflow/retail/pkg/models"
	"github.com/oarkflow/retail/pkg/utils/fileutil"
	"github.com/oarkflow/retail/pkg/validate"
)

// Audit artifact file names.
const (
	FileDroppedRows    = "dropped_rows_report.csv"
	FileRecoveryEvents = "recovery_events.csv"
	FileFieldWarnings  = "field_warnings.csv"
	FileRunSummary     = "run_summary.json"
	FileCleaningLog    = "cleaning_log.txt"
)

// RunSummary is the machine-readable record of one pipeline run.
type RunSummary struct {
	RunID            string           `json:"run_id"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at"`
	SourceFile       string           `json:"source_file"`
	InputRows        int              `json:"input_rows"`
	CleanRows        int              `json:"clean_rows"`
	DroppedRows      int              `json:"dropped_rows"`
	DroppedByReason  map[string]int   `json:"dropped_by_reason"`
	RecoveryEvents   int              `json:"recovery_events"`
	FieldWarnings    int              `json:"field_warnings"`
	TableCounts      map[string]int64 `json:"table_counts,omitempty"`
	TotalRevenue     float64          `json:"total_revenue"`
	TotalQuantity    int64            `json:"total_quantity"`
	ValidationPassed *bool            `json:"validation_passed,omitempty"`
	ValidationChecks []validate.Check `json:"validation_checks,omitempty"`
}

// Writer emits the audit artifacts of a run into a single directory.
type Writer struct {
	Dir string
}

func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir}
}

// WriteDropped records every rejected row with its original content,
// the drop reason, and presence flags for the fields whose absence
// most often causes drops.
func (w *Writer) WriteDropped(dropped []models.DroppedRow) error {
	header := []string{
		"Transaction ID", "Customer ID", "Category", "Item",
		"Price Per Unit", "Quantity", "Total Spent",
		"Payment Method", "Location", "Transaction Date", "Discount Applied",
		"Reason", "Detail", "Has_Price", "Has_Item", "Has_Category",
	}
	rows := make([][]string, 0, len(dropped))
	for _, d := range dropped {
		r := d.Row
		rows = append(rows, []string{
			r.TransactionID,
			r.CustomerID,
			r.Category,
			r.Item,
			optFloat(r.PricePerUnit),
			optInt(r.Quantity),
			optFloat(r.TotalSpent),
			r.PaymentMethod,
			r.Location,
			r.TransactionDate,
			r.DiscountApplied,
			string(d.Reason),
			d.Detail,
			strconv.FormatBool(r.PricePerUnit != nil),
			strconv.FormatBool(r.Item != ""),
			strconv.FormatBool(r.Category != ""),
		})
	}
	return w.writeTable(FileDroppedRows, header, rows)
}

// WriteRecoveries records every repaired field with the rule that
// produced the new value.
func (w *Writer) WriteRecoveries(events []models.RecoveryEvent) error {
	header := []string{"TransactionID", "Field", "OldValue", "NewValue", "Rule"}
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{e.TransactionID, e.Field, e.OldValue, e.NewValue, e.Rule})
	}
	return w.writeTable(FileRecoveryEvents, header, rows)
}

// WriteWarnings records values that were kept but look suspicious.
func (w *Writer) WriteWarnings(warnings []models.FieldWarning) error {
	header := []string{"TransactionID", "Field", "Value", "Message"}
	rows := make([][]string, 0, len(warnings))
	for _, fw := range warnings {
		rows = append(rows, []string{fw.TransactionID, fw.Field, fw.Value, fw.Message})
	}
	return w.writeTable(FileFieldWarnings, header, rows)
}

// WriteSummary writes the run summary as indented JSON.
func (w *Writer) WriteSummary(summary *RunSummary) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	path := filepath.Join(w.Dir, FileRunSummary)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write run summary: %w", err)
	}
	log.Printf("run summary written to %s", path)
	return nil
}

// WriteCleaningLog writes the human-readable recap of a cleaning run.
func (w *Writer) WriteCleaningLog(summary *RunSummary) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s\n", summary.RunID)
	fmt.Fprintf(&b, "Source: %s\n", summary.SourceFile)
	fmt.Fprintf(&b, "Input rows:     %d\n", summary.InputRows)
	fmt.Fprintf(&b, "Clean rows:     %d\n", summary.CleanRows)
	fmt.Fprintf(&b, "Dropped rows:   %d\n", summary.DroppedRows)
	reasons := make([]string, 0, len(summary.DroppedByReason))
	for reason := range summary.DroppedByReason {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(&b, "  %-26s %d\n", reason, summary.DroppedByReason[reason])
	}
	fmt.Fprintf(&b, "Recovered fields: %d\n", summary.RecoveryEvents)
	fmt.Fprintf(&b, "Field warnings:   %d\n", summary.FieldWarnings)
	path := filepath.Join(w.Dir, FileCleaningLog)
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func (w *Writer) writeTable(name string, header []string, rows [][]string) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	cw, err := fileutil.NewCSVWriter(filepath.Join(w.Dir, name), header)
	if err != nil {
		return err
	}
	if err := cw.WriteBatch(rows); err != nil {
		_ = cw.Close()
		return err
	}
	return cw.Close()
}

func optFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
