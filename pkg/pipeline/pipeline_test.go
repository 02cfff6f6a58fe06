package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/oarkflow/retail/pkg/adapters/csvadapter"
	"github.com/oarkflow/retail/pkg/config"
	"github.com/oarkflow/retail/pkg/models"
	"github.com/oarkflow/retail/pkg/reconcile"
	"github.com/oarkflow/retail/pkg/report"
	"github.com/oarkflow/retail/pkg/utils"
)

const rawFixture = `Transaction ID,Customer ID,Category,Item,Price Per Unit,Quantity,Total Spent,Payment Method,Location,Transaction Date,Discount Applied
TXN_1,CUST_01,Beverages,Coffee,2.5,2,5.0,Cash,In-store,2023-01-15,True
TXN_2,CUST_02,Food,Sandwich,,1,4.0,Credit Card,Online,2023-02-20,False
TXN_3,CUST_03,Beverages,,3.5,1,3.5,Cash,In-store,2023-03-05,
TXN_4,,Food,Salad,5.5,1,5.5,Cash,In-store,2023-03-10,False
`

const menuFixture = `price,item
2.5,Coffee
3.5,Latte
4.0,Sandwich
5.5,Salad
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	source := filepath.Join(dir, "sales.csv")
	if err := os.WriteFile(source, []byte(rawFixture), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	menu := filepath.Join(dir, "menu.csv")
	if err := os.WriteFile(menu, []byte(menuFixture), 0o644); err != nil {
		t.Fatalf("write menu: %v", err)
	}
	cfg := &config.Config{
		SourceCSV:     source,
		PriceMenuCSV:  menu,
		CleanCSV:      filepath.Join(dir, "clean.csv"),
		NormalizedDir: filepath.Join(dir, "normalized"),
		ReportDir:     filepath.Join(dir, "reports"),
	}
	cfg.ApplyDefaults()
	return cfg
}

// memoryStore satisfies both store interfaces and serves stats from
// whatever dataset was last loaded into it.
type memoryStore struct {
	name   string
	ds     *models.Dataset
	loads  int
	closed bool

	statsOverride func(models.StoreStats) models.StoreStats
}

func (m *memoryStore) Name() string { return m.name }

func (m *memoryStore) Setup(_ context.Context) error { return nil }

func (m *memoryStore) Close() error {
	m.closed = true
	return nil
}

func (m *memoryStore) Load(_ context.Context, ds *models.Dataset, _ int) error {
	m.ds = ds
	m.loads++
	return nil
}

func (m *memoryStore) LoadNormalized(ctx context.Context, ds *models.Dataset, batchSize int) error {
	return m.Load(ctx, ds, batchSize)
}

func (m *memoryStore) LoadDenormalized(_ context.Context, _ *models.Dataset, _ int) error {
	return nil
}

func (m *memoryStore) Stats(_ context.Context) (models.StoreStats, error) {
	if m.ds == nil {
		return models.StoreStats{}, fmt.Errorf("nothing loaded into %s", m.name)
	}
	stats := models.StoreStats{
		Store:    m.name,
		Counts:   m.ds.Counts(),
		Revenue:  m.ds.TotalRevenue(),
		Quantity: m.ds.TotalQuantity(),
		Orphans:  map[string]int64{},
	}
	if m.statsOverride != nil {
		stats = m.statsOverride(stats)
	}
	return stats, nil
}

func (m *memoryStore) FetchTransaction(_ context.Context, id string) (utils.Record, error) {
	if m.ds == nil {
		return nil, fmt.Errorf("nothing loaded into %s", m.name)
	}
	for _, txn := range m.ds.Transactions {
		if txn.TransactionID == id {
			return utils.Record{
				"CustomerID":      txn.CustomerID,
				"ItemID":          txn.ItemID,
				"PaymentMethodID": txn.PaymentMethodID,
				"LocationID":      txn.LocationID,
				"Quantity":        txn.Quantity,
				"TotalPrice":      txn.TotalPrice,
				"DiscountApplied": txn.DiscountApplied,
			}, nil
		}
	}
	return nil, fmt.Errorf("transaction %s not found", id)
}

func TestRunWithoutStores(t *testing.T) {
	cfg := testConfig(t)
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.InputRows != 4 {
		t.Fatalf("InputRows = %d, want 4", summary.InputRows)
	}
	// TXN_4 has no customer; the other three survive, TXN_2 and TXN_3
	// through recovery.
	if summary.CleanRows != 3 || summary.DroppedRows != 1 {
		t.Fatalf("clean/dropped = %d/%d, want 3/1", summary.CleanRows, summary.DroppedRows)
	}
	if summary.DroppedByReason[string(models.DropMissingIdentity)] != 1 {
		t.Fatalf("dropped reasons: %+v", summary.DroppedByReason)
	}
	if summary.RecoveryEvents == 0 {
		t.Fatalf("expected recovery events for TXN_2 and TXN_3")
	}

	for _, path := range []string{
		cfg.CleanCSV,
		filepath.Join(cfg.NormalizedDir, csvadapter.FileTransactions),
		filepath.Join(cfg.NormalizedDir, csvadapter.FileItems),
		filepath.Join(cfg.ReportDir, report.FileDroppedRows),
		filepath.Join(cfg.ReportDir, report.FileRunSummary),
		filepath.Join(cfg.ReportDir, report.FileCleaningLog),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected artifact %s: %v", path, err)
		}
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	cfg := testConfig(t)
	p, err := New(cfg, WithDryRun(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.CleanRows != 3 {
		t.Fatalf("CleanRows = %d, want 3", summary.CleanRows)
	}
	for _, path := range []string{cfg.CleanCSV, cfg.NormalizedDir, cfg.ReportDir} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("dry run created %s", path)
		}
	}
}

func TestRunLoadsAndValidatesStores(t *testing.T) {
	cfg := testConfig(t)
	sqlStore := &memoryStore{name: "mysql"}
	docStore := &memoryStore{name: "mongodb"}
	p, err := New(cfg,
		WithRelationalStore(sqlStore),
		WithDocumentStore(docStore),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sqlStore.loads != 1 || docStore.loads != 1 {
		t.Fatalf("loads = %d/%d, want 1/1", sqlStore.loads, docStore.loads)
	}
	if !sqlStore.closed || !docStore.closed {
		t.Fatalf("stores were not closed")
	}
	if summary.ValidationPassed == nil || !*summary.ValidationPassed {
		t.Fatalf("validation should have passed: %+v", summary.ValidationChecks)
	}
}

func TestRunFailsOnValidationMismatch(t *testing.T) {
	cfg := testConfig(t)
	sqlStore := &memoryStore{
		name: "mysql",
		statsOverride: func(s models.StoreStats) models.StoreStats {
			s.Counts["transactions"]++
			return s
		},
	}
	p, err := New(cfg, WithRelationalStore(sqlStore))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Run(context.Background()); err == nil {
		t.Fatalf("expected the run to fail on a count mismatch")
	}
}

func TestRunSkipCleaning(t *testing.T) {
	cfg := testConfig(t)

	// First run produces the clean CSV; the second starts from it.
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	first, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	p2, err := New(cfg, WithSkipCleaning(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	second, err := p2.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.CleanRows != first.CleanRows {
		t.Fatalf("skip-cleaning kept %d rows, first run kept %d", second.CleanRows, first.CleanRows)
	}
	if second.DroppedRows != 0 {
		t.Fatalf("skip-cleaning should drop nothing, got %d", second.DroppedRows)
	}
	if second.TableCounts["transactions"] != first.TableCounts["transactions"] {
		t.Fatalf("normalized counts differ across runs: %+v vs %+v", second.TableCounts, first.TableCounts)
	}
}

func TestRunConservesHooks(t *testing.T) {
	cfg := testConfig(t)
	store := &memoryStore{name: "memory"}
	var cleanSeen, normalizeSeen bool
	var loadOrder []string
	p, err := New(cfg,
		WithRelationalStore(store),
		WithLifecycleHooks(&LifecycleHooks{
			AfterClean: func(_ context.Context, res reconcile.Result) error {
				cleanSeen = true
				if got := len(res.Clean) + len(res.Dropped); got != 4 {
					return fmt.Errorf("conservation broken in hook: %d", got)
				}
				return nil
			},
			AfterNormalize: func(_ context.Context, ds *models.Dataset) error {
				normalizeSeen = true
				if len(ds.Transactions) != 3 {
					return fmt.Errorf("unexpected fact rows: %d", len(ds.Transactions))
				}
				return nil
			},
			BeforeLoad: func(_ context.Context, name string) error {
				loadOrder = append(loadOrder, "before:"+name)
				if store.loads != 0 {
					return fmt.Errorf("store already loaded when BeforeLoad fired")
				}
				return nil
			},
			AfterLoad: func(_ context.Context, name string) error {
				loadOrder = append(loadOrder, "after:"+name)
				return nil
			},
		}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !cleanSeen || !normalizeSeen {
		t.Fatalf("hooks did not fire: clean=%v normalize=%v", cleanSeen, normalizeSeen)
	}
	if len(loadOrder) != 2 || loadOrder[0] != "before:memory" || loadOrder[1] != "after:memory" {
		t.Fatalf("load hooks fired out of order: %v", loadOrder)
	}
}
