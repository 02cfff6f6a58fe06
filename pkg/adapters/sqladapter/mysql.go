package sqladapter

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/oarkflow/log"
	"github.com/oarkflow/squealx"

	"github.com/oarkflow/retail/pkg/models"
	"github.com/oarkflow/retail/pkg/utils"
)

// Table names in the relational store, in dependency order for loads.
const (
	TableCategories     = "categories"
	TableLocations      = "locations"
	TablePaymentMethods = "payment_methods"
	TableCustomers      = "customers"
	TableItems          = "items"
	TableTransactions   = "transactions"
)

// Loader writes a normalized dataset into a relational store via
// squealx. MySQL and Postgres dialects are supported; surrogate keys
// are supplied by the dataset, never generated by the database.
type Loader struct {
	Db       *squealx.DB
	Driver   string
	truncate bool
}

func NewLoader(db *squealx.DB, driver string, truncate bool) *Loader {
	return &Loader{Db: db, Driver: driver, truncate: truncate}
}

// Setup creates the six tables if they do not exist and optionally
// empties them so a re-run starts from a blank store.
func (l *Loader) Setup(ctx context.Context) error {
	for _, stmt := range l.schema() {
		if _, err := l.Db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	if !l.truncate {
		return nil
	}
	// Children before parents so FK checks stay satisfied.
	for _, table := range []string{TableTransactions, TableItems, TableCustomers, TablePaymentMethods, TableLocations, TableCategories} {
		if _, err := l.Db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}

func (l *Loader) schema() []string {
	boolType := "BOOLEAN"
	if l.Driver == "mysql" {
		boolType = "TINYINT(1)"
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			CategoryID INT PRIMARY KEY,
			CategoryName VARCHAR(100) NOT NULL UNIQUE
		)`, TableCategories),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			LocationID INT PRIMARY KEY,
			LocationName VARCHAR(100) NOT NULL UNIQUE
		)`, TableLocations),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			PaymentMethodID INT PRIMARY KEY,
			PaymentMethodName VARCHAR(100) NOT NULL UNIQUE
		)`, TablePaymentMethods),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			CustomerID VARCHAR(32) PRIMARY KEY
		)`, TableCustomers),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			ItemID INT PRIMARY KEY,
			ItemName VARCHAR(100) NOT NULL,
			PricePerUnit DECIMAL(10,2) NOT NULL,
			CategoryID INT NOT NULL,
			UNIQUE (ItemName, CategoryID),
			FOREIGN KEY (CategoryID) REFERENCES %s (CategoryID)
		)`, TableItems, TableCategories),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			TransactionID VARCHAR(32) PRIMARY KEY,
			CustomerID VARCHAR(32) NOT NULL,
			ItemID INT NOT NULL,
			PaymentMethodID INT NOT NULL,
			LocationID INT NOT NULL,
			Quantity INT NOT NULL,
			TotalPrice DECIMAL(10,2) NOT NULL,
			TransactionDate DATE NOT NULL,
			DiscountApplied %s NOT NULL,
			FOREIGN KEY (CustomerID) REFERENCES %s (CustomerID),
			FOREIGN KEY (ItemID) REFERENCES %s (ItemID),
			FOREIGN KEY (PaymentMethodID) REFERENCES %s (PaymentMethodID),
			FOREIGN KEY (LocationID) REFERENCES %s (LocationID)
		)`, TableTransactions, boolType, TableCustomers, TableItems, TablePaymentMethods, TableLocations),
	}
}

// Load inserts the dataset in dependency order: reference tables
// first, then the fact table, in batches of batchSize. Foreign key
// checks are suspended for the duration of the load; Setup has
// already emptied children before parents, and the normalizer
// guarantees referential integrity before any row reaches the store.
func (l *Loader) Load(ctx context.Context, ds *models.Dataset, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	if err := l.disableConstraints(ctx); err != nil {
		return err
	}
	defer func() {
		if err := l.enableConstraints(ctx); err != nil {
			log.Printf("failed to re-enable constraints: %v", err)
		}
	}()

	cats := make([]utils.Record, 0, len(ds.Categories))
	for _, c := range ds.Categories {
		cats = append(cats, utils.Record{"CategoryID": c.CategoryID, "CategoryName": c.CategoryName})
	}
	if err := l.storeBatches(ctx, TableCategories, cats, batchSize); err != nil {
		return err
	}

	locs := make([]utils.Record, 0, len(ds.Locations))
	for _, lo := range ds.Locations {
		locs = append(locs, utils.Record{"LocationID": lo.LocationID, "LocationName": lo.LocationName})
	}
	if err := l.storeBatches(ctx, TableLocations, locs, batchSize); err != nil {
		return err
	}

	pms := make([]utils.Record, 0, len(ds.PaymentMethods))
	for _, p := range ds.PaymentMethods {
		pms = append(pms, utils.Record{"PaymentMethodID": p.PaymentMethodID, "PaymentMethodName": p.PaymentMethodName})
	}
	if err := l.storeBatches(ctx, TablePaymentMethods, pms, batchSize); err != nil {
		return err
	}

	custs := make([]utils.Record, 0, len(ds.Customers))
	for _, c := range ds.Customers {
		custs = append(custs, utils.Record{"CustomerID": c.CustomerID})
	}
	if err := l.storeBatches(ctx, TableCustomers, custs, batchSize); err != nil {
		return err
	}

	items := make([]utils.Record, 0, len(ds.Items))
	for _, it := range ds.Items {
		items = append(items, utils.Record{
			"ItemID":       it.ItemID,
			"ItemName":     it.ItemName,
			"PricePerUnit": it.PricePerUnit,
			"CategoryID":   it.CategoryID,
		})
	}
	if err := l.storeBatches(ctx, TableItems, items, batchSize); err != nil {
		return err
	}

	txns := make([]utils.Record, 0, len(ds.Transactions))
	for _, t := range ds.Transactions {
		txns = append(txns, utils.Record{
			"TransactionID":   t.TransactionID,
			"CustomerID":      t.CustomerID,
			"ItemID":          t.ItemID,
			"PaymentMethodID": t.PaymentMethodID,
			"LocationID":      t.LocationID,
			"Quantity":        t.Quantity,
			"TotalPrice":      t.TotalPrice,
			"TransactionDate": t.TransactionDate,
			"DiscountApplied": t.DiscountApplied,
		})
	}
	return l.storeBatches(ctx, TableTransactions, txns, batchSize)
}

func (l *Loader) disableConstraints(ctx context.Context) error {
	var fkSQL string
	switch l.Driver {
	case "mysql":
		fkSQL = "SET FOREIGN_KEY_CHECKS = 0"
	case "postgres":
		fkSQL = "SET session_replication_role = 'replica'"
	default:
		return nil
	}
	if _, err := l.Db.ExecContext(ctx, fkSQL); err != nil {
		return fmt.Errorf("disable constraints: %w", err)
	}
	return nil
}

func (l *Loader) enableConstraints(ctx context.Context) error {
	var fkSQL string
	switch l.Driver {
	case "mysql":
		fkSQL = "SET FOREIGN_KEY_CHECKS = 1"
	case "postgres":
		fkSQL = "SET session_replication_role = 'origin'"
	default:
		return nil
	}
	if _, err := l.Db.ExecContext(ctx, fkSQL); err != nil {
		return fmt.Errorf("enable constraints: %w", err)
	}
	return nil
}

func (l *Loader) storeBatches(ctx context.Context, table string, records []utils.Record, batchSize int) error {
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := l.storeBatch(ctx, table, records[start:end]); err != nil {
			return fmt.Errorf("load %s rows %d..%d: %w", table, start, end, err)
		}
	}
	if len(records) > 0 {
		log.Printf("loaded %d rows into %s", len(records), table)
	}
	return nil
}

func (l *Loader) storeBatch(_ context.Context, table string, batch []utils.Record) error {
	if len(batch) == 0 {
		return nil
	}
	var keys []string
	for k := range batch[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	valPlaceholders := make([]string, 0, len(keys))
	for _, k := range keys {
		valPlaceholders = append(valPlaceholders, fmt.Sprintf(":%s", k))
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(keys, ", "), strings.Join(valPlaceholders, ", "))
	_, err := l.Db.NamedExec(q, batch)
	return err
}

// Name identifies this store in validation reports.
func (l *Loader) Name() string {
	return l.Driver
}

// Stats reads back row counts, revenue and quantity sums, orphaned
// foreign keys and duplicate transaction IDs for cross-store
// validation.
func (l *Loader) Stats(ctx context.Context) (models.StoreStats, error) {
	stats := models.StoreStats{
		Store:   l.Driver,
		Counts:  make(map[string]int64),
		Orphans: make(map[string]int64),
	}
	for _, table := range []string{TableCategories, TableLocations, TablePaymentMethods, TableCustomers, TableItems, TableTransactions} {
		var count int64
		if err := l.Db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			return stats, fmt.Errorf("count %s: %w", table, err)
		}
		stats.Counts[table] = count
	}

	sumQ := fmt.Sprintf("SELECT COALESCE(SUM(TotalPrice), 0), COALESCE(SUM(Quantity), 0) FROM %s", TableTransactions)
	if err := l.Db.QueryRow(sumQ).Scan(&stats.Revenue, &stats.Quantity); err != nil {
		return stats, fmt.Errorf("sum %s: %w", TableTransactions, err)
	}

	orphanChecks := []struct {
		name   string
		parent string
		key    string
	}{
		{"transactions.CustomerID", TableCustomers, "CustomerID"},
		{"transactions.ItemID", TableItems, "ItemID"},
		{"transactions.PaymentMethodID", TablePaymentMethods, "PaymentMethodID"},
		{"transactions.LocationID", TableLocations, "LocationID"},
	}
	for _, check := range orphanChecks {
		q := fmt.Sprintf(
			"SELECT COUNT(*) FROM %s t LEFT JOIN %s p ON t.%s = p.%s WHERE p.%s IS NULL",
			TableTransactions, check.parent, check.key, check.key, check.key,
		)
		var orphans int64
		if err := l.Db.QueryRow(q).Scan(&orphans); err != nil {
			return stats, fmt.Errorf("orphan check %s: %w", check.name, err)
		}
		stats.Orphans[check.name] = orphans
	}
	itemQ := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s i LEFT JOIN %s c ON i.CategoryID = c.CategoryID WHERE c.CategoryID IS NULL",
		TableItems, TableCategories,
	)
	var itemOrphans int64
	if err := l.Db.QueryRow(itemQ).Scan(&itemOrphans); err != nil {
		return stats, fmt.Errorf("orphan check items.CategoryID: %w", err)
	}
	stats.Orphans["items.CategoryID"] = itemOrphans

	dupQ := fmt.Sprintf("SELECT COUNT(*) - COUNT(DISTINCT TransactionID) FROM %s", TableTransactions)
	if err := l.Db.QueryRow(dupQ).Scan(&stats.DuplicateTransactionIDs); err != nil {
		return stats, fmt.Errorf("duplicate check: %w", err)
	}

	negQ := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE Quantity <= 0 OR TotalPrice <= 0", TableTransactions)
	if err := l.Db.QueryRow(negQ).Scan(&stats.NonPositiveValues); err != nil {
		return stats, fmt.Errorf("non-positive value check: %w", err)
	}
	return stats, nil
}

// placeholder returns the dialect's bind marker for the nth argument.
func (l *Loader) placeholder(n int) string {
	if l.Driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// FetchTransaction reads back one fact row by ID for spot checks.
func (l *Loader) FetchTransaction(ctx context.Context, id string) (utils.Record, error) {
	q := fmt.Sprintf(
		"SELECT CustomerID, ItemID, PaymentMethodID, LocationID, Quantity, TotalPrice, DiscountApplied FROM %s WHERE TransactionID = %s",
		TableTransactions, l.placeholder(1),
	)
	var (
		customerID      string
		itemID          int
		paymentMethodID int
		locationID      int
		quantity        int
		totalPrice      float64
		discountApplied bool
	)
	err := l.Db.QueryRow(q, id).Scan(
		&customerID, &itemID, &paymentMethodID, &locationID, &quantity, &totalPrice, &discountApplied,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch transaction %s: %w", id, err)
	}
	return utils.Record{
		"TransactionID":   id,
		"CustomerID":      customerID,
		"ItemID":          itemID,
		"PaymentMethodID": paymentMethodID,
		"LocationID":      locationID,
		"Quantity":        quantity,
		"TotalPrice":      totalPrice,
		"DiscountApplied": discountApplied,
	}, nil
}

func (l *Loader) Close() error {
	return l.Db.Close()
}
