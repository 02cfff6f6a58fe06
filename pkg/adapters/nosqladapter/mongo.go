package nosqladapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oarkflow/json"
	"github.com/oarkflow/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/oarkflow/retail/pkg/models"
	"github.com/oarkflow/retail/pkg/normalize"
	"github.com/oarkflow/retail/pkg/utils"
)

// Collection names in the document store.
const (
	CollCategories     = "categories"
	CollLocations      = "locations"
	CollPaymentMethods = "payment_methods"
	CollCustomers      = "customers"
	CollItems          = "items"
	CollTransactions   = "transactions"
	CollDenormalized   = "transactions_with_details"
)

// Loader writes a normalized dataset into MongoDB, mirroring the six
// relational tables plus an optional denormalized collection with the
// reference attributes embedded in each transaction document.
type Loader struct {
	uri      string
	database string
	client   *mongo.Client
	db       *mongo.Database
}

func NewLoader(uri, database string) *Loader {
	return &Loader{uri: uri, database: database}
}

func (l *Loader) Setup(ctx context.Context) error {
	clientOpts := options.Client().ApplyURI(l.uri)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return err
	}
	if err = client.Ping(ctx, nil); err != nil {
		return err
	}
	l.client = client
	l.db = client.Database(l.database)
	return nil
}

// LoadNormalized replaces the six mirrored collections with the
// dataset's content. Surrogate keys become _id so duplicate loads
// fail instead of silently doubling the store.
func (l *Loader) LoadNormalized(ctx context.Context, ds *models.Dataset, batchSize int) error {
	cats := make([]utils.Record, 0, len(ds.Categories))
	for _, c := range ds.Categories {
		cats = append(cats, utils.Record{"_id": c.CategoryID, "CategoryName": c.CategoryName})
	}
	if err := l.replaceCollection(ctx, CollCategories, cats, batchSize); err != nil {
		return err
	}

	locs := make([]utils.Record, 0, len(ds.Locations))
	for _, lo := range ds.Locations {
		locs = append(locs, utils.Record{"_id": lo.LocationID, "LocationName": lo.LocationName})
	}
	if err := l.replaceCollection(ctx, CollLocations, locs, batchSize); err != nil {
		return err
	}

	pms := make([]utils.Record, 0, len(ds.PaymentMethods))
	for _, p := range ds.PaymentMethods {
		pms = append(pms, utils.Record{"_id": p.PaymentMethodID, "PaymentMethodName": p.PaymentMethodName})
	}
	if err := l.replaceCollection(ctx, CollPaymentMethods, pms, batchSize); err != nil {
		return err
	}

	custs := make([]utils.Record, 0, len(ds.Customers))
	for _, c := range ds.Customers {
		custs = append(custs, utils.Record{"_id": c.CustomerID})
	}
	if err := l.replaceCollection(ctx, CollCustomers, custs, batchSize); err != nil {
		return err
	}

	items := make([]utils.Record, 0, len(ds.Items))
	for _, it := range ds.Items {
		items = append(items, utils.Record{
			"_id":          it.ItemID,
			"ItemName":     it.ItemName,
			"PricePerUnit": it.PricePerUnit,
			"CategoryID":   it.CategoryID,
		})
	}
	if err := l.replaceCollection(ctx, CollItems, items, batchSize); err != nil {
		return err
	}

	txns := make([]utils.Record, 0, len(ds.Transactions))
	for _, t := range ds.Transactions {
		txns = append(txns, utils.Record{
			"_id":             t.TransactionID,
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
	return l.replaceCollection(ctx, CollTransactions, txns, batchSize)
}

// LoadDenormalized replaces the embedded-document collection with one
// document per transaction, reference attributes joined in.
func (l *Loader) LoadDenormalized(ctx context.Context, ds *models.Dataset, batchSize int) error {
	docs := normalize.Denormalize(ds)
	records := make([]utils.Record, 0, len(docs))
	for _, doc := range docs {
		rec := utils.CloneRecord(doc)
		rec["_id"] = rec["TransactionID"]
		delete(rec, "TransactionID")
		records = append(records, rec)
	}
	return l.replaceCollection(ctx, CollDenormalized, records, batchSize)
}

func (l *Loader) replaceCollection(ctx context.Context, name string, records []utils.Record, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	coll := l.db.Collection(name)
	if err := coll.Drop(ctx); err != nil {
		return fmt.Errorf("drop %s: %w", name, err)
	}
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		docs := make([]any, 0, end-start)
		for _, rec := range records[start:end] {
			docs = append(docs, rec)
		}
		if _, err := coll.InsertMany(ctx, docs); err != nil {
			return fmt.Errorf("insert into %s: %w", name, err)
		}
	}
	if len(records) > 0 {
		log.Printf("loaded %d documents into %s", len(records), name)
	}
	return nil
}

// Name identifies this store in validation reports.
func (l *Loader) Name() string {
	return "mongodb"
}

// Stats reads back document counts and revenue/quantity sums for
// cross-store validation. Orphan counts use the mirrored normalized
// collections; the denormalized collection carries no references to
// dangle.
func (l *Loader) Stats(ctx context.Context) (models.StoreStats, error) {
	stats := models.StoreStats{
		Store:   "mongodb",
		Counts:  make(map[string]int64),
		Orphans: make(map[string]int64),
	}
	for _, name := range []string{CollCategories, CollLocations, CollPaymentMethods, CollCustomers, CollItems, CollTransactions} {
		count, err := l.db.Collection(name).CountDocuments(ctx, bson.D{})
		if err != nil {
			return stats, fmt.Errorf("count %s: %w", name, err)
		}
		stats.Counts[name] = count
	}

	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "revenue", Value: bson.D{{Key: "$sum", Value: "$TotalPrice"}}},
			{Key: "quantity", Value: bson.D{{Key: "$sum", Value: "$Quantity"}}},
		}}},
	}
	cursor, err := l.db.Collection(CollTransactions).Aggregate(ctx, pipeline)
	if err != nil {
		return stats, fmt.Errorf("aggregate transactions: %w", err)
	}
	defer cursor.Close(ctx)
	if cursor.Next(ctx) {
		var result struct {
			Revenue  float64 `bson:"revenue"`
			Quantity int64   `bson:"quantity"`
		}
		if err := cursor.Decode(&result); err != nil {
			return stats, fmt.Errorf("decode aggregate: %w", err)
		}
		stats.Revenue = result.Revenue
		stats.Quantity = result.Quantity
	}

	orphanChecks := []struct {
		name   string
		parent string
		field  string
	}{
		{"transactions.CustomerID", CollCustomers, "CustomerID"},
		{"transactions.ItemID", CollItems, "ItemID"},
		{"transactions.PaymentMethodID", CollPaymentMethods, "PaymentMethodID"},
		{"transactions.LocationID", CollLocations, "LocationID"},
	}
	for _, check := range orphanChecks {
		orphans, err := l.countOrphans(ctx, CollTransactions, check.parent, check.field)
		if err != nil {
			return stats, fmt.Errorf("orphan check %s: %w", check.name, err)
		}
		stats.Orphans[check.name] = orphans
	}
	itemOrphans, err := l.countOrphans(ctx, CollItems, CollCategories, "CategoryID")
	if err != nil {
		return stats, fmt.Errorf("orphan check items.CategoryID: %w", err)
	}
	stats.Orphans["items.CategoryID"] = itemOrphans

	// _id uniqueness is enforced by the store, so duplicates cannot
	// survive a load.
	stats.DuplicateTransactionIDs = 0

	nonPositive, err := l.db.Collection(CollTransactions).CountDocuments(ctx, bson.M{
		"$or": []bson.M{
			{"Quantity": bson.M{"$lte": 0}},
			{"TotalPrice": bson.M{"$lte": 0}},
		},
	})
	if err != nil {
		return stats, fmt.Errorf("non-positive value check: %w", err)
	}
	stats.NonPositiveValues = nonPositive
	return stats, nil
}

func (l *Loader) countOrphans(ctx context.Context, child, parent, field string) (int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: parent},
			{Key: "localField", Value: field},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "parent"},
		}}},
		{{Key: "$match", Value: bson.D{{Key: "parent", Value: bson.D{{Key: "$size", Value: 0}}}}}},
		{{Key: "$count", Value: "orphans"}},
	}
	cursor, err := l.db.Collection(child).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)
	if cursor.Next(ctx) {
		var result struct {
			Orphans int64 `bson:"orphans"`
		}
		if err := cursor.Decode(&result); err != nil {
			return 0, err
		}
		return result.Orphans, nil
	}
	return 0, nil
}

// FetchTransaction reads back one fact document by ID for spot checks.
func (l *Loader) FetchTransaction(ctx context.Context, id string) (utils.Record, error) {
	var doc bson.M
	err := l.db.Collection(CollTransactions).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("fetch transaction %s: %w", id, err)
	}
	rec := utils.Record{"TransactionID": id}
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		rec[k] = v
	}
	return rec, nil
}

// ExportCollections dumps every known collection to JSON files under
// dir, one file per collection.
func (l *Loader) ExportCollections(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	names := []string{CollCategories, CollLocations, CollPaymentMethods, CollCustomers, CollItems, CollTransactions, CollDenormalized}
	for _, name := range names {
		cursor, err := l.db.Collection(name).Find(ctx, bson.D{})
		if err != nil {
			return fmt.Errorf("find %s: %w", name, err)
		}
		var docs []bson.M
		if err := cursor.All(ctx, &docs); err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if docs == nil {
			docs = []bson.M{}
		}
		data, err := json.Marshal(docs)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", name, err)
		}
		path := filepath.Join(dir, name+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		log.Printf("exported %d documents from %s to %s", len(docs), name, path)
	}
	return nil
}

func (l *Loader) Close() error {
	if l.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return l.client.Disconnect(ctx)
	}
	return nil
}
