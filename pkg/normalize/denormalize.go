package normalize

import (
	"github.com/oarkflow/retail/pkg/models"
	"github.com/oarkflow/retail/pkg/utils"
)

// Denormalize joins the reference attributes back into each fact row,
// producing the embedded-document shape used by the MongoDB
// denormalized load and the mongo_denormalized.csv export.
func Denormalize(ds *models.Dataset) []utils.Record {
	categories := make(map[int]models.Category, len(ds.Categories))
	for _, c := range ds.Categories {
		categories[c.CategoryID] = c
	}
	locations := make(map[int]models.Location, len(ds.Locations))
	for _, l := range ds.Locations {
		locations[l.LocationID] = l
	}
	payments := make(map[int]models.PaymentMethod, len(ds.PaymentMethods))
	for _, p := range ds.PaymentMethods {
		payments[p.PaymentMethodID] = p
	}
	items := make(map[int]models.Item, len(ds.Items))
	for _, it := range ds.Items {
		items[it.ItemID] = it
	}

	docs := make([]utils.Record, 0, len(ds.Transactions))
	for _, t := range ds.Transactions {
		item := items[t.ItemID]
		docs = append(docs, utils.Record{
			"TransactionID":     t.TransactionID,
			"CustomerID":        t.CustomerID,
			"CategoryName":      categories[item.CategoryID].CategoryName,
			"ItemName":          item.ItemName,
			"PricePerUnit":      item.PricePerUnit,
			"Quantity":          t.Quantity,
			"TotalPrice":        t.TotalPrice,
			"PaymentMethodName": payments[t.PaymentMethodID].PaymentMethodName,
			"LocationName":      locations[t.LocationID].LocationName,
			"TransactionDate":   t.TransactionDate,
			"DiscountApplied":   t.DiscountApplied,
		})
	}
	return docs
}
