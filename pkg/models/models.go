package models

import (
	"time"
)

// RawTransaction is one row of the raw retail sales CSV. Optional
// numeric fields are pointers so that "missing" is distinguishable
// from zero; optional string fields use the empty string as absent.
// TransactionDate and DiscountApplied keep the raw spelling from the
// source file and are interpreted during reconciliation.
type RawTransaction struct {
	TransactionID   string
	CustomerID      string
	Category        string
	Item            string
	PricePerUnit    *float64
	Quantity        *int
	TotalSpent      *float64
	PaymentMethod   string
	Location        string
	TransactionDate string
	DiscountApplied string
}

// CleanTransaction is a fully repaired row: every field present and
// TotalPrice consistent with PricePerUnit*Quantity within tolerance.
type CleanTransaction struct {
	TransactionID   string
	CustomerID      string
	Category        string
	Item            string
	PricePerUnit    float64
	Quantity        int
	TotalPrice      float64
	PaymentMethod   string
	Location        string
	TransactionDate time.Time
	DiscountApplied bool
}

// DropReason classifies why a row was excluded during reconciliation.
type DropReason string

const (
	DropMissingIdentity       DropReason = "missing_identity"
	DropUnrecoverableItem     DropReason = "unrecoverable_item"
	DropUnrecoverableNumeric  DropReason = "unrecoverable_numeric"
	DropBusinessRuleViolation DropReason = "business_rule_violation"
	DropInvalidDate           DropReason = "invalid_date"
)

// DroppedRow keeps the original row content together with the reason
// it was excluded, for the audit report.
type DroppedRow struct {
	Row    RawTransaction
	Reason DropReason
	Detail string
}

// RecoveryEvent records one repaired field: which rule produced the
// new value and what was there before.
type RecoveryEvent struct {
	TransactionID string
	Field         string
	OldValue      string
	NewValue      string
	Rule          string
}

// FieldWarning records a repaired-but-suspicious value, such as an
// unrecognized DiscountApplied spelling coerced to false.
type FieldWarning struct {
	TransactionID string
	Field         string
	Value         string
	Message       string
}

type Category struct {
	CategoryID   int
	CategoryName string
}

type Location struct {
	LocationID   int
	LocationName string
}

type PaymentMethod struct {
	PaymentMethodID   int
	PaymentMethodName string
}

// Customer carries no attributes beyond its identifier: CustomerID is
// both the natural and the surrogate key.
type Customer struct {
	CustomerID string
}

// Item is keyed by (ItemName, CategoryID); the same name under a
// different category is a distinct item. PricePerUnit is the
// first-seen unit price for the pair.
type Item struct {
	ItemID       int
	ItemName     string
	PricePerUnit float64
	CategoryID   int
}

// Transaction is the normalized fact row. Every foreign key must
// resolve to an entity emitted in the same Dataset.
type Transaction struct {
	TransactionID   string
	CustomerID      string
	ItemID          int
	PaymentMethodID int
	LocationID      int
	Quantity        int
	TotalPrice      float64
	TransactionDate time.Time
	DiscountApplied bool
}

// Dataset is the full normalized output: five reference tables plus
// the fact table. Nothing mutates it after the normalizer returns.
type Dataset struct {
	Categories     []Category
	Locations      []Location
	PaymentMethods []PaymentMethod
	Customers      []Customer
	Items          []Item
	Transactions   []Transaction
}

// Counts returns per-entity row counts keyed by table name.
func (d *Dataset) Counts() map[string]int64 {
	return map[string]int64{
		"categories":      int64(len(d.Categories)),
		"locations":       int64(len(d.Locations)),
		"payment_methods": int64(len(d.PaymentMethods)),
		"customers":       int64(len(d.Customers)),
		"items":           int64(len(d.Items)),
		"transactions":    int64(len(d.Transactions)),
	}
}

// TotalRevenue sums TotalPrice over the fact table.
func (d *Dataset) TotalRevenue() float64 {
	var sum float64
	for _, t := range d.Transactions {
		sum += t.TotalPrice
	}
	return sum
}

// TotalQuantity sums Quantity over the fact table.
func (d *Dataset) TotalQuantity() int64 {
	var sum int64
	for _, t := range d.Transactions {
		sum += int64(t.Quantity)
	}
	return sum
}

// StoreStats is the read-back view of one store, used by the
// validator to compare a loaded store against the in-memory Dataset.
type StoreStats struct {
	Store                   string
	Counts                  map[string]int64
	Revenue                 float64
	Quantity                int64
	Orphans                 map[string]int64
	DuplicateTransactionIDs int64
	NonPositiveValues       int64
}
