package utils

import (
	"math"
)

type Record = map[string]any

// RoundMoney rounds a monetary amount to two decimal places.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

// WithinTolerance reports whether two amounts agree within the given
// absolute tolerance. A small epsilon absorbs float64 representation
// error so that exact boundary values still pass.
func WithinTolerance(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance+1e-9
}

func CloneRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
