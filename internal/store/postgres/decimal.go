package postgres

import "github.com/shopspring/decimal"

// nullDec converts an optional decimal to its SQL representation.
func nullDec(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// decPtr converts a scanned nullable decimal back to an optional value.
func decPtr(nd decimal.NullDecimal) *decimal.Decimal {
	if !nd.Valid {
		return nil
	}
	d := nd.Decimal
	return &d
}
