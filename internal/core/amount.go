// Package core implements the bounded custodial ledger: per-account
// balances in int64 smallest units, a capacity limit on total held value, a
// per-operation withdrawal limit, and the guarded executor that sequences
// validate, mutate, transfer and notify.
package core

import (
	"errors"
	"strconv"
	"strings"
)

// ParseAmount converts a decimal string to an operation amount. Amounts are
// whole numbers of the smallest unit; signs, separators and fractions are
// rejected rather than interpreted.
//
// Examples:
//
//	ParseAmount("250")  -> 250, nil
//	ParseAmount("0")    -> 0, ErrZeroAmount
//	ParseAmount("-5")   -> 0, ErrMalformedAmount
//	ParseAmount("2.50") -> 0, ErrMalformedAmount
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrMalformedAmount
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, ErrMalformedAmount
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, ErrAmountOverflow
		}
		return 0, ErrMalformedAmount
	}
	if v == 0 {
		return 0, ErrZeroAmount
	}
	return v, nil
}
