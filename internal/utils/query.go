// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import (
	"errors"
	"strconv"
	"strings"
)

// ErrOutOfRange is returned by ParseLimit for values outside [1, max].
var ErrOutOfRange = errors.New("value out of range")

// ParseLimit parses a ?limit= style query value. An empty (or blank) value
// yields def. Non-integers and values outside [1, max] are rejected.
//
// Example:
//
//	n, _ := utils.ParseLimit("", 20, 100)   // 20
//	n, _ = utils.ParseLimit("5", 20, 100)   // 5
//	_, err := utils.ParseLimit("0", 20, 100) // ErrOutOfRange
func ParseLimit(s string, def, max int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > max {
		return 0, ErrOutOfRange
	}
	return n, nil
}
