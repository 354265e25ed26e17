package product

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	MinNameLength = 4
	MaxNameLength = 100
	MinIDLength   = 2
	MaxIDLength   = 20
	MaxPrice      = 999
)

var ErrInvalid = errors.New("invalid product")

// Validate rejects products that must never reach reconciliation. A panic
// while inspecting the product is reported as a rejection.
func Validate(p Product) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInvalid, r)
		}
	}()

	if n := utf8.RuneCountInString(p.Name); n < MinNameLength || n > MaxNameLength {
		return fmt.Errorf("%w: name length %d outside [%d, %d]", ErrInvalid, n, MinNameLength, MaxNameLength)
	}
	if n := utf8.RuneCountInString(p.ID); n < MinIDLength || n > MaxIDLength {
		return fmt.Errorf("%w: id length %d outside [%d, %d]", ErrInvalid, n, MinIDLength, MaxIDLength)
	}
	price := p.CurrentPrice
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 || price > MaxPrice {
		return fmt.Errorf("%w: price %v outside (0, %d]", ErrInvalid, price, MaxPrice)
	}
	return nil
}

// NormalizeName trims and collapses whitespace and title-cases the result.
func NormalizeName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	return cases.Title(language.English).String(name)
}
