package product

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// matches "500g", "1.5L", "6 x 330ml", "12pk"
var sizeRegex = regexp.MustCompile(`^(?:(\d+)\s*[x×]\s*)?(\d+(?:\.\d+)?)\s*(kg|g|ml|l|ea|each|pk|pack)$`)

var thousand = decimal.NewFromInt(1000)

type unitInfo struct {
	base    string
	perBase decimal.Decimal
}

var units = map[string]unitInfo{
	"g":    {base: "kg", perBase: thousand},
	"kg":   {base: "kg", perBase: decimal.NewFromInt(1)},
	"ml":   {base: "L", perBase: thousand},
	"l":    {base: "L", perBase: decimal.NewFromInt(1)},
	"ea":   {base: "ea", perBase: decimal.NewFromInt(1)},
	"each": {base: "ea", perBase: decimal.NewFromInt(1)},
	"pk":   {base: "ea", perBase: decimal.NewFromInt(1)},
	"pack": {base: "ea", perBase: decimal.NewFromInt(1)},
}

// DeriveUnitPrice fills the unit price fields from Size and CurrentPrice.
// Sizes that cannot be parsed clear the unit fields.
func DeriveUnitPrice(p *Product) {
	p.UnitPrice, p.UnitName, p.OriginalUnitQuantity = 0, "", 0

	qty, unit, ok := parseSize(p.Size)
	if !ok || qty.IsZero() || p.CurrentPrice <= 0 {
		return
	}
	info := units[unit]
	baseQty := qty.Div(info.perBase)

	p.UnitPrice = decimal.NewFromFloat(p.CurrentPrice).Div(baseQty).Round(2).InexactFloat64()
	p.UnitName = info.base
	p.OriginalUnitQuantity = qty.InexactFloat64()
}

func parseSize(size string) (decimal.Decimal, string, bool) {
	s := strings.ToLower(strings.TrimSpace(size))
	s = strings.TrimPrefix(s, "per ")
	switch s {
	case "kg", "each", "ea":
		return decimal.NewFromInt(1), s, true
	}

	m := sizeRegex.FindStringSubmatch(s)
	if m == nil {
		return decimal.Zero, "", false
	}
	qty, err := decimal.NewFromString(m[2])
	if err != nil {
		return decimal.Zero, "", false
	}
	if m[1] != "" {
		mult, err := decimal.NewFromString(m[1])
		if err != nil {
			return decimal.Zero, "", false
		}
		qty = qty.Mul(mult)
	}
	return qty, m[3], true
}
