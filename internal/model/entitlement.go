package model

import (
	"sort"
	"strconv"
	"strings"
)

// Item names used by the public distribution catalog.  The combined
// ItemRice entry is what the directory stores; citizens book the two
// derived halves instead.
const (
	ItemRice       = "rice"
	ItemRawRice    = "rawRice"
	ItemBoiledRice = "boiledRice"
	ItemWheat      = "wheat"
	ItemSugar      = "sugar"
	ItemPalmOil    = "palmOil"
	ItemToorDal    = "toorDal"
)

// DefaultUnit is used when an allocation string carries no unit.
const DefaultUnit = "Kg"

// Allotment is the monthly quantity a citizen may collect for one item.
type Allotment struct {
	Quantity int    `json:"quantity"`
	Unit     string `json:"unit"`
}

// Entitlement maps item name to allotment.  It is owned by the citizen
// directory and never mutated by the booking path.
type Entitlement map[string]Allotment

// ParseAllocation reads strings such as "5 Kg" or "2L".  The leading
// integer is the quantity (any fractional part is dropped) and the rest
// is the unit.  ok is false when no leading digits are present.
func ParseAllocation(s string) (Allotment, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return Allotment{}, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return Allotment{}, false
	}
	rest := s[end:]
	// skip a fractional part: "2.5 L" is treated as 2 L
	if strings.HasPrefix(rest, ".") {
		rest = strings.TrimLeft(rest[1:], "0123456789")
	}
	unit := strings.TrimSpace(rest)
	if unit == "" {
		unit = DefaultUnit
	}
	return Allotment{Quantity: n, Unit: unit}, true
}

// SplitRice divides a combined rice allotment into raw and boiled halves.
// raw gets the floor and boiled the ceiling so raw+boiled == total.
// Negative totals are clamped to zero.
func SplitRice(total int) (raw, boiled int) {
	if total < 0 {
		total = 0
	}
	raw = total / 2
	boiled = total - raw
	return raw, boiled
}

// Normalize returns a copy of e in which a combined rice entry is
// replaced by its raw and boiled halves.  Explicit rawRice or boiledRice
// entries already present are kept as they are.  Negative quantities are
// clamped to zero.
func (e Entitlement) Normalize() Entitlement {
	out := make(Entitlement, len(e)+1)
	for name, a := range e {
		if a.Quantity < 0 {
			a.Quantity = 0
		}
		if a.Unit == "" {
			a.Unit = DefaultUnit
		}
		out[name] = a
	}
	rice, ok := out[ItemRice]
	if !ok {
		return out
	}
	delete(out, ItemRice)
	raw, boiled := SplitRice(rice.Quantity)
	if _, exists := out[ItemRawRice]; !exists {
		out[ItemRawRice] = Allotment{Quantity: raw, Unit: rice.Unit}
	}
	if _, exists := out[ItemBoiledRice]; !exists {
		out[ItemBoiledRice] = Allotment{Quantity: boiled, Unit: rice.Unit}
	}
	return out
}

// Allotted returns the quantity allotted for name, zero when absent.
func (e Entitlement) Allotted(name string) Allotment {
	return e[name]
}

// Names lists item names in lexical order for stable display.
func (e Entitlement) Names() []string {
	names := make([]string, 0, len(e))
	for n := range e {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
