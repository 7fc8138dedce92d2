/*
catalog.go - Credit package catalog

PURPOSE:
  Maps purchases to credit counts. Both webhook ingestion and payment
  resolution classify through the same catalog, so the two paths can
  never disagree on what a given amount is worth.

CLASSIFICATION ORDER:
  1. Explicit package tag from provider metadata (most reliable)
  2. Amount tier match within an absolute tolerance (rounding, fees)
  3. Safe default of the smallest package (1 credit)

CONFIGURATION:
  Pricing changes; the catalog is built from configuration, not code.
  Default() preserves the production tiers: $280 = 8 credits,
  $150 = 4 credits, $45 = 1 credit, tolerance ±$1.00.

SEE ALSO:
  - config: TOML [[packages]] override
  - ingest: Classifies webhook checkout sessions
  - payments: Classifies resolved payments
*/
package packages

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Package is one purchasable bundle mapping to a fixed credit count.
type Package struct {
	ID      string          // stable tag used in provider metadata, e.g. "4_pack"
	Name    string          // display name, e.g. "4-Pack"
	Credits int             // credits granted per purchase
	Price   decimal.Decimal // list price in major currency units
	Aliases []string        // phrases matched against payment descriptions
}

// Catalog is an ordered, table-driven package mapping.
// Tiers are matched in declaration order; the first within tolerance wins.
type Catalog struct {
	packages  []Package
	tolerance decimal.Decimal
	defaultID string
}

// New builds a catalog. defaultID names the fallback package for amounts
// that match no tier; it must exist in pkgs.
func New(pkgs []Package, tolerance decimal.Decimal, defaultID string) *Catalog {
	return &Catalog{
		packages:  pkgs,
		tolerance: tolerance,
		defaultID: defaultID,
	}
}

// Default returns the production catalog.
func Default() *Catalog {
	return New([]Package{
		{
			ID:      "8_pack",
			Name:    "8-Pack",
			Credits: 8,
			Price:   decimal.NewFromInt(280),
			Aliases: []string{"8 pack", "8-pack"},
		},
		{
			ID:      "4_pack",
			Name:    "4-Pack",
			Credits: 4,
			Price:   decimal.NewFromInt(150),
			Aliases: []string{"4 pack", "4-pack"},
		},
		{
			ID:      "single",
			Name:    "Single",
			Credits: 1,
			Price:   decimal.NewFromInt(45),
			Aliases: []string{"single", "1 pack"},
		},
	}, decimal.NewFromInt(1), "single")
}

// Packages returns the catalog's tiers in matching order.
func (c *Catalog) Packages() []Package {
	return c.packages
}

// Fallback returns the default package used when nothing matches.
func (c *Catalog) Fallback() Package {
	for _, p := range c.packages {
		if p.ID == c.defaultID {
			return p
		}
	}
	// Misconfigured default: fall back to the last (cheapest) tier.
	return c.packages[len(c.packages)-1]
}

// ByTag looks up a package by its metadata tag.
func (c *Catalog) ByTag(tag string) (Package, bool) {
	for _, p := range c.packages {
		if p.ID == tag {
			return p, true
		}
	}
	return Package{}, false
}

// ByAmount matches an amount (major units) to a tier within tolerance.
func (c *Catalog) ByAmount(amount decimal.Decimal) (Package, bool) {
	for _, p := range c.packages {
		if amount.Sub(p.Price).Abs().LessThan(c.tolerance) {
			return p, true
		}
	}
	return Package{}, false
}

// ByDescription matches a free-text payment description against package
// aliases, e.g. "Bright Tails 8-Pack of lessons".
func (c *Catalog) ByDescription(desc string) (Package, bool) {
	lowered := strings.ToLower(desc)
	for _, p := range c.packages {
		for _, alias := range p.Aliases {
			if strings.Contains(lowered, alias) {
				return p, true
			}
		}
	}
	return Package{}, false
}

// Classify resolves a purchase to a package: explicit metadata tag first,
// then amount tier (amountCents in minor units), then the default.
func (c *Catalog) Classify(tag string, amountCents int64) Package {
	if tag != "" {
		if p, ok := c.ByTag(tag); ok {
			return p
		}
	}
	if p, ok := c.ByAmount(AmountFromCents(amountCents)); ok {
		return p
	}
	return c.Fallback()
}

// AmountFromCents converts provider minor units to major currency units.
func AmountFromCents(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
}
