// Package billing applies payment-provider events to subscription, addon,
// payment and audit state.
package billing

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PriceCatalog maps provider price ids to internal plan ids and addon codes.
// A price id belongs to at most one side.
type PriceCatalog struct {
	plans  map[string]string
	addons map[string]string
}

// catalogDocument is the JSON shape of PRICE_CATALOG_JSON:
//
//	{"plans": {"price_pro_m": "pro"}, "addons": {"price_seat": "extra_seats"}}
type catalogDocument struct {
	Plans  map[string]string `json:"plans"`
	Addons map[string]string `json:"addons"`
}

// NewPriceCatalog copies the given maps. It fails when a price id appears on
// both sides or maps to an empty code.
func NewPriceCatalog(plans, addons map[string]string) (*PriceCatalog, error) {
	c := &PriceCatalog{
		plans:  make(map[string]string, len(plans)),
		addons: make(map[string]string, len(addons)),
	}
	for price, plan := range plans {
		if strings.TrimSpace(plan) == "" {
			return nil, fmt.Errorf("billing: price %q maps to an empty plan id", price)
		}
		c.plans[price] = plan
	}
	for price, code := range addons {
		if strings.TrimSpace(code) == "" {
			return nil, fmt.Errorf("billing: price %q maps to an empty addon code", price)
		}
		if _, dup := c.plans[price]; dup {
			return nil, fmt.Errorf("billing: price %q is both a plan and an addon", price)
		}
		c.addons[price] = code
	}
	return c, nil
}

// ParseCatalogJSON builds a PriceCatalog from its JSON configuration.
func ParseCatalogJSON(raw string) (*PriceCatalog, error) {
	var doc catalogDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("billing: parse price catalog: %w", err)
	}
	return NewPriceCatalog(doc.Plans, doc.Addons)
}

// PlanFor returns the plan id for a price, or false.
func (c *PriceCatalog) PlanFor(priceID string) (string, bool) {
	plan, ok := c.plans[priceID]
	return plan, ok
}

// AddonFor returns the addon code for a price, or false.
func (c *PriceCatalog) AddonFor(priceID string) (string, bool) {
	code, ok := c.addons[priceID]
	return code, ok
}

// AddonQuantity is the quantity of one addon code on a subscription.
type AddonQuantity struct {
	Code     string
	Quantity int64
}

// Resolve derives the plan and the addon quantities from subscription line
// items. The plan comes from the first item whose price maps to a plan.
// Addon quantities are summed per code, in first-seen order. Unknown prices
// are skipped.
func (c *PriceCatalog) Resolve(items []subscriptionItem) (string, []AddonQuantity) {
	var plan string
	var addons []AddonQuantity
	index := make(map[string]int)

	for _, item := range items {
		price := item.priceID()
		if price == "" {
			continue
		}
		if p, ok := c.PlanFor(price); ok {
			if plan == "" {
				plan = p
			}
			continue
		}
		code, ok := c.AddonFor(price)
		if !ok {
			continue
		}
		qty := item.quantity()
		if qty < 0 {
			qty = 0
		}
		if i, seen := index[code]; seen {
			addons[i].Quantity += qty
			continue
		}
		index[code] = len(addons)
		addons = append(addons, AddonQuantity{Code: code, Quantity: qty})
	}
	return plan, addons
}
