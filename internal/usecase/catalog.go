// File: internal/usecase/catalog.go
package usecase

import (
	"fmt"
	"sort"
	"strings"

	"aicode-billing/internal/config"
	"aicode-billing/internal/domain"
	"aicode-billing/internal/domain/model"
)

// creditsPrefix marks credit package product codes: "credits/basic".
const creditsPrefix = "credits"

// Offer is a priced product ready to be paid for.
type Offer struct {
	Product     string
	Amount      int64 // minor units
	Currency    string
	Description string
	Intent      model.Intent
}

// Catalog resolves product codes against configured prices.
// Subscription codes are "plan/cycle" (e.g. "pro/monthly").
type Catalog struct {
	currency string
	plans    map[string]map[string]config.PlanPrice
	packages map[string]config.CreditPackageConfig
}

func NewCatalog(cfg config.CatalogConfig, currency string) *Catalog {
	return &Catalog{currency: currency, plans: cfg.Plans, packages: cfg.CreditPackages}
}

func (c *Catalog) Resolve(product string) (*Offer, error) {
	head, tail, ok := strings.Cut(strings.ToLower(strings.TrimSpace(product)), "/")
	if !ok || head == "" || tail == "" {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProduct, product)
	}
	if head == creditsPrefix {
		return c.CreditPackage(tail)
	}
	return c.Subscription(head, tail)
}

func (c *Catalog) Subscription(plan, cycle string) (*Offer, error) {
	p, ok := c.plans[plan][cycle]
	if !ok {
		return nil, fmt.Errorf("%w: plan %s/%s", domain.ErrUnknownProduct, plan, cycle)
	}
	desc := p.Description
	if desc == "" {
		desc = fmt.Sprintf("%s %s membership", plan, cycle)
	}
	return &Offer{
		Product:     plan + "/" + cycle,
		Amount:      p.Price,
		Currency:    c.currency,
		Description: desc,
		Intent:      model.NewSubscriptionIntent(plan, cycle, p.Days),
	}, nil
}

func (c *Catalog) CreditPackage(id string) (*Offer, error) {
	p, ok := c.packages[id]
	if !ok {
		return nil, fmt.Errorf("%w: credit package %s", domain.ErrUnknownProduct, id)
	}
	desc := p.Description
	if desc == "" {
		desc = fmt.Sprintf("%d credits", p.Credits)
	}
	return &Offer{
		Product:     creditsPrefix + "/" + id,
		Amount:      p.Price,
		Currency:    c.currency,
		Description: desc,
		Intent:      model.NewCreditPackageIntent(id, p.Credits, p.ValidityDays),
	}, nil
}

// Products lists every product code, sorted.
func (c *Catalog) Products() []string {
	var out []string
	for plan, cycles := range c.plans {
		for cycle := range cycles {
			out = append(out, plan+"/"+cycle)
		}
	}
	for id := range c.packages {
		out = append(out, creditsPrefix+"/"+id)
	}
	sort.Strings(out)
	return out
}
