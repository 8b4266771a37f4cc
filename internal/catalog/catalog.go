package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/ksred/steam-billing-api/internal/types"
)

// Product is a purchasable catalog entry. Prices are in the minor unit of
// each currency, as the platform expects them.
type Product struct {
	ID               int              `yaml:"id" json:"id"`
	Description      string           `yaml:"description" json:"description"`
	PricePerCurrency map[string]int64 `yaml:"price_per_currency" json:"price_per_currency"`
	Period           string           `yaml:"period,omitempty" json:"period,omitempty"`
	Frequency        int              `yaml:"frequency,omitempty" json:"frequency,omitempty"`
}

// Recurring reports whether the product carries a billing policy
func (p Product) Recurring() bool {
	return p.Period != "" && p.Frequency > 0
}

// Price is the amount resolved for a purchase
type Price struct {
	Currency  string
	Amount    int64
	FellBack  bool   // requested currency was not priced
	Requested string // currency the caller asked for
}

// Catalog is an immutable, id-indexed set of products
type Catalog struct {
	products        map[int]Product
	defaultCurrency string
}

// New builds a catalog from a product list. Duplicate ids are rejected.
func New(products []Product, defaultCurrency string) (*Catalog, error) {
	if defaultCurrency == "" {
		return nil, errors.New("default currency is required")
	}

	c := &Catalog{
		products:        make(map[int]Product, len(products)),
		defaultCurrency: defaultCurrency,
	}
	for _, p := range products {
		if _, exists := c.products[p.ID]; exists {
			return nil, fmt.Errorf("duplicate product id %d", p.ID)
		}
		if len(p.PricePerCurrency) == 0 {
			return nil, fmt.Errorf("product %d has no prices", p.ID)
		}
		c.products[p.ID] = p
	}
	return c, nil
}

// Load reads a product list from a JSON or YAML file
func Load(path, defaultCurrency string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read product catalog: %w", err)
	}

	var products []Product
	if err := yaml.Unmarshal(raw, &products); err != nil {
		return nil, fmt.Errorf("failed to parse product catalog %s: %w", path, err)
	}

	c, err := New(products, defaultCurrency)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("component", "catalog").
		Str("path", path).
		Int("products", len(products)).
		Str("default_currency", defaultCurrency).
		Msg("loaded product catalog")

	return c, nil
}

// Find looks a product up by id
func (c *Catalog) Find(itemID int) (Product, error) {
	p, ok := c.products[itemID]
	if !ok {
		return Product{}, fmt.Errorf("%w: item %d not found in catalog", types.ErrUnknownProduct, itemID)
	}
	return p, nil
}

// DefaultCurrency returns the currency used when a requested one is not priced
func (c *Catalog) DefaultCurrency() string {
	return c.defaultCurrency
}

// Len returns the number of products
func (c *Catalog) Len() int {
	return len(c.products)
}

// Resolve picks the price of p in the requested currency, falling back to the
// default currency. The fallback is logged; a product priced in neither is an
// unknown product.
func (c *Catalog) Resolve(p Product, currency string) (Price, error) {
	if amount, ok := p.PricePerCurrency[currency]; ok {
		return Price{Currency: currency, Amount: amount, Requested: currency}, nil
	}

	amount, ok := p.PricePerCurrency[c.defaultCurrency]
	if !ok {
		return Price{}, fmt.Errorf("%w: item %d has no price in %s or %s",
			types.ErrUnknownProduct, p.ID, currency, c.defaultCurrency)
	}

	log.Info().
		Str("component", "catalog").
		Int("item_id", p.ID).
		Str("requested_currency", currency).
		Str("used_currency", c.defaultCurrency).
		Msg("currency not priced for product, using default")

	return Price{Currency: c.defaultCurrency, Amount: amount, FellBack: true, Requested: currency}, nil
}

// Products returns every product ordered by id
func (c *Catalog) Products() []Product {
	out := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
