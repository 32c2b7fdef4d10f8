package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maltedev/bestseller-affiliator/internal/normalize"
)

var ErrInvalidProduct = errors.New("invalid product")

// Product is one catalog item scraped from a listing or detail page.
type Product struct {
	Name         string     `json:"name"`
	URL          string     `json:"url"`
	Price        float64    `json:"price"`
	AffiliateURL string     `json:"affiliate_url,omitempty"`
	LastPrice    *float64   `json:"last_price,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// Record is the stored shape of a Product. Field names are shared with the
// existing database and the site that publishes it.
type Record struct {
	Name      string   `json:"Produto"`
	Link      string   `json:"Link"`
	Price     float64  `json:"Valor"`
	LastPrice *float64 `json:"Ultimo_valor,omitempty"`
	Date      string   `json:"Data,omitempty"`
}

var recordDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func NewProduct(name, url string, price float64) (*Product, error) {
	p := &Product{
		Name:  strings.TrimSpace(name),
		URL:   strings.TrimSpace(url),
		Price: price,
	}

	if errs := p.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProduct, strings.Join(errs, ", "))
	}
	return p, nil
}

func (p *Product) Validate() []string {
	var errors []string

	if p.Name == "" {
		errors = append(errors, "name is required")
	}

	if p.URL == "" {
		errors = append(errors, "url is required")
	}

	if p.Price < 0 {
		errors = append(errors, "price must not be negative")
	}

	return errors
}

// PublishedURL is the link shown to buyers: the affiliate URL once generated.
func (p *Product) PublishedURL() string {
	if p.AffiliateURL != "" {
		return p.AffiliateURL
	}
	return p.URL
}

func (p *Product) PriceChanged() bool {
	return p.LastPrice != nil && *p.LastPrice != p.Price
}

// Refresh records a new observation: the current price becomes LastPrice.
func (p *Product) Refresh(price float64, at time.Time) {
	previous := p.Price
	p.LastPrice = &previous
	p.Price = price
	p.UpdatedAt = &at
}

func (p *Product) ToRecord() Record {
	lastPrice := p.Price
	if p.LastPrice != nil {
		lastPrice = *p.LastPrice
	}

	r := Record{
		Name:      p.Name,
		Link:      p.PublishedURL(),
		Price:     p.Price,
		LastPrice: &lastPrice,
	}

	if p.UpdatedAt != nil {
		r.Date = p.UpdatedAt.Format(time.RFC3339)
	}

	return r
}

// Fields returns the record as a partial map for path updates.
func (r Record) Fields() map[string]any {
	fields := map[string]any{
		"Produto": r.Name,
		"Link":    r.Link,
		"Valor":   r.Price,
	}
	if r.LastPrice != nil {
		fields["Ultimo_valor"] = *r.LastPrice
	}
	if r.Date != "" {
		fields["Data"] = r.Date
	}
	return fields
}

// FromRecord rebuilds a Product. Only one link is stored, so a short
// affiliate link is restored into both URL and AffiliateURL. Records written
// before Ultimo_valor existed come back without a LastPrice.
func FromRecord(r Record) (*Product, error) {
	p := &Product{
		Name:  r.Name,
		URL:   r.Link,
		Price: r.Price,
	}

	if r.LastPrice != nil {
		lastPrice := *r.LastPrice
		p.LastPrice = &lastPrice
	}

	if normalize.IsShortLink(r.Link) {
		p.AffiliateURL = r.Link
	}

	if r.Date != "" {
		ts, err := parseRecordDate(r.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid record date %q: %w", r.Date, err)
		}
		p.UpdatedAt = &ts
	}

	return p, nil
}

func parseRecordDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range recordDateLayouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
