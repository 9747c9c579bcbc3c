/*
Package factory converts offer catalog documents into rewards.Offer values.

PURPOSE:
  Partners and staff maintain offers in a YAML file; the factory turns that
  file into a validated rewards.MemoryCatalog the service can read from.
  JSON is accepted too, since YAML is a superset of it.

YAML SCHEMA:
  offers:
    - id: pizza-20
      partner_id: partner-pizza
      partner_name: Pizza Napoli
      title: 20% off a family pizza
      points_cost: 300
      discount_type: percentage     # percentage | fixed_amount | free_item
      discount_value: "20"
      validity_days: 30
      min_purchase: "15.00"         # optional
      max_redemptions: 50           # optional, omitted = unlimited
      current_redemptions: 4        # codes issued outside this service
      is_active: true

KEY FEATURES:
  - Rejects unknown fields
  - Rejects duplicate offer ids
  - Defaults is_active to true
  - Validates every offer with rewards.Offer.Validate

USAGE:
  catalog, err := factory.LoadCatalog("./offers.yaml")

SEE ALSO:
  - rewards/catalog.go: OfferCatalog and MemoryCatalog
  - rewards/types.go: Offer definition
*/
package factory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/troopkit/redemption-engine/rewards"
)

// =============================================================================
// DOCUMENT SCHEMA TYPES
// =============================================================================

// CatalogDocument is the file layout of an offer catalog.
type CatalogDocument struct {
	Offers []OfferDocument `yaml:"offers" json:"offers"`
}

// OfferDocument is the file representation of one offer. Money values are
// strings so they survive the round trip without float rounding.
type OfferDocument struct {
	ID                 string `yaml:"id" json:"id"`
	PartnerID          string `yaml:"partner_id" json:"partner_id"`
	PartnerName        string `yaml:"partner_name,omitempty" json:"partner_name,omitempty"`
	Title              string `yaml:"title" json:"title"`
	PointsCost         int64  `yaml:"points_cost" json:"points_cost"`
	DiscountType       string `yaml:"discount_type" json:"discount_type"`
	DiscountValue      string `yaml:"discount_value,omitempty" json:"discount_value,omitempty"`
	ValidityDays       int    `yaml:"validity_days" json:"validity_days"`
	MinPurchase        string `yaml:"min_purchase,omitempty" json:"min_purchase,omitempty"`
	MaxRedemptions     *int   `yaml:"max_redemptions,omitempty" json:"max_redemptions,omitempty"`
	CurrentRedemptions int    `yaml:"current_redemptions,omitempty" json:"current_redemptions,omitempty"`
	IsActive           *bool  `yaml:"is_active,omitempty" json:"is_active,omitempty"`
}

// =============================================================================
// OFFER FACTORY
// =============================================================================

// LoadCatalog reads the catalog file at path.
func LoadCatalog(path string) (*rewards.MemoryCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	offers, err := ParseOffers(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return rewards.NewMemoryCatalog(offers...)
}

// ParseOffers decodes and validates a catalog document.
func ParseOffers(data []byte) ([]rewards.Offer, error) {
	var doc CatalogDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	offers := make([]rewards.Offer, 0, len(doc.Offers))
	seen := make(map[string]bool, len(doc.Offers))
	for i, od := range doc.Offers {
		offer, err := FromDocument(od)
		if err != nil {
			return nil, fmt.Errorf("offer #%d: %w", i+1, err)
		}
		if seen[offer.ID] {
			return nil, fmt.Errorf("offer #%d: duplicate id %q", i+1, offer.ID)
		}
		seen[offer.ID] = true
		offers = append(offers, offer)
	}
	return offers, nil
}

// FromDocument converts one OfferDocument and validates the result.
func FromDocument(od OfferDocument) (rewards.Offer, error) {
	offer := rewards.Offer{
		ID:                 od.ID,
		PartnerID:          od.PartnerID,
		PartnerName:        od.PartnerName,
		Title:              od.Title,
		PointsCost:         od.PointsCost,
		DiscountType:       rewards.DiscountType(od.DiscountType),
		ValidityDays:       od.ValidityDays,
		MaxRedemptions:     od.MaxRedemptions,
		CurrentRedemptions: od.CurrentRedemptions,
		IsActive:           od.IsActive == nil || *od.IsActive,
	}

	if od.DiscountValue != "" {
		v, err := decimal.NewFromString(od.DiscountValue)
		if err != nil {
			return rewards.Offer{}, fmt.Errorf("offer %s: discount_value: %w", od.ID, err)
		}
		offer.DiscountValue = v
	}
	if od.MinPurchase != "" {
		v, err := decimal.NewFromString(od.MinPurchase)
		if err != nil {
			return rewards.Offer{}, fmt.Errorf("offer %s: min_purchase: %w", od.ID, err)
		}
		offer.MinPurchase = &v
	}

	if err := offer.Validate(); err != nil {
		return rewards.Offer{}, err
	}
	return offer, nil
}

// ToDocument converts an Offer back to its file representation.
func ToDocument(o rewards.Offer) OfferDocument {
	active := o.IsActive
	od := OfferDocument{
		ID:                 o.ID,
		PartnerID:          o.PartnerID,
		PartnerName:        o.PartnerName,
		Title:              o.Title,
		PointsCost:         o.PointsCost,
		DiscountType:       string(o.DiscountType),
		ValidityDays:       o.ValidityDays,
		MaxRedemptions:     o.MaxRedemptions,
		CurrentRedemptions: o.CurrentRedemptions,
		IsActive:           &active,
	}
	if !o.DiscountValue.IsZero() {
		od.DiscountValue = o.DiscountValue.String()
	}
	if o.MinPurchase != nil {
		od.MinPurchase = o.MinPurchase.String()
	}
	return od
}

// MarshalCatalog renders offers as a YAML catalog document.
func MarshalCatalog(offers []rewards.Offer) ([]byte, error) {
	doc := CatalogDocument{Offers: make([]OfferDocument, len(offers))}
	for i, o := range offers {
		doc.Offers[i] = ToDocument(o)
	}
	return yaml.Marshal(doc)
}
