package factory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troopkit/redemption-engine/rewards"
)

const sampleCatalog = `
offers:
  - id: pizza-20
    partner_id: partner-pizza
    partner_name: Pizza Napoli
    title: 20% off a family pizza
    points_cost: 300
    discount_type: percentage
    discount_value: "20"
    validity_days: 30
    min_purchase: "15.00"
  - id: compass-kit
    partner_id: partner-outdoor
    title: Free compass
    points_cost: 200
    discount_type: free_item
    validity_days: 14
    max_redemptions: 5
    current_redemptions: 3
    is_active: false
`

func TestParseOffers(t *testing.T) {
	offers, err := ParseOffers([]byte(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, offers, 2)

	pizza := offers[0]
	assert.Equal(t, "pizza-20", pizza.ID)
	assert.Equal(t, int64(300), pizza.PointsCost)
	assert.Equal(t, rewards.DiscountPercentage, pizza.DiscountType)
	assert.Equal(t, "20", pizza.DiscountValue.String())
	require.NotNil(t, pizza.MinPurchase)
	assert.Equal(t, "15", pizza.MinPurchase.String())
	assert.Nil(t, pizza.MaxRedemptions)
	assert.True(t, pizza.IsActive, "is_active defaults to true")

	compass := offers[1]
	require.NotNil(t, compass.MaxRedemptions)
	assert.Equal(t, 5, *compass.MaxRedemptions)
	assert.Equal(t, 3, compass.CurrentRedemptions)
	assert.False(t, compass.IsActive)
}

func TestParseOffers_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "unknown field",
			doc:  "offers:\n  - id: a\n    partner_id: p\n    points_cost: 1\n    discount_type: free_item\n    validity_days: 1\n    colour: red\n",
		},
		{
			name: "duplicate id",
			doc: "offers:\n" +
				"  - {id: a, partner_id: p, points_cost: 1, discount_type: free_item, validity_days: 1}\n" +
				"  - {id: a, partner_id: p, points_cost: 2, discount_type: free_item, validity_days: 1}\n",
		},
		{
			name: "non-positive cost",
			doc:  "offers:\n  - {id: a, partner_id: p, points_cost: 0, discount_type: free_item, validity_days: 1}\n",
		},
		{
			name: "unknown discount type",
			doc:  "offers:\n  - {id: a, partner_id: p, points_cost: 1, discount_type: bogo, validity_days: 1}\n",
		},
		{
			name: "bad decimal",
			doc:  "offers:\n  - {id: a, partner_id: p, points_cost: 1, discount_type: percentage, discount_value: ten, validity_days: 1}\n",
		},
		{
			name: "zero validity",
			doc:  "offers:\n  - {id: a, partner_id: p, points_cost: 1, discount_type: free_item, validity_days: 0}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOffers([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParseOffers_EmptyDocument(t *testing.T) {
	offers, err := ParseOffers(nil)
	require.NoError(t, err)
	assert.Empty(t, offers)
}

func TestParseOffers_AcceptsJSON(t *testing.T) {
	doc := `{"offers":[{"id":"a","partner_id":"p","title":"t","points_cost":10,"discount_type":"fixed_amount","discount_value":"5","validity_days":7}]}`
	offers, err := ParseOffers([]byte(doc))
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "5", offers[0].DiscountValue.String())
}

func TestMarshalCatalog_RoundTripsDemoOffers(t *testing.T) {
	data, err := MarshalCatalog(DemoOffers())
	require.NoError(t, err)

	offers, err := ParseOffers(data)
	require.NoError(t, err)
	require.Len(t, offers, len(DemoOffers()))
	for i, want := range DemoOffers() {
		assert.Equal(t, want.ID, offers[i].ID)
		assert.Equal(t, want.IsActive, offers[i].IsActive)
		assert.True(t, want.DiscountValue.Equal(offers[i].DiscountValue))
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o600))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)

	offer, err := catalog.GetOffer(context.Background(), "compass-kit")
	require.NoError(t, err)
	assert.Equal(t, "partner-outdoor", offer.PartnerID)

	_, err = catalog.GetOffer(context.Background(), "missing")
	assert.ErrorIs(t, err, rewards.ErrOfferNotFound)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
