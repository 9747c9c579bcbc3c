package factory

import (
	"github.com/shopspring/decimal"

	"github.com/troopkit/redemption-engine/rewards"
)

// =============================================================================
// PRESET OFFERS - Used when no catalog file is configured, and by scenarios
// =============================================================================

func intPtr(n int) *int { return &n }

// DemoOffers returns a small catalog covering every discount type, one
// capped offer and one inactive offer.
func DemoOffers() []rewards.Offer {
	minPizza := decimal.RequireFromString("15.00")
	return []rewards.Offer{
		{
			ID:            "pizza-20",
			PartnerID:     "partner-pizza",
			PartnerName:   "Pizza Napoli",
			Title:         "20% off a family pizza",
			PointsCost:    300,
			DiscountType:  rewards.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(20),
			ValidityDays:  30,
			MinPurchase:   &minPizza,
			IsActive:      true,
		},
		{
			ID:            "climbing-day",
			PartnerID:     "partner-climb",
			PartnerName:   "Bloc Altitude",
			Title:         "15 EUR off a group climbing session",
			PointsCost:    500,
			DiscountType:  rewards.DiscountFixedAmount,
			DiscountValue: decimal.NewFromInt(15),
			ValidityDays:  60,
			IsActive:      true,
		},
		{
			ID:                 "compass-kit",
			PartnerID:          "partner-outdoor",
			PartnerName:        "Trail Outfitters",
			Title:              "Free orienteering compass",
			PointsCost:         200,
			DiscountType:       rewards.DiscountFreeItem,
			ValidityDays:       14,
			MaxRedemptions:     intPtr(5),
			CurrentRedemptions: 3,
			IsActive:           true,
		},
		{
			ID:            "summer-camp",
			PartnerID:     "partner-camp",
			PartnerName:   "Lakeside Camps",
			Title:         "10% off summer camp registration",
			PointsCost:    800,
			DiscountType:  rewards.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(10),
			ValidityDays:  90,
			IsActive:      false,
		},
	}
}

// DemoCatalog wraps DemoOffers in a MemoryCatalog.
func DemoCatalog() *rewards.MemoryCatalog {
	c, err := rewards.NewMemoryCatalog(DemoOffers()...)
	if err != nil {
		panic(err)
	}
	return c
}
