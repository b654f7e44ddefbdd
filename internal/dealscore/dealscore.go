package dealscore

import (
	"strings"

	"github.com/JoeGaudoin/pokeuk-dealscout/internal/condition"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/config"
)

// Calculation is the scored outcome for one listing. DealScore and
// Profit are nil when no fair value is known.
//
// Invariant: TotalCost == ListingPrice + ShippingCost + VenueFee, and
// DealScore == (FairValue - TotalCost) / FairValue * 100 when FairValue > 0.
type Calculation struct {
	ListingPrice float64  `json:"listing_price"`
	ShippingCost float64  `json:"shipping_cost"`
	VenueFee     float64  `json:"venue_fee"`
	TotalCost    float64  `json:"total_cost"`
	FairValue    *float64 `json:"fair_value,omitempty"`
	DealScore    *float64 `json:"deal_score,omitempty"`
	Profit       *float64 `json:"profit,omitempty"`
	IsProfitable bool     `json:"is_profitable"`
}

// Input describes one listing for BulkCalculate.
type Input struct {
	ListingPrice float64
	Venue        string
	FairValue    *float64
	ShippingCost *float64
	Condition    string
	BaseValueNM  *float64
}

// Condition value multipliers relative to Near Mint.
var conditionMultipliers = map[condition.Condition]float64{
	condition.NM:  1.0,
	condition.LP:  0.85,
	condition.MP:  0.70,
	condition.HP:  0.50,
	condition.DMG: 0.30,
}

// Calculator scores listings against a venue fee/shipping table.
type Calculator struct {
	venues     map[string]config.VenueConfig
	classifier *condition.Classifier
}

// NewCalculator builds a scorer over the given venue table. Unknown
// venues are treated as fee-free with no default shipping.
func NewCalculator(venues map[string]config.VenueConfig, classifier *condition.Classifier) *Calculator {
	if venues == nil {
		venues = config.DefaultVenues()
	}
	return &Calculator{venues: venues, classifier: classifier}
}

func (c *Calculator) venue(name string) config.VenueConfig {
	return c.venues[strings.ToLower(name)]
}

// CalculateFee returns the venue's cut of a listing price.
func (c *Calculator) CalculateFee(listingPrice float64, venue string) float64 {
	return listingPrice * c.venue(venue).FeeRate
}

// EstimateValue derives a condition-adjusted value from a Near Mint base.
func (c *Calculator) EstimateValue(baseValueNM float64, cond string) float64 {
	normalized := c.classifier.Normalize(cond)
	multiplier, ok := conditionMultipliers[normalized]
	if !ok {
		multiplier = 1.0
	}
	return baseValueNM * multiplier
}

// Calculate scores one listing. When fairValue is nil but a Near Mint
// base value is supplied, the fair value is derived from the observed
// condition. Shipping falls back to the venue default when unknown.
func (c *Calculator) Calculate(listingPrice float64, venue string, fairValue *float64, shippingCost *float64, cond string, baseValueNM *float64) Calculation {
	venueCfg := c.venue(venue)

	shipping := venueCfg.DefaultShipping
	if shippingCost != nil {
		shipping = *shippingCost
	}

	fee := listingPrice * venueCfg.FeeRate
	totalCost := listingPrice + shipping + fee

	effectiveValue := fairValue
	if effectiveValue == nil && baseValueNM != nil {
		v := c.EstimateValue(*baseValueNM, cond)
		effectiveValue = &v
	}

	calc := Calculation{
		ListingPrice: listingPrice,
		ShippingCost: shipping,
		VenueFee:     fee,
		TotalCost:    totalCost,
		FairValue:    effectiveValue,
	}

	if effectiveValue != nil && *effectiveValue > 0 {
		profit := *effectiveValue - totalCost
		score := profit / *effectiveValue * 100
		calc.Profit = &profit
		calc.DealScore = &score
		calc.IsProfitable = profit > 0
	}

	return calc
}

// MinimumProfitablePrice solves the inverse problem: the maximum buy
// price that still yields the target margin after fees and shipping.
// Exact algebraic inverse of Calculate, floored at zero:
//
//	maxPrice = (fairValue*(1-margin) - shipping) / (1 + feeRate)
func (c *Calculator) MinimumProfitablePrice(fairValue float64, venue string, shippingCost *float64, targetMargin float64) float64 {
	venueCfg := c.venue(venue)

	shipping := venueCfg.DefaultShipping
	if shippingCost != nil {
		shipping = *shippingCost
	}

	targetTotal := fairValue * (1 - targetMargin)
	maxPrice := (targetTotal - shipping) / (1 + venueCfg.FeeRate)
	if maxPrice < 0 {
		return 0
	}
	return maxPrice
}

// BulkCalculate scores a batch of listings.
func (c *Calculator) BulkCalculate(inputs []Input) []Calculation {
	results := make([]Calculation, len(inputs))
	for i, in := range inputs {
		results[i] = c.Calculate(in.ListingPrice, in.Venue, in.FairValue, in.ShippingCost, in.Condition, in.BaseValueNM)
	}
	return results
}
