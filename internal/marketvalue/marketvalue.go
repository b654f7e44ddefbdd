package marketvalue

import "strings"

// Source tags where a price observation came from.
type Source string

const (
	SourceEbaySold        Source = "ebay_sold"
	SourceCardmarketTrend Source = "cardmarket_trend"
	SourceCardmarketLow   Source = "cardmarket_low"
	SourceTCGPlayerMarket Source = "tcgplayer_market"
	SourceTCGPlayerLow    Source = "tcgplayer_low"
	SourceManual          Source = "manual"
)

// PricePoint is one fair-value input observation.
type PricePoint struct {
	Source     Source  `json:"source"`
	Value      float64 `json:"value"`
	Currency   string  `json:"currency"`
	Confidence float64 `json:"confidence"` // 0-1, per-point reliability
	AgeDays    int     `json:"age_days"`
}

// Estimate is the aggregated fair value with confidence and provenance.
type Estimate struct {
	FairValue     float64      `json:"fair_value"`
	Currency      string       `json:"currency"`
	Confidence    float64      `json:"confidence"`
	PrimarySource Source       `json:"primary_source"`
	PricePoints   []PricePoint `json:"price_points"`
	RangeLow      float64      `json:"range_low"`
	RangeHigh     float64      `json:"range_high"`
}

// Base reliability weights per source: completed sales rank highest,
// live trend data next, floor prices lower, manual entries lowest.
var sourceWeights = map[Source]float64{
	SourceEbaySold:        1.0,
	SourceCardmarketTrend: 0.9,
	SourceCardmarketLow:   0.7,
	SourceTCGPlayerMarket: 0.6,
	SourceTCGPlayerLow:    0.5,
	SourceManual:          0.3,
}

const (
	defaultSourceWeight = 0.5
	ageDecayPerDay      = 0.02 // 2% per day, floored at 10%
	minAgeDecay         = 0.1

	// More independent sources raise confidence, capped here. The exact
	// cutoff is a tunable, not a load-bearing invariant.
	maxCountedSources = 4
)

// Aggregator combines price observations into one fair-value estimate,
// converting foreign-currency points via a static rate table.
type Aggregator struct {
	targetCurrency string
	rates          map[string]float64
}

// NewAggregator builds an aggregator targeting GBP with approximate
// static conversion rates.
func NewAggregator() *Aggregator {
	return &Aggregator{
		targetCurrency: "GBP",
		rates: map[string]float64{
			"USD": 0.79,
			"EUR": 0.86,
			"GBP": 1.0,
		},
	}
}

// SetRate overrides a conversion rate to the target currency.
func (a *Aggregator) SetRate(currency string, rate float64) {
	a.rates[strings.ToUpper(currency)] = rate
}

// Convert converts a value to the target currency. Unknown currencies
// pass through unchanged.
func (a *Aggregator) Convert(value float64, currency string) float64 {
	rate, ok := a.rates[strings.ToUpper(currency)]
	if !ok {
		return value
	}
	return value * rate
}

func effectiveWeight(pp PricePoint) float64 {
	base, ok := sourceWeights[pp.Source]
	if !ok {
		base = defaultSourceWeight
	}

	weight := base * pp.Confidence

	if pp.AgeDays > 0 {
		decay := 1.0 - float64(pp.AgeDays)*ageDecayPerDay
		if decay < minAgeDecay {
			decay = minAgeDecay
		}
		weight *= decay
	}

	return weight
}

// Aggregate computes the weighted-average fair value of the given
// points. With no points the estimate is zero at zero confidence; with
// zero total weight the first point's raw value is used rather than
// dividing by zero.
func (a *Aggregator) Aggregate(points []PricePoint) Estimate {
	if len(points) == 0 {
		return Estimate{
			Currency:      a.targetCurrency,
			PrimarySource: SourceManual,
			PricePoints:   []PricePoint{},
		}
	}

	// Convert everything to the target currency up front so weights and
	// ranges operate on comparable values.
	converted := make([]PricePoint, len(points))
	for i, pp := range points {
		converted[i] = pp
		converted[i].Value = a.Convert(pp.Value, pp.Currency)
		converted[i].Currency = a.targetCurrency
	}

	var weightedSum, totalWeight float64
	primaryIdx := 0
	primaryWeight := -1.0

	for i, pp := range converted {
		weight := effectiveWeight(pp)
		weightedSum += pp.Value * weight
		totalWeight += weight

		// Tie-break: first encountered wins.
		if weight > primaryWeight {
			primaryWeight = weight
			primaryIdx = i
		}
	}

	fairValue := converted[0].Value
	if totalWeight > 0 {
		fairValue = weightedSum / totalWeight
	}

	countConfidence := float64(len(converted)) * (1.0 / float64(maxCountedSources))
	if countConfidence > 1.0 {
		countConfidence = 1.0
	}
	weightConfidence := totalWeight / float64(len(converted))
	confidence := (countConfidence + weightConfidence) / 2

	rangeLow, rangeHigh := converted[0].Value, converted[0].Value
	for _, pp := range converted[1:] {
		if pp.Value < rangeLow {
			rangeLow = pp.Value
		}
		if pp.Value > rangeHigh {
			rangeHigh = pp.Value
		}
	}

	return Estimate{
		FairValue:     fairValue,
		Currency:      a.targetCurrency,
		Confidence:    confidence,
		PrimarySource: converted[primaryIdx].Source,
		PricePoints:   converted,
		RangeLow:      rangeLow,
		RangeHigh:     rangeHigh,
	}
}
