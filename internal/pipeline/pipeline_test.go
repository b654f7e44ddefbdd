package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeGaudoin/pokeuk-dealscout/internal/condition"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/config"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/dealscore"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/filter"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/listing"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/marketvalue"
)

// stubValuer knows one card: anything titled "charizard" is worth £100
// near mint per ebay sold data.
type stubValuer struct{}

func (stubValuer) PricePoints(l listing.RawListing) []marketvalue.PricePoint {
	if !strings.Contains(strings.ToLower(l.Title), "charizard") {
		return nil
	}
	return []marketvalue.PricePoint{
		{Source: marketvalue.SourceEbaySold, Value: 100, Currency: "GBP", Confidence: 1.0},
	}
}

func newTestPipeline() *Pipeline {
	cls := condition.NewClassifier()
	return New(
		config.PipelineConfig{MinDealScore: 15, PriceFloor: 10, PriceCeiling: 10000},
		filter.New(),
		cls,
		marketvalue.NewAggregator(),
		dealscore.NewCalculator(nil, cls),
		stubValuer{},
	)
}

func testListing(id string, price float64) listing.RawListing {
	return listing.RawListing{
		ExternalID: id,
		Venue:      "ebay",
		Title:      "Charizard VMAX Near Mint",
		Price:      price,
		Currency:   "GBP",
	}
}

func TestProcessAcceptsProfitableListing(t *testing.T) {
	p := newTestPipeline()

	deals, stats := p.Process([]listing.RawListing{testListing("1", 50)})

	require.Len(t, deals, 1)
	assert.Equal(t, 1, stats.Accepted)
	assert.Equal(t, 1, stats.Observed)

	deal := deals[0]
	assert.Equal(t, condition.NM, deal.Condition.Condition)
	assert.InDelta(t, 100, deal.Value.FairValue, 0.001)
	require.NotNil(t, deal.Score.DealScore)
	assert.Greater(t, *deal.Score.DealScore, 15.0)
	assert.True(t, deal.Score.IsProfitable)
}

func TestProcessPriceBand(t *testing.T) {
	p := newTestPipeline()

	deals, stats := p.Process([]listing.RawListing{
		testListing("cheap", 5),
		testListing("expensive", 20000),
		testListing("ok", 50),
	})

	assert.Equal(t, 2, stats.OutOfBand)
	assert.Equal(t, 1, stats.Accepted)
	require.Len(t, deals, 1)
	assert.Equal(t, "ok", deals[0].Listing.ExternalID)
}

func TestProcessFiltersNoise(t *testing.T) {
	p := newTestPipeline()

	noisy := testListing("fake", 50)
	noisy.Title = "Charizard Proxy Card Near Mint"

	deals, stats := p.Process([]listing.RawListing{noisy})

	assert.Empty(t, deals)
	assert.Equal(t, 1, stats.Filtered)
	assert.Equal(t, 0, stats.Accepted)
}

func TestProcessRejectsBelowMinScore(t *testing.T) {
	p := newTestPipeline()

	// At £95 against a £100 fair value the margin is negative.
	deals, stats := p.Process([]listing.RawListing{testListing("thin", 95)})

	assert.Empty(t, deals)
	assert.Equal(t, 1, stats.Unprofitable)
}

func TestProcessNoFairValueIsUnprofitable(t *testing.T) {
	p := newTestPipeline()

	unknown := testListing("mystery", 50)
	unknown.Title = "Some Unknown Card Near Mint"

	deals, stats := p.Process([]listing.RawListing{unknown})

	assert.Empty(t, deals)
	assert.Equal(t, 1, stats.Unprofitable)
}

func TestProcessDedupLastWriteWins(t *testing.T) {
	p := newTestPipeline()

	first := testListing("dup", 50)
	second := testListing("dup", 40)

	deals, stats := p.Process([]listing.RawListing{first, second})

	require.Len(t, deals, 1)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 1, stats.Accepted)
	assert.Equal(t, 40.0, deals[0].Listing.Price)
}

func TestProcessConditionAdjustsValue(t *testing.T) {
	p := newTestPipeline()

	played := testListing("played", 40)
	played.Title = "Charizard VMAX"
	played.Condition = "excellent"

	deals, _ := p.Process([]listing.RawListing{played})

	require.Len(t, deals, 1)
	deal := deals[0]
	assert.Equal(t, condition.LP, deal.Condition.Condition)
	assert.Equal(t, condition.SourceExplicit, deal.Condition.Source)
	require.NotNil(t, deal.Score.FairValue)
	assert.InDelta(t, 85, *deal.Score.FairValue, 0.001)
}

func TestProcessSellerConditionBeatsText(t *testing.T) {
	p := newTestPipeline()

	l := testListing("declared", 40)
	l.Title = "Charizard VMAX Near Mint"
	l.Condition = "heavily played"

	deals, _ := p.Process([]listing.RawListing{l})

	// Declared HP halves the fair value; 40 against 50 is below threshold.
	assert.Empty(t, deals)
}

func TestProcessNilValuer(t *testing.T) {
	cls := condition.NewClassifier()
	p := New(
		config.PipelineConfig{MinDealScore: 15, PriceFloor: 10, PriceCeiling: 10000},
		filter.New(),
		cls,
		marketvalue.NewAggregator(),
		dealscore.NewCalculator(nil, cls),
		nil,
	)

	deals, stats := p.Process([]listing.RawListing{testListing("1", 50)})
	assert.Empty(t, deals)
	assert.Equal(t, 1, stats.Unprofitable)
}
