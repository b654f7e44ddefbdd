package pipeline

import (
	log "github.com/sirupsen/logrus"

	"github.com/JoeGaudoin/pokeuk-dealscout/internal/condition"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/config"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/dealscore"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/filter"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/listing"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/marketvalue"
)

// Valuer supplies price observations for a listing, typically backed by
// a card catalog. A nil or empty result means no fair value is known.
type Valuer interface {
	PricePoints(l listing.RawListing) []marketvalue.PricePoint
}

// Deal is one fully classified, accepted listing with every stage's
// verdict attached. This tuple is what gets handed to persistence.
type Deal struct {
	Listing   listing.RawListing    `json:"listing"`
	Filter    filter.Verdict        `json:"filter"`
	Condition condition.Verdict     `json:"condition"`
	Value     marketvalue.Estimate  `json:"value"`
	Score     dealscore.Calculation `json:"score"`
}

// Stats counts one Process invocation's outcomes.
type Stats struct {
	Observed     int `json:"observed"`
	OutOfBand    int `json:"out_of_band"`
	Filtered     int `json:"filtered"`
	Unprofitable int `json:"unprofitable"`
	Duplicates   int `json:"duplicates"`
	Accepted     int `json:"accepted"`
}

// Pipeline turns raw listings into scored deals: price band guard, noise
// filter, condition inference, fair-value aggregation, profitability
// scoring, then dedup by (venue, external_id) with last-write-wins.
// Every stage is a pure computation; the pipeline holds no listing state
// between invocations.
type Pipeline struct {
	cfg        config.PipelineConfig
	filter     *filter.NoiseFilter
	classifier *condition.Classifier
	aggregator *marketvalue.Aggregator
	calculator *dealscore.Calculator
	valuer     Valuer
}

func New(cfg config.PipelineConfig, f *filter.NoiseFilter, cls *condition.Classifier,
	agg *marketvalue.Aggregator, calc *dealscore.Calculator, valuer Valuer) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		filter:     f,
		classifier: cls,
		aggregator: agg,
		calculator: calc,
		valuer:     valuer,
	}
}

// Process classifies and scores one tick's worth of listings.
func (p *Pipeline) Process(listings []listing.RawListing) ([]Deal, Stats) {
	stats := Stats{Observed: len(listings)}

	// Dedup index: last observation of a key wins within a tick.
	byKey := make(map[string]int)
	deals := make([]Deal, 0, len(listings))

	for _, l := range listings {
		if l.Price < p.cfg.PriceFloor || l.Price > p.cfg.PriceCeiling {
			stats.OutOfBand++
			continue
		}

		verdict := p.filter.Classify(l.Title, l.Description)
		if !verdict.Allowed {
			stats.Filtered++
			log.Debugf("Rejected %s (%s): %v", l.Key(), verdict.Reason, verdict.MatchedTerms)
			continue
		}

		cond := p.classifyCondition(l)

		var points []marketvalue.PricePoint
		if p.valuer != nil {
			points = p.valuer.PricePoints(l)
		}
		estimate := p.aggregator.Aggregate(points)

		var fairValue *float64
		if estimate.FairValue > 0 {
			adjusted := p.calculator.EstimateValue(estimate.FairValue, string(cond.Condition))
			fairValue = &adjusted
		}

		score := p.calculator.Calculate(l.Price, l.Venue, fairValue, l.ShippingCost, string(cond.Condition), nil)
		if score.DealScore == nil || *score.DealScore < p.cfg.MinDealScore {
			stats.Unprofitable++
			continue
		}

		deal := Deal{
			Listing:   l,
			Filter:    verdict,
			Condition: cond,
			Value:     estimate,
			Score:     score,
		}

		if idx, seen := byKey[l.Key()]; seen {
			deals[idx] = deal
			stats.Duplicates++
			continue
		}
		byKey[l.Key()] = len(deals)
		deals = append(deals, deal)
	}

	stats.Accepted = len(deals)
	return deals, stats
}

// classifyCondition prefers the seller-declared condition string, then
// infers from listing text.
func (p *Pipeline) classifyCondition(l listing.RawListing) condition.Verdict {
	if l.Condition != "" {
		return condition.Verdict{
			Condition:   p.classifier.Normalize(l.Condition),
			Confidence:  0.9,
			MatchedTerm: l.Condition,
			Source:      condition.SourceExplicit,
		}
	}
	return p.classifier.Classify(l.Title, l.Description, condition.NM)
}
