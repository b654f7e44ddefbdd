package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/JoeGaudoin/pokeuk-dealscout/internal/listing"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/marketvalue"
)

// Card is one catalog entry with its known price observations. Zero
// prices mean "no data from that source".
type Card struct {
	Name            string     `json:"name"`
	SetName         string     `json:"set_name,omitempty"`
	EbaySoldAvg     float64    `json:"ebay_sold_avg,omitempty"`
	CardmarketTrend float64    `json:"cardmarket_trend,omitempty"` // EUR
	CardmarketLow   float64    `json:"cardmarket_low,omitempty"`   // EUR
	TCGPlayerMarket float64    `json:"tcgplayer_market,omitempty"` // USD
	TCGPlayerLow    float64    `json:"tcgplayer_low,omitempty"`    // USD
	ManualValue     float64    `json:"manual_value,omitempty"`
	PricesUpdatedAt *time.Time `json:"prices_updated_at,omitempty"`
}

// Catalog matches listings to known cards and exposes their price
// observations as fair-value inputs. It satisfies pipeline.Valuer.
type Catalog struct {
	mu    sync.RWMutex
	cards []Card
}

// Load reads a catalog JSON file (an array of cards).
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var cards []Card
	if err := json.Unmarshal(data, &cards); err != nil {
		return nil, fmt.Errorf("parse catalog JSON: %w", err)
	}

	return &Catalog{cards: cards}, nil
}

// New builds a catalog from in-memory entries.
func New(cards []Card) *Catalog {
	return &Catalog{cards: cards}
}

// Add appends entries at runtime.
func (c *Catalog) Add(cards ...Card) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cards = append(c.cards, cards...)
}

// Size returns the number of catalog entries.
func (c *Catalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cards)
}

// match finds the catalog entry whose name appears in the listing
// title. First match wins; the catalog is expected to be ordered from
// most to least specific.
func (c *Catalog) match(title string) *Card {
	lower := strings.ToLower(title)

	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.cards {
		if strings.Contains(lower, strings.ToLower(c.cards[i].Name)) {
			return &c.cards[i]
		}
	}
	return nil
}

// PricePoints returns the matched card's price observations, tagged
// with source, currency, reliability, and age. An unmatched listing
// yields nil, which downstream treats as "fair value unknown".
func (c *Catalog) PricePoints(l listing.RawListing) []marketvalue.PricePoint {
	card := c.match(l.Title)
	if card == nil {
		return nil
	}

	ageDays := 0
	if card.PricesUpdatedAt != nil {
		ageDays = int(time.Since(*card.PricesUpdatedAt).Hours() / 24)
		if ageDays < 0 {
			ageDays = 0
		}
	}

	var points []marketvalue.PricePoint
	add := func(source marketvalue.Source, value float64, currency string, confidence float64, age int) {
		if value > 0 {
			points = append(points, marketvalue.PricePoint{
				Source:     source,
				Value:      value,
				Currency:   currency,
				Confidence: confidence,
				AgeDays:    age,
			})
		}
	}

	add(marketvalue.SourceEbaySold, card.EbaySoldAvg, "GBP", 1.0, ageDays)
	add(marketvalue.SourceCardmarketTrend, card.CardmarketTrend, "EUR", 0.95, ageDays)
	add(marketvalue.SourceCardmarketLow, card.CardmarketLow, "EUR", 0.85, ageDays)
	add(marketvalue.SourceTCGPlayerMarket, card.TCGPlayerMarket, "USD", 0.8, ageDays)
	add(marketvalue.SourceTCGPlayerLow, card.TCGPlayerLow, "USD", 0.7, ageDays)
	add(marketvalue.SourceManual, card.ManualValue, "GBP", 0.5, 0)

	return points
}
