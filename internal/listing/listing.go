package listing

import "time"

// RawListing is one observed offer from a marketplace, normalized to a
// common shape before classification.
type RawListing struct {
	ExternalID   string                 `json:"external_id"`
	Venue        string                 `json:"venue"`
	URL          string                 `json:"url"`
	Title        string                 `json:"title"`
	Description  string                 `json:"description,omitempty"`
	Price        float64                `json:"price"`
	Currency     string                 `json:"currency"`
	ShippingCost *float64               `json:"shipping_cost,omitempty"`
	Condition    string                 `json:"condition,omitempty"`
	SellerName   string                 `json:"seller_name,omitempty"`
	ImageURL     string                 `json:"image_url,omitempty"`
	IsBuyNow     bool                   `json:"is_buy_now"`
	FoundAt      time.Time              `json:"found_at"`
	RawData      map[string]interface{} `json:"-"`
}

// Key returns the natural identity of a listing. It is stable across
// repeated observations of the same offer and is the sole dedup key.
func (l RawListing) Key() string {
	return l.Venue + "|" + l.ExternalID
}

// SourceRunResult is the outcome of one execution of a Source.
type SourceRunResult struct {
	Venue      string        `json:"venue"`
	Success    bool          `json:"success"`
	Listings   []RawListing  `json:"-"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ms"`
	TotalFound int           `json:"total_found"`
	Skipped    int           `json:"skipped"`
}
