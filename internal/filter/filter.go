package filter

import (
	"regexp"
	"strings"
	"sync"

	"github.com/JoeGaudoin/pokeuk-dealscout/internal/listing"
)

// Reason categorizes why a listing was rejected.
type Reason string

const (
	ReasonProxyFake     Reason = "proxy_fake"
	ReasonLowValueNoise Reason = "low_value_noise"
	ReasonDigitalItem   Reason = "digital_item"
	ReasonCustomRule    Reason = "custom_rule"
)

// Verdict is the admit/reject decision for one listing.
type Verdict struct {
	Allowed      bool     `json:"allowed"`
	MatchedTerms []string `json:"matched_terms,omitempty"`
	Reason       Reason   `json:"reason,omitempty"`
	Confidence   float64  `json:"confidence"`
}

// Default term lists, categorized so the rejection reason can name the
// highest-priority category that matched.
var (
	proxyFakeTerms = []string{
		"proxy", "replica", "reprint", "handmade", "tribute",
		"non-official", "unofficial", "custom", "orica", "fake",
		"bootleg", "chinese fake", "not real", "fan made", "fan-made",
	}

	lowValueTerms = []string{
		"mystery bundle", "unsearched", "energy cards", "code cards",
		"bulk lot", "common lot", "junk lot", "damaged lot", "play set",
		"starter deck", "theme deck", "energy lot", "trainer lot",
		"common bundle", "uncommon bundle",
	}

	digitalTerms = []string{
		"digital card", "tcg online code", "ptcgo", "tcg live",
		"online code", "redemption code", "code card", "digital code",
		"ptcgl", "pokemon tcg live", "tcgo code",
	}

	suspiciousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bnot\s+(?:real|genuine|authentic)\b`),
		regexp.MustCompile(`(?i)\bcustom\s+(?:made|art|print)\b`),
		regexp.MustCompile(`(?i)\bfan\s*-?\s*art\b`),
		regexp.MustCompile(`(?i)\breproduction\b`),
		regexp.MustCompile(`(?i)\b(?:home|self)\s*-?\s*printed?\b`),
	}
)

// NoiseFilter rejects fake, low-value, and non-physical listings before
// they reach scoring.
type NoiseFilter struct {
	mu        sync.RWMutex
	blacklist map[string]struct{}

	proxySet    map[string]struct{}
	digitalSet  map[string]struct{}
	lowValueSet map[string]struct{}
}

// New builds a filter with the default categorized blacklist plus any
// extra terms.
func New(extraTerms ...string) *NoiseFilter {
	f := &NoiseFilter{
		blacklist:   make(map[string]struct{}),
		proxySet:    toSet(proxyFakeTerms),
		digitalSet:  toSet(digitalTerms),
		lowValueSet: toSet(lowValueTerms),
	}
	for _, terms := range [][]string{proxyFakeTerms, lowValueTerms, digitalTerms, extraTerms} {
		for _, term := range terms {
			f.blacklist[strings.ToLower(term)] = struct{}{}
		}
	}
	return f
}

// AddTerms extends the blacklist at runtime.
func (f *NoiseFilter) AddTerms(terms []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, term := range terms {
		f.blacklist[strings.ToLower(term)] = struct{}{}
	}
}

// RemoveTerms drops terms from the blacklist.
func (f *NoiseFilter) RemoveTerms(terms []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, term := range terms {
		delete(f.blacklist, strings.ToLower(term))
	}
}

// TermCount returns the current blacklist size.
func (f *NoiseFilter) TermCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.blacklist)
}

// Classify decides whether a listing is admitted. Multi-word terms match
// as substrings of the combined title+description; single words only at
// word boundaries, so "reprint" never fires on "fingerprint".
func (f *NoiseFilter) Classify(title, description string) Verdict {
	text := strings.ToLower(strings.TrimSpace(title + " " + description))

	termMatches := f.matchTerms(text)
	patternMatches := matchPatterns(text)
	all := append(termMatches, patternMatches...)

	if len(all) == 0 {
		return Verdict{Allowed: true, Confidence: 1.0}
	}

	confidence := 0.5 + float64(len(all))*0.15
	if confidence > 1.0 {
		confidence = 1.0
	}

	// Proxy/fake terms are higher-certainty signals than generic noise.
	hasProxyTerm := false
	for _, term := range termMatches {
		if _, ok := f.proxySet[term]; ok {
			hasProxyTerm = true
			break
		}
	}
	if hasProxyTerm {
		confidence += 0.2
		if confidence > 1.0 {
			confidence = 1.0
		}
	}

	return Verdict{
		Allowed:      false,
		MatchedTerms: all,
		Reason:       f.reason(termMatches),
		Confidence:   confidence,
	}
}

// BatchClassify splits listings into allowed and rejected sets.
func (f *NoiseFilter) BatchClassify(listings []listing.RawListing) (allowed []listing.RawListing, rejected []listing.RawListing) {
	for _, l := range listings {
		if f.Classify(l.Title, l.Description).Allowed {
			allowed = append(allowed, l)
		} else {
			rejected = append(rejected, l)
		}
	}
	return allowed, rejected
}

func (f *NoiseFilter) matchTerms(text string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var matched []string
	for term := range f.blacklist {
		if strings.Contains(term, " ") {
			if strings.Contains(text, term) {
				matched = append(matched, term)
			}
		} else if wordBoundaryMatch(text, term) {
			matched = append(matched, term)
		}
	}
	return matched
}

func matchPatterns(text string) []string {
	var matched []string
	for _, pattern := range suspiciousPatterns {
		if m := pattern.FindString(text); m != "" {
			matched = append(matched, m)
		}
	}
	return matched
}

// reason picks the highest-priority category among the matches:
// proxy/fake, then digital, then low-value noise, else custom.
func (f *NoiseFilter) reason(termMatches []string) Reason {
	hasDigital := false
	hasLowValue := false
	for _, term := range termMatches {
		if _, ok := f.proxySet[term]; ok {
			return ReasonProxyFake
		}
		if _, ok := f.digitalSet[term]; ok {
			hasDigital = true
		}
		if _, ok := f.lowValueSet[term]; ok {
			hasLowValue = true
		}
	}
	if hasDigital {
		return ReasonDigitalItem
	}
	if hasLowValue {
		return ReasonLowValueNoise
	}
	return ReasonCustomRule
}

func wordBoundaryMatch(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

func toSet(terms []string) map[string]struct{} {
	set := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		set[strings.ToLower(term)] = struct{}{}
	}
	return set
}
