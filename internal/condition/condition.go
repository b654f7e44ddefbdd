package condition

import (
	"regexp"
	"strconv"
	"strings"
)

// Condition is a card's physical grade, PSA-style.
type Condition string

const (
	NM  Condition = "NM"  // Near Mint
	LP  Condition = "LP"  // Lightly Played
	MP  Condition = "MP"  // Moderately Played
	HP  Condition = "HP"  // Heavily Played
	DMG Condition = "DMG" // Damaged
)

// Provenance tags how a verdict was reached.
type Provenance string

const (
	SourceGraded   Provenance = "graded"
	SourceExplicit Provenance = "explicit"
	SourcePattern  Provenance = "pattern"
	SourceDefault  Provenance = "default"
)

// Verdict is the inferred grade with confidence and the text span that
// produced it.
type Verdict struct {
	Condition   Condition  `json:"condition"`
	Confidence  float64    `json:"confidence"`
	MatchedTerm string     `json:"matched_term,omitempty"`
	Source      Provenance `json:"source"`
}

var explicitPatterns = []struct {
	cond     Condition
	patterns []*regexp.Regexp
}{
	{NM, compileAll(
		`\b(NM|N/M|N\.M\.?)\b`,
		`(?i)\bnear\s*mint\b`,
		`(?i)\bmint\s*condition\b`,
		`(?i)\bpack\s*fresh\b`,
		`(?i)\bfactory\s*fresh\b`,
	)},
	{LP, compileAll(
		`\b(LP|L/P|L\.P\.?)\b`,
		`(?i)\blightly\s*played\b`,
		`(?i)\blight(ly)?\s*used\b`,
		`(?i)\bexcellent\b`,
		`(?i)\bexc\b`,
	)},
	{MP, compileAll(
		`\b(MP|M/P|M\.P\.?)\b`,
		`(?i)\bmoderately\s*played\b`,
		`(?i)\bmod(erate)?\s*play\b`,
		`(?i)\bgood\s*condition\b`,
		`(?i)\bused\b`,
	)},
	{HP, compileAll(
		`\b(HP|H/P|H\.P\.?)\b`,
		`(?i)\bheavily\s*played\b`,
		`(?i)\bheavy\s*play\b`,
		`(?i)\bwell\s*loved\b`,
		`(?i)\bwell\s*played\b`,
	)},
	{DMG, compileAll(
		`\b(DMG|DAMAGED)\b`,
		`(?i)\bdamaged\b`,
		`(?i)\bpoor\s*condition\b`,
		`(?i)\bjunk\b`,
	)},
}

// Damage cue tiers, least to most severe. When several tiers match, the
// most severe wins.
var damageTiers = []struct {
	cond       Condition
	confidence float64
	patterns   []*regexp.Regexp
}{
	{LP, 0.7, compileAll(
		`(?i)\bminor\s*wear\b`,
		`(?i)\blight\s*whitening\b`,
		`(?i)\bsmall\s*scratch\b`,
		`(?i)\bedge\s*wear\b`,
	)},
	{MP, 0.7, compileAll(
		`(?i)\bwhitening\b`,
		`(?i)\bscratched?\b`,
		`(?i)\bcorner\s*wear\b`,
		`(?i)\bsurface\s*wear\b`,
		`(?i)\bscuffed?\b`,
	)},
	{HP, 0.75, compileAll(
		`(?i)\bcreased?\b`,
		`(?i)\bbent\b`,
		`(?i)\bdent(ed)?\b`,
		`(?i)\bheavy\s*wear\b`,
		`(?i)\bfaded\b`,
	)},
	{DMG, 0.8, compileAll(
		`(?i)\btorn\b`,
		`(?i)\btear\b`,
		`(?i)\bwater\s*damage\b`,
		`(?i)\bmold\b`,
		`(?i)\bmissing\s*(corner|piece)\b`,
		`(?i)\bhole\b`,
	)},
}

var gradedPatterns = compileAll(
	`(?i)\b(PSA|CGC|BGS|SGC)\s*(\d+(?:\.\d)?)\b`,
	`(?i)\bgraded\s*(\d+(?:\.\d)?)\b`,
	`(?i)\b(\d+(?:\.\d)?)\s*grade\b`,
)

// Closed numeric bands mapping third-party grades to conditions.
var gradeBands = []struct {
	low, high float64
	cond      Condition
}{
	{9, 10, NM},
	{8, 8.9, LP},
	{6, 7.9, MP},
	{4, 5.9, HP},
	{0, 3.9, DMG},
}

// Direct synonym lookups used by Normalize before the full chain.
var synonyms = map[string]Condition{
	"nm": NM, "near mint": NM, "mint": NM, "m": NM, "pack fresh": NM,
	"lp": LP, "lightly played": LP, "excellent": LP, "exc": LP,
	"mp": MP, "moderately played": MP, "good": MP, "gd": MP,
	"hp": HP, "heavily played": HP, "played": HP,
	"dmg": DMG, "damaged": DMG, "poor": DMG,
}

// Classifier infers a card's physical grade from listing text via an
// ordered strategy chain: graded label, explicit code, damage cues,
// caller default.
type Classifier struct{}

func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify runs the strategy chain over title+description. First match
// wins; the default condition applies when nothing matches.
func (c *Classifier) Classify(title, description string, def Condition) Verdict {
	text := strings.TrimSpace(title + " " + description)

	if v, ok := checkGraded(text); ok {
		return v
	}
	if v, ok := checkExplicit(text); ok {
		return v
	}
	if v, ok := checkDamage(text); ok {
		return v
	}

	return Verdict{Condition: def, Confidence: 0.5, Source: SourceDefault}
}

// Normalize maps a raw condition string to a Condition, trying the
// synonym table and valid codes before falling back to Classify.
func (c *Classifier) Normalize(raw string) Condition {
	if raw == "" {
		return NM
	}

	lower := strings.ToLower(strings.TrimSpace(raw))
	if cond, ok := synonyms[lower]; ok {
		return cond
	}

	switch Condition(strings.ToUpper(strings.TrimSpace(raw))) {
	case NM:
		return NM
	case LP:
		return LP
	case MP:
		return MP
	case HP:
		return HP
	case DMG:
		return DMG
	}

	return c.Classify(raw, "", NM).Condition
}

func checkGraded(text string) (Verdict, bool) {
	for _, pattern := range gradedPatterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}

		gradeStr := match[len(match)-1]
		if gradeStr == "" && len(match) > 2 {
			gradeStr = match[len(match)-2]
		}
		grade, err := strconv.ParseFloat(gradeStr, 64)
		if err != nil {
			continue
		}

		for _, band := range gradeBands {
			if grade >= band.low && grade <= band.high {
				return Verdict{
					Condition:   band.cond,
					Confidence:  0.95,
					MatchedTerm: match[0],
					Source:      SourceGraded,
				}, true
			}
		}
	}
	return Verdict{}, false
}

func checkExplicit(text string) (Verdict, bool) {
	for _, entry := range explicitPatterns {
		for _, pattern := range entry.patterns {
			if match := pattern.FindString(text); match != "" {
				return Verdict{
					Condition:   entry.cond,
					Confidence:  0.9,
					MatchedTerm: match,
					Source:      SourceExplicit,
				}, true
			}
		}
	}
	return Verdict{}, false
}

func checkDamage(text string) (Verdict, bool) {
	best := -1
	var bestTerm string

	for tier, entry := range damageTiers {
		for _, pattern := range entry.patterns {
			if match := pattern.FindString(text); match != "" {
				if tier > best {
					best = tier
					bestTerm = match
				}
				break
			}
		}
	}

	if best < 0 {
		return Verdict{}, false
	}
	return Verdict{
		Condition:   damageTiers[best].cond,
		Confidence:  damageTiers[best].confidence,
		MatchedTerm: bestTerm,
		Source:      SourcePattern,
	}, true
}

func compileAll(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return compiled
}
