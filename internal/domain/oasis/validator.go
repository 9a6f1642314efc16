package oasis

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// formMarkers identify a document as an OASIS assessment.
var formMarkers = []string{"OASIS", "M1800", "M1810", "Functional Status"}

// placeholders are extractor sentinels meaning "nothing was there".
var placeholders = map[string]bool{
	"":                true,
	"not found":       true,
	"not visible":     true,
	"n/a":             true,
	"unknown":         true,
	"not documented":  true,
	"not available":   true,
	"not applicable":  true,
	"none documented": true,
}

// templateMedication matches labels copied from an extraction template
// rather than from the document, such as "Medication 1" or "[name]".
var templateMedication = regexp.MustCompile(`(?i)^(medication|med|drug)\s*#?\s*\d*$|^(medication|drug)\s+name$|[\[\]<>{}]|^example\b|^x+$`)

var hasLetter = regexp.MustCompile(`\pL`)

// IsPlaceholder reports whether v is empty or an extractor sentinel.
func IsPlaceholder(v string) bool {
	return placeholders[strings.ToLower(strings.TrimSpace(v))]
}

// IsOASISForm reports whether the source text carries an OASIS form marker.
func IsOASISForm(text string) bool {
	for _, m := range formMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// ItemCode returns the leading code token of an item label, the text before
// " - ". A label without the separator is its own code.
func ItemCode(label string) string {
	code, _, _ := strings.Cut(label, " - ")
	return strings.TrimSpace(code)
}

func looksLikeMedication(label string) bool {
	label = strings.TrimSpace(label)
	if IsPlaceholder(label) || templateMedication.MatchString(label) {
		return false
	}
	return hasLetter.MatchString(label)
}

// Validator removes extracted items that are not grounded in the source
// document. It only ever drops items; values are never edited.
type Validator struct {
	logger zerolog.Logger
}

func NewValidator(logger zerolog.Logger) *Validator {
	return &Validator{logger: logger.With().Str("component", "oasis.validator").Logger()}
}

// Validate returns a filtered copy of a. The input is not modified and
// applying Validate to its own output changes nothing.
//
// A functionalStatus item is dropped when its code token does not occur in
// the text and the text is not an OASIS form. Items whose label is a
// placeholder ("Not found", "", "N/A") are dropped as well, even on an OASIS
// form, since they carry no code to score.
func (v *Validator) Validate(a *Analysis, sourceText string) (*Analysis, ValidationStats) {
	out := a.Clone()
	stats := ValidationStats{OASISForm: IsOASISForm(sourceText)}

	for _, di := range domains {
		src := *di.items(a)
		kept := make([]Item, 0, len(src))
		for _, it := range src {
			if reason := v.dropReason(di.Domain, it, sourceText, stats.OASISForm); reason != "" {
				v.logger.Info().
					Str("event", "audit").
					Str("domain", string(di.Domain)).
					Str("item", it.Item).
					Str("reason", reason).
					Msg("dropped ungrounded extraction item")
				if stats.DroppedByDomain == nil {
					stats.DroppedByDomain = make(map[Domain]int)
				}
				stats.DroppedByDomain[di.Domain]++
				stats.Dropped++
				continue
			}
			kept = append(kept, it)
		}
		stats.Kept += len(kept)
		*di.items(out) = kept
	}
	return out, stats
}

func (v *Validator) dropReason(d Domain, it Item, text string, oasisForm bool) string {
	switch d {
	case DomainFunctional:
		if IsPlaceholder(it.Item) {
			return "placeholder label"
		}
		if !oasisForm && !strings.Contains(text, ItemCode(it.Item)) {
			return "code not found in source text"
		}
	case DomainMedications:
		if IsPlaceholder(it.CurrentValue) && !looksLikeMedication(it.Item) {
			return "placeholder medication"
		}
	default:
		if IsPlaceholder(it.Item) {
			return "placeholder label"
		}
	}
	return ""
}
