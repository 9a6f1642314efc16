package oasis

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/homehealth/pdgm/internal/domain/pdgm"
)

// Pipeline runs validation and then missing-field detection. Each stage
// returns a new Analysis.
type Pipeline struct {
	validator *Validator
	detector  *Detector
}

func NewPipeline(logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		validator: NewValidator(logger),
		detector:  NewDetector(logger),
	}
}

func (p *Pipeline) Run(a *Analysis, sourceText string) (*Analysis, ValidationStats) {
	validated, stats := p.validator.Validate(a, sourceText)
	return p.detector.Detect(validated), stats
}

// leadingInt parses the integer an OASIS answer starts with, as in
// "2 - Someone must assist". ok is false when there is none.
func leadingInt(v string) (int, bool) {
	v = strings.TrimSpace(v)
	end := 0
	for end < len(v) && unicode.IsDigit(rune(v[end])) {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(v[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// functionalItemFor resolves an item label such as "M1830 - Bathing" or
// "M1830_Bathing" to its functional item descriptor.
func functionalItemFor(label string) (pdgm.FunctionalItem, bool) {
	code := strings.ToUpper(ItemCode(label))
	if len(code) > 5 {
		code = code[:5]
	}
	return pdgm.FunctionalItemByCode(code)
}

// FunctionalScoresFromAnalysis reads the documented and suggested M1800-M1870
// answers. A suggested score falls back to the documented one. The first
// occurrence of an item wins.
func FunctionalScoresFromAnalysis(a *Analysis) (current, suggested pdgm.FunctionalScores) {
	for _, it := range a.FunctionalStatus {
		fi, ok := functionalItemFor(it.Item)
		if !ok || current.Get(fi) != nil {
			continue
		}
		cur, ok := leadingInt(it.CurrentValue)
		if !ok {
			continue
		}
		current.Set(fi, cur)
		if sug, ok := leadingInt(it.SuggestedValue); ok {
			suggested.Set(fi, sug)
		} else {
			suggested.Set(fi, cur)
		}
	}
	return current, suggested
}
