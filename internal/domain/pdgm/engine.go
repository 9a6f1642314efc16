package pdgm

import (
	"math"
	"strings"
)

// Engine classifies, scores and prices home health periods against a fixed
// set of tables. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	tables   *Tables
	baseRate float64
}

// NewEngine builds an engine. A nil tables value selects DefaultTables and a
// non-positive base rate selects DefaultBaseRate.
func NewEngine(tables *Tables, baseRate float64) *Engine {
	if tables == nil {
		tables = DefaultTables()
	}
	if baseRate <= 0 {
		baseRate = DefaultBaseRate
	}
	return &Engine{tables: tables.Clone(), baseRate: baseRate}
}

// BaseRate returns the configured Medicare base rate.
func (e *Engine) BaseRate() float64 {
	return e.baseRate
}

// ClinicalGroups returns the group table.
func (e *Engine) ClinicalGroups() []ClinicalGroup {
	out := make([]ClinicalGroup, 0, len(e.tables.Groups))
	for _, code := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		if g, ok := e.tables.Groups[code]; ok {
			out = append(out, g)
		}
	}
	return out
}

func normalizeICD10(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.ReplaceAll(code, ".", "")
}

// ClinicalGroup maps an ICD-10 code to its clinical group. The two-character
// prefix wins over the one-character prefix; anything unmatched, including
// an empty code, falls back to the default group.
func (e *Engine) ClinicalGroup(icd10 string) ClinicalGroup {
	code := normalizeICD10(icd10)
	if len(code) >= 2 {
		if g, ok := e.tables.Prefixes[code[:2]]; ok {
			return e.tables.Groups[g]
		}
	}
	if len(code) >= 1 {
		if g, ok := e.tables.Prefixes[code[:1]]; ok {
			return e.tables.Groups[g]
		}
	}
	return e.tables.Groups[e.tables.DefaultGroup]
}

// CalculateFunctionalScore sums the documented items, clamped to
// [0, FunctionalCap]. Missing items count as zero.
func (e *Engine) CalculateFunctionalScore(s FunctionalScores) int {
	total := 0
	for _, it := range FunctionalItems {
		if v := s.Get(it); v != nil {
			total += *v
		}
	}
	if total < 0 {
		return 0
	}
	if total > e.tables.FunctionalCap {
		return e.tables.FunctionalCap
	}
	return total
}

// FunctionalLevel bands a functional score.
func (e *Engine) FunctionalLevel(score int) FunctionalLevel {
	switch {
	case score >= e.tables.HighMin:
		return FunctionalHigh
	case score >= e.tables.MediumMin:
		return FunctionalMedium
	default:
		return FunctionalLow
	}
}

// ComorbidityLevelFor derives the comorbidity tier from the number of
// secondary diagnoses and the presence of a high-risk diagnosis.
func ComorbidityLevelFor(secondaryCount int, hasHighRiskDx bool) ComorbidityLevel {
	switch {
	case hasHighRiskDx || secondaryCount >= 4:
		return ComorbidityHigh
	case secondaryCount >= 3:
		return ComorbidityMedium
	case secondaryCount >= 1:
		return ComorbidityLow
	default:
		return ComorbidityNone
	}
}

// GenerateHIPPSCode assembles the five HIPPS positions. Inputs are taken as
// given; CalculateHIPPS is responsible for validating them.
func GenerateHIPPSCode(source AdmissionSource, timing Timing, group ClinicalGroup, level FunctionalLevel, comorbidityDigit string) string {
	var b strings.Builder
	b.Grow(5)
	if source == AdmissionInstitutional {
		b.WriteByte('2')
	} else {
		b.WriteByte('1')
	}
	if timing == TimingLate {
		b.WriteByte('J')
	} else {
		b.WriteByte('H')
	}
	b.WriteString(group.Code)
	b.WriteString(level.Digit())
	b.WriteString(comorbidityDigit)
	return b.String()
}

// ParseHIPPSCode decodes a five-character HIPPS code.
func ParseHIPPSCode(code string) (HIPPSComponents, error) {
	var c HIPPSComponents
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 5 {
		return c, invalid("hipps_code", "must be 5 characters, got %q", code)
	}
	switch code[0] {
	case '1':
		c.AdmissionSource = AdmissionCommunity
	case '2':
		c.AdmissionSource = AdmissionInstitutional
	default:
		return c, invalid("hipps_code", "position 1 must be 1 or 2, got %q", code[0])
	}
	switch code[1] {
	case 'H':
		c.Timing = TimingEarly
	case 'J':
		c.Timing = TimingLate
	default:
		return c, invalid("hipps_code", "position 2 must be H or J, got %q", code[1])
	}
	if code[2] < 'A' || code[2] > 'G' {
		return c, invalid("hipps_code", "position 3 must be a clinical group A-G, got %q", code[2])
	}
	c.ClinicalGroup = code[2:3]
	if code[3] < '1' || code[3] > '3' {
		return c, invalid("hipps_code", "position 4 must be 1-3, got %q", code[3])
	}
	c.FunctionalLevel = FunctionalLevel(code[3] - '0')
	if code[4] < '1' || code[4] > '4' {
		return c, invalid("hipps_code", "position 5 must be 1-4, got %q", code[4])
	}
	c.ComorbidityLevel = ComorbidityLevel(code[4] - '0')
	return c, nil
}

// roundCents rounds half away from zero to two decimals.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// CalculateRevenue prices a HIPPS code at the engine's base rate.
func (e *Engine) CalculateRevenue(code string) Revenue {
	return e.CalculateRevenueAt(code, e.baseRate)
}

// CalculateRevenueAt prices a HIPPS code at an explicit base rate. Codes
// missing from the case-mix table are priced at weight 1.0.
func (e *Engine) CalculateRevenueAt(code string, baseRate float64) Revenue {
	w, ok := e.tables.CaseMixWeights[strings.ToUpper(code)]
	if !ok {
		w = 1.0
	}
	return Revenue{
		CaseMixWeight:   w,
		WeightFromTable: ok,
		Revenue:         roundCents(baseRate * w),
	}
}

// Validate checks the caller contract of a calculation.
func (p *HIPPSParams) Validate() error {
	switch p.AdmissionSource {
	case "", AdmissionCommunity, AdmissionInstitutional:
	default:
		return invalid("admission_source", "must be %q or %q, got %q", AdmissionCommunity, AdmissionInstitutional, p.AdmissionSource)
	}
	switch p.Timing {
	case "", TimingEarly, TimingLate:
	default:
		return invalid("timing", "must be %q or %q, got %q", TimingEarly, TimingLate, p.Timing)
	}
	if p.SecondaryDiagnosesCount < 0 {
		return invalid("secondary_diagnoses_count", "must not be negative, got %d", p.SecondaryDiagnosesCount)
	}
	return p.FunctionalScores.Validate()
}

// Validate checks every documented item against its OASIS range.
func (s FunctionalScores) Validate() error {
	for _, it := range FunctionalItems {
		v := s.Get(it)
		if v == nil {
			continue
		}
		if *v < 0 || *v > it.Max {
			return invalid(it.Code, "%s must be between 0 and %d, got %d", it.Label, it.Max, *v)
		}
	}
	return nil
}

// CalculateHIPPS scores, classifies and prices one period.
func (e *Engine) CalculateHIPPS(p HIPPSParams) (*HIPPSResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	source := p.AdmissionSource
	if source == "" {
		source = AdmissionCommunity
	}
	timing := p.Timing
	if timing == "" {
		timing = TimingEarly
	}

	score := e.CalculateFunctionalScore(p.FunctionalScores)
	level := e.FunctionalLevel(score)
	group := e.ClinicalGroup(p.PrimaryDiagnosis)
	comorbidity := ComorbidityLevelFor(p.SecondaryDiagnosesCount, p.HasHighRiskDx)
	code := GenerateHIPPSCode(source, timing, group, level, comorbidity.Digit())
	rev := e.CalculateRevenue(code)

	return &HIPPSResult{
		HIPPSCode:        code,
		AdmissionSource:  source,
		Timing:           timing,
		ClinicalGroup:    group,
		FunctionalScore:  score,
		FunctionalLevel:  level,
		ComorbidityLevel: comorbidity,
		CaseMixWeight:    rev.CaseMixWeight,
		WeightFromTable:  rev.WeightFromTable,
		BaseRate:         e.baseRate,
		Revenue:          rev.Revenue,
	}, nil
}

// CalculateOptimizedRevenue prices the documented scores and the suggested
// scores under the same period parameters and reports the difference.
func (e *Engine) CalculateOptimizedRevenue(current, suggested FunctionalScores, shared HIPPSParams) (*OptimizationResult, error) {
	shared.FunctionalScores = current
	cur, err := e.CalculateHIPPS(shared)
	if err != nil {
		return nil, err
	}
	shared.FunctionalScores = suggested
	opt, err := e.CalculateHIPPS(shared)
	if err != nil {
		return nil, err
	}
	if cur.Revenue == 0 {
		return nil, ErrZeroCurrentRevenue
	}
	increase := roundCents(opt.Revenue - cur.Revenue)
	return &OptimizationResult{
		Current:         cur,
		Optimized:       opt,
		Increase:        increase,
		PercentIncrease: roundCents(increase / cur.Revenue * 100),
	}, nil
}
