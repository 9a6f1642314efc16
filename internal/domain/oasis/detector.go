package oasis

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

const (
	impactBilling = "Billing-critical: the claim cannot be coded or submitted without it."
	impactQuality = "Quality gap: reduces documentation completeness and audit defensibility."
)

type checkRule struct {
	Field          string
	Location       string
	Recommendation string
	Required       bool
	present        func(*Analysis) bool
}

func hasValue(s string) bool { return !IsPlaceholder(s) }

func hasItems(ds ...Domain) func(*Analysis) bool {
	return func(a *Analysis) bool {
		for _, d := range ds {
			if len(a.Items(d)) > 0 {
				return true
			}
		}
		return false
	}
}

// checklist is evaluated in order; the order fixes the order of the report.
var checklist = []checkRule{
	{
		Field:          "Primary Diagnosis",
		Location:       "Section I/M1021 - Primary Diagnosis (page 2)",
		Recommendation: "Record the primary ICD-10 diagnosis code and description.",
		Required:       true,
		present:        func(a *Analysis) bool { return hasValue(a.PrimaryDiagnosis.Code) },
	},
	{
		Field:          "Secondary Diagnoses",
		Location:       "Section I/M1023 - Other Diagnoses (page 2)",
		Recommendation: "List secondary diagnoses to support the comorbidity adjustment.",
		present: func(a *Analysis) bool {
			for _, d := range a.SecondaryDiagnoses {
				if hasValue(d.Code) {
					return true
				}
			}
			return false
		},
	},
	{
		Field:          "Functional Status",
		Location:       "Section GG/M1800-M1870 - ADL/IADL (page 8)",
		Recommendation: "Complete the M1800-M1870 functional items; they drive the functional impairment level.",
		Required:       true,
		present:        hasItems(DomainFunctional),
	},
	{
		Field:          "Patient Name",
		Location:       "Section A/M0040 - Patient Name (page 1)",
		Recommendation: "Record the patient's legal name.",
		Required:       true,
		present:        func(a *Analysis) bool { return hasValue(a.PatientInfo.PatientName) },
	},
	{
		Field:          "Medical Record Number",
		Location:       "Section A/M0020 - Patient ID Number (page 1)",
		Recommendation: "Record the agency medical record number.",
		Required:       true,
		present:        func(a *Analysis) bool { return hasValue(a.PatientInfo.MRN) },
	},
	{
		Field:          "Visit Type",
		Location:       "Section A/M0100 - Reason for Assessment (page 1)",
		Recommendation: "Indicate the reason for assessment (SOC, ROC, recert, discharge).",
		present:        func(a *Analysis) bool { return hasValue(a.PatientInfo.VisitType) },
	},
	{
		Field:          "Visit Date",
		Location:       "Section A/M0090 - Date Assessment Completed (page 1)",
		Recommendation: "Record the date the assessment was completed.",
		Required:       true,
		present:        func(a *Analysis) bool { return hasValue(a.PatientInfo.VisitDate) },
	},
	{
		Field:          "Payor",
		Location:       "Section A/M0150 - Current Payment Sources (page 1)",
		Recommendation: "Record the current payment source.",
		Required:       true,
		present:        func(a *Analysis) bool { return hasValue(a.PatientInfo.Payor) },
	},
	{
		Field:          "Clinician Signature",
		Location:       "Signature block (last page)",
		Recommendation: "Obtain the assessing clinician's signature and credentials.",
		Required:       true,
		present:        func(a *Analysis) bool { return hasValue(a.PatientInfo.ClinicianSignature) },
	},
	{
		Field:          "Pain Status",
		Location:       "Section J/M1242 - Pain (page 5)",
		Recommendation: "Document pain frequency and interference with activity.",
		present:        hasItems(DomainPain),
	},
	{
		Field:          "Integumentary Status",
		Location:       "Section M/M1306-M1342 - Integumentary Status (page 6)",
		Recommendation: "Document skin integrity, pressure ulcers and wounds.",
		present:        hasItems(DomainIntegumentary),
	},
	{
		Field:          "Respiratory Status",
		Location:       "Section J/M1400 - Respiratory Status (page 7)",
		Recommendation: "Document dyspnea and respiratory treatments.",
		present:        hasItems(DomainRespiratory),
	},
	{
		Field:          "Cardiac Status",
		Location:       "Section M1500-M1510 - Cardiac Status (page 7)",
		Recommendation: "Document heart failure symptoms and follow-up.",
		present:        hasItems(DomainCardiac),
	},
	{
		Field:          "Elimination Status",
		Location:       "Section H/M1600-M1630 - Elimination Status (page 7)",
		Recommendation: "Document urinary and bowel status.",
		present:        hasItems(DomainElimination),
	},
	{
		Field:          "Neuro/Emotional/Behavioral Status",
		Location:       "Section C-E/M1700-M1745 - Neuro/Emotional/Behavioral Status (page 4)",
		Recommendation: "Document cognitive function, mood and behaviors.",
		present:        hasItems(DomainNeuroEmotionalBehavioral, DomainEmotional, DomainBehavioral),
	},
}

// Detector rebuilds the missing-information list of an analysis. It is the
// only source of that list: anything supplied by the extractor is discarded.
type Detector struct {
	logger zerolog.Logger
}

func NewDetector(logger zerolog.Logger) *Detector {
	return &Detector{logger: logger.With().Str("component", "oasis.detector").Logger()}
}

// Detect returns a copy of a with MissingInformation and CompletenessScore
// recomputed.
func (d *Detector) Detect(a *Analysis) *Analysis {
	out := a.Clone()
	if n := len(a.MissingInformation); n > 0 {
		d.logger.Info().Int("discarded", n).Msg("ignoring extractor-supplied missing information")
	}

	var gaps []MissingField
	for _, rule := range checklist {
		if rule.present(a) {
			continue
		}
		gaps = append(gaps, MissingField{
			Field:          rule.Field,
			Location:       rule.Location,
			Impact:         impactFor(rule.Required),
			Recommendation: rule.Recommendation,
			Required:       rule.Required,
		})
	}

	for _, di := range domains {
		required := di.Domain == DomainFunctional
		for _, it := range *di.items(a) {
			if hasValue(it.CurrentValue) {
				continue
			}
			field := strings.TrimSpace(it.Item)
			if IsPlaceholder(field) {
				field = di.Label + " item"
			}
			gaps = append(gaps, MissingField{
				Field:          field,
				Location:       di.Location,
				Impact:         impactFor(required),
				Recommendation: fmt.Sprintf("Document a value for %s.", field),
				Required:       required,
			})
		}
	}

	out.MissingInformation = dedupeFields(gaps)
	out.CompletenessScore = CompletenessScore(len(out.MissingInformation))
	return out
}

func impactFor(required bool) string {
	if required {
		return impactBilling
	}
	return impactQuality
}

// dedupeFields keeps the first entry for each field name.
func dedupeFields(in []MissingField) []MissingField {
	seen := make(map[string]bool, len(in))
	out := make([]MissingField, 0, len(in))
	for _, f := range in {
		key := strings.ToLower(strings.TrimSpace(f.Field))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

// CompletenessScore is 100 less 10 points per gap, floored at zero.
func CompletenessScore(gaps int) int {
	if s := 100 - 10*gaps; s > 0 {
		return s
	}
	return 0
}
