package oasis

import (
	"time"

	"github.com/google/uuid"

	"github.com/homehealth/pdgm/internal/domain/pdgm"
)

// Item is one clinical finding reported by the extractor.
type Item struct {
	Item                 string `json:"item"`
	CurrentValue         string `json:"currentValue"`
	CurrentDescription   string `json:"currentDescription"`
	SuggestedValue       string `json:"suggestedValue,omitempty"`
	SuggestedDescription string `json:"suggestedDescription,omitempty"`
	ClinicalRationale    string `json:"clinicalRationale,omitempty"`
}

type PatientInfo struct {
	PatientName        string `json:"patientName"`
	MRN                string `json:"mrn"`
	VisitType          string `json:"visitType"`
	VisitDate          string `json:"visitDate"`
	Payor              string `json:"payor"`
	Clinician          string `json:"clinician"`
	ClinicianSignature string `json:"clinicianSignature"`
}

type Diagnosis struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// MissingField is one documentation gap found by the Detector.
type MissingField struct {
	Field          string `json:"field"`
	Location       string `json:"location"`
	Impact         string `json:"impact"`
	Recommendation string `json:"recommendation"`
	Required       bool   `json:"required"`
}

// Analysis is the structured result of extracting one OASIS document. Its
// JSON shape is the extractor's wire format.
type Analysis struct {
	PatientInfo                    PatientInfo    `json:"patientInfo"`
	PrimaryDiagnosis               Diagnosis      `json:"primaryDiagnosis"`
	SecondaryDiagnoses             []Diagnosis    `json:"secondaryDiagnoses"`
	FunctionalStatus               []Item         `json:"functionalStatus"`
	Medications                    []Item         `json:"medications"`
	PainStatus                     []Item         `json:"painStatus"`
	IntegumentaryStatus            []Item         `json:"integumentaryStatus"`
	RespiratoryStatus              []Item         `json:"respiratoryStatus"`
	CardiacStatus                  []Item         `json:"cardiacStatus"`
	EliminationStatus              []Item         `json:"eliminationStatus"`
	NeuroEmotionalBehavioralStatus []Item         `json:"neuroEmotionalBehavioralStatus"`
	EmotionalStatus                []Item         `json:"emotionalStatus"`
	BehavioralStatus               []Item         `json:"behavioralStatus"`
	MissingInformation             []MissingField `json:"missingInformation"`
	CompletenessScore              int            `json:"completenessScore"`
}

// Domain names one clinical domain array of an Analysis.
type Domain string

const (
	DomainFunctional               Domain = "functionalStatus"
	DomainMedications              Domain = "medications"
	DomainPain                     Domain = "painStatus"
	DomainIntegumentary            Domain = "integumentaryStatus"
	DomainRespiratory              Domain = "respiratoryStatus"
	DomainCardiac                  Domain = "cardiacStatus"
	DomainElimination              Domain = "eliminationStatus"
	DomainNeuroEmotionalBehavioral Domain = "neuroEmotionalBehavioralStatus"
	DomainEmotional                Domain = "emotionalStatus"
	DomainBehavioral               Domain = "behavioralStatus"
)

type domainInfo struct {
	Domain   Domain
	Label    string
	Location string
	items    func(*Analysis) *[]Item
}

// domains lists every clinical domain array in form order.
var domains = []domainInfo{
	{DomainFunctional, "Functional Status", "Section GG/M1800-M1870 - ADL/IADL (page 8)", func(a *Analysis) *[]Item { return &a.FunctionalStatus }},
	{DomainMedications, "Medications", "Section N/M2001-M2030 - Medications (page 11)", func(a *Analysis) *[]Item { return &a.Medications }},
	{DomainPain, "Pain Status", "Section J/M1242 - Pain (page 5)", func(a *Analysis) *[]Item { return &a.PainStatus }},
	{DomainIntegumentary, "Integumentary Status", "Section M/M1306-M1342 - Integumentary Status (page 6)", func(a *Analysis) *[]Item { return &a.IntegumentaryStatus }},
	{DomainRespiratory, "Respiratory Status", "Section J/M1400 - Respiratory Status (page 7)", func(a *Analysis) *[]Item { return &a.RespiratoryStatus }},
	{DomainCardiac, "Cardiac Status", "Section M1500-M1510 - Cardiac Status (page 7)", func(a *Analysis) *[]Item { return &a.CardiacStatus }},
	{DomainElimination, "Elimination Status", "Section H/M1600-M1630 - Elimination Status (page 7)", func(a *Analysis) *[]Item { return &a.EliminationStatus }},
	{DomainNeuroEmotionalBehavioral, "Neuro/Emotional/Behavioral Status", "Section C-E/M1700-M1745 - Neuro/Emotional/Behavioral Status (page 4)", func(a *Analysis) *[]Item { return &a.NeuroEmotionalBehavioralStatus }},
	{DomainEmotional, "Emotional Status", "Section D - Mood (page 4)", func(a *Analysis) *[]Item { return &a.EmotionalStatus }},
	{DomainBehavioral, "Behavioral Status", "Section E - Behavior (page 4)", func(a *Analysis) *[]Item { return &a.BehavioralStatus }},
}

// Domains returns the domain names in form order.
func Domains() []Domain {
	out := make([]Domain, len(domains))
	for i, d := range domains {
		out[i] = d.Domain
	}
	return out
}

// Items returns the items of one domain.
func (a *Analysis) Items(d Domain) []Item {
	for _, di := range domains {
		if di.Domain == d {
			return *di.items(a)
		}
	}
	return nil
}

// Clone returns a deep copy so pipeline stages never share backing arrays.
func (a *Analysis) Clone() *Analysis {
	c := *a
	c.SecondaryDiagnoses = cloneSlice(a.SecondaryDiagnoses)
	for _, di := range domains {
		*di.items(&c) = cloneSlice(*di.items(a))
	}
	c.MissingInformation = cloneSlice(a.MissingInformation)
	return &c
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

// ValidationStats summarizes what the Validator removed.
type ValidationStats struct {
	OASISForm       bool           `json:"oasis_form"`
	Kept            int            `json:"kept"`
	Dropped         int            `json:"dropped"`
	DroppedByDomain map[Domain]int `json:"dropped_by_domain,omitempty"`
}

// Period carries the PDGM period parameters that cannot be read from the
// document itself.
type Period struct {
	AdmissionSource         pdgm.AdmissionSource `json:"admission_source"`
	Timing                  pdgm.Timing          `json:"timing"`
	SecondaryDiagnosesCount *int                 `json:"secondary_diagnoses_count,omitempty"`
	HasHighRiskDx           bool                 `json:"has_high_risk_dx,omitempty"`
}

// Validate rejects period parameters no calculation could accept.
func (p Period) Validate() error {
	hp := pdgm.HIPPSParams{AdmissionSource: p.AdmissionSource, Timing: p.Timing}
	if p.SecondaryDiagnosesCount != nil {
		hp.SecondaryDiagnosesCount = *p.SecondaryDiagnosesCount
	}
	return hp.Validate()
}

type AnalyzeRequest struct {
	DocumentText string `json:"document_text"`
	Period
}

type ValidateRequest struct {
	DocumentText string    `json:"document_text"`
	Analysis     *Analysis `json:"analysis"`
	Period
}

const (
	SourceExtractor = "extractor"
	SourceCache     = "cache"
	SourceSupplied  = "supplied"
)

// Report is the combined validation and optimization result for one document.
type Report struct {
	ID               uuid.UUID                `json:"id"`
	DocumentHash     string                   `json:"document_hash"`
	Source           string                   `json:"source"`
	Analysis         *Analysis                `json:"analysis"`
	Validation       ValidationStats          `json:"validation"`
	Optimization     *pdgm.OptimizationResult `json:"optimization,omitempty"`
	OptimizationNote string                   `json:"optimization_note,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
}

// Summary is the list view of a stored Report.
type Summary struct {
	ID                uuid.UUID `json:"id"`
	DocumentHash      string    `json:"document_hash"`
	Source            string    `json:"source"`
	PatientName       string    `json:"patient_name"`
	MRN               string    `json:"mrn"`
	PrimaryDiagnosis  string    `json:"primary_diagnosis"`
	CompletenessScore int       `json:"completeness_score"`
	MissingCount      int       `json:"missing_count"`
	CreatedAt         time.Time `json:"created_at"`
}

func (r *Report) Summary() *Summary {
	s := &Summary{
		ID:           r.ID,
		DocumentHash: r.DocumentHash,
		Source:       r.Source,
		CreatedAt:    r.CreatedAt,
	}
	if r.Analysis != nil {
		s.PatientName = r.Analysis.PatientInfo.PatientName
		s.MRN = r.Analysis.PatientInfo.MRN
		s.PrimaryDiagnosis = r.Analysis.PrimaryDiagnosis.Code
		s.CompletenessScore = r.Analysis.CompletenessScore
		s.MissingCount = len(r.Analysis.MissingInformation)
	}
	return s
}
