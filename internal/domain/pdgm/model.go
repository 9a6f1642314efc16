package pdgm

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultBaseRate is the national standardized 30-day period payment used
// when no rate is configured.
const DefaultBaseRate = 2058.16

// AdmissionSource is the PDGM admission source of the period.
type AdmissionSource string

const (
	AdmissionCommunity     AdmissionSource = "community"
	AdmissionInstitutional AdmissionSource = "institutional"
)

// Timing is the PDGM period timing.
type Timing string

const (
	TimingEarly Timing = "early"
	TimingLate  Timing = "late"
)

// ClinicalGroup is one of the seven PDGM clinical groups (A..G).
type ClinicalGroup struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

// FunctionalLevel is the functional impairment band of a period.
type FunctionalLevel int

const (
	FunctionalLow FunctionalLevel = iota + 1
	FunctionalMedium
	FunctionalHigh
)

// Digit returns the HIPPS position-4 character.
func (l FunctionalLevel) Digit() string {
	return fmt.Sprintf("%d", int(l))
}

func (l FunctionalLevel) String() string {
	switch l {
	case FunctionalLow:
		return "Low Impairment"
	case FunctionalMedium:
		return "Medium Impairment"
	case FunctionalHigh:
		return "High Impairment"
	}
	return "Unknown Impairment"
}

func (l FunctionalLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *FunctionalLevel) UnmarshalText(b []byte) error {
	for _, v := range []FunctionalLevel{FunctionalLow, FunctionalMedium, FunctionalHigh} {
		if v.String() == string(b) || v.Digit() == string(b) {
			*l = v
			return nil
		}
	}
	return fmt.Errorf("unknown functional level %q", b)
}

// ComorbidityLevel is the comorbidity adjustment tier of a period.
type ComorbidityLevel int

const (
	ComorbidityNone ComorbidityLevel = iota + 1
	ComorbidityLow
	ComorbidityMedium
	ComorbidityHigh
)

// Digit returns the HIPPS position-5 character.
func (l ComorbidityLevel) Digit() string {
	return fmt.Sprintf("%d", int(l))
}

func (l ComorbidityLevel) String() string {
	switch l {
	case ComorbidityNone:
		return "No Comorbidity Adjustment"
	case ComorbidityLow:
		return "Low Comorbidity Adjustment"
	case ComorbidityMedium:
		return "Medium Comorbidity Adjustment"
	case ComorbidityHigh:
		return "High Comorbidity Adjustment"
	}
	return "Unknown Comorbidity Adjustment"
}

func (l ComorbidityLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *ComorbidityLevel) UnmarshalText(b []byte) error {
	for _, v := range []ComorbidityLevel{ComorbidityNone, ComorbidityLow, ComorbidityMedium, ComorbidityHigh} {
		if v.String() == string(b) || v.Digit() == string(b) {
			*l = v
			return nil
		}
	}
	return fmt.Errorf("unknown comorbidity level %q", b)
}

// FunctionalScores holds the OASIS functional items used for PDGM
// functional impairment. A nil item was not documented on the source form.
type FunctionalScores struct {
	Grooming           *int `json:"M1800_Grooming,omitempty"`
	UpperBodyDressing  *int `json:"M1810_UpperBodyDressing,omitempty"`
	LowerBodyDressing  *int `json:"M1820_LowerBodyDressing,omitempty"`
	Bathing            *int `json:"M1830_Bathing,omitempty"`
	ToiletTransferring *int `json:"M1840_ToiletTransferring,omitempty"`
	ToiletingHygiene   *int `json:"M1845_ToiletingHygiene,omitempty"`
	Transferring       *int `json:"M1850_Transferring,omitempty"`
	Ambulation         *int `json:"M1860_Ambulation,omitempty"`
	Feeding            *int `json:"M1870_Feeding,omitempty"`
}

// FunctionalItem describes one OASIS functional item and its valid range.
type FunctionalItem struct {
	Code  string
	Label string
	Max   int
	field func(*FunctionalScores) **int
}

// FunctionalItems lists the nine OASIS items in form order.
var FunctionalItems = []FunctionalItem{
	{Code: "M1800", Label: "Grooming", Max: 3, field: func(s *FunctionalScores) **int { return &s.Grooming }},
	{Code: "M1810", Label: "Upper Body Dressing", Max: 3, field: func(s *FunctionalScores) **int { return &s.UpperBodyDressing }},
	{Code: "M1820", Label: "Lower Body Dressing", Max: 3, field: func(s *FunctionalScores) **int { return &s.LowerBodyDressing }},
	{Code: "M1830", Label: "Bathing", Max: 6, field: func(s *FunctionalScores) **int { return &s.Bathing }},
	{Code: "M1840", Label: "Toilet Transferring", Max: 4, field: func(s *FunctionalScores) **int { return &s.ToiletTransferring }},
	{Code: "M1845", Label: "Toileting Hygiene", Max: 3, field: func(s *FunctionalScores) **int { return &s.ToiletingHygiene }},
	{Code: "M1850", Label: "Transferring", Max: 5, field: func(s *FunctionalScores) **int { return &s.Transferring }},
	{Code: "M1860", Label: "Ambulation/Locomotion", Max: 6, field: func(s *FunctionalScores) **int { return &s.Ambulation }},
	{Code: "M1870", Label: "Feeding or Eating", Max: 5, field: func(s *FunctionalScores) **int { return &s.Feeding }},
}

// FunctionalItemByCode returns the item descriptor for an OASIS code such as "M1830".
func FunctionalItemByCode(code string) (FunctionalItem, bool) {
	for _, it := range FunctionalItems {
		if it.Code == code {
			return it, true
		}
	}
	return FunctionalItem{}, false
}

// Get returns the item value, or nil when it was not documented.
func (s *FunctionalScores) Get(item FunctionalItem) *int {
	return *item.field(s)
}

// Set records a value for the item.
func (s *FunctionalScores) Set(item FunctionalItem, v int) {
	*item.field(s) = &v
}

// Present returns the number of documented items.
func (s FunctionalScores) Present() int {
	n := 0
	for _, it := range FunctionalItems {
		if s.Get(it) != nil {
			n++
		}
	}
	return n
}

// HIPPSParams are the inputs of a single HIPPS calculation.
type HIPPSParams struct {
	AdmissionSource         AdmissionSource  `json:"admission_source"`
	Timing                  Timing           `json:"timing"`
	PrimaryDiagnosis        string           `json:"primary_diagnosis"`
	FunctionalScores        FunctionalScores `json:"functional_scores"`
	SecondaryDiagnosesCount int              `json:"secondary_diagnoses_count"`
	HasHighRiskDx           bool             `json:"has_high_risk_dx,omitempty"`
}

// HIPPSResult is the outcome of one calculation. It is built fresh for every
// call and never modified afterwards.
type HIPPSResult struct {
	HIPPSCode        string           `json:"hipps_code"`
	AdmissionSource  AdmissionSource  `json:"admission_source"`
	Timing           Timing           `json:"timing"`
	ClinicalGroup    ClinicalGroup    `json:"clinical_group"`
	FunctionalScore  int              `json:"functional_score"`
	FunctionalLevel  FunctionalLevel  `json:"functional_level"`
	ComorbidityLevel ComorbidityLevel `json:"comorbidity_level"`
	CaseMixWeight    float64          `json:"case_mix_weight"`
	WeightFromTable  bool             `json:"weight_from_table"`
	BaseRate         float64          `json:"base_rate"`
	Revenue          float64          `json:"revenue"`
}

// Revenue is the priced result of a HIPPS code.
type Revenue struct {
	CaseMixWeight   float64 `json:"case_mix_weight"`
	WeightFromTable bool    `json:"weight_from_table"`
	Revenue         float64 `json:"revenue"`
}

// OptimizationResult compares documented against suggested functional scoring.
type OptimizationResult struct {
	Current         *HIPPSResult `json:"current"`
	Optimized       *HIPPSResult `json:"optimized"`
	Increase        float64      `json:"increase"`
	PercentIncrease float64      `json:"percent_increase"`
}

// HIPPSComponents is a decoded HIPPS code.
type HIPPSComponents struct {
	AdmissionSource  AdmissionSource  `json:"admission_source"`
	Timing           Timing           `json:"timing"`
	ClinicalGroup    string           `json:"clinical_group"`
	FunctionalLevel  FunctionalLevel  `json:"functional_level"`
	ComorbidityLevel ComorbidityLevel `json:"comorbidity_level"`
}

// Calculation maps to the pdgm_calculation table.
type Calculation struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	AnalysisID       *uuid.UUID `db:"analysis_id" json:"analysis_id,omitempty"`
	Kind             string     `db:"kind" json:"kind"`
	HIPPSCode        string     `db:"hipps_code" json:"hipps_code"`
	PrimaryDiagnosis string     `db:"primary_diagnosis" json:"primary_diagnosis"`
	ClinicalGroup    string     `db:"clinical_group" json:"clinical_group"`
	FunctionalScore  int        `db:"functional_score" json:"functional_score"`
	FunctionalLevel  string     `db:"functional_level" json:"functional_level"`
	ComorbidityLevel string     `db:"comorbidity_level" json:"comorbidity_level"`
	CaseMixWeight    float64    `db:"case_mix_weight" json:"case_mix_weight"`
	BaseRate         float64    `db:"base_rate" json:"base_rate"`
	Revenue          float64    `db:"revenue" json:"revenue"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

const (
	KindStandard  = "standard"
	KindCurrent   = "current"
	KindOptimized = "optimized"
)

// NewCalculation flattens a result for storage.
func NewCalculation(kind, primaryDx string, r *HIPPSResult) *Calculation {
	return &Calculation{
		Kind:             kind,
		HIPPSCode:        r.HIPPSCode,
		PrimaryDiagnosis: primaryDx,
		ClinicalGroup:    r.ClinicalGroup.Code,
		FunctionalScore:  r.FunctionalScore,
		FunctionalLevel:  r.FunctionalLevel.String(),
		ComorbidityLevel: r.ComorbidityLevel.String(),
		CaseMixWeight:    r.CaseMixWeight,
		BaseRate:         r.BaseRate,
		Revenue:          r.Revenue,
	}
}
