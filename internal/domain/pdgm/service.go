package pdgm

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OptimizeRequest prices documented against suggested functional scores
// under shared period parameters.
type OptimizeRequest struct {
	AdmissionSource         AdmissionSource  `json:"admission_source"`
	Timing                  Timing           `json:"timing"`
	PrimaryDiagnosis        string           `json:"primary_diagnosis"`
	SecondaryDiagnosesCount int              `json:"secondary_diagnoses_count"`
	HasHighRiskDx           bool             `json:"has_high_risk_dx,omitempty"`
	CurrentScores           FunctionalScores `json:"current_scores"`
	SuggestedScores         FunctionalScores `json:"suggested_scores"`
}

func (r *OptimizeRequest) shared() HIPPSParams {
	return HIPPSParams{
		AdmissionSource:         r.AdmissionSource,
		Timing:                  r.Timing,
		PrimaryDiagnosis:        r.PrimaryDiagnosis,
		SecondaryDiagnosesCount: r.SecondaryDiagnosesCount,
		HasHighRiskDx:           r.HasHighRiskDx,
	}
}

// HIPPSLookup is a decoded HIPPS code with its group and price.
type HIPPSLookup struct {
	HIPPSCode  string          `json:"hipps_code"`
	Components HIPPSComponents `json:"components"`
	Group      ClinicalGroup   `json:"clinical_group"`
	Revenue    Revenue         `json:"revenue"`
}

type Service struct {
	engine *Engine
	calcs  CalculationRepository
	logger zerolog.Logger
}

// NewService wires the engine to optional persistence. A nil repository
// disables storage of calculations.
func NewService(engine *Engine, calcs CalculationRepository, logger zerolog.Logger) *Service {
	return &Service{
		engine: engine,
		calcs:  calcs,
		logger: logger.With().Str("component", "pdgm").Logger(),
	}
}

func (s *Service) Engine() *Engine {
	return s.engine
}

func (s *Service) CalculateHIPPS(ctx context.Context, p HIPPSParams) (*HIPPSResult, error) {
	res, err := s.engine.CalculateHIPPS(p)
	if err != nil {
		return nil, err
	}
	if !res.WeightFromTable {
		s.logger.Warn().Str("hipps_code", res.HIPPSCode).Msg("case-mix weight not in table, priced at 1.0")
	}
	if s.calcs != nil {
		if err := s.calcs.Create(ctx, NewCalculation(KindStandard, p.PrimaryDiagnosis, res)); err != nil {
			return nil, fmt.Errorf("store calculation: %w", err)
		}
	}
	return res, nil
}

func (s *Service) Optimize(ctx context.Context, req *OptimizeRequest) (*OptimizationResult, error) {
	out, err := s.engine.CalculateOptimizedRevenue(req.CurrentScores, req.SuggestedScores, req.shared())
	if err != nil {
		return nil, err
	}
	if err := s.RecordOptimization(ctx, nil, req.PrimaryDiagnosis, out); err != nil {
		return nil, err
	}
	return out, nil
}

// RecordOptimization stores both sides of an optimization, optionally linked
// to the analysis that produced it.
func (s *Service) RecordOptimization(ctx context.Context, analysisID *uuid.UUID, primaryDx string, out *OptimizationResult) error {
	if s.calcs == nil || out == nil {
		return nil
	}
	cur := NewCalculation(KindCurrent, primaryDx, out.Current)
	cur.AnalysisID = analysisID
	if err := s.calcs.Create(ctx, cur); err != nil {
		return fmt.Errorf("store current calculation: %w", err)
	}
	opt := NewCalculation(KindOptimized, primaryDx, out.Optimized)
	opt.AnalysisID = analysisID
	if err := s.calcs.Create(ctx, opt); err != nil {
		return fmt.Errorf("store optimized calculation: %w", err)
	}
	return nil
}

func (s *Service) ClassifyDiagnosis(icd10 string) ClinicalGroup {
	return s.engine.ClinicalGroup(icd10)
}

func (s *Service) DecodeHIPPS(code string) (*HIPPSLookup, error) {
	comp, err := ParseHIPPSCode(code)
	if err != nil {
		return nil, err
	}
	normalized := normalizeICD10(code)
	return &HIPPSLookup{
		HIPPSCode:  normalized,
		Components: comp,
		Group:      s.engine.tables.Groups[comp.ClinicalGroup],
		Revenue:    s.engine.CalculateRevenue(normalized),
	}, nil
}

func (s *Service) GetCalculation(ctx context.Context, id uuid.UUID) (*Calculation, error) {
	if s.calcs == nil {
		return nil, ErrNotFound
	}
	return s.calcs.GetByID(ctx, id)
}

func (s *Service) ListCalculations(ctx context.Context, limit, offset int) ([]*Calculation, int, error) {
	if s.calcs == nil {
		return nil, 0, nil
	}
	return s.calcs.List(ctx, limit, offset)
}

func (s *Service) ListCalculationsByAnalysis(ctx context.Context, analysisID uuid.UUID) ([]*Calculation, error) {
	if s.calcs == nil {
		return nil, nil
	}
	return s.calcs.ListByAnalysis(ctx, analysisID)
}

func (s *Service) EachCalculation(ctx context.Context, fn func(*Calculation) error) error {
	if s.calcs == nil {
		return nil
	}
	return s.calcs.Each(ctx, fn)
}
