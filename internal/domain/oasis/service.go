package oasis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/homehealth/pdgm/internal/domain/pdgm"
)

// DefaultExtractTimeout bounds a single extractor call when none is configured.
const DefaultExtractTimeout = 60 * time.Second

// Extractor turns raw document text into an untrusted Analysis.
type Extractor interface {
	Extract(ctx context.Context, documentText string) (*Analysis, error)
}

// Cache stores extractor output keyed by document hash.
type Cache interface {
	Get(ctx context.Context, key string, v interface{}) (bool, error)
	Set(ctx context.Context, key string, v interface{}) error
}

// Transactor runs fn inside a single database transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	reports   ReportRepository
	pricing   *pdgm.Service
	pipeline  *Pipeline
	extractor Extractor
	cache     Cache
	cipher    FieldCipher
	tx        Transactor
	timeout   time.Duration
	logger    zerolog.Logger
}

func NewService(reports ReportRepository, pricing *pdgm.Service, logger zerolog.Logger) *Service {
	return &Service{
		reports:  reports,
		pricing:  pricing,
		pipeline: NewPipeline(logger),
		timeout:  DefaultExtractTimeout,
		logger:   logger.With().Str("component", "oasis").Logger(),
	}
}

// SetExtractor attaches the upstream extraction collaborator.
func (s *Service) SetExtractor(e Extractor) {
	s.extractor = e
}

// SetCache attaches an optional extraction cache.
func (s *Service) SetCache(c Cache) {
	s.cache = c
}

// SetCipher seals patient identifiers in cached extractions.
func (s *Service) SetCipher(c FieldCipher) {
	s.cipher = c
}

// SetTransactor makes report persistence atomic with its calculations.
func (s *Service) SetTransactor(tx Transactor) {
	s.tx = tx
}

func (s *Service) SetExtractTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// DocumentHash is the hex SHA-256 of the document text.
func DocumentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func cacheKey(hash string) string {
	return "oasis:extraction:" + hash
}

// Analyze extracts, validates, scores and stores one document.
func (s *Service) Analyze(ctx context.Context, req *AnalyzeRequest) (*Report, error) {
	if strings.TrimSpace(req.DocumentText) == "" {
		return nil, ErrEmptyDocument
	}
	if err := req.Period.Validate(); err != nil {
		return nil, err
	}
	hash := DocumentHash(req.DocumentText)
	log := s.logger.With().Str("document_hash", hash).Logger()

	raw, source, err := s.extract(ctx, req.DocumentText, hash, log)
	if err != nil {
		return nil, err
	}

	rep := s.buildReport(raw, req.DocumentText, req.Period, log)
	rep.DocumentHash = hash
	rep.Source = source

	if err := s.persist(ctx, rep); err != nil {
		return nil, err
	}
	log.Info().
		Str("analysis_id", rep.ID.String()).
		Str("source", source).
		Int("dropped", rep.Validation.Dropped).
		Int("missing", len(rep.Analysis.MissingInformation)).
		Int("completeness_score", rep.Analysis.CompletenessScore).
		Msg("analysis complete")
	return rep, nil
}

func (s *Service) extract(ctx context.Context, text, hash string, log zerolog.Logger) (*Analysis, string, error) {
	if s.cache != nil {
		var cached Analysis
		hit, err := s.cache.Get(ctx, cacheKey(hash), &cached)
		if err != nil {
			log.Warn().Err(err).Msg("extraction cache read failed")
		} else if hit {
			pi := &cached.PatientInfo
			if err := openFields(s.cipher, &pi.PatientName, &pi.MRN); err != nil {
				log.Warn().Err(err).Msg("cached extraction unreadable, extracting again")
			} else {
				return &cached, SourceCache, nil
			}
		}
	}

	if s.extractor == nil {
		return nil, "", ErrNoExtractor
	}
	ectx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	raw, err := s.extractor.Extract(ectx, text)
	if err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("extraction failed")
		return nil, "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if raw == nil {
		return nil, "", fmt.Errorf("%w: empty result", ErrExtractionFailed)
	}

	if s.cache != nil {
		entry := raw.Clone()
		if err := sealPatient(s.cipher, &entry.PatientInfo); err != nil {
			log.Warn().Err(err).Msg("extraction not cached")
		} else if err := s.cache.Set(ctx, cacheKey(hash), entry); err != nil {
			log.Warn().Err(err).Msg("extraction cache write failed")
		}
	}
	return raw, SourceExtractor, nil
}

// Validate runs the pipeline over a supplied extraction without calling the
// extractor or storing the result.
func (s *Service) Validate(ctx context.Context, req *ValidateRequest) (*Report, error) {
	if req.Analysis == nil {
		return nil, ErrMissingAnalysis
	}
	if err := req.Period.Validate(); err != nil {
		return nil, err
	}
	hash := DocumentHash(req.DocumentText)
	rep := s.buildReport(req.Analysis, req.DocumentText, req.Period, s.logger.With().Str("document_hash", hash).Logger())
	rep.DocumentHash = hash
	rep.Source = SourceSupplied
	rep.ID = uuid.New()
	rep.CreatedAt = time.Now().UTC()
	return rep, nil
}

func (s *Service) buildReport(raw *Analysis, text string, period Period, log zerolog.Logger) *Report {
	analysis, stats := s.pipeline.Run(raw, text)
	rep := &Report{Analysis: analysis, Validation: stats}
	if s.pricing == nil {
		return rep
	}
	rep.Optimization, rep.OptimizationNote = s.optimize(analysis, period)
	if rep.OptimizationNote != "" {
		log.Info().Str("reason", rep.OptimizationNote).Msg("optimization skipped")
	}
	return rep
}

func (s *Service) optimize(a *Analysis, period Period) (*pdgm.OptimizationResult, string) {
	if IsPlaceholder(a.PrimaryDiagnosis.Code) {
		return nil, "primary diagnosis is missing"
	}
	current, suggested := FunctionalScoresFromAnalysis(a)
	if current.Present() == 0 {
		return nil, "no scored functional status items"
	}
	count := 0
	for _, d := range a.SecondaryDiagnoses {
		if !IsPlaceholder(d.Code) {
			count++
		}
	}
	if period.SecondaryDiagnosesCount != nil {
		count = *period.SecondaryDiagnosesCount
	}
	out, err := s.pricing.Engine().CalculateOptimizedRevenue(current, suggested, pdgm.HIPPSParams{
		AdmissionSource:         period.AdmissionSource,
		Timing:                  period.Timing,
		PrimaryDiagnosis:        a.PrimaryDiagnosis.Code,
		SecondaryDiagnosesCount: count,
		HasHighRiskDx:           period.HasHighRiskDx,
	})
	if err != nil {
		return nil, err.Error()
	}
	return out, ""
}

func (s *Service) persist(ctx context.Context, rep *Report) error {
	if s.reports == nil {
		rep.ID = uuid.New()
		rep.CreatedAt = time.Now().UTC()
		return nil
	}
	store := func(ctx context.Context) error {
		if err := s.reports.Create(ctx, rep); err != nil {
			return fmt.Errorf("store analysis: %w", err)
		}
		if rep.Optimization != nil && s.pricing != nil {
			return s.pricing.RecordOptimization(ctx, &rep.ID, rep.Analysis.PrimaryDiagnosis.Code, rep.Optimization)
		}
		return nil
	}
	if s.tx != nil {
		return s.tx.WithTx(ctx, store)
	}
	return store(ctx)
}

func (s *Service) GetReport(ctx context.Context, id uuid.UUID) (*Report, error) {
	if s.reports == nil {
		return nil, ErrNotFound
	}
	return s.reports.GetByID(ctx, id)
}

func (s *Service) ListReports(ctx context.Context, limit, offset int) ([]*Summary, int, error) {
	if s.reports == nil {
		return nil, 0, nil
	}
	return s.reports.List(ctx, limit, offset)
}
