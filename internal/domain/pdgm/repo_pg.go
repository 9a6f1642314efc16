package pdgm

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homehealth/pdgm/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type calculationRepoPG struct{ pool *pgxpool.Pool }

func NewCalculationRepoPG(pool *pgxpool.Pool) CalculationRepository {
	return &calculationRepoPG{pool: pool}
}

func (r *calculationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const calcCols = `id, analysis_id, kind, hipps_code, primary_diagnosis,
	clinical_group, functional_score, functional_level, comorbidity_level,
	case_mix_weight, base_rate, revenue, created_at`

func (r *calculationRepoPG) scanRow(row pgx.Row) (*Calculation, error) {
	var c Calculation
	err := row.Scan(&c.ID, &c.AnalysisID, &c.Kind, &c.HIPPSCode, &c.PrimaryDiagnosis,
		&c.ClinicalGroup, &c.FunctionalScore, &c.FunctionalLevel, &c.ComorbidityLevel,
		&c.CaseMixWeight, &c.BaseRate, &c.Revenue, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *calculationRepoPG) Create(ctx context.Context, c *Calculation) error {
	c.ID = uuid.New()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO pdgm_calculation (id, analysis_id, kind, hipps_code, primary_diagnosis,
			clinical_group, functional_score, functional_level, comorbidity_level,
			case_mix_weight, base_rate, revenue, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		c.ID, c.AnalysisID, c.Kind, c.HIPPSCode, c.PrimaryDiagnosis,
		c.ClinicalGroup, c.FunctionalScore, c.FunctionalLevel, c.ComorbidityLevel,
		c.CaseMixWeight, c.BaseRate, c.Revenue, c.CreatedAt)
	return err
}

func (r *calculationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Calculation, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+calcCols+` FROM pdgm_calculation WHERE id = $1`, id))
}

func (r *calculationRepoPG) List(ctx context.Context, limit, offset int) ([]*Calculation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM pdgm_calculation`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+calcCols+` FROM pdgm_calculation ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Calculation
	for rows.Next() {
		c, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *calculationRepoPG) ListByAnalysis(ctx context.Context, analysisID uuid.UUID) ([]*Calculation, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+calcCols+` FROM pdgm_calculation WHERE analysis_id = $1 ORDER BY created_at`, analysisID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Calculation
	for rows.Next() {
		c, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *calculationRepoPG) Each(ctx context.Context, fn func(*Calculation) error) error {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+calcCols+` FROM pdgm_calculation ORDER BY created_at`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := r.scanRow(rows)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return rows.Err()
}
