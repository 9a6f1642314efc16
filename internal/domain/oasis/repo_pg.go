package oasis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

type reportRepoPG struct {
	pool   *pgxpool.Pool
	cipher FieldCipher
}

// NewReportRepoPG stores reports in oasis_analysis. When cipher is non-nil
// the patient name and MRN are encrypted in both the columns and the stored
// report body.
func NewReportRepoPG(pool *pgxpool.Pool, cipher FieldCipher) ReportRepository {
	return &reportRepoPG{pool: pool, cipher: cipher}
}

func (r *reportRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const summaryCols = `id, document_hash, source, patient_name, mrn, primary_diagnosis,
	completeness_score, missing_count, created_at`

func (r *reportRepoPG) scanSummary(row pgx.Row) (*Summary, error) {
	var s Summary
	err := row.Scan(&s.ID, &s.DocumentHash, &s.Source, &s.PatientName, &s.MRN, &s.PrimaryDiagnosis,
		&s.CompletenessScore, &s.MissingCount, &s.CreatedAt)
	return &s, err
}

func (r *reportRepoPG) Create(ctx context.Context, rep *Report) error {
	rep.ID = uuid.New()
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now().UTC()
	}
	stored := *rep
	if rep.Analysis != nil {
		stored.Analysis = rep.Analysis.Clone()
		if err := sealPatient(r.cipher, &stored.Analysis.PatientInfo); err != nil {
			return err
		}
	}
	body, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	s := stored.Summary()
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO oasis_analysis (id, document_hash, source, patient_name, mrn, primary_diagnosis,
			completeness_score, missing_count, report, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		s.ID, s.DocumentHash, s.Source, s.PatientName, s.MRN, s.PrimaryDiagnosis,
		s.CompletenessScore, s.MissingCount, body, s.CreatedAt)
	return err
}

func (r *reportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	var body []byte
	err := r.conn(ctx).QueryRow(ctx, `SELECT report FROM oasis_analysis WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rep Report
	if err := json.Unmarshal(body, &rep); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", id, err)
	}
	if rep.Analysis != nil {
		if err := openFields(r.cipher, &rep.Analysis.PatientInfo.PatientName, &rep.Analysis.PatientInfo.MRN); err != nil {
			return nil, fmt.Errorf("report %s: %w", id, err)
		}
	}
	return &rep, nil
}

func (r *reportRepoPG) List(ctx context.Context, limit, offset int) ([]*Summary, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM oasis_analysis`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+summaryCols+` FROM oasis_analysis ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Summary
	for rows.Next() {
		s, err := r.scanSummary(rows)
		if err != nil {
			return nil, 0, err
		}
		if err := openFields(r.cipher, &s.PatientName, &s.MRN); err != nil {
			return nil, 0, fmt.Errorf("report %s: %w", s.ID, err)
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}
