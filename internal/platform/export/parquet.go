// Package export writes stored PDGM calculations to Parquet for offline
// analysis.
package export

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/homehealth/pdgm/internal/domain/pdgm"
)

const batchSize = 1000

// CalculationRow is the Parquet schema of one stored calculation. Timestamps
// are Unix milliseconds.
type CalculationRow struct {
	ID               string  `parquet:"id"`
	AnalysisID       *string `parquet:"analysis_id,optional"`
	Kind             string  `parquet:"kind,dict"`
	HIPPSCode        string  `parquet:"hipps_code,dict"`
	PrimaryDiagnosis string  `parquet:"primary_diagnosis"`
	ClinicalGroup    string  `parquet:"clinical_group,dict"`
	FunctionalScore  int32   `parquet:"functional_score"`
	FunctionalLevel  string  `parquet:"functional_level,dict"`
	ComorbidityLevel string  `parquet:"comorbidity_level,dict"`
	CaseMixWeight    float64 `parquet:"case_mix_weight"`
	BaseRate         float64 `parquet:"base_rate"`
	Revenue          float64 `parquet:"revenue"`
	CreatedAtMillis  int64   `parquet:"created_at_ms"`
}

// RowFromCalculation flattens a calculation into its Parquet row.
func RowFromCalculation(c *pdgm.Calculation) CalculationRow {
	row := CalculationRow{
		ID:               c.ID.String(),
		Kind:             c.Kind,
		HIPPSCode:        c.HIPPSCode,
		PrimaryDiagnosis: c.PrimaryDiagnosis,
		ClinicalGroup:    c.ClinicalGroup,
		FunctionalScore:  int32(c.FunctionalScore),
		FunctionalLevel:  c.FunctionalLevel,
		ComorbidityLevel: c.ComorbidityLevel,
		CaseMixWeight:    c.CaseMixWeight,
		BaseRate:         c.BaseRate,
		Revenue:          c.Revenue,
		CreatedAtMillis:  c.CreatedAt.UnixMilli(),
	}
	if c.AnalysisID != nil {
		id := c.AnalysisID.String()
		row.AnalysisID = &id
	}
	return row
}

// CalculationWriter writes CalculationRow records with zstd compression.
type CalculationWriter struct {
	closer io.Closer
	writer *parquet.GenericWriter[CalculationRow]
	count  int
}

// NewCalculationWriter wraps w. The caller owns w.
func NewCalculationWriter(w io.Writer, version string) *CalculationWriter {
	return &CalculationWriter{
		writer: parquet.NewGenericWriter[CalculationRow](w,
			parquet.Compression(&zstd.Codec{Level: zstd.SpeedDefault}),
			parquet.DataPageStatistics(true),
			parquet.CreatedBy("pdgm", version, ""),
		),
	}
}

// CreateCalculationWriter creates the file at path; Close closes it.
func CreateCalculationWriter(path, version string) (*CalculationWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create parquet file: %w", err)
	}
	w := NewCalculationWriter(f, version)
	w.closer = f
	return w, nil
}

func (w *CalculationWriter) Write(rows []CalculationRow) (int, error) {
	n, err := w.writer.Write(rows)
	w.count += n
	if err != nil {
		return n, fmt.Errorf("write parquet rows: %w", err)
	}
	return n, nil
}

// Close flushes the final row group.
func (w *CalculationWriter) Close() error {
	if err := w.writer.Close(); err != nil {
		if w.closer != nil {
			w.closer.Close()
		}
		return fmt.Errorf("close parquet writer: %w", err)
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// Count returns the number of rows written.
func (w *CalculationWriter) Count() int {
	return w.count
}

// EachFunc iterates stored calculations, as pdgm.Service.EachCalculation does.
type EachFunc func(ctx context.Context, fn func(*pdgm.Calculation) error) error

// Calculations streams every calculation from each into w in batches.
func Calculations(ctx context.Context, each EachFunc, w *CalculationWriter) error {
	batch := make([]CalculationRow, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := w.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	err := each(ctx, func(c *pdgm.Calculation) error {
		batch = append(batch, RowFromCalculation(c))
		if len(batch) == batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("read calculations: %w", err)
	}
	return flush()
}
