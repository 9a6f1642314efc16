package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homehealth/pdgm/internal/domain/pdgm"
)

func sampleCalculations(n int) []*pdgm.Calculation {
	created := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)
	analysis := uuid.New()
	out := make([]*pdgm.Calculation, n)
	for i := range out {
		out[i] = &pdgm.Calculation{
			ID:               uuid.New(),
			Kind:             pdgm.KindStandard,
			HIPPSCode:        "1FC21",
			PrimaryDiagnosis: "I50.9",
			ClinicalGroup:    "MMTA_CARDIAC",
			FunctionalScore:  30,
			FunctionalLevel:  "Medium Impairment",
			ComorbidityLevel: "Low Comorbidity Adjustment",
			CaseMixWeight:    1.1,
			BaseRate:         pdgm.DefaultBaseRate,
			Revenue:          2263.98,
			CreatedAt:        created,
		}
		if i%2 == 0 {
			out[i].AnalysisID = &analysis
		}
	}
	return out
}

func eachOf(calcs []*pdgm.Calculation) EachFunc {
	return func(ctx context.Context, fn func(*pdgm.Calculation) error) error {
		for _, c := range calcs {
			if err := fn(c); err != nil {
				return err
			}
		}
		return nil
	}
}

func readRows(t *testing.T, data []byte) []CalculationRow {
	t.Helper()
	pf, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	r := parquet.NewGenericReader[CalculationRow](pf)
	defer r.Close()

	rows := make([]CalculationRow, pf.NumRows())
	n, err := r.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		require.NoError(t, err)
	}
	return rows[:n]
}

func TestRowFromCalculation(t *testing.T) {
	c := sampleCalculations(1)[0]
	row := RowFromCalculation(c)
	assert.Equal(t, c.ID.String(), row.ID)
	require.NotNil(t, row.AnalysisID)
	assert.Equal(t, c.AnalysisID.String(), *row.AnalysisID)
	assert.Equal(t, int32(30), row.FunctionalScore)
	assert.Equal(t, c.CreatedAt.UnixMilli(), row.CreatedAtMillis)

	c.AnalysisID = nil
	assert.Nil(t, RowFromCalculation(c).AnalysisID)
}

func TestCalculations_WritesAllRows(t *testing.T) {
	calcs := sampleCalculations(batchSize + 5)
	var buf bytes.Buffer
	w := NewCalculationWriter(&buf, "test")

	require.NoError(t, Calculations(context.Background(), eachOf(calcs), w))
	require.NoError(t, w.Close())
	assert.Equal(t, len(calcs), w.Count())

	rows := readRows(t, buf.Bytes())
	require.Len(t, rows, len(calcs))
	assert.Equal(t, calcs[0].ID.String(), rows[0].ID)
	assert.Equal(t, "1FC21", rows[len(rows)-1].HIPPSCode)
	assert.NotNil(t, rows[0].AnalysisID)
	assert.Nil(t, rows[1].AnalysisID)
}

func TestCalculations_Empty(t *testing.T) {
	var buf bytes.Buffer
	w := NewCalculationWriter(&buf, "test")
	require.NoError(t, Calculations(context.Background(), eachOf(nil), w))
	require.NoError(t, w.Close())
	assert.Equal(t, 0, w.Count())
	assert.Empty(t, readRows(t, buf.Bytes()))
}

func TestCalculations_SourceError(t *testing.T) {
	boom := errors.New("connection reset")
	each := func(ctx context.Context, fn func(*pdgm.Calculation) error) error { return boom }

	var buf bytes.Buffer
	w := NewCalculationWriter(&buf, "test")
	err := Calculations(context.Background(), each, w)
	assert.ErrorIs(t, err, boom)
}

func TestCreateCalculationWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calculations.parquet")
	w, err := CreateCalculationWriter(path, "test")
	require.NoError(t, err)
	_, err = w.Write([]CalculationRow{RowFromCalculation(sampleCalculations(1)[0])})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.FileExists(t, path)
}

func TestCreateCalculationWriter_BadPath(t *testing.T) {
	_, err := CreateCalculationWriter(filepath.Join(t.TempDir(), "missing", "x.parquet"), "test")
	assert.Error(t, err)
}
