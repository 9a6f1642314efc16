package pdgm

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestDefaultTables_Valid(t *testing.T) {
	if err := DefaultTables().Validate(); err != nil {
		t.Fatalf("default tables invalid: %v", err)
	}
}

func TestLoadTablesFile(t *testing.T) {
	path := writeFile(t, "tables.yaml", `
icd10_prefixes:
  r5: a
  E1.: d
case_mix_weights:
  1ha12: 1.1000
  1HD11: 0.9900
functional_cap: 60
functional_bands:
  medium_min: 20
  high_min: 40
`)
	tables, err := LoadTablesFile(DefaultTables(), path)
	if err != nil {
		t.Fatalf("LoadTablesFile() error: %v", err)
	}
	if tables.Prefixes["R5"] != "A" {
		t.Errorf("expected R5 -> A, got %q", tables.Prefixes["R5"])
	}
	if tables.Prefixes["E1"] != "D" {
		t.Errorf("expected E1 -> D, got %q", tables.Prefixes["E1"])
	}
	if tables.CaseMixWeights["1HA12"] != 1.1 {
		t.Errorf("expected new weight 1.1, got %v", tables.CaseMixWeights["1HA12"])
	}
	if tables.CaseMixWeights["1HD11"] != 0.99 {
		t.Errorf("expected overridden weight 0.99, got %v", tables.CaseMixWeights["1HD11"])
	}
	if tables.CaseMixWeights["2HD14"] != 1.4087 {
		t.Error("expected built-in weights to be kept")
	}
	if tables.FunctionalCap != 60 || tables.MediumMin != 20 || tables.HighMin != 40 {
		t.Errorf("unexpected functional settings: %d %d %d", tables.FunctionalCap, tables.MediumMin, tables.HighMin)
	}

	e := NewEngine(tables, 0)
	if g := e.ClinicalGroup("R53.1"); g.Code != "A" {
		t.Errorf("expected R53.1 -> A from file, got %s", g.Code)
	}
	if lvl := e.FunctionalLevel(38); lvl != FunctionalMedium {
		t.Errorf("expected medium at 38, got %v", lvl)
	}
}

func TestLoadTablesFile_DoesNotModifyBase(t *testing.T) {
	base := DefaultTables()
	path := writeFile(t, "tables.yaml", "icd10_prefixes:\n  R5: A\n")
	if _, err := LoadTablesFile(base, path); err != nil {
		t.Fatalf("LoadTablesFile() error: %v", err)
	}
	if _, ok := base.Prefixes["R5"]; ok {
		t.Error("base tables were modified")
	}
}

func TestLoadTablesFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown group", "icd10_prefixes:\n  R5: X\n", "unknown group"},
		{"long prefix", "icd10_prefixes:\n  R53: A\n", "1 or 2 characters"},
		{"bad code", "case_mix_weights:\n  1HD1: 1.0\n", "5 characters"},
		{"negative weight", "case_mix_weights:\n  1HD11: -1\n", "negative"},
		{"bands", "functional_bands:\n  medium_min: 30\n  high_min: 20\n", "functional bands"},
		{"yaml", "icd10_prefixes: [", "parse tables file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "tables.yaml", tt.content)
			_, err := LoadTablesFile(DefaultTables(), path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadTablesFile_Missing(t *testing.T) {
	if _, err := LoadTablesFile(DefaultTables(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadCaseMixParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "case_mix.parquet")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w := parquet.NewGenericWriter[CaseMixRow](f)
	rows := []CaseMixRow{
		{HIPPSCode: "1hd11", Weight: 0.9700},
		{HIPPSCode: "2JG34", Weight: 1.5120},
		{HIPPSCode: "  ", Weight: 9},
	}
	if _, err := w.Write(rows); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	weights, err := LoadCaseMixParquet(path)
	if err != nil {
		t.Fatalf("LoadCaseMixParquet() error: %v", err)
	}
	if len(weights) != 2 {
		t.Fatalf("expected 2 weights, got %d", len(weights))
	}
	if weights["1HD11"] != 0.97 || weights["2JG34"] != 1.512 {
		t.Errorf("unexpected weights: %v", weights)
	}

	tables := DefaultTables()
	tables.MergeWeights(weights)
	e := NewEngine(tables, 0)
	if rev := e.CalculateRevenue("2JG34"); !rev.WeightFromTable || rev.CaseMixWeight != 1.512 {
		t.Errorf("unexpected revenue after merge: %+v", rev)
	}
}
