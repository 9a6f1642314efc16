package pdgm

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"
)

// Tables holds the lookup data behind classification and pricing. The
// built-in tables are a sample of the CMS tables; coverage is extended by
// loading a YAML tables file or a Parquet case-mix export instead of
// changing code. A Tables value must not be modified once handed to an Engine.
type Tables struct {
	DefaultGroup   string
	Groups         map[string]ClinicalGroup
	Prefixes       map[string]string
	CaseMixWeights map[string]float64
	FunctionalCap  int
	MediumMin      int
	HighMin        int
}

// DefaultTables returns the built-in sample tables.
func DefaultTables() *Tables {
	return &Tables{
		DefaultGroup: "G",
		Groups: map[string]ClinicalGroup{
			"A": {Code: "A", Name: "Musculoskeletal Rehabilitation"},
			"B": {Code: "B", Name: "Neuro Rehabilitation"},
			"C": {Code: "C", Name: "Wounds"},
			"D": {Code: "D", Name: "MMTA - Cardiac and Circulatory"},
			"E": {Code: "E", Name: "Behavioral Health"},
			"F": {Code: "F", Name: "Complex Nursing Interventions"},
			"G": {Code: "G", Name: "MMTA - Other"},
		},
		Prefixes: map[string]string{
			"M":  "A",
			"S7": "A",
			"S8": "A",
			"Z4": "A",
			"G":  "B",
			"I6": "B",
			"L8": "C",
			"L9": "C",
			"T8": "C",
			"I":  "D",
			"I5": "D",
			"F":  "E",
			"J9": "F",
			"Z9": "F",
		},
		CaseMixWeights: map[string]float64{
			"1HA11": 1.0476, "1HA21": 1.2078, "1HA31": 1.3590,
			"1HB11": 1.1210, "1HB21": 1.3011, "1HB31": 1.4632,
			"1HC11": 1.0872, "1HC21": 1.2337, "1HC31": 1.3768,
			"1HD11": 0.9865, "1HD21": 1.1489, "1HD31": 1.2967,
			"1HD12": 1.0433, "1HD13": 1.0981, "1HD14": 1.1502,
			"1HE11": 0.8712, "1HF11": 1.2440, "1HG11": 0.8951,
			"1JA11": 0.8713, "1JD11": 0.8105,
			"2HA11": 1.3372, "2HD11": 1.2205, "2HD14": 1.4087,
			"2JD11": 1.0054,
		},
		FunctionalCap: 38,
		MediumMin:     24,
		HighMin:       43,
	}
}

// Clone returns a deep copy.
func (t *Tables) Clone() *Tables {
	c := *t
	c.Groups = make(map[string]ClinicalGroup, len(t.Groups))
	for k, v := range t.Groups {
		c.Groups[k] = v
	}
	c.Prefixes = make(map[string]string, len(t.Prefixes))
	for k, v := range t.Prefixes {
		c.Prefixes[k] = v
	}
	c.CaseMixWeights = make(map[string]float64, len(t.CaseMixWeights))
	for k, v := range t.CaseMixWeights {
		c.CaseMixWeights[k] = v
	}
	return &c
}

// Validate checks that the tables are internally consistent.
func (t *Tables) Validate() error {
	if _, ok := t.Groups[t.DefaultGroup]; !ok {
		return fmt.Errorf("default group %q is not defined", t.DefaultGroup)
	}
	for code, g := range t.Groups {
		if len(code) != 1 || code < "A" || code > "G" {
			return fmt.Errorf("clinical group code %q must be a single letter A-G", code)
		}
		if g.Code != code {
			return fmt.Errorf("clinical group %q has mismatched code %q", code, g.Code)
		}
	}
	for prefix, code := range t.Prefixes {
		if n := len(prefix); n < 1 || n > 2 {
			return fmt.Errorf("icd-10 prefix %q must be 1 or 2 characters", prefix)
		}
		if _, ok := t.Groups[code]; !ok {
			return fmt.Errorf("icd-10 prefix %q maps to unknown group %q", prefix, code)
		}
	}
	for code, w := range t.CaseMixWeights {
		if len(code) != 5 {
			return fmt.Errorf("case-mix code %q must be 5 characters", code)
		}
		if w < 0 {
			return fmt.Errorf("case-mix weight for %q is negative", code)
		}
	}
	if t.FunctionalCap <= 0 {
		return fmt.Errorf("functional cap must be positive, got %d", t.FunctionalCap)
	}
	if t.MediumMin <= 0 || t.HighMin <= t.MediumMin {
		return fmt.Errorf("functional bands must satisfy 0 < medium_min < high_min, got %d/%d", t.MediumMin, t.HighMin)
	}
	return nil
}

type bandsFile struct {
	MediumMin int `yaml:"medium_min"`
	HighMin   int `yaml:"high_min"`
}

// tablesFile is the on-disk YAML structure. Every section is optional and
// extends or overrides the built-in tables.
type tablesFile struct {
	DefaultGroup    string             `yaml:"default_group"`
	ClinicalGroups  []ClinicalGroup    `yaml:"clinical_groups"`
	ICD10Prefixes   map[string]string  `yaml:"icd10_prefixes"`
	CaseMixWeights  map[string]float64 `yaml:"case_mix_weights"`
	FunctionalCap   int                `yaml:"functional_cap"`
	FunctionalBands *bandsFile         `yaml:"functional_bands"`
}

// LoadTablesFile reads a YAML tables file and merges it over base.
func LoadTablesFile(base *Tables, path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tables file: %w", err)
	}
	var tf tablesFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse tables file: %w", err)
	}

	t := base.Clone()
	if tf.DefaultGroup != "" {
		t.DefaultGroup = strings.ToUpper(tf.DefaultGroup)
	}
	for _, g := range tf.ClinicalGroups {
		g.Code = strings.ToUpper(g.Code)
		t.Groups[g.Code] = g
	}
	for prefix, code := range tf.ICD10Prefixes {
		t.Prefixes[normalizeICD10(prefix)] = strings.ToUpper(code)
	}
	t.MergeWeights(tf.CaseMixWeights)
	if tf.FunctionalCap != 0 {
		t.FunctionalCap = tf.FunctionalCap
	}
	if tf.FunctionalBands != nil {
		t.MediumMin = tf.FunctionalBands.MediumMin
		t.HighMin = tf.FunctionalBands.HighMin
	}

	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("tables file %s: %w", path, err)
	}
	return t, nil
}

// MergeWeights adds or replaces case-mix weights.
func (t *Tables) MergeWeights(weights map[string]float64) {
	for code, w := range weights {
		t.CaseMixWeights[strings.ToUpper(strings.TrimSpace(code))] = w
	}
}

// CaseMixRow mirrors the Parquet schema of a case-mix weight export.
type CaseMixRow struct {
	HIPPSCode string  `parquet:"hipps_code"`
	Weight    float64 `parquet:"weight"`
}

// LoadCaseMixParquet reads case-mix weights from a Parquet file.
func LoadCaseMixParquet(path string) (map[string]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open case-mix file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat case-mix file: %w", err)
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[CaseMixRow](pf)
	defer reader.Close()

	weights := make(map[string]float64, reader.NumRows())
	buf := make([]CaseMixRow, 512)
	for {
		n, readErr := reader.Read(buf)
		for i := 0; i < n; i++ {
			code := strings.ToUpper(strings.TrimSpace(buf[i].HIPPSCode))
			if code == "" {
				continue
			}
			weights[code] = buf[i].Weight
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("read case-mix rows: %w", readErr)
		}
	}
	return weights, nil
}
