package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/homehealth/pdgm/internal/domain/oasis"
	"github.com/homehealth/pdgm/internal/domain/pdgm"
	"github.com/homehealth/pdgm/internal/platform/export"
)

func hippsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hipps",
		Short: "Score a JSON parameter file and print the HIPPS result",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			in, closeIn, err := openInput(file)
			if err != nil {
				return err
			}
			defer closeIn()
			return runHIPPS(engine, in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("file", "-", "HIPPS parameters as JSON (- for stdin)")
	return cmd
}

func runHIPPS(engine *pdgm.Engine, in io.Reader, out io.Writer) error {
	var p pdgm.HIPPSParams
	if err := json.NewDecoder(in).Decode(&p); err != nil {
		return fmt.Errorf("decode parameters: %w", err)
	}
	res, err := engine.CalculateHIPPS(p)
	if err != nil {
		return err
	}
	return writeJSON(out, res)
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an extraction against its source document and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			textFile, _ := cmd.Flags().GetString("text")
			analysisFile, _ := cmd.Flags().GetString("analysis")
			source, _ := cmd.Flags().GetString("source")
			timing, _ := cmd.Flags().GetString("timing")
			if textFile == "" || analysisFile == "" {
				return fmt.Errorf("--text and --analysis are required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			text, err := os.ReadFile(textFile)
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			raw, err := os.ReadFile(analysisFile)
			if err != nil {
				return fmt.Errorf("read analysis: %w", err)
			}

			logger := newLogger(os.Stderr, cfg.IsDev())
			return runValidate(cmd.Context(), engine, logger, string(text), raw, source, timing, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("text", "", "Source document text file")
	cmd.Flags().String("analysis", "", "Extraction JSON file")
	cmd.Flags().String("source", string(pdgm.AdmissionCommunity), "Admission source (community or institutional)")
	cmd.Flags().String("timing", string(pdgm.TimingEarly), "Period timing (early or late)")
	return cmd
}

// runValidate runs the validation pipeline without storage or extraction.
func runValidate(ctx context.Context, engine *pdgm.Engine, logger zerolog.Logger, text string, analysisJSON []byte, source, timing string, out io.Writer) error {
	var a oasis.Analysis
	if err := json.Unmarshal(analysisJSON, &a); err != nil {
		return fmt.Errorf("decode analysis: %w", err)
	}
	svc := oasis.NewService(nil, pdgm.NewService(engine, nil, logger), logger)
	rep, err := svc.Validate(ctx, &oasis.ValidateRequest{
		DocumentText: text,
		Analysis:     &a,
		Period: oasis.Period{
			AdmissionSource: pdgm.AdmissionSource(source),
			Timing:          pdgm.Timing(timing),
		},
	})
	if err != nil {
		return err
	}
	return writeJSON(out, rep)
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored calculations to a Parquet file",
		RunE: func(cmd *cobra.Command, args []string) error {
			outPath, _ := cmd.Flags().GetString("out")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(os.Stderr, cfg.IsDev())

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := pdgm.NewService(pdgm.NewEngine(nil, cfg.PDGMBaseRate), pdgm.NewCalculationRepoPG(pool), logger)
			w, err := export.CreateCalculationWriter(outPath, version)
			if err != nil {
				return err
			}
			if err := export.Calculations(ctx, svc.EachCalculation, w); err != nil {
				w.Close()
				return err
			}
			if err := w.Close(); err != nil {
				return err
			}
			logger.Info().Int("rows", w.Count()).Str("path", outPath).Msg("export complete")
			return nil
		},
	}
	cmd.Flags().String("out", "calculations.parquet", "Output Parquet file")
	return cmd
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
