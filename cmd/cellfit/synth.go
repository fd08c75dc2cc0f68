package main

import (
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/cellfit/internal/manifest"
)

func newSynthCmd(a *app) *cobra.Command {
	var (
		manifestPath string
		outPath      string
		noise        float64
		seed         int64
	)
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Generate a noisy synthetic dataset from a manifest",
		Long: `Simulates the manifest's model with the true parameter values of its synth
section and writes the fitted signals, plus Gaussian noise, as CSV.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(manifestPath)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("noise") {
				noise = -1
			}
			data, err := m.Synthesise(cmd.Context(), noise, rand.New(rand.NewSource(seed)))
			if err != nil {
				return err
			}
			if err := data.Save(outPath); err != nil {
				return err
			}
			a.logger.Info("Wrote synthetic data", map[string]interface{}{
				"path":    outPath,
				"samples": data.Len(),
				"signals": data.Names(),
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Run manifest with a synth section (required)")
	cmd.Flags().StringVar(&outPath, "out", "", "Output CSV path (required)")
	cmd.Flags().Float64Var(&noise, "noise", 0, "Noise standard deviation, overrides the manifest")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Noise seed")

	_ = cmd.MarkFlagRequired("manifest")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
