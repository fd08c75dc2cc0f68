package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/cellfit/internal/dataset"
	"github.com/copyleftdev/cellfit/internal/manifest"
	"github.com/copyleftdev/cellfit/internal/optimization"
	"github.com/copyleftdev/cellfit/internal/server"
)

type fitOptions struct {
	manifestPath string
	dataPath     string
	outPath      string
	workers      int
	seed         int64
	verbose      bool
}

func newFitCmd(a *app) *cobra.Command {
	o := &fitOptions{}
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit the manifest's parameters to a CSV dataset",
		Long: `Loads a run manifest and a CSV dataset, runs the optimiser and writes the
result as JSON. An interrupted fit still writes its best result so far.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFit(cmd, a, o)
		},
	}
	cmd.Flags().StringVar(&o.manifestPath, "manifest", "", "Run manifest, YAML or JSON (required)")
	cmd.Flags().StringVar(&o.dataPath, "data", "", "Dataset CSV with a \"Time [s]\" column (required)")
	cmd.Flags().StringVar(&o.outPath, "out", "", "Result JSON path (default stdout)")
	cmd.Flags().IntVar(&o.workers, "workers", 1, "Concurrent cost evaluations, 0 for GOMAXPROCS")
	cmd.Flags().Int64Var(&o.seed, "seed", 0, "Random seed, overrides the manifest when set")
	cmd.Flags().BoolVar(&o.verbose, "verbose", false, "Log every iteration at info level")

	_ = cmd.MarkFlagRequired("manifest")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func runFit(cmd *cobra.Command, a *app, o *fitOptions) error {
	m, err := manifest.Load(o.manifestPath)
	if err != nil {
		return err
	}
	data, err := dataset.Load(o.dataPath)
	if err != nil {
		return err
	}

	defaults := optimization.DefaultConfig()
	run, err := m.Build(data, defaults, a.zap)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("seed") {
		run.Config.Seed = o.seed
	}
	run.Config.Verbose = run.Config.Verbose || o.verbose
	if o.workers != 1 {
		run.Config.Pool = optimization.NewPool(o.workers)
	}

	opt, err := optimization.New(run.Cost, run.Optimiser, run.Config,
		optimization.WithLogger(a.zap),
		optimization.WithName(run.Name),
	)
	if err != nil {
		return err
	}

	a.logger.Info("Fitting", map[string]interface{}{
		"manifest":   o.manifestPath,
		"optimiser":  run.Optimiser.Name(),
		"parameters": run.Problem.Parameters().Names(),
		"samples":    data.Len(),
	})
	result, runErr := opt.Run(cmd.Context())
	var failed *optimization.RunError
	if errors.As(runErr, &failed) {
		result = failed.Result
	} else if runErr != nil {
		return runErr
	}

	if err := writeResult(cmd, o.outPath, result); err != nil {
		return err
	}
	return runErr
}

func writeResult(cmd *cobra.Command, path string, result *optimization.Result) error {
	var w io.Writer = cmd.OutOrStdout()
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create result: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(server.NewResultView(result))
}
