package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/cellfit/internal/cost"
	"github.com/copyleftdev/cellfit/internal/model"
	"github.com/copyleftdev/cellfit/internal/optimization/backends"
)

func newOptimisersCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "optimisers",
		Short: "List the available optimisers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !all {
				for _, name := range backends.Available() {
					fmt.Fprintln(out, name)
				}
				return nil
			}
			fmt.Fprintln(out, "optimisers:")
			for _, name := range backends.Available() {
				fmt.Fprintf(out, "  %s\n", name)
			}
			fmt.Fprintln(out, "costs:")
			for _, kind := range cost.Kinds() {
				fmt.Fprintf(out, "  %s\n", kind)
			}
			fmt.Fprintln(out, "models:")
			for _, name := range model.Available() {
				fmt.Fprintf(out, "  %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Also list cost functions and models")
	return cmd
}
