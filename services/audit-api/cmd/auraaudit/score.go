package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"auraaudit/pkg/scoring"
)

type scoreOutput struct {
	Counts scoring.Counts `json:"counts"`
	Score  scoring.Score  `json:"score"`
}

func newScoreCmd() *cobra.Command {
	var c scoring.Counts
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute a reputation score from severity counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.Critical < 0 || c.High < 0 || c.Medium < 0 || c.Low < 0 {
				return exitError(2, "counts must be non-negative")
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(scoreOutput{Counts: c, Score: scoring.Compute(c)})
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&c.Critical, "critical", 0, "Number of critical findings")
	flags.IntVar(&c.High, "high", 0, "Number of high findings")
	flags.IntVar(&c.Medium, "medium", 0, "Number of medium findings")
	flags.IntVar(&c.Low, "low", 0, "Number of low findings")
	return cmd
}
