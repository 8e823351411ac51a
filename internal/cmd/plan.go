package cmd

import (
	"github.com/spf13/cobra"

	"github.com/3leaps/verifarm/internal/console"
)

func newPlanCmd() *cobra.Command {
	flags := &submissionFlags{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show how submissions would expand, without running anything",
		Long: `Resolve every submission the way run would (run script, file glob, run
count, disposition and fail threshold) and print the job counts. Nothing is
created on disk.

Examples:
  verifarm plan -O ./out -P regress -U alu -R ./run.sh -F 'tests/*.cfg' -N 3
  verifarm plan -S submissions.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			subs, err := flags.submissions(cmd)
			if err != nil {
				return err
			}
			return showPlans(console.New(cmd.OutOrStdout(), false), subs)
		},
	}
	flags.bind(cmd)
	return cmd
}
