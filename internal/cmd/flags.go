package cmd

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/verifarm/pkg/submission"
)

// singleFlags are the flags that describe one submission on the command
// line. They are ignored when a submissions file is given.
var singleFlags = []string{"output-dir", "project", "unit", "run-script", "files", "options", "run-count", "compress-passes", "clobber-passes"}

// submissionFlags holds the flags shared by run and plan.
type submissionFlags struct {
	outputDir       string
	project         string
	unit            string
	runScript       string
	files           string
	options         string
	runCount        int
	threads         int
	compress        bool
	clobber         bool
	fails           int
	submissionsFile string
}

func (f *submissionFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.outputDir, "output-dir", "O", "", "Main output directory")
	fs.StringVarP(&f.project, "project", "P", "", "Project name")
	fs.StringVarP(&f.unit, "unit", "U", "", "Unit name")
	fs.StringVarP(&f.runScript, "run-script", "R", "", "Script or program to run for each job")
	fs.StringVarP(&f.files, "files", "F", "", "Glob of input files; each match is passed as the script's last argument")
	fs.StringVarP(&f.options, "options", "L", "", "Extra run-script options, placed before the input file")
	fs.IntVarP(&f.runCount, "run-count", "N", submission.DefaultRunCount, "Number of runs per input file")
	fs.IntVarP(&f.threads, "threads", "T", 0, "Number of workers (default: hardware thread count)")
	fs.BoolVarP(&f.compress, "compress-passes", "Z", false, "Compress passing run directories to .tar.gz")
	fs.BoolVarP(&f.clobber, "clobber-passes", "K", false, "Remove passing run directories")
	fs.IntVarP(&f.fails, "fails", "X", submission.UnlimitedFails, "Halt once more than this many jobs fail (-1: unlimited)")
	fs.StringVarP(&f.submissionsFile, "submissions", "S", "", "Submissions file (YAML or JSON); replaces the single-submission flags")
}

// workers resolves the pool size. An explicit --threads must be positive;
// otherwise the configured value is used, and zero means the hardware count.
func (f *submissionFlags) workers(cmd *cobra.Command, configured int) (int, error) {
	if cmd.Flags().Changed("threads") {
		switch {
		case f.threads == 0:
			return 0, exitError(foundry.ExitInvalidArgument, "Invalid --threads value", errors.New("thread count specified is zero"))
		case f.threads < 0:
			return 0, exitError(foundry.ExitInvalidArgument, "Invalid --threads value", fmt.Errorf("thread count must be positive, got %d", f.threads))
		}
		return f.threads, nil
	}
	if configured > 0 {
		return configured, nil
	}
	return runtime.NumCPU(), nil
}

// submissions builds the submissions to expand, from the file when one is
// given and from the single-submission flags otherwise.
func (f *submissionFlags) submissions(cmd *cobra.Command) ([]submission.Submission, error) {
	var subs []submission.Submission

	if f.submissionsFile != "" {
		for _, name := range singleFlags {
			if cmd.Flags().Changed(name) {
				return nil, exitError(foundry.ExitInvalidArgument, "Conflicting flags",
					fmt.Errorf("--%s cannot be combined with --submissions", name))
			}
		}

		file, err := submission.Load(f.submissionsFile)
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid submissions file", err)
		}
		subs, err = file.Submissions()
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid submissions file", err)
		}
		if len(subs) == 0 {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid submissions file", errors.New("no jobs were submitted"))
		}
	} else {
		disp, err := submission.DispositionFromFlags(f.compress, f.clobber)
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid disposition flags", err)
		}
		s := submission.New(f.outputDir, f.project, f.unit, f.runScript)
		s.Files = f.files
		s.Options = f.options
		s.RunCount = f.runCount
		s.Disposition = disp
		s.FailThreshold = f.fails
		subs = []submission.Submission{s}
	}

	if cmd.Flags().Changed("fails") {
		for i := range subs {
			subs[i].FailThreshold = f.fails
		}
	}

	for _, s := range subs {
		if err := s.Validate(); err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid submission", err)
		}
	}
	return subs, nil
}
