package engine

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mattn/go-shellwords"
	"go.uber.org/zap"

	"github.com/3leaps/verifarm/pkg/submission"
)

// ExpanderConfig configures an Expander.
type ExpanderConfig struct {
	// StartedAt names the timestamp directory shared by every unit of the
	// batch. Zero means time.Now().
	StartedAt time.Time

	Logger *zap.Logger
}

// Expander turns submissions into queued jobs.
//
// All submissions of a batch must be expanded before the Coordinator runs.
type Expander struct {
	batch  *Batch
	stamp  string
	logger *zap.Logger
}

// NewExpander creates an expander that feeds batch.
func NewExpander(batch *Batch, cfg ExpanderConfig) *Expander {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Expander{
		batch:  batch,
		stamp:  DirTimestamp(cfg.StartedAt),
		logger: cfg.Logger,
	}
}

// Timestamp is the directory name shared by every unit of this batch.
func (e *Expander) Timestamp() string {
	return e.stamp
}

// Plan describes what Expand would queue for a submission.
type Plan struct {
	ProjectDir  string
	UnitDir     string
	RunScript   string
	Argv        []string
	Files       []string
	RunCount    int
	Jobs        int
	Disposition submission.Disposition
	Threshold   int
}

// Plan resolves a submission without creating directories or queuing jobs.
func (e *Expander) Plan(sub submission.Submission) (*Plan, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	projectDir, unitDir, err := e.dirs(sub)
	if err != nil {
		return nil, err
	}

	script, err := resolveExecutable(sub.RunScript)
	if err != nil {
		return nil, err
	}

	opts, err := splitOptions(sub.Options)
	if err != nil {
		return nil, err
	}

	files, err := expandFiles(sub.Files)
	if err != nil {
		return nil, err
	}

	return &Plan{
		ProjectDir:  projectDir,
		UnitDir:     unitDir,
		RunScript:   script,
		Argv:        append([]string{script}, opts...),
		Files:       files,
		RunCount:    sub.RunCount,
		Jobs:        sub.RunCount * len(files),
		Disposition: sub.Disposition,
		Threshold:   sub.FailThreshold,
	}, nil
}

// Expand queues runCount × |files| jobs for sub and folds its fail
// threshold into the batch. It returns the number of jobs queued.
//
// A run script that cannot be resolved fails with *PathResolutionError
// before any job is queued. The unit directory is created first, so it may
// exist even then.
func (e *Expander) Expand(sub submission.Submission) (int, error) {
	if err := sub.Validate(); err != nil {
		return 0, err
	}

	projectDir, unitDir, err := e.dirs(sub)
	if err != nil {
		return 0, err
	}
	if err := ensureDir(unitDir); err != nil {
		return 0, err
	}

	script, err := resolveExecutable(sub.RunScript)
	if err != nil {
		return 0, err
	}

	opts, err := splitOptions(sub.Options)
	if err != nil {
		return 0, err
	}

	files, err := expandFiles(sub.Files)
	if err != nil {
		return 0, err
	}

	e.batch.setProjectDir(projectDir)

	seq := 0
	for range sub.RunCount {
		for _, file := range files {
			argv := make([]string, 0, len(opts)+2)
			argv = append(argv, script)
			argv = append(argv, opts...)
			if file != "" {
				argv = append(argv, file)
			}

			e.batch.enqueue(&Job{
				UnitDir:     unitDir,
				Name:        RunDirName(seq),
				CommandLine: commandLine(script, sub.Options, file),
				Argv:        argv,
				Seq:         seq,
				Disposition: sub.Disposition,
				ExitCode:    ExitCodeUnset,
			})
			seq++
		}
	}

	e.batch.tightenThreshold(sub.FailThreshold)

	e.logger.Debug("Expanded submission",
		zap.String("project", sub.Project),
		zap.String("unit", sub.Unit),
		zap.String("unit_dir", unitDir),
		zap.Int("files", len(files)),
		zap.Int("run_count", sub.RunCount),
		zap.Int("jobs", seq),
		zap.String("passing_tests", sub.Disposition.String()))

	return seq, nil
}

// dirs returns the absolute project and unit directories for sub.
func (e *Expander) dirs(sub submission.Submission) (string, string, error) {
	out, err := expandHome(strings.TrimSpace(sub.OutputDirectory))
	if err != nil {
		return "", "", err
	}
	out, err = filepath.Abs(out)
	if err != nil {
		return "", "", fmt.Errorf("resolve output directory: %w", err)
	}
	projectDir := filepath.Join(out, sub.Project)
	return projectDir, filepath.Join(projectDir, sub.Unit, e.stamp), nil
}

// expandFiles globs pattern into absolute paths. An empty pattern, or one
// with no matches, yields a single empty placeholder.
func expandFiles(pattern string) ([]string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return []string{""}, nil
	}

	expanded, err := expandHome(pattern)
	if err != nil {
		return nil, err
	}

	matches, err := doublestar.FilepathGlob(expanded)
	if err != nil {
		return nil, &submission.ConfigError{Field: "files", Message: fmt.Sprintf("invalid pattern %q: %v", pattern, err)}
	}
	if len(matches) == 0 {
		return []string{""}, nil
	}

	files := make([]string, 0, len(matches))
	for _, m := range matches {
		abs, err := filepath.Abs(m)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", m, err)
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
		files = append(files, abs)
	}
	sort.Strings(files)
	return files, nil
}

func splitOptions(options string) ([]string, error) {
	if strings.TrimSpace(options) == "" {
		return nil, nil
	}
	args, err := shellwords.Parse(options)
	if err != nil {
		return nil, &submission.ConfigError{Field: "options", Message: fmt.Sprintf("cannot split %q: %v", options, err)}
	}
	return args, nil
}

func commandLine(script, options, file string) string {
	parts := []string{script}
	if o := strings.TrimSpace(options); o != "" {
		parts = append(parts, o)
	}
	if file != "" {
		parts = append(parts, file)
	}
	return strings.Join(parts, " ")
}
