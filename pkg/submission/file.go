package submission

import (
	"fmt"
	"strings"
)

// Defaults applied to omitted submissions-file fields.
const (
	DefaultRunCount     = 1
	DefaultPassingTests = "compress"
)

// File is the parsed form of a submissions file.
//
//	project:
//	  name: regress
//	  output_directory: ./out
//	  run_count: 2
//	  fails_threshold: 10
//	  units:
//	    - name: alu
//	      run_script: ./run.sh
//	      files: "tests/alu/*.s"
//	      options: "--seed 7"
//	      passing_tests: compress
type File struct {
	Version string  `json:"version,omitempty" yaml:"version,omitempty"`
	Project Project `json:"project" yaml:"project"`
}

// Project groups units that share an output directory and fail threshold.
type Project struct {
	Name            string `json:"name" yaml:"name"`
	OutputDirectory string `json:"output_directory" yaml:"output_directory"`

	// RunCount multiplies every unit's run count.
	RunCount int `json:"run_count,omitempty" yaml:"run_count,omitempty"`

	// FailsThreshold applies to every unit; nil means unlimited.
	FailsThreshold *int `json:"fails_threshold,omitempty" yaml:"fails_threshold,omitempty"`

	Units []Unit `json:"units" yaml:"units"`
}

// Unit is one run script plus the files it runs against.
type Unit struct {
	Name         string `json:"name" yaml:"name"`
	RunScript    string `json:"run_script" yaml:"run_script"`
	Files        string `json:"files,omitempty" yaml:"files,omitempty"`
	RunCount     int    `json:"run_count,omitempty" yaml:"run_count,omitempty"`
	Options      string `json:"options,omitempty" yaml:"options,omitempty"`
	PassingTests string `json:"passing_tests,omitempty" yaml:"passing_tests,omitempty"`
}

// ApplyDefaults fills omitted run counts and dispositions.
func (f *File) ApplyDefaults() {
	if f.Project.RunCount == 0 {
		f.Project.RunCount = DefaultRunCount
	}
	for i := range f.Project.Units {
		u := &f.Project.Units[i]
		if u.RunCount == 0 {
			u.RunCount = DefaultRunCount
		}
		if strings.TrimSpace(u.PassingTests) == "" {
			u.PassingTests = DefaultPassingTests
		}
	}
}

// Submissions converts every unit into a Submission.
//
// A unit's effective run count is the project run count times its own, and
// each unit carries the project fail threshold.
func (f *File) Submissions() ([]Submission, error) {
	threshold := UnlimitedFails
	if f.Project.FailsThreshold != nil {
		threshold = *f.Project.FailsThreshold
	}
	projectRuns := f.Project.RunCount
	if projectRuns == 0 {
		projectRuns = DefaultRunCount
	}

	subs := make([]Submission, 0, len(f.Project.Units))
	for i, u := range f.Project.Units {
		if strings.TrimSpace(u.Name) == "" {
			return nil, &ConfigError{Field: fmt.Sprintf("project.units[%d].name", i), Message: "unit name is required"}
		}
		if strings.TrimSpace(u.RunScript) == "" {
			return nil, &ConfigError{Field: fmt.Sprintf("project.units[%d].run_script", i), Message: "run script is required for unit " + u.Name}
		}

		disp, err := ParseDisposition(u.PassingTests)
		if err != nil {
			return nil, err
		}

		unitRuns := u.RunCount
		if unitRuns == 0 {
			unitRuns = DefaultRunCount
		}

		s := Submission{
			OutputDirectory: f.Project.OutputDirectory,
			Project:         f.Project.Name,
			Unit:            u.Name,
			RunScript:       u.RunScript,
			Files:           u.Files,
			Options:         u.Options,
			RunCount:        projectRuns * unitRuns,
			Disposition:     disp,
			FailThreshold:   threshold,
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, nil
}
