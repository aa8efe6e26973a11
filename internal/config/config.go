// Package config parses and validates checkedcov's command-line
// configuration: where the code lives, which tests to run, how long
// to let a test or a slice run before giving up, and which reports to
// produce.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"checkedcov/internal/slicer"
)

// Config is the fully parsed, validated configuration for one run.
type Config struct {
	Path    string // module directory to discover and run tests in
	Output  string // report output directory
	Session string // path to a pre-recorded trace/registry session

	Debug   bool
	DumpDot string // code object name to render as Graphviz DOT, if any

	MaxTestTime       time.Duration
	MaxSliceTime      time.Duration
	MaxParallelSlices int

	Pattern          string
	CustomAssertions []string
	TestArgs         string

	InstructionCoverage bool
	LineCoverage        bool
	Text                bool
	CSV                 bool
	HTML                bool
}

// Parse parses args (excluding the program name, as with flag.Parse)
// into a validated Config. A misuse of the flags — a missing -path, or
// -html requested without -line — returns an error wrapping
// slicer.ErrConfiguration, the Go analogue of pyChecco's cli.py
// ValueError path.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("checkedcov", flag.ContinueOnError)

	cfg := &Config{}
	fs.StringVar(&cfg.Path, "path", "", "module directory to discover and run tests in (required)")
	fs.StringVar(&cfg.Output, "output", ".", "report output directory")
	fs.StringVar(&cfg.Session, "session", "", "path to a pre-recorded trace/registry session file")
	fs.BoolVar(&cfg.Debug, "debug", false, "enable verbose diagnostic logging")
	fs.StringVar(&cfg.DumpDot, "dump-dot", "", "render the named code object's CFG/CDG as Graphviz DOT and exit")
	fs.DurationVar(&cfg.MaxTestTime, "max-test-time", 30*time.Second, "per-test execution timeout")
	fs.DurationVar(&cfg.MaxSliceTime, "max-slice-time", 10*time.Second, "per-assertion slicing timeout")
	fs.IntVar(&cfg.MaxParallelSlices, "max-parallel-slices", 0, "maximum concurrent slices (0 = GOMAXPROCS)")
	fs.StringVar(&cfg.Pattern, "pattern", "./...", "package pattern to discover tests in")
	var customAssertions string
	fs.StringVar(&customAssertions, "custom-assertions", "", "comma-separated extra assertion function names")
	fs.StringVar(&cfg.TestArgs, "test-args", "", "extra arguments passed through to each test binary, shell-quoted")
	fs.BoolVar(&cfg.InstructionCoverage, "instruction", true, "compute instruction coverage")
	fs.BoolVar(&cfg.LineCoverage, "line", true, "compute line coverage")
	fs.BoolVar(&cfg.Text, "text", true, "write a text report")
	fs.BoolVar(&cfg.CSV, "csv", false, "write a CSV report")
	fs.BoolVar(&cfg.HTML, "html", false, "write an HTML report")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.CustomAssertions = splitTrimmed(customAssertions)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: -path is required", slicer.ErrConfiguration)
	}
	if c.HTML && !c.LineCoverage {
		return fmt.Errorf("%w: -html requires -line", slicer.ErrConfiguration)
	}
	if c.MaxTestTime <= 0 {
		return fmt.Errorf("%w: -max-test-time must be positive", slicer.ErrConfiguration)
	}
	if c.MaxSliceTime <= 0 {
		return fmt.Errorf("%w: -max-slice-time must be positive", slicer.ErrConfiguration)
	}
	return nil
}

func splitTrimmed(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
