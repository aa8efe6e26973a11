// Command checkedcov measures checked coverage for a Go module: an
// instruction is covered only if it lies in the dynamic backward
// slice of some assertion reached while running the module's tests.
//
// checkedcov does not instrument or execute the target program itself
// to produce a trace — that is an external collaborator's job, the
// same boundary pyChecco draws between its instrumentation layer and
// its slicer. Point -session at a pre-recorded trace/registry
// document (internal/session) and checkedcov drives test discovery,
// test execution, slicing, and reporting from there.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"checkedcov/internal/assertsite"
	"checkedcov/internal/bytecode"
	"checkedcov/internal/codeobject"
	"checkedcov/internal/config"
	"checkedcov/internal/discover"
	"checkedcov/internal/graph"
	"checkedcov/internal/report"
	"checkedcov/internal/runner"
	"checkedcov/internal/session"
	"checkedcov/internal/slicer"

	shellwords "github.com/kballard/go-shellquote"
	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/packages"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *config.Config) error {
	if cfg.Session == "" {
		return fmt.Errorf("%w: -session is required; checkedcov slices a pre-recorded trace, it does not instrument the target itself", slicer.ErrConfiguration)
	}
	sess, err := session.Load(cfg.Session)
	if err != nil {
		return err
	}

	if cfg.DumpDot != "" {
		return dumpDot(sess.Registry, cfg.DumpDot)
	}

	if cfg.Debug {
		logAssertionSites(cfg.Path, cfg.Pattern, cfg.CustomAssertions)
	}

	tests, err := discover.Load(cfg.Path, cfg.Pattern)
	if err != nil {
		return err
	}

	jobs, err := runAndCollectJobs(cfg, sess, tests)
	if err != nil {
		return err
	}

	ctx := context.Background()
	results, err := slicer.SliceAll(ctx, jobs, cfg.MaxSliceTime, cfg.MaxParallelSlices)
	if err != nil {
		return err
	}

	var covered []bytecode.UniqueInstruction
	for _, ds := range results {
		for _, inst := range ds.Instructions {
			covered = append(covered, *inst)
		}
	}

	calc := report.NewCalculator(sess.Registry)
	proj := calc.Calculate(covered)
	return writeReports(cfg, proj)
}

// runAndCollectJobs executes every discovered test, then turns each
// traced assertion from a passing test's recorded trace into a
// slicing Job. Tests with no recorded trace (not present in the
// session) or that failed/timed out are skipped: only assertions
// actually reached during execution get sliced.
func runAndCollectJobs(cfg *config.Config, sess *session.Session, tests []discover.Test) ([]slicer.Job, error) {
	extraArgs, err := shellwords.Split(cfg.TestArgs)
	if err != nil {
		return nil, fmt.Errorf("%w: -test-args: %v", slicer.ErrConfiguration, err)
	}

	progress := runner.NewProgress()
	defer progress.Stop()

	r := runner.New(cfg.Path, cfg.MaxTestTime)
	ctx := context.Background()

	var jobs []slicer.Job
	for i, test := range tests {
		progress.Report(test.Name, float64(i)/float64(len(tests)))

		res := r.Run(ctx, test.Package, test.Name, extraArgs...)
		if res.Err != nil || res.TimedOut {
			log.Printf("%s: not slicing (err=%v timedOut=%v)", res.Test, res.Err, res.TimedOut)
			continue
		}

		tr, ok := sess.Traces[test.Name]
		if !ok {
			continue
		}
		for _, ta := range tr.TracedAssertions {
			call := ta.CallEvent
			instr, ok := sess.Registry.FindInstruction(call.CodeObjectID, call.Opcode, call.NodeID, call.Offset)
			if !ok {
				log.Printf("%s: assertion at %s:%d has no matching static instruction", test.Name, call.File, call.Line)
				continue
			}
			jobs = append(jobs, slicer.Job{
				Registry:      sess.Registry,
				Trace:         tr,
				OriginName:    test.Name,
				Criterion:     slicer.SlicingCriterion{Instr: instr},
				TracePosition: ta.EndPos,
			})
		}
	}
	return jobs, nil
}

func writeReports(cfg *config.Config, proj *report.ProjectCoverage) error {
	if err := os.MkdirAll(cfg.Output, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	writers := []struct {
		enabled bool
		name    string
		write   func(*os.File) error
	}{
		{cfg.Text, "coverage.txt", func(f *os.File) error { return report.WriteText(f, proj) }},
		{cfg.CSV, "coverage.csv", func(f *os.File) error { return report.WriteCSV(f, proj) }},
		{cfg.HTML, "coverage.html", func(f *os.File) error { return report.WriteHTML(f, "checkedcov report", proj) }},
		{cfg.LineCoverage, "coverage.xml", func(f *os.File) error { return report.WriteCobertura(f, proj) }},
	}
	for _, w := range writers {
		if !w.enabled {
			continue
		}
		path := filepath.Join(cfg.Output, w.name)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		err = w.write(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}

// dumpDot renders a registered procedure's CFG and CDG as Graphviz DOT
// to stdout. name is either a code object's registration index or its
// filename.
func dumpDot(reg *codeobject.Registry, name string) error {
	id, err := strconv.Atoi(name)
	if err != nil {
		id = -1
		for i := 0; i < reg.Len(); i++ {
			if reg.Get(codeobject.ID(i)).Filename == name {
				id = i
				break
			}
		}
		if id == -1 {
			return fmt.Errorf("%w: no registered code object matches %q", slicer.ErrConfiguration, name)
		}
	}
	if id < 0 || id >= reg.Len() {
		return fmt.Errorf("%w: code object id %d out of range", slicer.ErrConfiguration, id)
	}

	meta := reg.Get(codeobject.ID(id))
	fmt.Println("// CFG")
	if err := (graph.Dot{Name: "cfg"}).Fprint(meta.CFG, os.Stdout); err != nil {
		return err
	}
	fmt.Println("// CDG")
	return (graph.Dot{Name: "cdg"}).Fprint(meta.CDG, os.Stdout)
}

// logAssertionSites is a -debug diagnostic: it runs the assertion-site
// detector over the target module's test files and logs how many
// candidate assertion calls each file contains, independent of
// whether any of them were actually reached by the recorded trace.
func logAssertionSites(path, pattern string, custom []string) {
	loadCfg := &packages.Config{
		Dir:   path,
		Mode:  packages.NeedName | packages.NeedFiles | packages.NeedSyntax,
		Tests: true,
	}
	pkgs, err := packages.Load(loadCfg, pattern)
	if err != nil {
		log.Printf("assertsite: loading packages: %v", err)
		return
	}

	analyzer := assertsite.WithCustomAssertions(custom)
	for _, pkg := range pkgs {
		pass := &analysis.Pass{Fset: pkg.Fset, Files: pkg.Syntax}
		resI, err := analyzer.Run(pass)
		if err != nil {
			log.Printf("assertsite: %s: %v", pkg.PkgPath, err)
			continue
		}
		for f, sites := range resI.(assertsite.Result) {
			if len(sites) > 0 {
				log.Printf("%s: %d assertion site(s)", pkg.Fset.Position(f.Pos()).Filename, len(sites))
			}
		}
	}
}
