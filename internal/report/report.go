// Package report aggregates the instructions kept by the slicer across
// every assertion reached during a test run into file, package, and
// project-wide instruction and line coverage summaries, and writes
// those summaries as plain text, CSV, HTML, or a Cobertura-compatible
// XML document.
package report

import (
	"path/filepath"
	"sort"

	"checkedcov/internal/bytecode"
	"checkedcov/internal/codeobject"

	"golang.org/x/exp/maps"
)

// LineCoverage tracks how many of the instructions mapped to one
// source line were kept in some assertion's dynamic slice.
type LineCoverage struct {
	Line    int
	Total   int
	Covered int
}

// Status classifies a line the way a Cobertura viewer would: a line
// with no instructions covered is a miss, one with every instruction
// covered is full, anything in between is partial.
func (l LineCoverage) Status() string {
	switch {
	case l.Total == 0 || l.Covered == 0:
		return "miss"
	case l.Covered == l.Total:
		return "full"
	default:
		return "partial"
	}
}

// FileCoverage is one source file's instruction and line coverage.
type FileCoverage struct {
	Path                string
	Instructions        int
	CoveredInstructions int
	Lines               map[int]*LineCoverage
}

// InstructionRate returns the fraction of f's instructions that were
// covered, or 0 if f has none.
func (f *FileCoverage) InstructionRate() float64 {
	return rate(f.CoveredInstructions, f.Instructions)
}

// SortedLines returns f's line numbers in ascending order.
func (f *FileCoverage) SortedLines() []int {
	lines := maps.Keys(f.Lines)
	sort.Ints(lines)
	return lines
}

// PackageCoverage groups FileCoverage by the directory a source file
// lives in, Go's nearest analogue to a Python package.
type PackageCoverage struct {
	Name                string
	Files               map[string]*FileCoverage
	Instructions        int
	CoveredInstructions int
}

func (p *PackageCoverage) InstructionRate() float64 {
	return rate(p.CoveredInstructions, p.Instructions)
}

// SortedFiles returns p's file paths in lexical order.
func (p *PackageCoverage) SortedFiles() []string {
	names := maps.Keys(p.Files)
	sort.Strings(names)
	return names
}

// ProjectCoverage is the complete coverage result for one run.
type ProjectCoverage struct {
	Packages            map[string]*PackageCoverage
	Instructions        int
	CoveredInstructions int
}

func (p *ProjectCoverage) InstructionRate() float64 {
	return rate(p.CoveredInstructions, p.Instructions)
}

// SortedPackages returns p's package names in lexical order.
func (p *ProjectCoverage) SortedPackages() []string {
	names := maps.Keys(p.Packages)
	sort.Strings(names)
	return names
}

func rate(covered, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(covered) / float64(total)
}

// Calculator computes coverage summaries from a code object registry
// (the full static instruction universe) and the instructions kept by
// one or more dynamic slices (the covered subset).
type Calculator struct {
	registry *codeobject.Registry
}

// NewCalculator returns a Calculator over reg's registered procedures.
func NewCalculator(reg *codeobject.Registry) *Calculator {
	return &Calculator{registry: reg}
}

// Calculate walks every registered procedure's disassembly, classifies
// each instruction as covered if its Key appears in covered, and
// returns the resulting per-file, per-package, and project-wide
// summary. Instructions are deduplicated by bytecode.Key, since the
// same static instruction can be named by more than one DynamicSlice
// when several assertions share it in their backward walk.
func (c *Calculator) Calculate(covered []bytecode.UniqueInstruction) *ProjectCoverage {
	coveredSet := make(map[bytecode.Key]bool, len(covered))
	for _, inst := range covered {
		coveredSet[inst.Key()] = true
	}

	proj := &ProjectCoverage{Packages: make(map[string]*PackageCoverage)}
	seen := make(map[bytecode.Key]bool)

	for i := 0; i < c.registry.Len(); i++ {
		meta := c.registry.Get(codeobject.ID(i))
		for _, inst := range meta.Disassembly {
			key := inst.Key()
			if seen[key] {
				continue
			}
			seen[key] = true

			file := c.fileCoverage(proj, inst.File)
			isCovered := coveredSet[key]

			file.Instructions++
			proj.Instructions++
			pkg := proj.Packages[packageName(inst.File)]
			pkg.Instructions++

			line := file.Lines[inst.Line]
			if line == nil {
				line = &LineCoverage{Line: inst.Line}
				file.Lines[inst.Line] = line
			}
			line.Total++

			if isCovered {
				file.CoveredInstructions++
				proj.CoveredInstructions++
				pkg.CoveredInstructions++
				line.Covered++
			}
		}
	}
	return proj
}

func (c *Calculator) fileCoverage(proj *ProjectCoverage, path string) *FileCoverage {
	name := packageName(path)
	pkg := proj.Packages[name]
	if pkg == nil {
		pkg = &PackageCoverage{Name: name, Files: make(map[string]*FileCoverage)}
		proj.Packages[name] = pkg
	}
	file := pkg.Files[path]
	if file == nil {
		file = &FileCoverage{Path: path, Lines: make(map[int]*LineCoverage)}
		pkg.Files[path] = file
	}
	return file
}

func packageName(path string) string {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return "(root)"
	}
	return dir
}
