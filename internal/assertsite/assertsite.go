// Package assertsite locates assertion call sites in Go test source,
// the slicing criteria a coverage run is measured against. It runs
// standalone rather than through go/analysis's singlechecker, since
// the result is consumed programmatically by the rest of this module
// instead of being printed as a diagnostic.
package assertsite

import (
	"go/ast"
	"reflect"
	"strings"

	"golang.org/x/tools/go/analysis"
)

// Analyzer collects assertion call sites from test files: calls whose
// function or method name starts with Error, Fatal or Skip (the
// receiver's type is not checked), and calls into a package named
// "assert" or "require" (testify's convention). WithCustomAssertions
// adds caller-supplied custom assertion function names.
var Analyzer = &analysis.Analyzer{
	Name:       "assertsite",
	Doc:        "collect assertion call sites in _test.go files",
	Run:        run,
	ResultType: reflect.TypeOf(Result(nil)),
}

// Site is one recognized assertion call.
type Site struct {
	Call     *ast.CallExpr
	FuncName string
	Line     int
}

// Result maps each test file to the assertion sites found in it.
type Result map[*ast.File][]Site

var builtinMethodPrefixes = []string{"Error", "Fatal", "Skip"}

// WithCustomAssertions returns an Analyzer that also recognizes the given identifier names (the "--custom-assertions"
// analogue), for callers that need more than the builtin heuristic.
func WithCustomAssertions(names []string) *analysis.Analyzer {
	custom := append([]string(nil), names...)
	return &analysis.Analyzer{
		Name:       "assertsite",
		Doc:        Analyzer.Doc,
		ResultType: Analyzer.ResultType,
		Run: func(pass *analysis.Pass) (interface{}, error) {
			return runWithCustom(pass, custom)
		},
	}
}

func run(pass *analysis.Pass) (interface{}, error) {
	return runWithCustom(pass, nil)
}

func runWithCustom(pass *analysis.Pass, custom []string) (interface{}, error) {
	res := Result{}
	for _, f := range pass.Files {
		filename := pass.Fset.Position(f.Pos()).Filename
		if !strings.HasSuffix(filename, "_test.go") {
			continue
		}
		var sites []Site
		ast.Inspect(f, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			name, ok := calleeName(call)
			if !ok || !isAssertionName(name, custom) {
				return true
			}
			sites = append(sites, Site{
				Call:     call,
				FuncName: name,
				Line:     pass.Fset.Position(call.Pos()).Line,
			})
			return true
		})
		if len(sites) > 0 {
			res[f] = sites
		}
	}
	return res, nil
}

// calleeName extracts a qualifying name for a call expression: either
// "pkg.Func"/"recv.Method" from a selector, or a bare identifier.
func calleeName(call *ast.CallExpr) (string, bool) {
	switch fn := call.Fun.(type) {
	case *ast.SelectorExpr:
		pkg, ok := fn.X.(*ast.Ident)
		if ok {
			return pkg.Name + "." + fn.Sel.Name, true
		}
		return fn.Sel.Name, true
	case *ast.Ident:
		return fn.Name, true
	}
	return "", false
}

func isAssertionName(name string, custom []string) bool {
	for _, c := range custom {
		if name == c || strings.HasSuffix(name, "."+c) {
			return true
		}
	}

	short := name
	if i := strings.LastIndex(name, "."); i >= 0 {
		pkgOrRecv := name[:i]
		short = name[i+1:]
		if pkgOrRecv == "assert" || pkgOrRecv == "require" {
			return true
		}
	}
	for _, p := range builtinMethodPrefixes {
		if strings.HasPrefix(short, p) {
			return true
		}
	}
	return false
}
