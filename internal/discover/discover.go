// Package discover finds the test functions a coverage run should
// execute, the Go-native equivalent of pointing pyChecco at a
// directory of unittest modules: golang.org/x/tools/go/packages loads
// and type-checks the target packages, then the AST of each resulting
// *_test.go file is scanned for Test*/Benchmark* functions.
package discover

import (
	"fmt"
	"go/ast"
	"go/types"
	"strings"

	"golang.org/x/tools/go/packages"
)

// Test identifies one discoverable test function.
type Test struct {
	Package string // import path
	Name    string
	File    string
	Line    int
	IsBench bool
}

// Load loads and type-checks the packages matching patterns (the same
// patterns `go test` accepts, e.g. "./...") and returns every Test*/
// Benchmark* function found in their test files.
func Load(dir string, patterns ...string) ([]Test, error) {
	cfg := &packages.Config{
		Dir:  dir,
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedSyntax | packages.NeedTypes | packages.NeedTypesInfo,
		Tests: true,
	}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("discover: loading packages: %w", err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		return nil, fmt.Errorf("discover: one or more packages failed to load")
	}

	var tests []Test
	for _, pkg := range pkgs {
		for _, f := range pkg.Syntax {
			filename := pkg.Fset.Position(f.Pos()).Filename
			if !strings.HasSuffix(filename, "_test.go") {
				continue
			}
			for _, decl := range f.Decls {
				fn, ok := decl.(*ast.FuncDecl)
				if !ok || fn.Recv != nil {
					continue
				}
				name := fn.Name.Name
				isTest := strings.HasPrefix(name, "Test") && isExportedTestSig(pkg, fn)
				isBench := strings.HasPrefix(name, "Benchmark") && isExportedTestSig(pkg, fn)
				if !isTest && !isBench {
					continue
				}
				tests = append(tests, Test{
					Package: pkg.PkgPath,
					Name:    name,
					File:    filename,
					Line:    pkg.Fset.Position(fn.Pos()).Line,
					IsBench: isBench,
				})
			}
		}
	}
	return tests, nil
}

// isExportedTestSig reports whether fn has the single-argument
// *testing.T/*testing.B shape go test itself requires, so a same-named
// helper that merely starts with "Test" isn't mistaken for a real
// test function.
func isExportedTestSig(pkg *packages.Package, fn *ast.FuncDecl) bool {
	if fn.Type.Params == nil || len(fn.Type.Params.List) != 1 {
		return false
	}
	param := fn.Type.Params.List[0]
	t := pkg.TypesInfo.TypeOf(param.Type)
	if t == nil {
		return false
	}
	ptr, ok := t.(*types.Pointer)
	if !ok {
		return false
	}
	named, ok := ptr.Elem().(*types.Named)
	if !ok {
		return false
	}
	obj := named.Obj()
	return obj.Pkg() != nil && obj.Pkg().Path() == "testing" && (obj.Name() == "T" || obj.Name() == "B")
}
