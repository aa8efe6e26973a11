package report

import (
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"html/template"
	"io"
	"text/tabwriter"
)

// WriteText renders proj as an aligned console table, one row per
// file plus a TOTAL footer, the same shape a Cobertura instruction
// report prints to a terminal.
func WriteText(w io.Writer, proj *ProjectCoverage) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Filename\tInstructions\tHits\tMisses\tInstruction Rate")

	for _, pkgName := range proj.SortedPackages() {
		pkg := proj.Packages[pkgName]
		for _, path := range pkg.SortedFiles() {
			f := pkg.Files[path]
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.2f%%\n",
				path, f.Instructions, f.CoveredInstructions,
				f.Instructions-f.CoveredInstructions, f.InstructionRate()*100)
		}
	}
	fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\t%.2f%%\n",
		proj.Instructions, proj.CoveredInstructions,
		proj.Instructions-proj.CoveredInstructions, proj.InstructionRate()*100)

	return tw.Flush()
}

// WriteCSV renders proj the same way WriteText does, as
// filename,instructions,hits,misses,rate rows.
func WriteCSV(w io.Writer, proj *ProjectCoverage) error {
	cw := csv.NewWriter(w)
	header := []string{"Filename", "Instructions", "Hits", "Misses", "Instruction Rate"}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, pkgName := range proj.SortedPackages() {
		pkg := proj.Packages[pkgName]
		for _, path := range pkg.SortedFiles() {
			f := pkg.Files[path]
			row := []string{
				path,
				fmt.Sprint(f.Instructions),
				fmt.Sprint(f.CoveredInstructions),
				fmt.Sprint(f.Instructions - f.CoveredInstructions),
				fmt.Sprintf("%.2f%%", f.InstructionRate()*100),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	footer := []string{
		"TOTAL",
		fmt.Sprint(proj.Instructions),
		fmt.Sprint(proj.CoveredInstructions),
		fmt.Sprint(proj.Instructions - proj.CoveredInstructions),
		fmt.Sprintf("%.2f%%", proj.InstructionRate()*100),
	}
	if err := cw.Write(footer); err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"pct": func(r float64) string { return fmt.Sprintf("%.2f%%", r*100) },
	"sub": func(a, b int) int { return a - b },
}).Parse(`<!DOCTYPE html>
<html>
<head>
<title>{{.Title}}</title>
<style>
 table { border-collapse: collapse; font-family: sans-serif; font-size: 13px; }
 td, th { border: 1px solid #ccc; padding: 4px 8px; }
 .full { background: #d4f8d4; }
 .partial { background: #fff3bf; }
 .miss { background: #f8d4d4; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<table>
<tr><th>Filename</th><th>Instructions</th><th>Hits</th><th>Misses</th><th>Rate</th></tr>
{{range .Files}}<tr><td>{{.Path}}</td><td>{{.Instructions}}</td><td>{{.CoveredInstructions}}</td>
<td>{{sub .Instructions .CoveredInstructions}}</td><td>{{pct .InstructionRate}}</td></tr>
{{end}}
<tr><th>TOTAL</th><th>{{.Project.Instructions}}</th><th>{{.Project.CoveredInstructions}}</th>
<th>{{sub .Project.Instructions .Project.CoveredInstructions}}</th><th>{{pct .Project.InstructionRate}}</th></tr>
</table>
</body>
</html>
`))

type htmlData struct {
	Title   string
	Files   []*FileCoverage
	Project *ProjectCoverage
}

// WriteHTML renders proj as a single self-contained HTML report: one
// summary row per file plus a TOTAL row. Per-line full/partial/miss
// status is not shown.
func WriteHTML(w io.Writer, title string, proj *ProjectCoverage) error {
	var files []*FileCoverage
	for _, pkgName := range proj.SortedPackages() {
		pkg := proj.Packages[pkgName]
		for _, path := range pkg.SortedFiles() {
			files = append(files, pkg.Files[path])
		}
	}
	return htmlTemplate.Execute(w, htmlData{Title: title, Files: files, Project: proj})
}

// Cobertura XML element tree, the subset checked coverage needs for a
// tool that already consumes Cobertura reports to read ours.
type coberturaRoot struct {
	XMLName  xml.Name       `xml:"coverage"`
	LineRate float64        `xml:"line-rate,attr"`
	Packages []coberturaPkg `xml:"packages>package"`
}

type coberturaPkg struct {
	Name     string           `xml:"name,attr"`
	LineRate float64          `xml:"line-rate,attr"`
	Classes  []coberturaClass `xml:"classes>class"`
}

type coberturaClass struct {
	Name     string          `xml:"name,attr"`
	Filename string          `xml:"filename,attr"`
	LineRate float64         `xml:"line-rate,attr"`
	Lines    []coberturaLine `xml:"lines>line"`
}

type coberturaLine struct {
	Number int    `xml:"number,attr"`
	Hits   int    `xml:"hits,attr"`
	Status string `xml:"status,attr,omitempty"`
}

// WriteCobertura renders proj as a Cobertura-compatible XML document,
// reusing proj's instruction-level coverage as line-rate data since
// checked coverage tracks instructions, not statements.
func WriteCobertura(w io.Writer, proj *ProjectCoverage) error {
	root := coberturaRoot{LineRate: proj.InstructionRate()}

	for _, pkgName := range proj.SortedPackages() {
		pkg := proj.Packages[pkgName]
		cp := coberturaPkg{Name: pkgName, LineRate: pkg.InstructionRate()}

		for _, path := range pkg.SortedFiles() {
			f := pkg.Files[path]
			cc := coberturaClass{Name: path, Filename: path, LineRate: f.InstructionRate()}
			for _, lineNo := range f.SortedLines() {
				l := f.Lines[lineNo]
				cc.Lines = append(cc.Lines, coberturaLine{
					Number: lineNo,
					Hits:   l.Covered,
					Status: l.Status(),
				})
			}
			cp.Classes = append(cp.Classes, cc)
		}
		root.Packages = append(root.Packages, cp)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return enc.Encode(root)
}
