package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/MrWong99/callcoach/internal/failure"
)

// ReportPrefix names PDF reports.
const ReportPrefix = "rapport_analyse_appel"

// Page layout in millimetres.
const (
	pdfMargin     = 10.0
	pdfLineHeight = 5.5
)

// accent is the heading colour of PDF reports.
var accent = [3]int{37, 99, 235}

// PDFName returns the file name of a report rendered at t: the prefix, the
// UTC date and a .pdf extension.
func PDFName(t time.Time) string {
	return ReportPrefix + "_" + t.UTC().Format("2006-01-02") + ".pdf"
}

// ReportPDF renders a coaching report as an A4 portrait PDF. Markdown
// headings, bullets and rules in analysis are laid out; other markup is
// dropped. It fails with [failure.ErrNoAnalysis] when analysis is blank.
func ReportPDF(analysis string, now time.Time) (Document, error) {
	if strings.TrimSpace(analysis) == "" {
		return Document{}, failure.ErrNoAnalysis
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetTitle("Rapport d'analyse d'appel", true)
	pdf.SetCreator("callcoach", false)
	pdf.AliasNbPages("")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.SetTextColor(accent[0], accent[1], accent[2])
	pdf.CellFormat(0, 10, tr("Rapport d'analyse d'appel"), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(110, 110, 110)
	pdf.CellFormat(0, 6, tr("Généré le "+now.Format("02/01/2006 à 15:04")), "", 1, "L", false, 0, "")
	rulePDF(pdf)

	for _, line := range strings.Split(analysis, "\n") {
		writeMarkdownLine(pdf, tr, strings.TrimRight(line, " \t\r"))
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return Document{}, failure.Within(failure.OpExport, fmt.Errorf("export: render pdf: %w", err))
	}
	return Document{Name: PDFName(now), Content: buf.String()}, nil
}

func writeMarkdownLine(pdf *fpdf.Fpdf, tr func(string) string, line string) {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		pdf.Ln(pdfLineHeight / 2)

	case trimmed == "---" || trimmed == "***":
		rulePDF(pdf)

	case strings.HasPrefix(trimmed, "#"):
		level := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
		size := max(16-2*float64(level-1), 11)
		pdf.Ln(2)
		pdf.SetFont("Helvetica", "B", size)
		pdf.SetTextColor(accent[0], accent[1], accent[2])
		pdf.MultiCell(0, size*0.5, tr(plainInline(strings.TrimLeft(trimmed, "# "))), "", "L", false)
		pdf.Ln(1)

	case strings.HasPrefix(trimmed, "- "), strings.HasPrefix(trimmed, "* "):
		indent := float64(len(line)-len(strings.TrimLeft(line, " "))) / 2 * 4
		bodyFont(pdf)
		pdf.SetX(pdfMargin + indent)
		pdf.CellFormat(5, pdfLineHeight, tr("•"), "", 0, "L", false, 0, "")
		pdf.MultiCell(0, pdfLineHeight, tr(plainInline(trimmed[2:])), "", "L", false)

	default:
		bodyFont(pdf)
		pdf.MultiCell(0, pdfLineHeight, tr(plainInline(trimmed)), "", "L", false)
	}
}

func bodyFont(pdf *fpdf.Fpdf) {
	pdf.SetFont("Helvetica", "", 10.5)
	pdf.SetTextColor(30, 30, 30)
}

func rulePDF(pdf *fpdf.Fpdf) {
	pdf.Ln(2)
	w, _ := pdf.GetPageSize()
	y := pdf.GetY()
	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(pdfMargin, y, w-pdfMargin, y)
	pdf.Ln(3)
}

// plainInline strips emphasis and code markers.
func plainInline(s string) string {
	return strings.NewReplacer("**", "", "__", "", "`", "").Replace(s)
}
