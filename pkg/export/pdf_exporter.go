package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// Table is one titled grid of text cells.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// Document is a printable report made of tables.
type Document struct {
	Title    string
	Subtitle string
	Tables   []Table
}

const (
	pageWidth    = 277.0 // A4 landscape minus margins
	rowHeight    = 6.0
	headerHeight = 7.0
	minColumn    = 12.0
	maxColumn    = 70.0
)

// PDFExporter renders documents into landscape A4 PDFs.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render lays out every table, repeating its header row after page breaks.
func (e *PDFExporter) Render(doc Document) ([]byte, error) {
	if len(doc.Tables) == 0 {
		return nil, fmt.Errorf("pdf requires at least one table")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(false, 12)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if doc.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 9, tr(doc.Title), "", 1, "C", false, 0, "")
	}
	if doc.Subtitle != "" {
		pdf.SetFont("Arial", "", 9)
		pdf.CellFormat(0, 6, tr(doc.Subtitle), "", 1, "C", false, 0, "")
	}
	pdf.Ln(3)

	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	limit := pageHeight - bottom

	for _, table := range doc.Tables {
		if len(table.Headers) == 0 {
			return nil, fmt.Errorf("table %q has no headers", table.Title)
		}
		widths := columnWidths(table)
		header := func() {
			pdf.SetFont("Arial", "B", 9)
			pdf.SetFillColor(230, 230, 230)
			for i, h := range table.Headers {
				pdf.CellFormat(widths[i], headerHeight, tr(h), "1", 0, "C", true, 0, "")
			}
			pdf.Ln(-1)
			pdf.SetFont("Arial", "", 8)
		}

		if pdf.GetY()+2*headerHeight+rowHeight > limit {
			pdf.AddPage()
		}
		if table.Title != "" {
			pdf.SetFont("Arial", "B", 11)
			pdf.CellFormat(0, 8, tr(table.Title), "", 1, "L", false, 0, "")
		}
		header()
		for _, row := range table.Rows {
			if pdf.GetY()+rowHeight > limit {
				pdf.AddPage()
				header()
			}
			for i := range table.Headers {
				var value string
				if i < len(row) {
					value = row[i]
				}
				pdf.CellFormat(widths[i], rowHeight, tr(fit(pdf, value, widths[i])), "1", 0, "", false, 0, "")
			}
			pdf.Ln(-1)
		}
		pdf.Ln(4)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// columnWidths sizes columns by their longest cell, then scales them to the page.
func columnWidths(table Table) []float64 {
	widths := make([]float64, len(table.Headers))
	for i, h := range table.Headers {
		widths[i] = float64(len(h))
	}
	for _, row := range table.Rows {
		for i := range widths {
			if i < len(row) && float64(len(row[i])) > widths[i] {
				widths[i] = float64(len(row[i]))
			}
		}
	}
	total := 0.0
	for i := range widths {
		widths[i] = clamp(widths[i]*2.2, minColumn, maxColumn)
		total += widths[i]
	}
	scale := pageWidth / total
	for i := range widths {
		widths[i] *= scale
	}
	return widths
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// fit truncates text that would overflow a cell.
func fit(pdf *gofpdf.Fpdf, text string, width float64) string {
	if pdf.GetStringWidth(text) <= width-2 {
		return text
	}
	runes := []rune(text)
	for len(runes) > 0 && pdf.GetStringWidth(string(runes)+"...") > width-2 {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}
