// Package report renders a stored analysis record into a PDF document
// suitable for distribution to a SOC.
package report

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/rs/zerolog/log"

	"github.com/aytekaytemur/perseptor/internal/store"
)

const (
	pageWidth   = 210.0
	marginSide  = 15.0
	contentSpan = pageWidth - 2*marginSide
)

// RenderPDF produces the defensive package as a PDF.
func RenderPDF(record *store.StoredReport) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("PERSEPTOR Threat Analysis Report", false)
	pdf.SetMargins(marginSide, 15, marginSide)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	writeHeader(pdf, record)
	writeSummary(pdf, record.Result.ThreatSummary)
	writeIOCTable(pdf, record.Result.AnalysisData.IndicatorsOfCompromise)
	writeTTPTable(pdf, record.Result.AnalysisData.TTPs)
	writeTacticSummary(pdf, record.Result.MITREMapping.TacticSummary)
	writeSigmaMatches(pdf, record)
	writeCodeSection(pdf, "YARA Rules", record.Result.YARARules)
	writeCodeSection(pdf, "Sigma Rules", record.Result.GeneratedSigmaRules)
	writeSIEMQueries(pdf, record.Result.SIEMQueries)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("rendering pdf: %w", err)
	}
	log.Info().Str("report_id", record.ID).Int("bytes", buf.Len()).Msg("PDF report rendered")
	return buf.Bytes(), nil
}

func writeHeader(pdf *fpdf.Fpdf, record *store.StoredReport) {
	pdf.SetFont("Helvetica", "B", 20)
	pdf.SetTextColor(26, 35, 126)
	pdf.CellFormat(contentSpan, 12, "PERSEPTOR Threat Analysis Report", "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(66, 66, 66)
	pdf.CellFormat(contentSpan, 5, "Source: "+record.URL, "", 1, "L", false, 0, "")
	pdf.CellFormat(contentSpan, 5, "Analyzed: "+record.Timestamp, "", 1, "L", false, 0, "")
	pdf.CellFormat(contentSpan, 5,
		fmt.Sprintf("Provider: %s (%s)    Generated: %s",
			record.Provider, record.Model, time.Now().Format("2006-01-02 15:04:05")),
		"", 1, "L", false, 0, "")
	pdf.Ln(4)
}

func sectionTitle(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetTextColor(13, 71, 161)
	pdf.CellFormat(contentSpan, 9, title, "", 1, "L", false, 0, "")
	pdf.SetDrawColor(224, 224, 224)
	x, y := pdf.GetX(), pdf.GetY()
	pdf.Line(x, y, x+contentSpan, y)
	pdf.Ln(3)
	pdf.SetTextColor(66, 66, 66)
}

func writeSummary(pdf *fpdf.Fpdf, summary string) {
	if strings.TrimSpace(summary) == "" {
		return
	}
	sectionTitle(pdf, "Threat Summary")
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(contentSpan, 5, summary, "", "L", false)
	pdf.Ln(5)
}

func writeIOCTable(pdf *fpdf.Fpdf, iocs map[string]any) {
	rows := make([][2]string, 0, len(iocs))
	iocTypes := make([]string, 0, len(iocs))
	for iocType := range iocs {
		iocTypes = append(iocTypes, iocType)
	}
	sort.Strings(iocTypes)
	for _, iocType := range iocTypes {
		values := stringList(iocs[iocType])
		if len(values) == 0 {
			continue
		}
		label := strings.ReplaceAll(iocType, "_", " ")
		rows = append(rows, [2]string{label, strings.Join(values, "\n")})
	}
	if len(rows) == 0 {
		return
	}

	sectionTitle(pdf, "Indicators of Compromise")
	tableHeader(pdf, []string{"IoC Type", "Values"}, []float64{50, 130})
	pdf.SetFont("Helvetica", "", 8)
	for _, row := range rows {
		tableRow(pdf, row[:], []float64{50, 130})
	}
	pdf.Ln(5)
}

func writeTTPTable(pdf *fpdf.Fpdf, ttps []any) {
	rows := make([][]string, 0, len(ttps))
	for _, raw := range ttps {
		ttp, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		rows = append(rows, []string{
			stringField(ttp, "mitre_id"),
			stringField(ttp, "technique_name"),
			stringField(ttp, "description"),
		})
	}
	if len(rows) == 0 {
		return
	}

	sectionTitle(pdf, "Tactics, Techniques and Procedures")
	tableHeader(pdf, []string{"MITRE ID", "Technique", "Description"}, []float64{30, 55, 95})
	pdf.SetFont("Helvetica", "", 8)
	for _, row := range rows {
		tableRow(pdf, row, []float64{30, 55, 95})
	}
	pdf.Ln(5)
}

func writeTacticSummary(pdf *fpdf.Fpdf, tactics map[string]int) {
	if len(tactics) == 0 {
		return
	}
	names := make([]string, 0, len(tactics))
	for name := range tactics {
		names = append(names, name)
	}
	sort.Strings(names)

	sectionTitle(pdf, "MITRE Tactic Coverage")
	tableHeader(pdf, []string{"Tactic", "Techniques"}, []float64{100, 80})
	pdf.SetFont("Helvetica", "", 8)
	for _, name := range names {
		tableRow(pdf, []string{name, fmt.Sprintf("%d", tactics[name])}, []float64{100, 80})
	}
	pdf.Ln(5)
}

func writeSigmaMatches(pdf *fpdf.Fpdf, record *store.StoredReport) {
	matches := record.Result.SigmaMatches
	if len(matches) == 0 {
		return
	}

	sectionTitle(pdf, "Global Sigma Matches")
	tableHeader(pdf, []string{"Rule Title", "Score", "Confidence", "Level"}, []float64{95, 25, 35, 25})
	pdf.SetFont("Helvetica", "", 8)
	for _, m := range matches {
		tableRow(pdf, []string{
			m.Title,
			fmt.Sprintf("%.1f", m.CombinedScore),
			m.Confidence,
			m.Level,
		}, []float64{95, 25, 35, 25})
	}
	pdf.Ln(5)
}

func writeCodeSection(pdf *fpdf.Fpdf, title, code string) {
	code = strings.TrimSpace(code)
	if code == "" {
		return
	}
	sectionTitle(pdf, title)
	pdf.SetFont("Courier", "", 7)
	pdf.SetFillColor(245, 245, 245)
	pdf.MultiCell(contentSpan, 3.5, code, "", "L", true)
	pdf.Ln(5)
}

func writeSIEMQueries(pdf *fpdf.Fpdf, queries map[string]any) {
	if len(queries) == 0 {
		return
	}
	platforms := make([]string, 0, len(queries))
	for platform := range queries {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)

	sectionTitle(pdf, "SIEM Queries")
	for _, platform := range platforms {
		entry, ok := queries[platform].(map[string]any)
		if !ok {
			continue
		}
		query := stringField(entry, "query")
		if query == "" || query == "N/A" {
			continue
		}
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(contentSpan, 6, strings.ToUpper(platform), "", 1, "L", false, 0, "")
		pdf.SetFont("Courier", "", 7)
		pdf.SetFillColor(245, 245, 245)
		pdf.MultiCell(contentSpan, 3.5, query, "", "L", true)
		pdf.Ln(3)
	}
}

func tableHeader(pdf *fpdf.Fpdf, labels []string, widths []float64) {
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(26, 35, 126)
	pdf.SetTextColor(255, 255, 255)
	for i, label := range labels {
		pdf.CellFormat(widths[i], 7, label, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetTextColor(66, 66, 66)
}

// tableRow renders one row of wrapping cells with a shared height.
func tableRow(pdf *fpdf.Fpdf, cells []string, widths []float64) {
	const lineHeight = 4.0

	lines := 1
	for i, cell := range cells {
		n := len(pdf.SplitText(cell, widths[i]-2))
		if n > lines {
			lines = n
		}
	}
	rowHeight := float64(lines) * lineHeight

	// keep the row on one page
	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	if pdf.GetY()+rowHeight > pageHeight-bottom {
		pdf.AddPage()
	}

	x, y := pdf.GetX(), pdf.GetY()
	for i, cell := range cells {
		pdf.Rect(x, y, widths[i], rowHeight, "D")
		pdf.SetXY(x+1, y)
		pdf.MultiCell(widths[i]-2, lineHeight, cell, "", "L", false)
		x += widths[i]
		pdf.SetXY(x, y)
	}
	pdf.SetXY(marginSide, y+rowHeight)
}

func stringList(raw any) []string {
	values, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}
