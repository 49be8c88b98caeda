package render

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/soaringjerry/Gatepass/internal/services"
)

// PDFRenderer lays out an A4 ticket with the QR code centred below the
// participant details.
type PDFRenderer struct{}

func NewPDFRenderer() *PDFRenderer { return &PDFRenderer{} }

func (PDFRenderer) Format() string      { return "pdf" }
func (PDFRenderer) ContentType() string { return "application/pdf" }

func (PDFRenderer) Render(doc services.TicketDocument) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(doc.EventName+" ticket", true)
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 22)
	pdf.CellFormat(0, 12, tr(doc.EventName), "", 1, "C", false, 0, "")
	if doc.EventDate != "" {
		pdf.SetFont("Helvetica", "", 12)
		pdf.CellFormat(0, 8, tr(doc.EventDate), "", 1, "C", false, 0, "")
	}
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr(doc.FullName), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	for _, line := range detailLines(doc) {
		pdf.CellFormat(0, 7, tr(line), "", 1, "C", false, 0, "")
	}

	if len(doc.Code) > 0 {
		const side = 80.0
		opts := fpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
		pdf.RegisterImageOptionsReader("code", opts, bytes.NewReader(doc.Code))
		pageW, _ := pdf.GetPageSize()
		pdf.ImageOptions("code", (pageW-side)/2, pdf.GetY()+8, side, side, false, opts, 0, "")
		pdf.SetY(pdf.GetY() + side + 14)
	}

	pdf.SetFont("Helvetica", "I", 10)
	pdf.CellFormat(0, 6, tr("Present this code at registration, bus boarding and meal collection."), "", 1, "C", false, 0, "")

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("pdf: %w", err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func detailLines(doc services.TicketDocument) []string {
	var lines []string
	if doc.StudentNumber != "" {
		lines = append(lines, "Student number: "+doc.StudentNumber)
	}
	if doc.Role != "" {
		lines = append(lines, "Role: "+titleCase(doc.Role))
	}
	lines = append(lines, "Participant ID: "+doc.ParticipantID)
	if doc.EventCode != "" {
		lines = append(lines, "Event: "+doc.EventCode)
	}
	return lines
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return string(bytes.ToUpper([]byte(s[:1]))) + s[1:]
}
