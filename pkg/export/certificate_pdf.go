package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Certificate describes the data rendered onto a completion certificate.
type Certificate struct {
	Number         string
	TraderName     string
	TraderCompany  string
	CourseName     string
	CourseLocation string
	CourseHours    int
	CompletedAt    time.Time
	ValidFrom      time.Time
	ValidUntil     time.Time
}

// CertificatePDF renders completion certificates for approved trainings.
type CertificatePDF struct{}

// NewCertificatePDF constructs a certificate renderer.
func NewCertificatePDF() *CertificatePDF {
	return &CertificatePDF{}
}

// Render creates a one-page landscape certificate document.
func (e *CertificatePDF) Render(cert Certificate) ([]byte, error) {
	if cert.TraderName == "" || cert.CourseName == "" {
		return nil, fmt.Errorf("certificate requires trader and course names")
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(20, 25, 20)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 26)
	pdf.CellFormat(0, 16, "CERTIFICATE OF COMPLETION", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Arial", "", 12)
	pdf.CellFormat(0, 8, "This certifies that", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "B", 20)
	name := cert.TraderName
	if cert.TraderCompany != "" {
		name = fmt.Sprintf("%s (%s)", cert.TraderName, cert.TraderCompany)
	}
	pdf.CellFormat(0, 14, name, "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 12)
	pdf.CellFormat(0, 8, "has successfully completed the course", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 12, strings.ToUpper(cert.CourseName), "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 11)
	details := fmt.Sprintf("%d hours, %s, completed on %s",
		cert.CourseHours, cert.CourseLocation, cert.CompletedAt.Format("2 January 2006"))
	pdf.CellFormat(0, 8, details, "", 1, "C", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Arial", "I", 10)
	window := fmt.Sprintf("Certification valid from %s until %s",
		cert.ValidFrom.Format("2006-01-02"), cert.ValidUntil.Format("2006-01-02"))
	pdf.CellFormat(0, 7, window, "", 1, "C", false, 0, "")

	if cert.Number != "" {
		pdf.SetFont("Arial", "", 8)
		pdf.CellFormat(0, 6, "Certificate no. "+cert.Number, "", 1, "C", false, 0, "")
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}
	return buf.Bytes(), nil
}
