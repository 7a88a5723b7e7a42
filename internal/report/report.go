// Package report renders a prediction as a downloadable PDF.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-pdf/fpdf"
)

// Filename is the attachment name offered to clients.
const Filename = "medical_cost_report.pdf"

// Advisor supplies the health suggestions section.
type Advisor interface {
	Advise(bmi float64, smoker bool) ([]string, error)
}

// Data is the content of one report. Gender, Smoker and Region are the
// display labels returned with a prediction.
type Data struct {
	Age           int
	BMI           float64
	Children      int
	Gender        string
	Smoker        string
	Region        string
	PredictionUSD float64
	PredictionINR float64
}

type Renderer struct {
	advisor Advisor
	now     func() time.Time
}

func NewRenderer(advisor Advisor) *Renderer {
	return &Renderer{advisor: advisor, now: time.Now}
}

// Render writes the PDF for d to w.
func (r *Renderer) Render(w io.Writer, d Data) error {
	suggestions, err := r.advisor.Advise(d.BMI, strings.EqualFold(d.Smoker, "yes"))
	if err != nil {
		return fmt.Errorf("failed to build suggestions: %w", err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 22)
	pdf.SetTextColor(25, 25, 112)
	pdf.CellFormat(190, 10, "Medical Cost Prediction Report", "", 1, "C", false, 0, "")
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 12)
	pdf.SetTextColor(50, 50, 50)
	pdf.CellFormat(190, 10, "Generated on: "+r.now().Format("2006-01-02 15:04:05"), "", 1, "C", false, 0, "")
	pdf.Ln(15)

	section(pdf, "User Information")
	line(pdf, fmt.Sprintf("Age: %d", d.Age))
	line(pdf, "BMI: "+strconv.FormatFloat(d.BMI, 'f', -1, 64))
	line(pdf, fmt.Sprintf("Children: %d", d.Children))
	line(pdf, "Gender: "+d.Gender)
	line(pdf, "Smoker: "+capitalize(d.Smoker))
	line(pdf, "Region: "+capitalize(d.Region))
	pdf.Ln(10)

	section(pdf, "Predicted Cost")
	line(pdf, fmt.Sprintf("Estimated Cost (USD): $%.2f", d.PredictionUSD))
	line(pdf, fmt.Sprintf("Estimated Cost (INR): INR %.2f", d.PredictionINR))
	pdf.Ln(10)

	section(pdf, "Health Suggestions")
	for _, s := range suggestions {
		line(pdf, s)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("failed to layout report: %w", err)
	}
	return pdf.Output(w)
}

func section(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFillColor(200, 200, 200)
	pdf.CellFormat(0, 10, title, "", 1, "L", true, 0, "")
	pdf.Ln(5)
	pdf.SetFont("Arial", "", 12)
}

func line(pdf *fpdf.Fpdf, text string) {
	pdf.CellFormat(0, 8, text, "", 1, "L", false, 0, "")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
