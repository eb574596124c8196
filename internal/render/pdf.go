// Package render turns generated report text into a branded PDF.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-pdf/fpdf"
	"github.com/skip2/go-qrcode"

	"astro-bot/internal/config"
	"astro-bot/internal/models"
)

// ErrNoUnicodeFont is returned when no UTF-8 font is configured. The core PDF
// fonts cannot draw Cyrillic.
var ErrNoUnicodeFont = errors.New("no UTF-8 font configured")

var (
	headingPrefix = regexp.MustCompile(`^#+\s*`)
	bulletPrefix  = regexp.MustCompile(`^[-•]`)
)

// brand colour
const accentR, accentG, accentB = 124, 58, 237

type PDFRenderer struct {
	fontPath     string
	fontBoldPath string
	botLink      string
}

func NewPDFRenderer(cfg config.PDF) *PDFRenderer {
	return &PDFRenderer{
		fontPath:     cfg.FontPath,
		fontBoldPath: cfg.FontBoldPath,
		botLink:      cfg.BotLink,
	}
}

// Render lays out text under the product title. Paragraphs are separated by a
// blank line; a "#" paragraph or a short one-liner becomes a section heading.
func (r *PDFRenderer) Render(kind models.ProductKind, text string) ([]byte, error) {
	product, ok := kind.Lookup()
	if !ok {
		return nil, fmt.Errorf("unknown product kind %q", kind)
	}
	if r.fontPath == "" {
		return nil, ErrNoUnicodeFont
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(14, 18, 14)
	pdf.SetAutoPageBreak(true, 18)

	family := r.fonts(pdf)

	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont(family, "", 8)
		pdf.SetTextColor(150, 150, 150)
		pdf.CellFormat(0, 6, fmt.Sprintf("%d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont(family, "B", 24)
	pdf.SetTextColor(accentR, accentG, accentB)
	pdf.MultiCell(0, 11, product.Title, "", "L", false)
	pdf.Ln(8)

	for _, block := range strings.Split(strings.TrimSpace(text), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}

		if isHeading(block) {
			pdf.SetFont(family, "B", 14)
			pdf.SetTextColor(accentR, accentG, accentB)
			pdf.MultiCell(0, 7, headingPrefix.ReplaceAllString(block, ""), "", "L", false)
			y := pdf.GetY() + 1
			left, _, right, _ := pdf.GetMargins()
			w, _ := pdf.GetPageSize()
			pdf.SetDrawColor(accentR, accentG, accentB)
			pdf.Line(left, y, w-right, y)
			pdf.Ln(4)
			continue
		}

		pdf.SetFont(family, "", 12)
		pdf.SetTextColor(30, 30, 30)
		for _, line := range strings.Split(block, "\n") {
			line = cleanLine(line)
			if line == "" {
				continue
			}
			pdf.MultiCell(0, 6, line, "", "L", false)
			pdf.Ln(1)
		}
		pdf.Ln(3)
	}

	if err := r.drawQR(pdf, family); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// fonts registers the configured UTF-8 fonts. A missing file surfaces as an
// error from Output.
func (r *PDFRenderer) fonts(pdf *fpdf.Fpdf) string {
	bold := r.fontBoldPath
	if bold == "" {
		bold = r.fontPath
	}
	pdf.AddUTF8Font("DejaVu", "", r.fontPath)
	pdf.AddUTF8Font("DejaVu", "B", bold)
	return "DejaVu"
}

func (r *PDFRenderer) drawQR(pdf *fpdf.Fpdf, family string) error {
	if r.botLink == "" {
		return nil
	}

	png, err := qrcode.Encode(r.botLink, qrcode.Medium, 256)
	if err != nil {
		return fmt.Errorf("failed to encode qr code: %w", err)
	}

	pdf.Ln(12)
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(png))
	pdf.ImageOptions("qr", pdf.GetX(), pdf.GetY(), 30, 30, true, opts, 0, r.botLink)
	pdf.Ln(2)

	pdf.SetFont(family, "", 10)
	pdf.SetTextColor(accentR, accentG, accentB)
	pdf.CellFormat(0, 6, r.botLink, "", 1, "L", false, 0, r.botLink)
	return nil
}

func isHeading(block string) bool {
	if headingPrefix.MatchString(block) {
		return true
	}
	return utf8.RuneCountInString(block) < 50 &&
		!strings.ContainsAny(block, "-*:;\n") &&
		!bulletPrefix.MatchString(block)
}

func cleanLine(line string) string {
	line = strings.TrimSpace(line)
	line = strings.ReplaceAll(line, "**", "")
	return strings.ReplaceAll(line, "_", "")
}
