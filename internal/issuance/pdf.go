package issuance

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/prohmpiriya/aievent-booking/internal/domain"
)

// PDFRenderer assembles the ticket document for one booking
type PDFRenderer interface {
	Render(ctx context.Context, tickets []*domain.Ticket, eventName, buyerName, buyerEmail string) ([]byte, error)
}

// FPDFRenderer renders one A5 page per ticket
type FPDFRenderer struct {
	timeLayout string
}

// NewFPDFRenderer creates a new FPDFRenderer
func NewFPDFRenderer() *FPDFRenderer {
	return &FPDFRenderer{timeLayout: "Mon 02 Jan 2006 15:04 MST"}
}

// Render builds the PDF. Every ticket must already carry its QR reference.
func (r *FPDFRenderer) Render(ctx context.Context, tickets []*domain.Ticket, eventName, buyerName, buyerEmail string) ([]byte, error) {
	if len(tickets) == 0 {
		return nil, errors.New("no tickets to render")
	}

	pdf := fpdf.New("P", "mm", "A5", "")
	pdf.SetTitle(eventName, true)
	pdf.SetAuthor("AIEvent", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	for i, t := range tickets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		png, err := DecodeQRRef(t.QRRef)
		if err != nil {
			return nil, fmt.Errorf("ticket %s: %w", t.Code, err)
		}

		pdf.AddPage()

		pdf.SetFont("Helvetica", "B", 18)
		pdf.CellFormat(0, 10, tr(t.Snapshot.EventName), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 6, tr(t.Snapshot.Venue), "", 1, "L", false, 0, "")
		pdf.CellFormat(0, 6, fmt.Sprintf("%s - %s",
			t.Snapshot.StartTime.Format(r.timeLayout), t.Snapshot.EndTime.Format(r.timeLayout)), "", 1, "L", false, 0, "")
		pdf.Ln(4)

		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 7, tr(t.TicketTypeName), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 6, "Price: "+t.Price.StringFixed(2), "", 1, "L", false, 0, "")
		pdf.CellFormat(0, 6, tr(fmt.Sprintf("Holder: %s <%s>", buyerName, buyerEmail)), "", 1, "L", false, 0, "")
		pdf.Ln(4)

		name := fmt.Sprintf("qr-%d", i)
		opts := fpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(png))
		y := pdf.GetY()
		pdf.ImageOptions(name, 34, y, 80, 80, false, opts, 0, "")
		pdf.SetY(y + 84)

		pdf.SetFont("Courier", "B", 20)
		pdf.CellFormat(0, 10, t.Code, "", 1, "C", false, 0, "")
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 5, fmt.Sprintf("Ticket %d of %d", i+1, len(tickets)), "", 1, "C", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
