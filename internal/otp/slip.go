package otp

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"

	"github.com/ovaphlow/pitchfork/service-locker-go/internal/otp/entity"
)

const slipQRSize = 256

// RenderSlip produces a one-page PDF carrying the code, its purpose and expiry
// plus a QR code of the code. It is a development aid standing in for SMS delivery.
func RenderSlip(o entity.OTP, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}
	png, err := qrcode.Encode(o.Code, qrcode.Medium, slipQRSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A5", "")
	pdf.SetTitle("OTP Verification Details", false)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 10, "OTP Verification Details", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	rows := [][2]string{
		{"Phone Number", o.Phone},
		{"OTP Code", o.Code},
		{"Type", o.Purpose},
		{"Generated At", o.CreatedAt.In(loc).Format("2006-01-02 15:04:05")},
		{"Expires At", o.ExpiresAt.In(loc).Format("2006-01-02 15:04:05")},
	}
	for _, r := range rows {
		pdf.SetFont("Arial", "", 12)
		pdf.CellFormat(40, 8, r[0]+":", "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "B", 12)
		pdf.CellFormat(0, 8, r[1], "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	imgName := "otp_qr_" + o.ID
	opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	pdf.RegisterImageOptionsReader(imgName, opts, bytes.NewReader(png))
	pageW, _ := pdf.GetPageSize()
	const qrMM = 60.0
	pdf.ImageOptions(imgName, (pageW-qrMM)/2, pdf.GetY(), qrMM, qrMM, false, opts, 0, "")
	pdf.Ln(qrMM + 4)

	pdf.SetFont("Arial", "I", 10)
	window := o.ExpiresAt.Sub(o.CreatedAt).Round(time.Second)
	pdf.MultiCell(0, 5, fmt.Sprintf(
		"Enter the code in the application. It is valid for %s and can be used once. Do not share it.", window),
		"", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render slip: %w", err)
	}
	return buf.Bytes(), nil
}
