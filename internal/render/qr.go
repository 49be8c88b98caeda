// Package render draws the scannable code and the printable ticket.
package render

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// QRRenderer encodes payloads as PNG QR codes.
type QRRenderer struct {
	Size  int
	Level qrcode.RecoveryLevel
}

func NewQRRenderer() *QRRenderer {
	return &QRRenderer{Size: 256, Level: qrcode.Medium}
}

func (r *QRRenderer) Encode(payload string) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("qr: empty payload")
	}
	size := r.Size
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(payload, r.Level, size)
	if err != nil {
		return nil, fmt.Errorf("qr: %w", err)
	}
	return png, nil
}
