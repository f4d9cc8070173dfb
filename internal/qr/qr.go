// Package qr renders product links as inline PNG QR codes.
package qr

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	DefaultSize = 256
	dataURLPNG  = "data:image/png;base64,"
)

// Encoder turns a ledger id into a data URL pointing at BaseURL+id.
type Encoder struct {
	BaseURL string
	Size    int
}

// DataURL encodes content as a base64 PNG data URL.
func DataURL(content string, size int) (string, error) {
	if size <= 0 {
		size = DefaultSize
	}
	png, err := qrcode.Encode(content, qrcode.Medium, size)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return dataURLPNG + base64.StdEncoding.EncodeToString(png), nil
}

// Link returns the URL embedded in the QR code for a product.
func (e Encoder) Link(ledgerID uint64) string {
	return fmt.Sprintf("%s%d", e.BaseURL, ledgerID)
}

// ForProduct renders the QR code for a product's link.
func (e Encoder) ForProduct(ledgerID uint64) (string, error) {
	return DataURL(e.Link(ledgerID), e.Size)
}
