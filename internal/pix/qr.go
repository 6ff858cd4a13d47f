package pix

import (
	"errors"

	qrcode "github.com/skip2/go-qrcode"
)

// QRSize is the rendered PNG edge in pixels.
const QRSize = 256

// QRCode renders content as a PNG.
func QRCode(content string) ([]byte, error) {
	if content == "" {
		return nil, errors.New("empty qr content")
	}
	return qrcode.Encode(content, qrcode.Medium, QRSize)
}
