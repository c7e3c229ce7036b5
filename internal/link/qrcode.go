package link

import (
	"errors"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultQRSize is the PNG edge length used by the bot and the web panel.
const DefaultQRSize = 512

// QRCode renders uri as a PNG.
func QRCode(uri string, size int) ([]byte, error) {
	if uri == "" || uri == Invalid {
		return nil, errors.New("no link to encode")
	}
	if size <= 0 {
		size = DefaultQRSize
	}
	return qrcode.Encode(uri, qrcode.Medium, size)
}
