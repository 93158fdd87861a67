package ticket

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/eventgate/backend/internal/models"
)

// DefaultQRSize is the rendered PNG edge length in pixels.
const DefaultQRSize = 256

// PayloadFor returns the QR payload for a registration.
func PayloadFor(reg *models.Registration) string {
	return Encode(reg.ID, reg.EventID, reg.Name)
}

// RenderPNG renders payload as a PNG QR code at the highest error
// correction level.
func RenderPNG(payload string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(payload, qrcode.Highest, size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}
