package issuance

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const pngDataURIPrefix = "data:image/png;base64,"

// QRImageService turns a ticket token into a QR image reference
type QRImageService interface {
	Render(ctx context.Context, token string) (string, error)
}

// QRCodeService encodes tokens as PNG QR codes and returns them as data URIs
type QRCodeService struct {
	size  int
	level qrcode.RecoveryLevel
}

// NewQRCodeService creates a QR service producing size x size images
func NewQRCodeService(size int) *QRCodeService {
	if size <= 0 {
		size = 256
	}
	return &QRCodeService{size: size, level: qrcode.Medium}
}

// Render returns a data:image/png;base64 reference for token
func (s *QRCodeService) Render(ctx context.Context, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	png, err := qrcode.Encode(token, s.level, s.size)
	if err != nil {
		return "", fmt.Errorf("failed to encode qr: %w", err)
	}
	return pngDataURIPrefix + base64.StdEncoding.EncodeToString(png), nil
}

// DecodeQRRef returns the PNG bytes behind a reference produced by Render
func DecodeQRRef(ref string) ([]byte, error) {
	if !strings.HasPrefix(ref, pngDataURIPrefix) {
		return nil, errors.New("unsupported qr reference")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(ref, pngDataURIPrefix))
}
